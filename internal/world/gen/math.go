package gen

import "voxelmesh.ai/internal/world"

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// biomeAt picks one of n biomes per regionSize x regionSize cell.
func biomeAt(seed int64, x, z, regionSize, n int) int {
	if regionSize <= 0 {
		regionSize = 1
	}
	if n <= 0 {
		return 0
	}
	rx := world.FloorDiv(x, regionSize)
	rz := world.FloorDiv(z, regionSize)
	return int(hash2(seed, rx, rz) % uint64(n))
}

func withinSpawnClear(x, z, radius int) bool {
	if radius <= 0 {
		return false
	}
	r := int64(radius)
	dx := int64(x)
	dz := int64(z)
	return dx*dx+dz*dz <= r*r
}

func scalePermille(base uint64, scalePermille int) uint64 {
	if scalePermille <= 0 {
		scalePermille = 1000
	}
	scaled := (base*uint64(scalePermille) + 500) / 1000
	if scaled > 1000 {
		return 1000
	}
	return scaled
}

// inCluster reports whether (x, z) lies within radius of a cluster center.
// Each grid cell holds a center with probability probPermille/1000.
func inCluster(seed int64, x, z, grid, radius int, probPermille uint64) bool {
	if grid <= 0 || radius <= 0 || probPermille == 0 {
		return false
	}
	gx := world.FloorDiv(x, grid)
	gz := world.FloorDiv(z, grid)
	r2 := radius * radius

	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			cgx := gx + dx
			cgz := gz + dz
			h := hash2(seed, cgx, cgz)
			if h%1000 >= probPermille {
				continue
			}
			ox := int((h >> 10) % uint64(grid))
			oz := int((h >> 20) % uint64(grid))
			cx := cgx*grid + ox
			cz := cgz*grid + oz

			ddx := x - cx
			ddz := z - cz
			if ddx*ddx+ddz*ddz <= r2 {
				return true
			}
		}
	}
	return false
}

// heightAt is bilinear value noise over a lattice of the given spacing,
// returning a value in [0, 1000).
func heightAt(seed int64, x, z, spacing int) int {
	gx := world.FloorDiv(x, spacing)
	gz := world.FloorDiv(z, spacing)
	fx := world.Mod(x, spacing)
	fz := world.Mod(z, spacing)

	h00 := int(hash2(seed, gx, gz) % 1000)
	h10 := int(hash2(seed, gx+1, gz) % 1000)
	h01 := int(hash2(seed, gx, gz+1) % 1000)
	h11 := int(hash2(seed, gx+1, gz+1) % 1000)

	top := h00*(spacing-fx) + h10*fx
	bot := h01*(spacing-fx) + h11*fx
	return (top*(spacing-fz) + bot*fz) / (spacing * spacing)
}
