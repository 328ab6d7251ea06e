package geometry

import (
	"voxelmesh.ai/internal/export/config"
	"voxelmesh.ai/internal/world"
)

// Neighbors answers block queries in world coordinates around the block being
// resolved.
type Neighbors interface {
	BlockAt(x, y, z int) uint16
	BiomeAt(x, z int) uint16
}

// Boundary is what BlockAt reports past a closed side of the selection. It
// hides the faces turned toward it and is never rendered.
const Boundary uint16 = 0xFFFF

// Neighborhood is a read-only 3x3 chunk window centered on one chunk. Above
// the selection blocks read as air. Past its X/Z sides and below it they read
// as Boundary unless sides are rendered, in which case they read as air too.
type Neighborhood struct {
	center world.ChunkCoord
	recs   [3][3]*world.ChunkRecord // [dz+1][dx+1]
	bounds config.Bounds
	sides  bool
}

func (n *Neighborhood) record(x, z int) *world.ChunkRecord {
	dx := world.FloorDiv(x, world.ChunkSize) - n.center.X
	dz := world.FloorDiv(z, world.ChunkSize) - n.center.Z
	if dx < -1 || dx > 1 || dz < -1 || dz > 1 {
		return nil
	}
	return n.recs[dz+1][dx+1]
}

func (n *Neighborhood) BlockAt(x, y, z int) uint16 {
	if !n.bounds.Contains(x, y, z) {
		if !n.sides && y <= n.bounds.Max.Y {
			return Boundary
		}
		return world.Air
	}
	return n.record(x, z).Block(world.Mod(x, world.ChunkSize), y, world.Mod(z, world.ChunkSize))
}

func (n *Neighborhood) BiomeAt(x, z int) uint16 {
	return n.record(x, z).Biome(world.Mod(x, world.ChunkSize), world.Mod(z, world.ChunkSize))
}
