// Package hilbert orders chunk coordinates along a Hilbert curve so that
// consecutive chunks stay close in both axes.
package hilbert

import (
	"sort"

	"voxelmesh.ai/internal/world"
)

// CurveSide returns the smallest power of two >= max(w, h).
func CurveSide(w, h int) int {
	n := w
	if h > n {
		n = h
	}
	side := 1
	for side < n {
		side <<= 1
	}
	return side
}

// Rank maps (x, y) in [0, side) to its distance along a Hilbert curve that
// fills a side x side square. side must be a power of two.
func Rank(side, x, y int) uint64 {
	var d uint64
	for s := side / 2; s > 0; s /= 2 {
		rx, ry := 0, 0
		if x&s != 0 {
			rx = 1
		}
		if y&s != 0 {
			ry = 1
		}
		d += uint64(s) * uint64(s) * uint64((3*rx)^ry)
		x, y = rotate(side, x, y, rx, ry)
	}
	return d
}

func rotate(n, x, y, rx, ry int) (int, int) {
	if ry == 0 {
		if rx == 1 {
			x = n - 1 - x
			y = n - 1 - y
		}
		x, y = y, x
	}
	return x, y
}

// Order returns every chunk coordinate in the inclusive box [lo, hi] exactly
// once, sorted by Hilbert rank relative to lo. An inverted box yields nil.
func Order(lo, hi world.ChunkCoord) []world.ChunkCoord {
	w := hi.X - lo.X + 1
	h := hi.Z - lo.Z + 1
	if w <= 0 || h <= 0 {
		return nil
	}
	side := CurveSide(w, h)

	type ranked struct {
		c    world.ChunkCoord
		rank uint64
	}
	all := make([]ranked, 0, w*h)
	for x := lo.X; x <= hi.X; x++ {
		for z := lo.Z; z <= hi.Z; z++ {
			c := world.ChunkCoord{X: x, Z: z}
			all = append(all, ranked{c: c, rank: Rank(side, x-lo.X, z-lo.Z)})
		}
	}
	// Ranks are unique inside the square, so the order is total.
	sort.Slice(all, func(i, j int) bool { return all[i].rank < all[j].rank })

	out := make([]world.ChunkCoord, len(all))
	for i, r := range all {
		out[i] = r.c
	}
	return out
}
