package hilbert

import (
	"testing"

	"voxelmesh.ai/internal/world"
)

func TestCurveSide(t *testing.T) {
	cases := []struct{ w, h, want int }{
		{1, 1, 1}, {2, 1, 2}, {3, 2, 4}, {4, 4, 4}, {5, 17, 32}, {64, 1, 64},
	}
	for _, c := range cases {
		if got := CurveSide(c.w, c.h); got != c.want {
			t.Fatalf("CurveSide(%d,%d)=%d want %d", c.w, c.h, got, c.want)
		}
	}
}

func TestRank_IsBijectionOnSquare(t *testing.T) {
	for _, side := range []int{1, 2, 4, 8, 16} {
		seen := map[uint64]bool{}
		for x := 0; x < side; x++ {
			for y := 0; y < side; y++ {
				r := Rank(side, x, y)
				if r >= uint64(side*side) {
					t.Fatalf("side=%d rank(%d,%d)=%d out of range", side, x, y, r)
				}
				if seen[r] {
					t.Fatalf("side=%d duplicate rank %d", side, r)
				}
				seen[r] = true
			}
		}
	}
}

func TestRank_ConsecutiveCellsAreAdjacent(t *testing.T) {
	const side = 16
	pos := make([][2]int, side*side)
	for x := 0; x < side; x++ {
		for y := 0; y < side; y++ {
			pos[Rank(side, x, y)] = [2]int{x, y}
		}
	}
	for i := 1; i < len(pos); i++ {
		dx := abs(pos[i][0] - pos[i-1][0])
		dy := abs(pos[i][1] - pos[i-1][1])
		if dx+dy != 1 {
			t.Fatalf("step %d: %v -> %v is not a unit move", i, pos[i-1], pos[i])
		}
	}
}

func TestOrder_VisitsEveryCoordinateOnce(t *testing.T) {
	boxes := [][2]world.ChunkCoord{
		{{X: 0, Z: 0}, {X: 0, Z: 0}},
		{{X: -3, Z: 2}, {X: 4, Z: 2}},
		{{X: -5, Z: -7}, {X: 3, Z: 9}},
		{{X: 10, Z: -1}, {X: 12, Z: 30}},
	}
	for _, b := range boxes {
		lo, hi := b[0], b[1]
		got := Order(lo, hi)
		want := (hi.X - lo.X + 1) * (hi.Z - lo.Z + 1)
		if len(got) != want {
			t.Fatalf("box %v..%v: len=%d want %d", lo, hi, len(got), want)
		}
		seen := map[world.ChunkCoord]bool{}
		for _, c := range got {
			if c.X < lo.X || c.X > hi.X || c.Z < lo.Z || c.Z > hi.Z {
				t.Fatalf("box %v..%v: %v outside", lo, hi, c)
			}
			if seen[c] {
				t.Fatalf("box %v..%v: %v visited twice", lo, hi, c)
			}
			seen[c] = true
		}
	}
	if Order(world.ChunkCoord{X: 1}, world.ChunkCoord{X: 0}) != nil {
		t.Fatalf("inverted box should be empty")
	}
}

func TestOrder_IsPure(t *testing.T) {
	lo, hi := world.ChunkCoord{X: -4, Z: -2}, world.ChunkCoord{X: 6, Z: 5}
	a, b := Order(lo, hi), Order(lo, hi)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order differs at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestOrder_BeatsRasterLocality(t *testing.T) {
	sizes := [][2]int{{3, 3}, {4, 4}, {5, 7}, {7, 5}, {6, 6}, {8, 8}, {10, 10}, {16, 3}, {33, 17}}
	for _, sz := range sizes {
		w, h := sz[0], sz[1]
		lo := world.ChunkCoord{X: -2, Z: 5}
		hi := world.ChunkCoord{X: lo.X + w - 1, Z: lo.Z + h - 1}

		raster := make([]world.ChunkCoord, 0, w*h)
		for z := lo.Z; z <= hi.Z; z++ {
			for x := lo.X; x <= hi.X; x++ {
				raster = append(raster, world.ChunkCoord{X: x, Z: z})
			}
		}
		hd := chebyshevPath(Order(lo, hi))
		rd := chebyshevPath(raster)
		if hd >= rd {
			t.Fatalf("%dx%d: hilbert=%d raster=%d, want hilbert < raster", w, h, hd, rd)
		}
	}
}

func chebyshevPath(cs []world.ChunkCoord) int {
	total := 0
	for i := 1; i < len(cs); i++ {
		dx := abs(cs[i].X - cs[i-1].X)
		dz := abs(cs[i].Z - cs[i-1].Z)
		if dx > dz {
			total += dx
		} else {
			total += dz
		}
	}
	return total
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
