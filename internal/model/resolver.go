package model

import (
	"voxelmesh.ai/internal/export/config"
	"voxelmesh.ai/internal/export/geometry"
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/world"
)

type face struct {
	kind   string // "top", "bottom", "side"
	dx     int
	dy     int
	dz     int
	normal mesh.Vec3
	corner [4][3]float64 // unit cube corners, counter-clockwise seen from outside
}

var cubeFaces = [6]face{
	{"top", 0, 1, 0, mesh.Vec3{Y: 1}, [4][3]float64{{0, 1, 0}, {0, 1, 1}, {1, 1, 1}, {1, 1, 0}}},
	{"bottom", 0, -1, 0, mesh.Vec3{Y: -1}, [4][3]float64{{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1}}},
	{"side", 0, 0, -1, mesh.Vec3{Z: -1}, [4][3]float64{{0, 0, 0}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}}},
	{"side", 0, 0, 1, mesh.Vec3{Z: 1}, [4][3]float64{{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1}}},
	{"side", -1, 0, 0, mesh.Vec3{X: -1}, [4][3]float64{{0, 0, 0}, {0, 0, 1}, {0, 1, 1}, {0, 1, 0}}},
	{"side", 1, 0, 0, mesh.Vec3{X: 1}, [4][3]float64{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}}},
}

var quadUV = []mesh.Vec2{{U: 0, V: 0}, {U: 1, V: 0}, {U: 1, V: 1}, {U: 0, V: 1}}

// CubeResolver renders catalog blocks as unit cubes or crossed quads and
// culls faces hidden by opaque neighbors.
type CubeResolver struct {
	cat *Catalog
	cfg config.Config
}

var _ geometry.Resolver = (*CubeResolver)(nil)

func NewCubeResolver(cat *Catalog, cfg config.Config) *CubeResolver {
	return &CubeResolver{cat: cat, cfg: cfg}
}

func (r *CubeResolver) Resolve(b geometry.Block, nb geometry.Neighbors, out *mesh.Builder) bool {
	def, ok := r.cat.Def(b.ID)
	if !ok {
		if r.cfg.RenderUnknown {
			r.cube(b, BlockDef{ID: "UNKNOWN", Material: UnknownMaterial}, nb, out)
		}
		return false
	}
	if r.cfg.BlockExcluded(def.ID) {
		return true
	}
	switch def.Model {
	case ModelCube:
		r.cube(b, def, nb, out)
	case ModelCross:
		r.cross(b, def, out)
	}
	return true
}

func (r *CubeResolver) cube(b geometry.Block, def BlockDef, nb geometry.Neighbors, out *mesh.Builder) {
	base := mesh.Vec3{X: float64(b.X), Y: float64(b.Y), Z: float64(b.Z)}
	pos := make([]mesh.Vec3, 4)
	for _, f := range cubeFaces {
		if r.hidden(b.ID, def, nb.BlockAt(b.X+f.dx, b.Y+f.dy, b.Z+f.dz)) {
			continue
		}
		for i, c := range f.corner {
			pos[i] = base.Add(mesh.Vec3{X: c[0], Y: c[1], Z: c[2]})
		}
		out.AddPolygon(r.material(def, f.kind, b.Biome), pos, quadUV, f.normal)
	}
}

// cross emits two diagonal quads, each with a back face.
func (r *CubeResolver) cross(b geometry.Block, def BlockDef, out *mesh.Builder) {
	x, y, z := float64(b.X), float64(b.Y), float64(b.Z)
	mat := r.material(def, "side", b.Biome)
	const d = 0.7071067811865476
	quads := []struct {
		pos    []mesh.Vec3
		normal mesh.Vec3
	}{
		{[]mesh.Vec3{{X: x, Y: y, Z: z}, {X: x + 1, Y: y, Z: z + 1}, {X: x + 1, Y: y + 1, Z: z + 1}, {X: x, Y: y + 1, Z: z}}, mesh.Vec3{X: d, Z: -d}},
		{[]mesh.Vec3{{X: x + 1, Y: y, Z: z + 1}, {X: x, Y: y, Z: z}, {X: x, Y: y + 1, Z: z}, {X: x + 1, Y: y + 1, Z: z + 1}}, mesh.Vec3{X: -d, Z: d}},
		{[]mesh.Vec3{{X: x + 1, Y: y, Z: z}, {X: x, Y: y, Z: z + 1}, {X: x, Y: y + 1, Z: z + 1}, {X: x + 1, Y: y + 1, Z: z}}, mesh.Vec3{X: d, Z: d}},
		{[]mesh.Vec3{{X: x, Y: y, Z: z + 1}, {X: x + 1, Y: y, Z: z}, {X: x + 1, Y: y + 1, Z: z}, {X: x, Y: y + 1, Z: z + 1}}, mesh.Vec3{X: -d, Z: -d}},
	}
	for _, q := range quads {
		out.AddPolygon(mat, q.pos, quadUV, q.normal)
	}
}

// hidden reports whether the face of a block toward neighbor id n is culled.
func (r *CubeResolver) hidden(self uint16, def BlockDef, n uint16) bool {
	if n == world.Air {
		return false
	}
	if n == geometry.Boundary {
		return true
	}
	nd, ok := r.cat.Def(n)
	if !ok || nd.Model != ModelCube || r.cfg.BlockExcluded(nd.ID) {
		return false
	}
	if nd.Transparent && n != self {
		return false
	}
	return !r.cfg.KeepOccludedFaces(nd.Material == def.Material)
}

func (r *CubeResolver) material(def BlockDef, kind string, biome uint16) string {
	if r.cfg.SingleMaterial {
		return SingleMaterial
	}
	if kind == "top" {
		if m, ok := def.Biomes[r.cat.BiomeName(biome)]; ok {
			return m
		}
	}
	if m, ok := def.Faces[kind]; ok {
		return m
	}
	return def.Material
}
