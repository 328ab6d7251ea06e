package mesh

import "voxelmesh.ai/internal/world"

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

type Vec2 struct {
	U, V float64
}

// Face references fragment-local, 0-based indices. TexCoords and Normals are
// either empty or the same length as Verts.
type Face struct {
	Material  string
	Group     string // per-block object name, empty otherwise
	Verts     []int
	TexCoords []int
	Normals   []int
}

// Fragment is the geometry produced from one chunk. Vertex positions are in
// world block units; offset and scale are applied by the writer.
type Fragment struct {
	Coord     world.ChunkCoord
	Group     string // per-chunk object name, empty otherwise
	Vertices  []Vec3
	Normals   []Vec3
	TexCoords []Vec2
	Faces     []Face
}

func (f *Fragment) Empty() bool {
	return f == nil || len(f.Faces) == 0
}
