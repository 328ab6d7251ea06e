package mesh

import "voxelmesh.ai/internal/world"

// Builder accumulates a Fragment, merging identical vertices, normals and
// texture coordinates in first-use order so the result only depends on the
// order of AddQuad/AddPolygon calls.
type Builder struct {
	frag  Fragment
	group string

	verts map[Vec3]int
	norms map[Vec3]int
	uvs   map[Vec2]int
}

func NewBuilder(c world.ChunkCoord) *Builder {
	return &Builder{
		frag:  Fragment{Coord: c},
		verts: map[Vec3]int{},
		norms: map[Vec3]int{},
		uvs:   map[Vec2]int{},
	}
}

// SetFragmentGroup names the object the whole fragment belongs to.
func (b *Builder) SetFragmentGroup(name string) { b.frag.Group = name }

// SetGroup tags subsequently added faces (per-block objects).
func (b *Builder) SetGroup(name string) { b.group = name }

func (b *Builder) vertex(v Vec3) int {
	if i, ok := b.verts[v]; ok {
		return i
	}
	i := len(b.frag.Vertices)
	b.frag.Vertices = append(b.frag.Vertices, v)
	b.verts[v] = i
	return i
}

func (b *Builder) normal(n Vec3) int {
	if i, ok := b.norms[n]; ok {
		return i
	}
	i := len(b.frag.Normals)
	b.frag.Normals = append(b.frag.Normals, n)
	b.norms[n] = i
	return i
}

func (b *Builder) texCoord(t Vec2) int {
	if i, ok := b.uvs[t]; ok {
		return i
	}
	i := len(b.frag.TexCoords)
	b.frag.TexCoords = append(b.frag.TexCoords, t)
	b.uvs[t] = i
	return i
}

// AddPolygon appends one face. uv may be nil; otherwise it must match pos.
func (b *Builder) AddPolygon(material string, pos []Vec3, uv []Vec2, normal Vec3) {
	if len(pos) < 3 {
		return
	}
	f := Face{
		Material: material,
		Group:    b.group,
		Verts:    make([]int, len(pos)),
		Normals:  make([]int, len(pos)),
	}
	n := b.normal(normal)
	for i, p := range pos {
		f.Verts[i] = b.vertex(p)
		f.Normals[i] = n
	}
	if len(uv) == len(pos) {
		f.TexCoords = make([]int, len(uv))
		for i, t := range uv {
			f.TexCoords[i] = b.texCoord(t)
		}
	}
	b.frag.Faces = append(b.frag.Faces, f)
}

// Fragment returns the accumulated fragment. The builder must not be reused.
func (b *Builder) Fragment() *Fragment {
	f := b.frag
	return &f
}
