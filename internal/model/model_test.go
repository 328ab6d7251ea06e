package model

import (
	"bytes"
	"strings"
	"testing"

	"voxelmesh.ai/internal/export/config"
	"voxelmesh.ai/internal/export/geometry"
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/world"
)

type blockMap map[[3]int]uint16

func (m blockMap) BlockAt(x, y, z int) uint16 { return m[[3]int{x, y, z}] }
func (m blockMap) BiomeAt(x, z int) uint16    { return 0 }

func resolveAll(t *testing.T, r *CubeResolver, blocks blockMap, biome uint16) *mesh.Fragment {
	t.Helper()
	b := mesh.NewBuilder(world.ChunkCoord{})
	for p, id := range blocks {
		_ = r.Resolve(geometry.Block{ID: id, Biome: biome, X: p[0], Y: p[1], Z: p[2]}, blocks, b)
	}
	return b.Fragment()
}

func TestDefault_PaletteAndDigests(t *testing.T) {
	c := Default()
	if c.Palette[0] != "AIR" || c.Index["AIR"] != world.Air {
		t.Fatalf("AIR must be palette id 0, palette=%v", c.Palette)
	}
	for i := 2; i < len(c.Palette); i++ {
		if c.Palette[i-1] >= c.Palette[i] {
			t.Fatalf("palette not sorted after AIR: %v", c.Palette)
		}
	}
	if c.PaletteDigest == "" || c.DefsDigest == "" {
		t.Fatalf("missing digests")
	}
	if d, ok := c.Def(c.Index["STONE"]); !ok || d.Model != ModelCube || d.Material != "stone" {
		t.Fatalf("STONE def=%+v ok=%v", d, ok)
	}
	if _, ok := c.Def(uint16(len(c.Palette))); ok {
		t.Fatalf("id past the palette resolved")
	}
	if c.BiomeName(c.BiomeID("DESERT")) != "DESERT" {
		t.Fatalf("biome round trip failed")
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing air": `{"blocks":[{"id":"STONE"}]}`,
		"duplicate":   `{"blocks":[{"id":"AIR"},{"id":"STONE"},{"id":"STONE"}]}`,
		"bad model":   `{"blocks":[{"id":"AIR"},{"id":"STONE","model":"slab"}]}`,
		"empty id":    `{"blocks":[{"id":"AIR"},{"id":""}]}`,
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestCube_IsolatedBlockHasSixFaces(t *testing.T) {
	c := Default()
	r := NewCubeResolver(c, config.Defaults())
	f := resolveAll(t, r, blockMap{{3, 4, 5}: c.Index["STONE"]}, 0)
	if len(f.Faces) != 6 || len(f.Vertices) != 8 || len(f.Normals) != 6 || len(f.TexCoords) != 4 {
		t.Fatalf("faces=%d verts=%d normals=%d uvs=%d", len(f.Faces), len(f.Vertices), len(f.Normals), len(f.TexCoords))
	}
	for _, v := range f.Vertices {
		if v.X < 3 || v.X > 4 || v.Y < 4 || v.Y > 5 || v.Z < 5 || v.Z > 6 {
			t.Fatalf("vertex %+v outside the block", v)
		}
	}
	for _, fc := range f.Faces {
		if fc.Material != "stone" {
			t.Fatalf("material=%q", fc.Material)
		}
	}
}

func TestCube_SharedFaceIsCulled(t *testing.T) {
	c := Default()
	stone, dirt := c.Index["STONE"], c.Index["DIRT"]
	blocks := blockMap{{0, 0, 0}: stone, {1, 0, 0}: dirt}

	f := resolveAll(t, NewCubeResolver(c, config.Defaults()), blocks, 0)
	if len(f.Faces) != 10 {
		t.Fatalf("faces=%d want 10", len(f.Faces))
	}

	cfg := config.Defaults()
	cfg.ObjectPerMaterial = true
	f = resolveAll(t, NewCubeResolver(c, cfg), blocks, 0)
	if len(f.Faces) != 12 {
		t.Fatalf("per-material without occlusion: faces=%d want 12", len(f.Faces))
	}

	cfg.ObjectPerMaterialOcclusion = true
	f = resolveAll(t, NewCubeResolver(c, cfg), blocks, 0)
	if len(f.Faces) != 10 {
		t.Fatalf("per-material with occlusion: faces=%d want 10", len(f.Faces))
	}
}

func TestCube_SelectionBoundaryHidesFaces(t *testing.T) {
	c := Default()
	cfg := config.Defaults()
	cfg.ObjectPerBlock = true
	nb := blockMap{{0, -1, 0}: geometry.Boundary, {-1, 0, 0}: geometry.Boundary}
	b := mesh.NewBuilder(world.ChunkCoord{})
	if !NewCubeResolver(c, cfg).Resolve(geometry.Block{ID: c.Index["STONE"]}, nb, b) {
		t.Fatalf("stone reported unknown")
	}
	if n := len(b.Fragment().Faces); n != 4 {
		t.Fatalf("faces=%d want 4", n)
	}
}

func TestCube_TransparentNeighborDoesNotCull(t *testing.T) {
	c := Default()
	stone, leaves := c.Index["STONE"], c.Index["LEAVES"]
	f := resolveAll(t, NewCubeResolver(c, config.Defaults()), blockMap{{0, 0, 0}: stone, {0, 1, 0}: leaves}, 0)
	// Stone keeps its top; leaves lose the bottom face against stone.
	if len(f.Faces) != 11 {
		t.Fatalf("faces=%d want 11", len(f.Faces))
	}
	f = resolveAll(t, NewCubeResolver(c, config.Defaults()), blockMap{{0, 0, 0}: leaves, {0, 1, 0}: leaves}, 0)
	if len(f.Faces) != 10 {
		t.Fatalf("leaves against leaves: faces=%d want 10", len(f.Faces))
	}
}

func TestResolve_UnknownExcludedAndSingleMaterial(t *testing.T) {
	c := Default()
	unknown := uint16(len(c.Palette) + 3)

	b := mesh.NewBuilder(world.ChunkCoord{})
	if NewCubeResolver(c, config.Defaults()).Resolve(geometry.Block{ID: unknown}, blockMap{}, b) {
		t.Fatalf("unknown id reported as known")
	}
	if !b.Fragment().Empty() {
		t.Fatalf("unknown block rendered without render_unknown")
	}

	cfg := config.Defaults()
	cfg.RenderUnknown = true
	f := resolveAll(t, NewCubeResolver(c, cfg), blockMap{{0, 0, 0}: unknown}, 0)
	if len(f.Faces) != 6 || f.Faces[0].Material != UnknownMaterial {
		t.Fatalf("placeholder faces=%d material=%q", len(f.Faces), f.Faces[0].Material)
	}

	cfg = config.Defaults()
	cfg.ExcludeBlocks = []string{"stone"}
	f = resolveAll(t, NewCubeResolver(c, cfg), blockMap{{0, 0, 0}: c.Index["STONE"], {1, 0, 0}: c.Index["DIRT"]}, 0)
	if len(f.Faces) != 6 || f.Faces[0].Material != "dirt" {
		t.Fatalf("exclude: faces=%d", len(f.Faces))
	}

	cfg = config.Defaults()
	cfg.SingleMaterial = true
	f = resolveAll(t, NewCubeResolver(c, cfg), blockMap{{0, 0, 0}: c.Index["GRASS"]}, 0)
	for _, fc := range f.Faces {
		if fc.Material != SingleMaterial {
			t.Fatalf("single material: got %q", fc.Material)
		}
	}
}

func TestResolve_GrassMaterialsFollowFaceAndBiome(t *testing.T) {
	c := Default()
	grass := c.Index["GRASS"]
	count := func(f *mesh.Fragment) map[string]int {
		out := map[string]int{}
		for _, fc := range f.Faces {
			out[fc.Material]++
		}
		return out
	}
	r := NewCubeResolver(c, config.Defaults())
	got := count(resolveAll(t, r, blockMap{{0, 0, 0}: grass}, c.BiomeID("PLAINS")))
	if got["grass_top"] != 1 || got["dirt"] != 1 || got["grass_side"] != 4 {
		t.Fatalf("plains grass materials=%v", got)
	}
	got = count(resolveAll(t, r, blockMap{{0, 0, 0}: grass}, c.BiomeID("DESERT")))
	if got["grass_top_dry"] != 1 || got["grass_top"] != 0 {
		t.Fatalf("desert grass materials=%v", got)
	}
}

func TestResolve_CrossModel(t *testing.T) {
	c := Default()
	f := resolveAll(t, NewCubeResolver(c, config.Defaults()), blockMap{{0, 0, 0}: c.Index["TALL_GRASS"]}, 0)
	if len(f.Faces) != 4 {
		t.Fatalf("faces=%d want 4", len(f.Faces))
	}
	// A cross does not cull its neighbors.
	f = resolveAll(t, NewCubeResolver(c, config.Defaults()), blockMap{{0, 0, 0}: c.Index["STONE"], {0, 1, 0}: c.Index["TALL_GRASS"]}, 0)
	if len(f.Faces) != 10 {
		t.Fatalf("faces=%d want 10", len(f.Faces))
	}
}

func TestWriteMTL(t *testing.T) {
	c := Default()
	var buf bytes.Buffer
	if err := c.WriteMTL(&buf, []string{"stone", "water", "nope"}); err != nil {
		t.Fatalf("WriteMTL: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# 3 materials\n",
		"newmtl stone\nKd 0.5 0.5 0.5\nKs 0 0 0\nd 1\nillum 1\n",
		"newmtl water\nKd 0.2 0.35 0.8\nKs 0 0 0\nd 0.6\nillum 4\n",
		"newmtl nope\nKd 0.8 0.8 0.8\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
