package objwriter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"voxelmesh.ai/internal/export/config"
	"voxelmesh.ai/internal/export/progress"
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/world"
)

func triangle(c world.ChunkCoord, x float64, mat string) *mesh.Fragment {
	b := mesh.NewBuilder(c)
	b.AddPolygon(mat, []mesh.Vec3{{X: x}, {X: x + 1}, {X: x, Y: 1}},
		[]mesh.Vec2{{U: 0, V: 0}, {U: 1, V: 0}, {U: 0, V: 1}}, mesh.Vec3{Z: 1})
	return b.Fragment()
}

func TestWriteHeader_ExactLayout(t *testing.T) {
	cfg := config.Defaults()
	cfg.WorldName = "demo"
	cfg.WorldPath = "/worlds/demo"
	cfg.Bounds = config.Bounds{Min: config.Vec3i{X: 0, Y: 0, Z: 0}, Max: config.Vec3i{X: 31, Y: 15, Z: 31}}
	cfg.Offset.Mode = config.OffsetCenter

	var buf bytes.Buffer
	w := New(&buf, cfg, nil)
	if err := w.WriteHeader(MetaFromConfig(cfg)); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	want := strings.Join([]string{
		"# COMMON_MC_OBJ_START",
		"# version: 1",
		"# exporter: voxelmesh",
		"# world_name: demo",
		"# world_path: /worlds/demo",
		"# exported_bounds_min: (0, 0, 0)",
		"# exported_bounds_max: (31, 15, 31)",
		"# block_scale: 1.0",
		"# is_centered: true",
		"# z_up: false",
		"# texture_type: INDIVIDUAL_TILES",
		"# has_split_blocks: false",
		"# COMMON_MC_OBJ_END",
		"",
		"mtllib world.mtl",
		"",
		"o world",
		"",
		"",
	}, "\n")
	if buf.String() != want {
		t.Fatalf("header mismatch:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteHeader_NoWorldObjectWhenGrouping(t *testing.T) {
	cfg := config.Defaults()
	cfg.ObjectPerChunk = true
	cfg.Scale = 0.25
	var buf bytes.Buffer
	if err := New(&buf, cfg, nil).WriteHeader(MetaFromConfig(cfg)); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "o world") {
		t.Fatalf("unexpected world object:\n%s", out)
	}
	if !strings.Contains(out, "# block_scale: 0.25\n") {
		t.Fatalf("scale line missing:\n%s", out)
	}
}

func TestWriteFragment_GlobalIndicesAndTransform(t *testing.T) {
	cfg := config.Defaults()
	cfg.Scale = 2
	cfg.Offset = config.Offset{Mode: config.OffsetCustom, X: 10, Z: -1}

	var buf bytes.Buffer
	w := New(&buf, cfg, nil)
	for i, f := range []*mesh.Fragment{triangle(world.ChunkCoord{}, 0, "stone"), {}, triangle(world.ChunkCoord{X: 1}, 5, "stone")} {
		if err := w.WriteFragment(f); err != nil {
			t.Fatalf("WriteFragment %d: %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := strings.Join([]string{
		"v 20 0 -2",
		"v 22 0 -2",
		"v 20 2 -2",
		"vt 0 0",
		"vt 1 0",
		"vt 0 1",
		"vn 0 0 1",
		"usemtl stone",
		"f 1/1/1 2/2/1 3/3/1",
		"v 30 0 -2",
		"v 32 0 -2",
		"v 30 2 -2",
		"vt 0 0",
		"vt 1 0",
		"vt 0 1",
		"vn 0 0 1",
		"f 4/4/2 5/5/2 6/6/2",
		"",
	}, "\n")
	if buf.String() != want {
		t.Fatalf("output mismatch:\n%s\nwant:\n%s", buf.String(), want)
	}
	c := w.Counters()
	if c.Vertices != 6 || c.TexCoords != 6 || c.Normals != 2 || c.Faces != 2 {
		t.Fatalf("counters=%+v", c)
	}
	if w.Fragments() != 3 {
		t.Fatalf("fragments=%d want 3", w.Fragments())
	}
}

func TestWriteFragment_ObjectLinesResetMaterial(t *testing.T) {
	cfg := config.Defaults()
	cfg.UseGroups = true

	a := triangle(world.ChunkCoord{X: 0}, 0, "stone")
	a.Group = "chunk_0_0"
	b := triangle(world.ChunkCoord{X: 1}, 0, "stone")
	b.Group = "chunk_1_0"

	var buf bytes.Buffer
	w := New(&buf, cfg, nil)
	_ = w.WriteFragment(a)
	_ = w.WriteFragment(b)
	_ = w.Flush()

	out := buf.String()
	if strings.Count(out, "usemtl stone\n") != 2 {
		t.Fatalf("usemtl must follow every object line:\n%s", out)
	}
	if !strings.Contains(out, "\ng chunk_0_0\n\nusemtl stone\n") || !strings.Contains(out, "\ng chunk_1_0\n\nusemtl stone\n") {
		t.Fatalf("group lines missing:\n%s", out)
	}
	if got := w.Materials(); len(got) != 1 || got[0] != "stone" {
		t.Fatalf("materials=%v", got)
	}
}

func TestWriteFragment_NormalOnlyFaces(t *testing.T) {
	b := mesh.NewBuilder(world.ChunkCoord{})
	b.AddPolygon("m", []mesh.Vec3{{}, {X: 1}, {Y: 1}}, nil, mesh.Vec3{Z: -1})
	var buf bytes.Buffer
	w := New(&buf, config.Defaults(), nil)
	_ = w.WriteFragment(b.Fragment())
	_ = w.Flush()
	if !strings.Contains(buf.String(), "f 1//1 2//1 3//1\n") {
		t.Fatalf("face line:\n%s", buf.String())
	}
}

type sliceSource struct {
	frags []*mesh.Fragment
	next  int
	stop  int // return ctx error once next reaches stop
}

func (s *sliceSource) Next(ctx context.Context) (*mesh.Fragment, error) {
	if s.next == s.stop {
		return nil, context.Canceled
	}
	f := s.frags[s.next]
	s.next++
	return f, nil
}

func TestRun_ReportsProgressAndStopsOnError(t *testing.T) {
	frags := make([]*mesh.Fragment, 4)
	for i := range frags {
		frags[i] = triangle(world.ChunkCoord{X: i}, float64(i), "stone")
	}

	rec := &progress.Recorder{}
	var buf bytes.Buffer
	w := New(&buf, config.Defaults(), rec)
	if err := w.Run(context.Background(), &sliceSource{frags: frags, stop: -1}, len(frags)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	vals, _ := rec.Snapshot()
	if len(vals) != 4 || vals[0] != 0.25 || vals[3] != 1 {
		t.Fatalf("progress=%v", vals)
	}

	rec = &progress.Recorder{}
	buf.Reset()
	w = New(&buf, config.Defaults(), rec)
	err := w.Run(context.Background(), &sliceSource{frags: frags, stop: 2}, len(frags))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if c := w.Counters(); c.Vertices != 6 || c.Faces != 2 {
		t.Fatalf("counters=%+v want exactly two fragments", c)
	}
	if rec.Last() >= 1 {
		t.Fatalf("progress reached %v on failure", rec.Last())
	}
}
