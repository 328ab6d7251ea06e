package geometry

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"voxelmesh.ai/internal/export/chunkcache"
	"voxelmesh.ai/internal/export/config"
	"voxelmesh.ai/internal/export/queue"
	"voxelmesh.ai/internal/export/report"
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/world"
)

// topResolver emits the top face of every known block unless the block above
// is solid. Ids >= 100 are unknown.
type topResolver struct{}

func (topResolver) Resolve(b Block, nb Neighbors, out *mesh.Builder) bool {
	if b.ID >= 100 {
		return false
	}
	if nb.BlockAt(b.X, b.Y+1, b.Z) != world.Air {
		return true
	}
	x, y, z := float64(b.X), float64(b.Y+1), float64(b.Z)
	out.AddPolygon(fmt.Sprintf("m%d", b.ID), []mesh.Vec3{
		{X: x, Y: y, Z: z}, {X: x, Y: y, Z: z + 1}, {X: x + 1, Y: y, Z: z + 1}, {X: x + 1, Y: y, Z: z},
	}, nil, mesh.Vec3{Y: 1})
	return true
}

type sinkFunc func(report.Warning)

func (f sinkFunc) WriteWarning(w report.Warning) error { f(w); return nil }
func (sinkFunc) WriteRun(report.RunSummary) error      { return nil }

func testConfig(minX, minZ, maxX, maxZ int) config.Config {
	cfg := config.Defaults()
	cfg.Bounds = config.Bounds{
		Min: config.Vec3i{X: minX, Y: 0, Z: minZ},
		Max: config.Vec3i{X: maxX, Y: 15, Z: maxZ},
	}
	return cfg
}

func newWorker(t *testing.T, cfg config.Config, st world.Store, warn *report.Dedup) *Worker {
	t.Helper()
	lo, hi := cfg.ChunkRange()
	return NewWorker(cfg, chunkcache.New(st, lo, hi, nil, warn), topResolver{}, warn)
}

func TestBuild_OneFacePerExposedBlock(t *testing.T) {
	st := world.NewMemStore()
	rec := world.NewChunkRecord(world.ChunkCoord{}, 0, 16)
	rec.SetBlock(1, 2, 3, 1)
	rec.SetBlock(5, 0, 5, 2)
	rec.SetBlock(5, 1, 5, 2) // covers the block below
	st.Put(rec)

	w := newWorker(t, testConfig(0, 0, 15, 15), st, nil)
	frag, err := w.Build(context.Background(), 0, world.ChunkCoord{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(frag.Faces) != 2 {
		t.Fatalf("faces=%d want 2", len(frag.Faces))
	}
	if len(frag.Vertices) != 8 || len(frag.Normals) != 1 {
		t.Fatalf("vertices=%d normals=%d want 8 and 1", len(frag.Vertices), len(frag.Normals))
	}
	if frag.Group != "" || frag.Faces[0].Group != "" {
		t.Fatalf("unexpected grouping %q/%q", frag.Group, frag.Faces[0].Group)
	}
}

func TestBuild_GroupKeys(t *testing.T) {
	st := world.NewMemStore()
	c := world.ChunkCoord{X: -1, Z: 2}
	rec := world.NewChunkRecord(c, 0, 16)
	rec.SetBlock(0, 4, 0, 1)
	st.Put(rec)

	cfg := testConfig(-16, 32, -1, 47)
	cfg.ObjectPerChunk = true
	cfg.ObjectPerBlock = true
	frag, err := newWorker(t, cfg, st, nil).Build(context.Background(), 0, c)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if frag.Group != "chunk_-1_2" {
		t.Fatalf("fragment group=%q", frag.Group)
	}
	if len(frag.Faces) != 1 || frag.Faces[0].Group != "block_-16_4_32" {
		t.Fatalf("faces=%+v", frag.Faces)
	}
}

func TestBuild_SelectionClipsBlocksAndNeighbors(t *testing.T) {
	st := world.NewMemStore()
	rec := world.NewChunkRecord(world.ChunkCoord{}, 0, 16)
	rec.SetBlock(2, 3, 2, 1)
	rec.SetBlock(2, 4, 2, 1) // above, outside the selection
	rec.SetBlock(9, 0, 9, 1) // outside in x/z
	st.Put(rec)

	cfg := testConfig(0, 0, 4, 4)
	cfg.Bounds.Max.Y = 3
	frag, err := newWorker(t, cfg, st, nil).Build(context.Background(), 0, world.ChunkCoord{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// The covered block still shows its top: its neighbor is outside the selection.
	if len(frag.Faces) != 1 {
		t.Fatalf("faces=%d want 1", len(frag.Faces))
	}
	if got := frag.Vertices[frag.Faces[0].Verts[0]]; got.Y != 4 {
		t.Fatalf("face at y=%v want 4", got.Y)
	}
}

func TestNeighborhood_ReadsAcrossChunks(t *testing.T) {
	a := world.NewChunkRecord(world.ChunkCoord{X: 0, Z: 0}, 0, 16)
	b := world.NewChunkRecord(world.ChunkCoord{X: 1, Z: 0}, 0, 16)
	a.SetBlock(15, 0, 0, 1)
	b.SetBlock(0, 0, 0, 1)

	nb := &Neighborhood{center: world.ChunkCoord{}, bounds: testConfig(0, 0, 31, 15).Bounds}
	nb.recs[1][1] = a
	nb.recs[1][2] = b
	if got := nb.BlockAt(16, 0, 0); got != 1 {
		t.Fatalf("neighbor block=%d want 1", got)
	}
	if got := nb.BlockAt(-1, 0, 0); got != Boundary {
		t.Fatalf("block left of selection=%d want boundary", got)
	}
	if got := nb.BlockAt(0, 16, 0); got != world.Air {
		t.Fatalf("block above selection=%d want air", got)
	}
	nb.sides = true
	if got := nb.BlockAt(-1, 0, 0); got != world.Air {
		t.Fatalf("rendered sides: block left of selection=%d want air", got)
	}
}

// openResolver emits one face for every direction whose neighbor is air.
type openResolver struct{}

var sixDirs = [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}}

func (openResolver) Resolve(b Block, nb Neighbors, out *mesh.Builder) bool {
	for _, d := range sixDirs {
		if nb.BlockAt(b.X+d[0], b.Y+d[1], b.Z+d[2]) != world.Air {
			continue
		}
		x, y, z := float64(b.X+d[0]), float64(b.Y+d[1]), float64(b.Z+d[2])
		out.AddPolygon("m", []mesh.Vec3{{X: x, Y: y, Z: z}, {X: x + 1, Y: y, Z: z}, {X: x, Y: y + 1, Z: z}}, nil,
			mesh.Vec3{X: float64(d[0]), Y: float64(d[1]), Z: float64(d[2])})
	}
	return true
}

func TestBuild_RenderSides(t *testing.T) {
	st := world.NewMemStore()
	rec := world.NewChunkRecord(world.ChunkCoord{}, 0, 16)
	rec.SetBlock(0, 0, 0, 1)  // corner: -x, -y and -z leave the selection
	rec.SetBlock(7, 15, 7, 1) // top: +y leaves the selection
	rec.SetBlock(15, 5, 9, 1) // +x side
	st.Put(rec)

	for _, tc := range []struct {
		sides bool
		want  int
	}{
		{false, 3 + 6 + 5},
		{true, 6 + 6 + 6},
	} {
		cfg := testConfig(0, 0, 15, 15)
		cfg.RenderSides = tc.sides
		lo, hi := cfg.ChunkRange()
		w := NewWorker(cfg, chunkcache.New(st, lo, hi, nil, nil), openResolver{}, nil)
		frag, err := w.Build(context.Background(), 0, world.ChunkCoord{})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if len(frag.Faces) != tc.want {
			t.Fatalf("render_sides=%v: faces=%d want %d", tc.sides, len(frag.Faces), tc.want)
		}
	}
}

func TestBuild_UnknownBlocksWarnOncePerID(t *testing.T) {
	st := world.NewMemStore()
	rec := world.NewChunkRecord(world.ChunkCoord{}, 0, 16)
	rec.SetBlock(0, 0, 0, 100)
	rec.SetBlock(1, 0, 0, 100)
	rec.SetBlock(2, 0, 0, 101)
	st.Put(rec)

	var mu sync.Mutex
	var got []string
	warn := report.NewDedup(nil, sinkFunc(func(w report.Warning) {
		mu.Lock()
		got = append(got, w.Cause)
		mu.Unlock()
	}))
	frag, err := newWorker(t, testConfig(0, 0, 15, 15), st, warn).Build(context.Background(), 0, world.ChunkCoord{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !frag.Empty() {
		t.Fatalf("unknown blocks produced faces")
	}
	if len(got) != 2 {
		t.Fatalf("warnings=%v want 2", got)
	}
	if n := warn.Counts()["unknown_block"]; n != 3 {
		t.Fatalf("unknown_block count=%d want 3", n)
	}
}

func TestBuild_DeterministicAndReleasesNeighbors(t *testing.T) {
	st := world.NewMemStore()
	for z := 0; z <= 1; z++ {
		for x := 0; x <= 1; x++ {
			c := world.ChunkCoord{X: x, Z: z}
			rec := world.NewChunkRecord(c, 0, 16)
			for i := 0; i < 16; i++ {
				rec.SetBlock(i, i%5, (i*7)%16, uint16(1+i%3))
			}
			st.Put(rec)
		}
	}
	cfg := testConfig(0, 0, 31, 31)
	c := world.ChunkCoord{X: 1, Z: 1}

	w1 := newWorker(t, cfg, st, nil)
	f1, err := w1.Build(context.Background(), 0, c)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	w2 := newWorker(t, cfg, st, nil)
	f2, err := w2.Build(context.Background(), 0, c)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !reflect.DeepEqual(f1, f2) {
		t.Fatalf("fragments differ between workers")
	}
	// (1,1) alone releases one of four references on each neighbor.
	if s := w1.cache.Stats(); s.Resident != 4 || s.Evictions != 0 {
		t.Fatalf("stats=%+v want 4 resident", s)
	}
}

func TestRun_InsertsEveryTicket(t *testing.T) {
	ctx := context.Background()
	st := world.NewMemStore()
	cfg := testConfig(0, 0, 47, 47)
	lo, hi := cfg.ChunkRange()
	for z := lo.Z; z <= hi.Z; z++ {
		for x := lo.X; x <= hi.X; x++ {
			rec := world.NewChunkRecord(world.ChunkCoord{X: x, Z: z}, 0, 16)
			rec.SetBlock(x+1, 0, z+1, 1)
			st.Put(rec)
		}
	}
	cache := chunkcache.New(st, lo, hi, nil, nil)

	const workers = 3
	in := queue.NewWorkQueue[Job](9)
	out := queue.NewReorder[*mesh.Fragment](workers)
	var ticket uint64
	for z := lo.Z; z <= hi.Z; z++ {
		for x := lo.X; x <= hi.X; x++ {
			_ = in.Push(ctx, Job{Ticket: ticket, Coord: world.ChunkCoord{X: x, Z: z}})
			ticket++
		}
	}
	in.Close()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := NewWorker(cfg, cache, topResolver{}, nil).Run(ctx, in, out); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	for i := uint64(0); i < ticket; i++ {
		f, err := out.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		want := world.ChunkCoord{X: int(i % 3), Z: int(i / 3)}
		if f.Coord != want || len(f.Faces) != 1 {
			t.Fatalf("ticket %d: coord=%s faces=%d", i, f.Coord, len(f.Faces))
		}
	}
	wg.Wait()
	if s := cache.Stats(); s.Resident != 0 || s.Loads != 9 {
		t.Fatalf("stats=%+v want everything evicted after 9 loads", s)
	}
}
