package main

import (
	"context"
	"path/filepath"
	"testing"

	"voxelmesh.ai/internal/model"
	"voxelmesh.ai/internal/persistence/chunkdb"
	"voxelmesh.ai/internal/persistence/snapshot"
	"voxelmesh.ai/internal/world"
	"voxelmesh.ai/internal/world/gen"
)

func TestGenerateAndStore(t *testing.T) {
	ctx := context.Background()
	cat := model.Default()
	p := gen.DefaultParams()
	p.RadiusChunks = 1
	g, err := gen.New(cat, p)
	if err != nil {
		t.Fatalf("gen.New: %v", err)
	}

	recs, err := generateAll(ctx, g, 3)
	if err != nil {
		t.Fatalf("generateAll: %v", err)
	}
	if len(recs) != 9 {
		t.Fatalf("recs=%d want 9", len(recs))
	}
	if recs[0].Coord != (world.ChunkCoord{X: -1, Z: -1}) || recs[8].Coord != (world.ChunkCoord{X: 1, Z: 1}) {
		t.Fatalf("order: first=%s last=%s", recs[0].Coord, recs[8].Coord)
	}

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "w.sqlite")
	if err := writeChunkDB(ctx, dbPath, "demo", p.Seed, cat.PaletteDigest, recs, 4); err != nil {
		t.Fatalf("writeChunkDB: %v", err)
	}
	db, err := chunkdb.Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if n, _ := db.Count(ctx); n != 9 {
		t.Fatalf("count=%d", n)
	}
	if v, _ := db.Meta(ctx, chunkdb.MetaPaletteDigest); v != cat.PaletteDigest {
		t.Fatalf("palette meta=%q", v)
	}
	got, err := db.LoadChunk(ctx, world.ChunkCoord{X: 1, Z: 0})
	if err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	want := g.Generate(world.ChunkCoord{X: 1, Z: 0})
	for i := range want.Blocks {
		if got.Blocks[i] != want.Blocks[i] {
			t.Fatalf("block %d differs after round trip", i)
		}
	}

	snapPath := filepath.Join(dir, "w.snap.zst")
	if err := writeSnapshot(snapPath, "demo", p.Seed, cat.PaletteDigest, recs); err != nil {
		t.Fatalf("writeSnapshot: %v", err)
	}
	h, err := snapshot.ReadHeader(snapPath)
	if err != nil || h.Chunks != 9 || h.World != "demo" {
		t.Fatalf("header=%+v err=%v", h, err)
	}
}
