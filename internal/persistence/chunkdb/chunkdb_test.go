package chunkdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"voxelmesh.ai/internal/world"
)

func TestDB_PutLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "world", "chunks.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	a := world.NewChunkRecord(world.ChunkCoord{X: -1, Z: 2}, -8, 32)
	a.SetBlock(3, -8, 4, 7)
	a.SetBlock(15, 23, 15, 2)
	a.SetBiome(1, 1, 2)
	b := world.NewChunkRecord(world.ChunkCoord{X: 4, Z: -5}, 0, 16)
	if err := db.PutChunks(ctx, []*world.ChunkRecord{a, b}); err != nil {
		t.Fatalf("PutChunks: %v", err)
	}

	got, err := db.LoadChunk(ctx, a.Coord)
	if err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if got.Coord != a.Coord || got.MinY != -8 || got.Height != 32 {
		t.Fatalf("header mismatch: %+v", got.Coord)
	}
	if got.Block(3, -8, 4) != 7 || got.Block(15, 23, 15) != 2 || got.Biome(1, 1) != 2 {
		t.Fatalf("content mismatch")
	}
	if db.Loads() != 1 {
		t.Fatalf("loads=%d want 1", db.Loads())
	}

	if _, err := db.LoadChunk(ctx, world.ChunkCoord{X: 100, Z: 100}); !errors.Is(err, world.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}

	lo, hi, ok, err := db.Extent(ctx)
	if err != nil || !ok {
		t.Fatalf("Extent: ok=%v err=%v", ok, err)
	}
	if lo != (world.ChunkCoord{X: -1, Z: -5}) || hi != (world.ChunkCoord{X: 4, Z: 2}) {
		t.Fatalf("extent=%v..%v", lo, hi)
	}
	if n, err := db.Count(ctx); err != nil || n != 2 {
		t.Fatalf("count=%d err=%v", n, err)
	}
}

func TestDB_EmptyExtentAndMeta(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "chunks.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, _, ok, err := db.Extent(ctx); err != nil || ok {
		t.Fatalf("empty extent: ok=%v err=%v", ok, err)
	}
	if v, err := db.Meta(ctx, MetaSeed); err != nil || v != "" {
		t.Fatalf("missing meta: %q %v", v, err)
	}
	if err := db.SetMeta(ctx, MetaSeed, "42"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if v, _ := db.Meta(ctx, MetaSeed); v != "42" {
		t.Fatalf("meta=%q", v)
	}
}

func TestDB_RejectsInvalidRecord(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "chunks.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	bad := &world.ChunkRecord{Coord: world.ChunkCoord{}, Height: 2, Blocks: make([]uint16, 3)}
	if err := db.PutChunks(context.Background(), []*world.ChunkRecord{bad}); err == nil {
		t.Fatalf("expected validation error")
	}
}
