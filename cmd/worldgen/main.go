package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"voxelmesh.ai/internal/model"
	"voxelmesh.ai/internal/persistence/chunkdb"
	"voxelmesh.ai/internal/persistence/snapshot"
	"voxelmesh.ai/internal/world"
	"voxelmesh.ai/internal/world/gen"
)

func main() {
	var (
		out        = flag.String("out", "./data/world.sqlite", "output path: *.sqlite for a chunk db, *.snap.zst for a snapshot")
		name       = flag.String("name", "", "world name (default: generated_<seed>)")
		paramsPath = flag.String("params", "", "worldgen params yaml (optional)")
		blocksPath = flag.String("blocks", "", "block catalog json (default: embedded)")
		seed       = flag.Int64("seed", 0, "seed (overrides params)")
		radius     = flag.Int("radius", 0, "radius in chunks (overrides params)")
		workers    = flag.Int("workers", 4, "generator goroutines")
		batch      = flag.Int("batch", 64, "chunks per sqlite transaction")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[worldgen] ", log.LstdFlags|log.Lmicroseconds)

	p := gen.DefaultParams()
	if *paramsPath != "" {
		raw, err := os.ReadFile(*paramsPath)
		if err != nil {
			logger.Fatalf("read params: %v", err)
		}
		if err := yaml.Unmarshal(raw, &p); err != nil {
			logger.Fatalf("parse params: %v", err)
		}
	}
	if *seed != 0 {
		p.Seed = *seed
	}
	if *radius > 0 {
		p.RadiusChunks = *radius
	}
	if p.RadiusChunks <= 0 {
		logger.Fatalf("radius must be > 0 for a stored world")
	}

	cat := model.Default()
	if *blocksPath != "" {
		var err error
		if cat, err = model.Load(*blocksPath); err != nil {
			logger.Fatalf("load blocks: %v", err)
		}
	}
	g, err := gen.New(cat, p)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	worldName := *name
	if worldName == "" {
		worldName = fmt.Sprintf("generated_%d", p.Seed)
	}

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	recs, err := generateAll(ctx, g, *workers)
	if err != nil {
		logger.Fatalf("generate: %v", err)
	}
	logger.Printf("generated %d chunks in %s", len(recs), time.Since(start).Round(time.Millisecond))

	if strings.HasSuffix(*out, ".snap.zst") {
		err = writeSnapshot(*out, worldName, p.Seed, cat.PaletteDigest, recs)
	} else {
		err = writeChunkDB(ctx, *out, worldName, p.Seed, cat.PaletteDigest, recs, *batch)
	}
	if err != nil {
		logger.Fatalf("write %s: %v", *out, err)
	}
	if st, err := os.Stat(*out); err == nil {
		logger.Printf("wrote %s (%s)", *out, humanize.Bytes(uint64(st.Size())))
	}
}

// generateAll returns every chunk of g's extent in row-major order.
func generateAll(ctx context.Context, g *gen.Generator, workers int) ([]*world.ChunkRecord, error) {
	lo, hi, ok := g.Extent()
	if !ok {
		return nil, fmt.Errorf("unbounded world")
	}
	w := hi.X - lo.X + 1
	recs := make([]*world.ChunkRecord, w*(hi.Z-lo.Z+1))

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(max(workers, 1))
	for z := lo.Z; z <= hi.Z; z++ {
		eg.Go(func() error {
			for x := lo.X; x <= hi.X; x++ {
				rec, err := g.LoadChunk(ectx, world.ChunkCoord{X: x, Z: z})
				if err != nil {
					return err
				}
				recs[(z-lo.Z)*w+(x-lo.X)] = rec
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return recs, nil
}

func writeChunkDB(ctx context.Context, path, name string, seed int64, palette string, recs []*world.ChunkRecord, batch int) error {
	db, err := chunkdb.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if batch <= 0 {
		batch = 64
	}
	for i := 0; i < len(recs); i += batch {
		if err := db.PutChunks(ctx, recs[i:min(i+batch, len(recs))]); err != nil {
			return err
		}
	}
	meta := map[string]string{
		chunkdb.MetaWorldName:     name,
		chunkdb.MetaSeed:          fmt.Sprint(seed),
		chunkdb.MetaPaletteDigest: palette,
	}
	for k, v := range meta {
		if err := db.SetMeta(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func writeSnapshot(path, name string, seed int64, palette string, recs []*world.ChunkRecord) error {
	snap, err := snapshot.Build(snapshot.Header{World: name, Seed: seed, PaletteDigest: palette}, recs)
	if err != nil {
		return err
	}
	return snapshot.WriteSnapshot(path, snap)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
