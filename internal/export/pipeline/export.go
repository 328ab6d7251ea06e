// Package pipeline runs a whole export: ordered dispatch of chunks to
// geometry workers, the sequential OBJ writer, the optional regrouping pass
// and the material library.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"voxelmesh.ai/internal/export/chunkcache"
	"voxelmesh.ai/internal/export/config"
	"voxelmesh.ai/internal/export/geometry"
	"voxelmesh.ai/internal/export/hilbert"
	"voxelmesh.ai/internal/export/objwriter"
	"voxelmesh.ai/internal/export/progress"
	"voxelmesh.ai/internal/export/queue"
	"voxelmesh.ai/internal/export/regroup"
	"voxelmesh.ai/internal/export/report"
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/world"
)

var ErrTempDirExists = regroup.ErrTempDirExists

const (
	MsgGeometry  = "Exporting geometry"
	MsgSort      = "Sorting OBJ file"
	MsgMaterials = "Writing materials"
)

// MaterialWriter writes the material library for the names used by an export.
type MaterialWriter interface {
	WriteMTL(w io.Writer, names []string) error
}

type Deps struct {
	Store     world.Store
	Resolver  geometry.Resolver
	Progress  progress.Observer
	Logger    *log.Logger
	Sink      report.Sink    // optional
	Materials MaterialWriter // optional; no MTL file without it
}

type Result struct {
	ObjPath   string
	MtlPath   string
	Chunks    int // chunks in the export rectangle
	Fragments int // fragments written
	Counters  objwriter.Counters
	Materials []string
	Regrouped bool
	Cache     chunkcache.Stats
	Warnings  map[string]int
	Bytes     int64
	Elapsed   time.Duration
}

// Summary converts r into the record stored by run journals and indexes.
func (r Result) Summary(runID, worldName string, err error) report.RunSummary {
	s := report.RunSummary{
		RunID:      runID,
		World:      worldName,
		ObjPath:    r.ObjPath,
		Chunks:     r.Chunks,
		Fragments:  r.Fragments,
		Vertices:   r.Counters.Vertices,
		Normals:    r.Counters.Normals,
		TexCoords:  r.Counters.TexCoords,
		Faces:      r.Counters.Faces,
		Materials:  len(r.Materials),
		Regrouped:  r.Regrouped,
		Seconds:    r.Elapsed.Seconds(),
		PeakChunks: r.Cache.Peak,
		Bytes:      r.Bytes,
	}
	if err != nil {
		s.Error = err.Error()
		s.Cancelled = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
	return s
}

// Export writes cfg's region to <OutputDir>/<ObjFile>. Cancelling ctx stops
// every stage; the OBJ written so far is left in place and must be discarded.
// A failed or cancelled regrouping pass never replaces the OBJ.
func Export(ctx context.Context, cfg config.Config, deps Deps) (res Result, err error) {
	start := time.Now()
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	obs := progress.OrNop(deps.Progress)
	phase := progress.Partial{Observer: obs}
	defer func() { res.Elapsed = time.Since(start) }()

	if err := cfg.Validate(); err != nil {
		logger.Printf("export aborted: %v", err)
		return res, err
	}
	if deps.Store == nil || deps.Resolver == nil {
		return res, fmt.Errorf("export: store and resolver are required")
	}

	res.ObjPath = filepath.Join(cfg.OutputDir, cfg.ObjFile)
	tmp := regroup.OptionsFor(cfg).TempDir
	if _, err := os.Stat(tmp); err == nil {
		logger.Printf("cannot create %s: something is in the way", tmp)
		return res, fmt.Errorf("%w: %s", ErrTempDirExists, tmp)
	}

	f, err := os.Create(res.ObjPath)
	if err != nil {
		logger.Printf("cannot write to the chosen location: %v", err)
		return res, fmt.Errorf("create output: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = f.Close()
		}
	}()

	obs.SetMessage(MsgGeometry)
	if cfg.Offset.Mode != config.OffsetNone {
		o := cfg.OffsetVec()
		logger.Printf("%s offset: %v/%v/%v", cfg.Offset.Mode, o.X, o.Y, o.Z)
	}

	lo, hi := cfg.ChunkRange()
	order := hilbert.Order(lo, hi)
	res.Chunks = len(order)

	warn := report.NewDedup(logger, deps.Sink)
	cache := chunkcache.New(deps.Store, lo, hi, logger, warn)
	w := objwriter.New(f, cfg, phase)
	if err := w.WriteHeader(objwriter.MetaFromConfig(cfg)); err != nil {
		return res, fmt.Errorf("write header: %w", err)
	}

	logger.Printf("processing %d chunks with %d workers", len(order), cfg.Threads)
	geomStart := time.Now()
	err = runGeometry(ctx, cfg, deps.Resolver, cache, warn, w, order, logger)

	res.Fragments = w.Fragments()
	res.Counters = w.Counters()
	res.Materials = w.Materials()
	res.Cache = cache.Stats()
	res.Warnings = warn.Counts()
	cache.Clear()

	if err != nil {
		if ctx.Err() != nil {
			logger.Printf("export cancelled after %d of %d chunks", res.Fragments, res.Chunks)
			return res, ctx.Err()
		}
		logger.Printf("export failed: %v", err)
		return res, fmt.Errorf("export geometry: %w", err)
	}
	closed = true
	if err := f.Close(); err != nil {
		return res, fmt.Errorf("close output: %w", err)
	}
	logger.Printf("OBJ export time: %s", time.Since(geomStart).Round(time.Millisecond))

	if regroup.Needed(cfg) {
		obs.SetMessage(MsgSort)
		obs.SetProgress(0)
		sortStart := time.Now()
		if err := regroup.Run(ctx, res.ObjPath, regroup.OptionsFor(cfg), phase); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			logger.Printf("sorting failed: %v", err)
			return res, fmt.Errorf("regroup: %w", err)
		}
		res.Regrouped = true
		logger.Printf("sorting time: %s", time.Since(sortStart).Round(time.Millisecond))
	}

	if st, err := os.Stat(res.ObjPath); err == nil {
		res.Bytes = st.Size()
	}
	logger.Printf("Saved model to %s (%s)", res.ObjPath, humanize.Bytes(uint64(res.Bytes)))

	if deps.Materials != nil {
		obs.SetMessage(MsgMaterials)
		obs.SetProgress(0)
		res.MtlPath = filepath.Join(cfg.OutputDir, cfg.MtlName())
		if err := writeMaterials(res.MtlPath, deps.Materials, res.Materials); err != nil {
			logger.Printf("writing materials failed: %v", err)
			return res, fmt.Errorf("write materials: %w", err)
		}
		logger.Printf("wrote %d materials to %s", len(res.Materials), res.MtlPath)
	}
	obs.SetProgress(1)
	logger.Printf("export time: %s", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// runGeometry drives the feeder, the workers and the writer until every
// coordinate has been written or the first error.
func runGeometry(ctx context.Context, cfg config.Config, resolver geometry.Resolver, cache *chunkcache.Cache, warn *report.Dedup, w *objwriter.Writer, order []world.ChunkCoord, logger *log.Logger) error {
	jobs := queue.NewWorkQueue[geometry.Job](cfg.Threads * 2)
	results := queue.NewReorder[*mesh.Fragment](cfg.Threads)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer jobs.Close()
		for i, c := range order {
			if err := jobs.Push(gctx, geometry.Job{Ticket: uint64(i), Coord: c}); err != nil {
				return err
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	readStart := time.Now()
	for i := 0; i < cfg.Threads; i++ {
		wk := geometry.NewWorker(cfg, cache, resolver, warn)
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return wk.Run(gctx, jobs, results)
		})
	}
	g.Go(func() error {
		workers.Wait()
		if gctx.Err() != nil {
			return nil
		}
		logger.Printf("reading chunks: %s", time.Since(readStart).Round(time.Millisecond))
		return results.DrainAndWaitEmpty(gctx)
	})
	g.Go(func() error {
		return w.Run(gctx, results, len(order))
	})
	return g.Wait()
}

func writeMaterials(path string, mw MaterialWriter, names []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := mw.WriteMTL(f, names); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
