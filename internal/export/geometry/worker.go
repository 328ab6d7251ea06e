// Package geometry turns one chunk of the export region into a mesh fragment.
package geometry

import (
	"context"
	"fmt"

	"voxelmesh.ai/internal/export/chunkcache"
	"voxelmesh.ai/internal/export/config"
	"voxelmesh.ai/internal/export/queue"
	"voxelmesh.ai/internal/export/report"
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/world"
)

// Block is one non-air block handed to a Resolver.
type Block struct {
	ID      uint16
	Biome   uint16
	X, Y, Z int // world block position
}

// Resolver turns a block into faces added to out. It returns false for ids it
// does not know. Implementations must be safe for concurrent use and must
// produce the same faces for the same block and neighbors.
type Resolver interface {
	Resolve(b Block, nb Neighbors, out *mesh.Builder) bool
}

// Job is one dispatched chunk; Ticket is its rank in visiting order.
type Job struct {
	Ticket uint64
	Coord  world.ChunkCoord
}

type Worker struct {
	cfg      config.Config
	cache    *chunkcache.Cache
	resolver Resolver
	warn     *report.Dedup
}

func NewWorker(cfg config.Config, cache *chunkcache.Cache, resolver Resolver, warn *report.Dedup) *Worker {
	return &Worker{cfg: cfg, cache: cache, resolver: resolver, warn: warn}
}

// Run pulls jobs until in is closed and drained, inserting every fragment
// into out under its ticket.
func (w *Worker) Run(ctx context.Context, in *queue.WorkQueue[Job], out *queue.Reorder[*mesh.Fragment]) error {
	for {
		job, ok, err := in.Pop(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		frag, err := w.Build(ctx, job.Ticket, job.Coord)
		if err != nil {
			return err
		}
		if err := out.Insert(ctx, job.Ticket, frag); err != nil {
			return err
		}
	}
}

// Build produces the fragment for c. The chunk and its in-rectangle
// neighbors are ensured first and released before returning.
func (w *Worker) Build(ctx context.Context, ticket uint64, c world.ChunkCoord) (*mesh.Fragment, error) {
	nbrs := w.cache.Neighbors(c)
	ensured := 0
	defer func() {
		for _, n := range nbrs[:ensured] {
			w.cache.Release(n, ticket)
		}
	}()
	for _, n := range nbrs {
		if err := w.cache.Ensure(ctx, n); err != nil {
			return nil, fmt.Errorf("ensure %s: %w", n, err)
		}
		ensured++
	}

	nb := &Neighborhood{center: c, bounds: w.cfg.Bounds, sides: w.cfg.RenderSides}
	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			nb.recs[dz+1][dx+1] = w.cache.Get(world.ChunkCoord{X: c.X + dx, Z: c.Z + dz})
		}
	}

	b := mesh.NewBuilder(c)
	if w.cfg.ObjectPerChunk {
		b.SetFragmentGroup(c.String())
	}

	rec := nb.recs[1][1]
	b0 := w.cfg.Bounds
	x0, z0 := c.X*world.ChunkSize, c.Z*world.ChunkSize
	yMin, yMax := max(b0.Min.Y, rec.MinY), min(b0.Max.Y, rec.MinY+rec.Height-1)
	xMin, xMax := max(b0.Min.X, x0), min(b0.Max.X, x0+world.ChunkSize-1)
	zMin, zMax := max(b0.Min.Z, z0), min(b0.Max.Z, z0+world.ChunkSize-1)

	for y := yMin; y <= yMax; y++ {
		if y&15 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for z := zMin; z <= zMax; z++ {
			for x := xMin; x <= xMax; x++ {
				id := rec.Block(x-x0, y, z-z0)
				if id == world.Air {
					continue
				}
				if w.cfg.ObjectPerBlock {
					b.SetGroup(fmt.Sprintf("block_%d_%d_%d", x, y, z))
				}
				blk := Block{ID: id, Biome: rec.Biome(x-x0, z-z0), X: x, Y: y, Z: z}
				if !w.resolver.Resolve(blk, nb, b) {
					w.warn.Warn(report.Warning{
						Kind:  "unknown_block",
						Chunk: [2]int{c.X, c.Z},
						Cause: fmt.Sprintf("unknown block id %d", id),
					})
				}
			}
		}
	}
	return b.Fragment(), nil
}
