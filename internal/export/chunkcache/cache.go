// Package chunkcache holds only the chunks still needed as neighbors by
// pending or in-flight export tickets.
package chunkcache

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"voxelmesh.ai/internal/export/report"
	"voxelmesh.ai/internal/world"
)

// voidRecord stands in for chunks outside the export rectangle.
var voidRecord = &world.ChunkRecord{}

type entry struct {
	ready chan struct{} // closed once rec is set
	rec   *world.ChunkRecord

	mu   sync.Mutex
	refs int
}

type Stats struct {
	Loads     int64
	Failures  int64
	Evictions int64
	Resident  int
	Peak      int
}

// Cache loads chunks on demand from a world.Store and evicts each chunk as
// soon as every chunk of the rectangle whose 3x3 neighborhood contains it
// has released it. Each coordinate is loaded at most once.
type Cache struct {
	store  world.Store
	lo, hi world.ChunkCoord
	logger *log.Logger
	warn   *report.Dedup

	mu       sync.Mutex // guards entries membership and resident/peak only
	entries  map[world.ChunkCoord]*entry
	resident int
	peak     int

	loads     atomic.Int64
	failures  atomic.Int64
	evictions atomic.Int64
}

// New creates a cache for the inclusive chunk rectangle [lo, hi].
func New(store world.Store, lo, hi world.ChunkCoord, logger *log.Logger, warn *report.Dedup) *Cache {
	return &Cache{
		store:   store,
		lo:      lo,
		hi:      hi,
		logger:  logger,
		warn:    warn,
		entries: map[world.ChunkCoord]*entry{},
	}
}

func (c *Cache) inRect(p world.ChunkCoord) bool {
	return p.X >= c.lo.X && p.X <= c.hi.X && p.Z >= c.lo.Z && p.Z <= c.hi.Z
}

// Neighbors returns p and its 8 surrounding chunks, restricted to the export
// rectangle. This is exactly the set a ticket for p must Ensure and Release.
func (c *Cache) Neighbors(p world.ChunkCoord) []world.ChunkCoord {
	out := make([]world.ChunkCoord, 0, 9)
	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			n := world.ChunkCoord{X: p.X + dx, Z: p.Z + dz}
			if c.inRect(n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// Ensure loads p if it is not resident. Concurrent callers for the same
// coordinate share one load; the others wait for it or for ctx.
func (c *Cache) Ensure(ctx context.Context, p world.ChunkCoord) error {
	if !c.inRect(p) {
		return nil
	}

	c.mu.Lock()
	e, ok := c.entries[p]
	if !ok {
		// Every in-rectangle chunk whose neighborhood contains p holds one reference.
		e = &entry{ready: make(chan struct{}), refs: len(c.Neighbors(p))}
		c.entries[p] = e
		c.resident++
		if c.resident > c.peak {
			c.peak = c.resident
		}
	}
	c.mu.Unlock()

	if ok {
		select {
		case <-e.ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rec, err := c.load(ctx, p)
	e.rec = rec
	close(e.ready)
	return err
}

func (c *Cache) load(ctx context.Context, p world.ChunkCoord) (*world.ChunkRecord, error) {
	c.loads.Add(1)
	rec, err := c.store.LoadChunk(ctx, p)
	if err == nil && rec != nil {
		if verr := rec.Validate(); verr != nil {
			err = verr
		} else {
			return rec, nil
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return world.EmptyRecord(p), ctxErr
	}
	if err == nil || errors.Is(err, world.ErrNotFound) {
		return world.EmptyRecord(p), nil
	}

	c.failures.Add(1)
	c.warn.Warn(report.Warning{
		Kind:  "chunk_load",
		Chunk: [2]int{p.X, p.Z},
		Cause: rootCause(err).Error(),
	})
	return world.EmptyRecord(p), nil
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// Get returns the record for p. Coordinates outside the rectangle, or not
// ensured, yield a shared all-air record.
func (c *Cache) Get(p world.ChunkCoord) *world.ChunkRecord {
	c.mu.Lock()
	e := c.entries[p]
	c.mu.Unlock()
	if e == nil {
		return voidRecord
	}
	select {
	case <-e.ready:
		return e.rec
	default:
		return voidRecord
	}
}

// Release drops one reference to p held on behalf of ticket. The chunk is
// evicted when its last reference goes.
func (c *Cache) Release(p world.ChunkCoord, ticket uint64) {
	if !c.inRect(p) {
		return
	}
	c.mu.Lock()
	e := c.entries[p]
	c.mu.Unlock()
	if e == nil {
		if c.logger != nil {
			c.logger.Printf("release of non-resident %s by ticket %d", p, ticket)
		}
		return
	}

	e.mu.Lock()
	e.refs--
	last := e.refs == 0
	if e.refs < 0 && c.logger != nil {
		c.logger.Printf("over-release of %s by ticket %d", p, ticket)
	}
	e.mu.Unlock()
	if !last {
		return
	}

	c.mu.Lock()
	if c.entries[p] == e {
		delete(c.entries, p)
		c.resident--
	}
	c.mu.Unlock()
	c.evictions.Add(1)
}

// Clear evicts everything still resident.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[world.ChunkCoord]*entry{}
	c.resident = 0
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Loads:     c.loads.Load(),
		Failures:  c.failures.Load(),
		Evictions: c.evictions.Load(),
		Resident:  c.resident,
		Peak:      c.peak,
	}
}
