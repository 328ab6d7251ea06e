package world

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by a Store for coordinates that hold no chunk.
var ErrNotFound = errors.New("chunk not found")

// Store yields chunk contents for a coordinate. Implementations must be safe
// for concurrent use.
type Store interface {
	LoadChunk(ctx context.Context, c ChunkCoord) (*ChunkRecord, error)
}

// MemStore is an in-memory Store. Failures registered with Fail are returned
// instead of the chunk.
type MemStore struct {
	mu     sync.Mutex
	chunks map[ChunkCoord]*ChunkRecord
	fails  map[ChunkCoord]error
	loads  map[ChunkCoord]int
}

func NewMemStore() *MemStore {
	return &MemStore{
		chunks: map[ChunkCoord]*ChunkRecord{},
		fails:  map[ChunkCoord]error{},
		loads:  map[ChunkCoord]int{},
	}
}

func (s *MemStore) Put(r *ChunkRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[r.Coord] = r
}

func (s *MemStore) Fail(c ChunkCoord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[c] = err
}

// Loads reports how many times c was requested.
func (s *MemStore) Loads(c ChunkCoord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[c]
}

func (s *MemStore) Coords() []ChunkCoord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChunkCoord, 0, len(s.chunks))
	for c := range s.chunks {
		out = append(out, c)
	}
	return out
}

func (s *MemStore) LoadChunk(ctx context.Context, c ChunkCoord) (*ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads[c]++
	if err := s.fails[c]; err != nil {
		return nil, err
	}
	r, ok := s.chunks[c]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}
