// Package report defines the records an export emits besides geometry:
// deduplicated warnings and a per-run summary.
package report

import (
	"errors"
	"log"
	"strings"
	"sync"
)

type Warning struct {
	RunID string `json:"run_id,omitempty"`
	Kind  string `json:"kind"` // "chunk_load", "unknown_block"
	Chunk [2]int `json:"chunk"`
	Cause string `json:"cause"`
}

type RunSummary struct {
	RunID      string  `json:"run_id"`
	World      string  `json:"world"`
	ObjPath    string  `json:"obj_path"`
	Chunks     int     `json:"chunks"`
	Fragments  int     `json:"fragments"`
	Vertices   uint64  `json:"vertices"`
	Normals    uint64  `json:"normals"`
	TexCoords  uint64  `json:"texcoords"`
	Faces      uint64  `json:"faces"`
	Materials  int     `json:"materials"`
	Regrouped  bool    `json:"regrouped"`
	Cancelled  bool    `json:"cancelled"`
	Error      string  `json:"error,omitempty"`
	Seconds    float64 `json:"seconds"`
	PeakChunks int     `json:"peak_chunks"`
	Bytes      int64   `json:"bytes"`
}

// Sink receives warnings and run summaries. Implementations must be safe for
// concurrent use; warnings arrive from worker goroutines.
type Sink interface {
	WriteWarning(w Warning) error
	WriteRun(r RunSummary) error
}

// Dedup logs a warning once per cause and forwards the first occurrence to
// an optional Sink. Later repeats are only counted.
type Dedup struct {
	logger *log.Logger
	sink   Sink

	mu     sync.Mutex
	counts map[string]int
}

func NewDedup(logger *log.Logger, sink Sink) *Dedup {
	return &Dedup{logger: logger, sink: sink, counts: map[string]int{}}
}

// Warn returns true when w was the first occurrence of its cause.
func (d *Dedup) Warn(w Warning) bool {
	if d == nil {
		return false
	}
	key := w.Kind + "\x00" + w.Cause
	d.mu.Lock()
	d.counts[key]++
	first := d.counts[key] == 1
	d.mu.Unlock()
	if !first {
		return false
	}
	if d.logger != nil {
		d.logger.Printf("warning kind=%s chunk=(%d, %d): %s (further occurrences suppressed)", w.Kind, w.Chunk[0], w.Chunk[1], w.Cause)
	}
	if d.sink != nil {
		_ = d.sink.WriteWarning(w)
	}
	return true
}

// Counts returns the number of occurrences per kind.
func (d *Dedup) Counts() map[string]int {
	out := map[string]int{}
	if d == nil {
		return out
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, n := range d.counts {
		kind, _, _ := strings.Cut(k, "\x00")
		out[kind] += n
	}
	return out
}

// MultiSink forwards to every non-nil sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) WriteWarning(w Warning) error {
	var errs []error
	for _, s := range m {
		if s != nil {
			errs = append(errs, s.WriteWarning(w))
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) WriteRun(r RunSummary) error {
	var errs []error
	for _, s := range m {
		if s != nil {
			errs = append(errs, s.WriteRun(r))
		}
	}
	return errors.Join(errs...)
}

// WithRunID stamps runID on records that carry none before forwarding them.
func WithRunID(runID string, s Sink) Sink {
	return runSink{runID: runID, sink: s}
}

type runSink struct {
	runID string
	sink  Sink
}

func (r runSink) WriteWarning(w Warning) error {
	if w.RunID == "" {
		w.RunID = r.runID
	}
	return r.sink.WriteWarning(w)
}

func (r runSink) WriteRun(s RunSummary) error {
	if s.RunID == "" {
		s.RunID = r.runID
	}
	return r.sink.WriteRun(s)
}
