// Package log keeps append-only zstd-compressed JSONL journals of export runs.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelmesh.ai/internal/export/report"
)

// JSONLZstdWriter appends one JSON document per line to an hourly rotated
// .jsonl.zst file under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	paths   []string
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Paths returns every file opened so far, oldest first.
func (w *JSONLZstdWriter) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.paths...)
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	w.paths = append(w.paths, path)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Entry is one journal line. Exactly one of Warning and Run is set.
type Entry struct {
	Type    string             `json:"type"` // "warning" or "run"
	TS      string             `json:"ts"`
	Warning *report.Warning    `json:"warning,omitempty"`
	Run     *report.RunSummary `json:"run,omitempty"`
}

// Journal records export warnings and run summaries. It implements
// report.Sink.
type Journal struct {
	w     *JSONLZstdWriter
	runID string
}

func NewJournal(dir, runID string) *Journal {
	return &Journal{w: NewJSONLZstdWriter(dir, "journal"), runID: runID}
}

func (j *Journal) WriteWarning(w report.Warning) error {
	if w.RunID == "" {
		w.RunID = j.runID
	}
	return j.w.Write(Entry{Type: "warning", TS: j.ts(), Warning: &w})
}

func (j *Journal) WriteRun(r report.RunSummary) error {
	if r.RunID == "" {
		r.RunID = j.runID
	}
	return j.w.Write(Entry{Type: "run", TS: j.ts(), Run: &r})
}

func (j *Journal) Paths() []string { return j.w.Paths() }
func (j *Journal) Close() error    { return j.w.Close() }

func (j *Journal) ts() string { return j.w.now().UTC().Format(time.RFC3339Nano) }
