// Package indexdb keeps a queryable sqlite index of export runs and their
// warnings. Writes go through a single writer goroutine.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"voxelmesh.ai/internal/export/report"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropWarning atomic.Uint64
	dropRun     atomic.Uint64
	dropCatalog atomic.Uint64
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropWarningTotal uint64
	DropRunTotal     uint64
	DropCatalogTotal uint64
}

type reqKind int

const (
	reqWarning reqKind = iota + 1
	reqRun
	reqCatalog
	reqFlush
)

type req struct {
	kind reqKind

	warning report.Warning
	run     report.RunSummary
	catalog catalogRow
	done    chan struct{}
}

type catalogRow struct {
	Name   string
	Digest string
	JSON   string
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string { return uuid.NewString() }

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			world TEXT NOT NULL,
			obj_path TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			fragments INTEGER NOT NULL,
			vertices INTEGER NOT NULL,
			normals INTEGER NOT NULL,
			texcoords INTEGER NOT NULL,
			faces INTEGER NOT NULL,
			materials INTEGER NOT NULL,
			regrouped INTEGER NOT NULL,
			cancelled INTEGER NOT NULL,
			error TEXT,
			seconds REAL NOT NULL,
			peak_chunks INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_world ON runs(world, recorded_at);`,
		`CREATE TABLE IF NOT EXISTS warnings (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			cause TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_warnings_kind ON warnings(kind);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropWarningTotal: s.dropWarning.Load(),
		DropRunTotal:     s.dropRun.Load(),
		DropCatalogTotal: s.dropCatalog.Load(),
	}
}

// WriteWarning implements report.Sink. It never blocks; warnings are
// dropped when the writer falls behind.
func (s *SQLiteIndex) WriteWarning(w report.Warning) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqWarning, warning: w}:
	default:
		s.dropWarning.Add(1)
	}
	return nil
}

// WriteRun implements report.Sink.
func (s *SQLiteIndex) WriteRun(r report.RunSummary) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	if r.RunID == "" {
		return fmt.Errorf("run summary without run id")
	}
	select {
	case s.ch <- req{kind: reqRun, run: r}:
	default:
		s.dropRun.Add(1)
	}
	return nil
}

// RecordCatalog stores the block catalog an export resolved against.
func (s *SQLiteIndex) RecordCatalog(name, digest string, raw []byte) {
	if s == nil || s.closed.Load() || name == "" || digest == "" || len(raw) == 0 {
		return
	}
	select {
	case s.ch <- req{kind: reqCatalog, catalog: catalogRow{Name: name, Digest: digest, JSON: string(raw)}}:
	default:
		s.dropCatalog.Add(1)
	}
}

// Flush blocks until every queued write is committed or ctx is done.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runs returns the latest runs, newest first.
func (s *SQLiteIndex) Runs(ctx context.Context, limit int) ([]report.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,world,obj_path,chunks,fragments,vertices,normals,texcoords,faces,materials,regrouped,cancelled,COALESCE(error,''),seconds,peak_chunks,bytes
		FROM runs ORDER BY recorded_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.RunSummary
	for rows.Next() {
		var r report.RunSummary
		if err := rows.Scan(&r.RunID, &r.World, &r.ObjPath, &r.Chunks, &r.Fragments, &r.Vertices, &r.Normals, &r.TexCoords, &r.Faces,
			&r.Materials, &r.Regrouped, &r.Cancelled, &r.Error, &r.Seconds, &r.PeakChunks, &r.Bytes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Warnings returns the warnings recorded for runID in arrival order.
func (s *SQLiteIndex) Warnings(ctx context.Context, runID string) ([]report.Warning, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind,cx,cz,cause FROM warnings WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.Warning
	for rows.Next() {
		w := report.Warning{RunID: runID}
		if err := rows.Scan(&w.Kind, &w.Chunk[0], &w.Chunk[1], &w.Cause); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,world,obj_path,chunks,fragments,vertices,normals,texcoords,faces,materials,regrouped,cancelled,error,seconds,peak_chunks,bytes,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertWarning, _ := s.db.Prepare(`INSERT OR REPLACE INTO warnings(run_id,seq,kind,cx,cz,cause) VALUES(?,?,?,?,?,?)`)
	insertCatalog, _ := s.db.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, insertWarning, insertCatalog} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second

		warnSeq = map[string]int{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		switch r.kind {
		case reqWarning:
			w := r.warning
			seq := warnSeq[w.RunID]
			warnSeq[w.RunID] = seq + 1
			if insertWarning != nil {
				if _, err := tx.Stmt(insertWarning).Exec(w.RunID, seq, w.Kind, w.Chunk[0], w.Chunk[1], w.Cause); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqRun:
			ru := r.run
			if insertRun != nil {
				if _, err := tx.Stmt(insertRun).Exec(
					ru.RunID, ru.World, ru.ObjPath,
					ru.Chunks, ru.Fragments,
					int64(ru.Vertices), int64(ru.Normals), int64(ru.TexCoords), int64(ru.Faces),
					ru.Materials, ru.Regrouped, ru.Cancelled, ru.Error,
					ru.Seconds, ru.PeakChunks, ru.Bytes, now,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqCatalog:
			c := r.catalog
			if insertCatalog != nil {
				if _, err := tx.Stmt(insertCatalog).Exec(c.Name, c.Digest, c.JSON, now); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
