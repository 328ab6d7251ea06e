// Package chunkdb stores chunk records in a sqlite file as zstd-compressed
// RLE blobs. A DB is a world.Store.
package chunkdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"voxelmesh.ai/internal/encoding"
	"voxelmesh.ai/internal/world"
)

// Meta keys written by world generators.
const (
	MetaWorldName     = "world_name"
	MetaSeed          = "seed"
	MetaPaletteDigest = "palette_digest"
)

type DB struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	loads atomic.Int64
}

// Open opens or creates the chunk database at path.
func Open(path string) (*DB, error) {
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
	// Several export workers read concurrently; WAL lets them.
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db, enc: enc, dec: dec}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
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
		`CREATE TABLE IF NOT EXISTS chunks (
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			min_y INTEGER NOT NULL,
			height INTEGER NOT NULL,
			blob BLOB NOT NULL,
			PRIMARY KEY (cx, cz)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) Close() error {
	d.dec.Close()
	_ = d.enc.Close()
	return d.db.Close()
}

// Loads returns how many chunks LoadChunk has decoded.
func (d *DB) Loads() int64 { return d.loads.Load() }

// PutChunks writes recs in one transaction, replacing existing rows.
func (d *DB) PutChunks(ctx context.Context, recs []*world.ChunkRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunks(cx,cz,min_y,height,blob) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			return err
		}
		blob := d.enc.EncodeAll(encoding.EncodeChunk(r), nil)
		if _, err := stmt.ExecContext(ctx, r.Coord.X, r.Coord.Z, r.MinY, r.Height, blob); err != nil {
			return fmt.Errorf("put %s: %w", r.Coord, err)
		}
	}
	return tx.Commit()
}

// LoadChunk implements world.Store.
func (d *DB) LoadChunk(ctx context.Context, c world.ChunkCoord) (*world.ChunkRecord, error) {
	var blob []byte
	err := d.db.QueryRowContext(ctx, `SELECT blob FROM chunks WHERE cx=? AND cz=?`, c.X, c.Z).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, world.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c, err)
	}
	raw, err := d.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", c, err)
	}
	rec, err := encoding.DecodeChunk(c, raw)
	if err != nil {
		return nil, err
	}
	d.loads.Add(1)
	return rec, nil
}

// Extent returns the inclusive chunk rectangle covering every stored chunk.
// ok is false for an empty database.
func (d *DB) Extent(ctx context.Context) (lo, hi world.ChunkCoord, ok bool, err error) {
	var minX, minZ, maxX, maxZ sql.NullInt64
	err = d.db.QueryRowContext(ctx, `SELECT MIN(cx), MIN(cz), MAX(cx), MAX(cz) FROM chunks`).Scan(&minX, &minZ, &maxX, &maxZ)
	if err != nil || !minX.Valid {
		return lo, hi, false, err
	}
	lo = world.ChunkCoord{X: int(minX.Int64), Z: int(minZ.Int64)}
	hi = world.ChunkCoord{X: int(maxX.Int64), Z: int(maxZ.Int64)}
	return lo, hi, true, nil
}

func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

func (d *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, key, value)
	return err
}

// Meta returns "" for a missing key.
func (d *DB) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}
