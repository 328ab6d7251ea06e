// Package snapshot reads and writes whole-world snapshot files: a JSON header
// line followed by a gob body, all inside one zstd stream.
package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"voxelmesh.ai/internal/encoding"
	"voxelmesh.ai/internal/world"
)

const Version = 1

type Header struct {
	Version       int    `json:"version"`
	World         string `json:"world"`
	Seed          int64  `json:"seed"`
	PaletteDigest string `json:"palette_digest,omitempty"`
	Chunks        int    `json:"chunks"`
}

type SnapshotV1 struct {
	Header Header    `json:"header"`
	Chunks []ChunkV1 `json:"chunks"`
}

// ChunkV1 carries one chunk in the encoding package's blob form.
type ChunkV1 struct {
	CX   int    `json:"cx"`
	CZ   int    `json:"cz"`
	Blob []byte `json:"blob"`
}

// Build encodes recs into a snapshot sorted by (cz, cx).
func Build(h Header, recs []*world.ChunkRecord) (SnapshotV1, error) {
	snap := SnapshotV1{Header: h, Chunks: make([]ChunkV1, 0, len(recs))}
	snap.Header.Version = Version
	snap.Header.Chunks = len(recs)
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			return snap, err
		}
		snap.Chunks = append(snap.Chunks, ChunkV1{CX: r.Coord.X, CZ: r.Coord.Z, Blob: encoding.EncodeChunk(r)})
	}
	sort.Slice(snap.Chunks, func(i, j int) bool {
		a, b := snap.Chunks[i], snap.Chunks[j]
		if a.CZ != b.CZ {
			return a.CZ < b.CZ
		}
		return a.CX < b.CX
	})
	return snap, nil
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// Store serves chunks from a snapshot held in memory in blob form. Blobs are
// decoded on each load.
type Store struct {
	Header Header
	blobs  map[world.ChunkCoord][]byte
	lo, hi world.ChunkCoord
}

func NewStore(snap SnapshotV1) *Store {
	s := &Store{Header: snap.Header, blobs: make(map[world.ChunkCoord][]byte, len(snap.Chunks))}
	for i, ch := range snap.Chunks {
		c := world.ChunkCoord{X: ch.CX, Z: ch.CZ}
		s.blobs[c] = ch.Blob
		if i == 0 {
			s.lo, s.hi = c, c
			continue
		}
		s.lo.X, s.lo.Z = min(s.lo.X, c.X), min(s.lo.Z, c.Z)
		s.hi.X, s.hi.Z = max(s.hi.X, c.X), max(s.hi.Z, c.Z)
	}
	return s
}

func OpenStore(path string) (*Store, error) {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return NewStore(snap), nil
}

// Extent returns the inclusive chunk rectangle of the snapshot.
func (s *Store) Extent() (lo, hi world.ChunkCoord, ok bool) {
	return s.lo, s.hi, len(s.blobs) > 0
}

// LoadChunk implements world.Store.
func (s *Store) LoadChunk(ctx context.Context, c world.ChunkCoord) (*world.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, ok := s.blobs[c]
	if !ok {
		return nil, world.ErrNotFound
	}
	return encoding.DecodeChunk(c, blob)
}
