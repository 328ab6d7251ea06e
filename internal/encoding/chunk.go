package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"

	"voxelmesh.ai/internal/world"
)

const chunkVersion = 1

var ErrChunkVersion = errors.New("unsupported chunk blob version")

// EncodeChunk serializes a record as: version, min_y (zigzag), height, then
// the block grid and the biome grid in RLE form. The coordinate is not part
// of the blob; stores key blobs by coordinate.
func EncodeChunk(r *world.ChunkRecord) []byte {
	dst := make([]byte, 0, 64)
	dst = binary.AppendUvarint(dst, chunkVersion)
	dst = binary.AppendVarint(dst, int64(r.MinY))
	dst = binary.AppendUvarint(dst, uint64(r.Height))
	dst = AppendRLE(dst, r.Blocks)
	dst = AppendRLE(dst, r.Biomes)
	return dst
}

func DecodeChunk(c world.ChunkCoord, raw []byte) (*world.ChunkRecord, error) {
	v, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, fmt.Errorf("%s: bad header", c)
	}
	if v != chunkVersion {
		return nil, fmt.Errorf("%s: %w %d", c, ErrChunkVersion, v)
	}
	i := n
	minY, n := binary.Varint(raw[i:])
	if n <= 0 {
		return nil, fmt.Errorf("%s: bad min_y", c)
	}
	i += n
	height, n := binary.Uvarint(raw[i:])
	if n <= 0 || height > 1<<12 {
		return nil, fmt.Errorf("%s: bad height", c)
	}
	i += n

	rec := &world.ChunkRecord{Coord: c, MinY: int(minY), Height: int(height)}
	blocks, n, err := DecodeRLE(raw[i:], world.ChunkSize*world.ChunkSize*int(height))
	if err != nil {
		return nil, fmt.Errorf("%s: blocks: %w", c, err)
	}
	i += n
	biomes, n, err := DecodeRLE(raw[i:], world.ChunkSize*world.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%s: biomes: %w", c, err)
	}
	if i+n != len(raw) {
		return nil, fmt.Errorf("%s: %d trailing bytes", c, len(raw)-i-n)
	}
	rec.Blocks, rec.Biomes = blocks, biomes
	return rec, nil
}
