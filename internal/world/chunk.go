package world

import "fmt"

// ChunkSize is the horizontal edge length of a chunk column, in blocks.
const ChunkSize = 16

// Air is palette id 0 in every catalog.
const Air uint16 = 0

type ChunkCoord struct {
	X int
	Z int
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("chunk_%d_%d", c.X, c.Z)
}

// ChunkOf returns the chunk column containing block column (x, z).
func ChunkOf(x, z int) ChunkCoord {
	return ChunkCoord{X: FloorDiv(x, ChunkSize), Z: FloorDiv(z, ChunkSize)}
}

// ChunkRecord is the block and biome content of one chunk column.
// Once handed out by a store it must be treated as read-only.
type ChunkRecord struct {
	Coord  ChunkCoord
	MinY   int
	Height int
	Blocks []uint16 // len = 16*16*Height; x fastest, then z, then y
	Biomes []uint16 // len = 16*16; x fastest, then z
}

func NewChunkRecord(c ChunkCoord, minY, height int) *ChunkRecord {
	if height < 0 {
		height = 0
	}
	return &ChunkRecord{
		Coord:  c,
		MinY:   minY,
		Height: height,
		Blocks: make([]uint16, ChunkSize*ChunkSize*height),
		Biomes: make([]uint16, ChunkSize*ChunkSize),
	}
}

// EmptyRecord is an all-air chunk with no vertical extent.
func EmptyRecord(c ChunkCoord) *ChunkRecord {
	return &ChunkRecord{Coord: c, Biomes: make([]uint16, ChunkSize*ChunkSize)}
}

func (r *ChunkRecord) index(x, y, z int) int {
	return x + z*ChunkSize + (y-r.MinY)*ChunkSize*ChunkSize
}

// Block returns the palette id at local (x, z) and absolute y.
// Positions outside the column's vertical extent are air.
func (r *ChunkRecord) Block(x, y, z int) uint16 {
	if r == nil || y < r.MinY || y >= r.MinY+r.Height {
		return Air
	}
	if x < 0 || x >= ChunkSize || z < 0 || z >= ChunkSize {
		return Air
	}
	return r.Blocks[r.index(x, y, z)]
}

func (r *ChunkRecord) SetBlock(x, y, z int, b uint16) {
	if y < r.MinY || y >= r.MinY+r.Height {
		return
	}
	r.Blocks[r.index(x, y, z)] = b
}

func (r *ChunkRecord) Biome(x, z int) uint16 {
	if r == nil || len(r.Biomes) != ChunkSize*ChunkSize {
		return 0
	}
	return r.Biomes[x+z*ChunkSize]
}

func (r *ChunkRecord) SetBiome(x, z int, b uint16) {
	r.Biomes[x+z*ChunkSize] = b
}

// Validate checks grid sizes, used by stores that decode records from disk.
func (r *ChunkRecord) Validate() error {
	if r.Height < 0 {
		return fmt.Errorf("%s: negative height %d", r.Coord, r.Height)
	}
	if want := ChunkSize * ChunkSize * r.Height; len(r.Blocks) != want {
		return fmt.Errorf("%s: blocks len=%d want %d", r.Coord, len(r.Blocks), want)
	}
	if len(r.Biomes) != ChunkSize*ChunkSize {
		return fmt.Errorf("%s: biomes len=%d want %d", r.Coord, len(r.Biomes), ChunkSize*ChunkSize)
	}
	return nil
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
