// Package gen produces deterministic procedural worlds. A Generator is a
// world.Store whose chunks are computed on demand from a seed.
package gen

import (
	"context"
	"fmt"
	"sync/atomic"

	"voxelmesh.ai/internal/model"
	"voxelmesh.ai/internal/world"
)

type Params struct {
	Seed     int64 `json:"seed" yaml:"seed"`
	MinY     int   `json:"min_y" yaml:"min_y"`
	Height   int   `json:"height" yaml:"height"`
	SeaLevel int   `json:"sea_level" yaml:"sea_level"`
	Relief   int   `json:"relief" yaml:"relief"`

	BiomeRegionSize                 int `json:"biome_region_size" yaml:"biome_region_size"`
	SpawnClearRadius                int `json:"spawn_clear_radius" yaml:"spawn_clear_radius"`
	OreClusterProbScalePermille     int `json:"ore_cluster_prob_scale_permille" yaml:"ore_cluster_prob_scale_permille"`
	TerrainClusterProbScalePermille int `json:"terrain_cluster_prob_scale_permille" yaml:"terrain_cluster_prob_scale_permille"`

	// RadiusChunks bounds the world to |cx|,|cz| <= RadiusChunks. 0 is unbounded.
	RadiusChunks int `json:"radius_chunks" yaml:"radius_chunks"`
}

func DefaultParams() Params {
	return Params{
		Seed:             1,
		MinY:             0,
		Height:           64,
		SeaLevel:         24,
		Relief:           14,
		BiomeRegionSize:  64,
		SpawnClearRadius: 6,
		RadiusChunks:     8,
	}
}

type blockIDs struct {
	air, stone, dirt, grass, sand, gravel  uint16
	log, leaves, tallGrass, water, bedrock uint16
	coal, iron, copper, crystal            uint16
}

type Generator struct {
	p      Params
	ids    blockIDs
	biomes []uint16 // biome slot -> catalog biome id
	kinds  []string // biome slot -> name

	loads atomic.Int64
}

// New resolves the block names the generator places against cat.
func New(cat *model.Catalog, p Params) (*Generator, error) {
	if p.Height < 16 {
		return nil, fmt.Errorf("worldgen: height %d < 16", p.Height)
	}
	if p.SeaLevel < p.MinY+2 || p.SeaLevel > p.MinY+p.Height-8 {
		return nil, fmt.Errorf("worldgen: sea level %d outside [%d, %d]", p.SeaLevel, p.MinY+2, p.MinY+p.Height-8)
	}
	if p.Relief < 0 {
		p.Relief = 0
	}
	g := &Generator{p: p}

	var missing []string
	id := func(name string) uint16 {
		v, ok := cat.Index[name]
		if !ok {
			missing = append(missing, name)
		}
		return v
	}
	g.ids = blockIDs{
		air: id("AIR"), stone: id("STONE"), dirt: id("DIRT"), grass: id("GRASS"),
		sand: id("SAND"), gravel: id("GRAVEL"), log: id("LOG"), leaves: id("LEAVES"),
		tallGrass: id("TALL_GRASS"), water: id("WATER"), bedrock: id("BEDROCK"),
		coal: id("COAL_ORE"), iron: id("IRON_ORE"), copper: id("COPPER_ORE"), crystal: id("CRYSTAL_ORE"),
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("worldgen: catalog lacks %v", missing)
	}
	for _, name := range cat.Biomes {
		g.biomes = append(g.biomes, cat.BiomeID(name))
		g.kinds = append(g.kinds, name)
	}
	if len(g.biomes) == 0 {
		g.biomes, g.kinds = []uint16{0}, []string{"PLAINS"}
	}
	return g, nil
}

func (g *Generator) Params() Params { return g.p }

// Loads returns how many chunks were generated through LoadChunk.
func (g *Generator) Loads() int64 { return g.loads.Load() }

// Extent returns the inclusive chunk rectangle of a bounded world.
func (g *Generator) Extent() (lo, hi world.ChunkCoord, ok bool) {
	r := g.p.RadiusChunks
	if r <= 0 {
		return lo, hi, false
	}
	return world.ChunkCoord{X: -r, Z: -r}, world.ChunkCoord{X: r, Z: r}, true
}

func (g *Generator) Contains(c world.ChunkCoord) bool {
	r := g.p.RadiusChunks
	return r <= 0 || (c.X >= -r && c.X <= r && c.Z >= -r && c.Z <= r)
}

// LoadChunk implements world.Store.
func (g *Generator) LoadChunk(ctx context.Context, c world.ChunkCoord) (*world.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.Contains(c) {
		return nil, world.ErrNotFound
	}
	g.loads.Add(1)
	return g.Generate(c), nil
}

// Generate builds chunk c. The result depends only on the parameters and c.
func (g *Generator) Generate(c world.ChunkCoord) *world.ChunkRecord {
	rec := world.NewChunkRecord(c, g.p.MinY, g.p.Height)
	for z := 0; z < world.ChunkSize; z++ {
		for x := 0; x < world.ChunkSize; x++ {
			g.column(rec, x, z)
		}
	}
	return rec
}

func (g *Generator) surfaceAt(wx, wz int) int {
	p := g.p
	if withinSpawnClear(wx, wz, p.SpawnClearRadius) {
		return p.SeaLevel
	}
	s := p.SeaLevel - p.Relief/2 + heightAt(p.Seed+11, wx, wz, 24)*p.Relief/1000
	return min(max(s, p.MinY+2), p.MinY+p.Height-8)
}

func (g *Generator) column(rec *world.ChunkRecord, x, z int) {
	p := g.p
	wx := rec.Coord.X*world.ChunkSize + x
	wz := rec.Coord.Z*world.ChunkSize + z

	slot := biomeAt(p.Seed, wx, wz, p.BiomeRegionSize, len(g.biomes))
	kind := g.kinds[slot]
	rec.SetBiome(x, z, g.biomes[slot])

	surface := g.surfaceAt(wx, wz)
	spawn := withinSpawnClear(wx, wz, p.SpawnClearRadius)

	for y := p.MinY; y <= surface; y++ {
		var b uint16
		switch {
		case y == p.MinY:
			b = g.ids.bedrock
		case y < surface-3:
			b = g.stoneAt(wx, y, wz, surface)
		case y < surface:
			b = g.ids.dirt
			if kind == "DESERT" {
				b = g.ids.sand
			}
		default:
			b = g.topAt(wx, wz, kind, surface, spawn)
		}
		rec.SetBlock(x, y, z, b)
	}
	for y := surface + 1; y <= p.SeaLevel; y++ {
		rec.SetBlock(x, y, z, g.ids.water)
	}
	if surface < p.SeaLevel || spawn {
		return
	}

	ts := uint64(p.TerrainClusterProbScalePermille)
	roll := hash2(p.Seed+999, wx, wz) % 1000
	switch kind {
	case "FOREST":
		// Trees stay one block inside the chunk so their leaves never cross it.
		if x >= 2 && x <= 13 && z >= 2 && z <= 13 && roll < scalePermille(30, int(ts)) {
			g.tree(rec, x, surface+1, z)
		}
	case "DESERT":
	default:
		if roll < scalePermille(90, int(ts)) {
			rec.SetBlock(x, surface+1, z, g.ids.tallGrass)
		}
	}
}

// stoneAt places ores by precedence: rare ores, then common ores, then stone.
func (g *Generator) stoneAt(wx, y, wz, surface int) uint16 {
	p := g.p
	scale := p.OreClusterProbScalePermille
	if hash3(p.Seed+105, wx, y, wz)%3 == 0 {
		return g.ids.stone
	}
	switch {
	case y < p.MinY+6 && inCluster(p.Seed+101, wx, wz, 48, 2, scalePermille(200, scale)):
		return g.ids.crystal
	case y < surface-8 && inCluster(p.Seed+102, wx, wz, 32, 2, scalePermille(450, scale)):
		return g.ids.iron
	case y < surface-6 && inCluster(p.Seed+103, wx, wz, 32, 2, scalePermille(450, scale)):
		return g.ids.copper
	case inCluster(p.Seed+104, wx, wz, 24, 2, scalePermille(650, scale)):
		return g.ids.coal
	}
	return g.ids.stone
}

func (g *Generator) topAt(wx, wz int, kind string, surface int, spawn bool) uint16 {
	p := g.p
	ts := p.TerrainClusterProbScalePermille
	if surface < p.SeaLevel {
		if kind == "DESERT" {
			return g.ids.sand
		}
		return g.ids.gravel
	}
	if spawn {
		return g.ids.grass
	}
	switch kind {
	case "DESERT":
		if inCluster(p.Seed+303, wx, wz, 32, 2, scalePermille(200, ts)) {
			return g.ids.gravel
		}
		return g.ids.sand
	case "FOREST":
		if inCluster(p.Seed+202, wx, wz, 32, 2, scalePermille(300, ts)) {
			return g.ids.stone
		}
	default:
		if inCluster(p.Seed+401, wx, wz, 48, 3, scalePermille(300, ts)) {
			return g.ids.dirt
		}
	}
	return g.ids.grass
}

func (g *Generator) tree(rec *world.ChunkRecord, x, base, z int) {
	const trunk = 4
	for dy := -1; dy <= 1; dy++ {
		y := base + trunk - 1 + dy
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				if rec.Block(x+dx, y, z+dz) == g.ids.air {
					rec.SetBlock(x+dx, y, z+dz, g.ids.leaves)
				}
			}
		}
	}
	for dy := 0; dy < trunk; dy++ {
		rec.SetBlock(x, base+dy, z, g.ids.log)
	}
	rec.SetBlock(x, base+trunk+1, z, g.ids.leaves)
}
