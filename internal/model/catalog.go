// Package model maps palette ids to block geometry and materials.
package model

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

//go:embed blocks.json
var defaultCatalog []byte

const (
	ModelCube  = "cube"
	ModelCross = "cross"
	ModelNone  = "none"

	// UnknownMaterial is used for ids missing from the catalog when unknown
	// blocks are rendered.
	UnknownMaterial = "unknown"
	// SingleMaterial replaces every material when single-material export is on.
	SingleMaterial = "default"
)

type BlockDef struct {
	ID          string `json:"id"`
	Model       string `json:"model,omitempty"` // "cube" (default), "cross", "none"
	Material    string `json:"material,omitempty"`
	Transparent bool   `json:"transparent,omitempty"`

	// Per-face material overrides: "top", "bottom", "side".
	Faces map[string]string `json:"faces,omitempty"`
	// Biome name -> material for the top face.
	Biomes map[string]string `json:"biomes,omitempty"`
}

type MaterialDef struct {
	Kd    [3]float64 `json:"kd"`
	Alpha float64    `json:"alpha,omitempty"` // 0 means opaque
}

type catalogFile struct {
	Biomes    []string               `json:"biomes"`
	Materials map[string]MaterialDef `json:"materials"`
	Blocks    []BlockDef             `json:"blocks"`
}

// Catalog is the block palette plus materials. AIR is always palette id 0;
// the remaining ids follow sorted block names.
type Catalog struct {
	Palette   []string
	Index     map[string]uint16
	Defs      map[string]BlockDef
	Biomes    []string // biome id -> name
	Materials map[string]MaterialDef

	PaletteDigest string
	DefsDigest    string
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded blocks.json: %v", err))
	}
	return c
}

func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	c := &Catalog{
		Defs:       map[string]BlockDef{},
		Biomes:     f.Biomes,
		Materials:  map[string]MaterialDef{},
		DefsDigest: sha256Hex(raw),
	}
	for _, d := range f.Blocks {
		if d.ID == "" {
			return nil, fmt.Errorf("blocks.json: empty id")
		}
		if _, dup := c.Defs[d.ID]; dup {
			return nil, fmt.Errorf("blocks.json: duplicate id %s", d.ID)
		}
		if d.Model == "" {
			d.Model = ModelCube
		}
		switch d.Model {
		case ModelCube, ModelCross, ModelNone:
		default:
			return nil, fmt.Errorf("blocks.json: %s: unknown model %q", d.ID, d.Model)
		}
		if d.Material == "" {
			d.Material = strings.ToLower(d.ID)
		}
		c.Defs[d.ID] = d
	}
	if _, ok := c.Defs["AIR"]; !ok {
		return nil, fmt.Errorf("blocks.json: missing AIR")
	}
	for name, m := range f.Materials {
		c.Materials[name] = m
	}
	if _, ok := c.Materials[UnknownMaterial]; !ok {
		c.Materials[UnknownMaterial] = MaterialDef{Kd: [3]float64{1, 0, 1}}
	}

	ids := make([]string, 0, len(c.Defs))
	for id := range c.Defs {
		if id != "AIR" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	ids = append([]string{"AIR"}, ids...)
	if len(ids) > 1<<16 {
		return nil, fmt.Errorf("blocks.json: %d blocks exceed the palette", len(ids))
	}

	c.Palette = ids
	c.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		c.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	c.PaletteDigest = sha256Hex(palJSON)
	return c, nil
}

// Def returns the definition for a palette id.
func (c *Catalog) Def(id uint16) (BlockDef, bool) {
	if int(id) >= len(c.Palette) {
		return BlockDef{}, false
	}
	d, ok := c.Defs[c.Palette[id]]
	return d, ok
}

// BiomeID returns the id of a biome name, or 0 when unknown.
func (c *Catalog) BiomeID(name string) uint16 {
	for i, b := range c.Biomes {
		if b == name {
			return uint16(i)
		}
	}
	return 0
}

func (c *Catalog) BiomeName(id uint16) string {
	if int(id) < len(c.Biomes) {
		return c.Biomes[id]
	}
	return ""
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
