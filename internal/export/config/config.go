package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/world"
)

//go:embed config.schema.json
var schemaJSON string

// ErrZeroVolume rejects a selection that has no extent on some axis.
var ErrZeroVolume = errors.New("export region has zero volume")

const (
	OffsetNone   = "none"
	OffsetCenter = "center"
	OffsetCustom = "custom"
)

type Vec3i struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
	Z int `yaml:"z" json:"z"`
}

// Bounds is an inclusive block-coordinate box.
type Bounds struct {
	Min Vec3i `yaml:"min" json:"min"`
	Max Vec3i `yaml:"max" json:"max"`
}

func (b Bounds) Contains(x, y, z int) bool {
	return x >= b.Min.X && x <= b.Max.X &&
		y >= b.Min.Y && y <= b.Max.Y &&
		z >= b.Min.Z && z <= b.Max.Z
}

type Offset struct {
	Mode string `yaml:"mode" json:"mode"`
	X    int    `yaml:"x" json:"x"`
	Z    int    `yaml:"z" json:"z"`
}

// Config is the immutable description of one export. It is passed by value
// into the pipeline and every component constructor.
type Config struct {
	WorldName string `yaml:"world_name" json:"world_name"`
	WorldPath string `yaml:"world_path" json:"world_path"`
	Exporter  string `yaml:"exporter" json:"exporter"`

	OutputDir string `yaml:"output_dir" json:"output_dir"`
	ObjFile   string `yaml:"obj_file" json:"obj_file"`
	MtlFile   string `yaml:"mtl_file" json:"mtl_file"`

	Bounds Bounds  `yaml:"bounds" json:"bounds"`
	Scale  float64 `yaml:"scale" json:"scale"`
	Offset Offset  `yaml:"offset" json:"offset"`

	ObjectPerChunk             bool   `yaml:"object_per_chunk" json:"object_per_chunk"`
	ObjectPerMaterial          bool   `yaml:"object_per_material" json:"object_per_material"`
	ObjectPerMaterialOcclusion bool   `yaml:"object_per_material_occlusion" json:"object_per_material_occlusion"`
	ObjectPerBlock             bool   `yaml:"object_per_block" json:"object_per_block"`
	ObjectPerBlockOcclusion    bool   `yaml:"object_per_block_occlusion" json:"object_per_block_occlusion"`
	UseGroups                  bool   `yaml:"use_groups" json:"use_groups"`
	ObjectName                 string `yaml:"object_name" json:"object_name"`

	Threads int `yaml:"threads" json:"threads"`

	// RenderSides keeps the faces along the X/Z sides and the bottom of the
	// selection. Off, the selection reads as closed there.
	RenderSides        bool     `yaml:"render_sides" json:"render_sides"`
	RenderUnknown      bool     `yaml:"render_unknown" json:"render_unknown"`
	SingleMaterial     bool     `yaml:"single_material" json:"single_material"`
	ExcludeBlocks      []string `yaml:"exclude_blocks" json:"exclude_blocks,omitempty"`
	ExcludeIsWhitelist bool     `yaml:"exclude_is_whitelist" json:"exclude_is_whitelist"`
}

func Defaults() Config {
	return Config{
		Exporter:   "voxelmesh",
		OutputDir:  ".",
		ObjFile:    "world.obj",
		Bounds:     Bounds{Min: Vec3i{X: -32, Y: 0, Z: -32}, Max: Vec3i{X: 31, Y: 255, Z: 31}},
		Scale:      1,
		Offset:     Offset{Mode: OffsetNone},
		ObjectName: "world",
		Threads:    runtime.NumCPU(),
	}
}

// Load reads a YAML export config on top of Defaults. The raw document is
// checked against the embedded JSON schema before it is decoded.
func Load(path string) (Config, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Config, error) {
	cfg := Defaults()
	if err := validateSchema(raw); err != nil {
		return cfg, fmt.Errorf("export config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("export config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("export config: %w", err)
	}
	return cfg, nil
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("config.schema.json", schemaJSON)
})

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	return s.Validate(v)
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Offset.Mode = strings.ToLower(strings.TrimSpace(c.Offset.Mode))
	if c.Offset.Mode == "" {
		c.Offset.Mode = OffsetNone
	}
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}
	if c.Scale == 0 {
		c.Scale = 1
	}
	c.ObjectName = strings.TrimSpace(c.ObjectName)
	if c.ObjectName == "" {
		c.ObjectName = "world"
	}
	c.Exporter = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c.Exporter)), " ", "_")
	if c.Exporter == "" {
		c.Exporter = "voxelmesh"
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		c.OutputDir = "."
	}
	if strings.TrimSpace(c.MtlFile) == "" {
		c.MtlFile = c.MtlName()
	}
}

// MtlName is MtlFile, or the OBJ file name with an .mtl extension.
func (c Config) MtlName() string {
	if m := strings.TrimSpace(c.MtlFile); m != "" {
		return m
	}
	return strings.TrimSuffix(c.ObjFile, ".obj") + ".mtl"
}

func (c Config) Validate() error {
	b := c.Bounds
	if b.Max.X < b.Min.X || b.Max.Y < b.Min.Y || b.Max.Z < b.Min.Z {
		return fmt.Errorf("%w: min=(%d, %d, %d) max=(%d, %d, %d)", ErrZeroVolume,
			b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
	}
	if c.Scale <= 0 {
		return fmt.Errorf("scale must be > 0, got %v", c.Scale)
	}
	switch c.Offset.Mode {
	case OffsetNone, OffsetCenter, OffsetCustom:
	default:
		return fmt.Errorf("unknown offset mode %q", c.Offset.Mode)
	}
	if c.Threads <= 0 {
		return fmt.Errorf("threads must be > 0")
	}
	if strings.TrimSpace(c.ObjFile) == "" {
		return fmt.Errorf("obj_file is required")
	}
	return nil
}

// ChunkRange returns the inclusive range of chunk columns touched by Bounds.
func (c Config) ChunkRange() (min, max world.ChunkCoord) {
	return world.ChunkOf(c.Bounds.Min.X, c.Bounds.Min.Z), world.ChunkOf(c.Bounds.Max.X, c.Bounds.Max.Z)
}

// OffsetVec is added to every vertex before scaling.
func (c Config) OffsetVec() mesh.Vec3 {
	b := c.Bounds
	switch c.Offset.Mode {
	case OffsetCenter:
		return mesh.Vec3{
			X: float64(-(b.Min.X + (b.Max.X+1-b.Min.X)/2)),
			Y: float64(-b.Min.Y),
			Z: float64(-(b.Min.Z + (b.Max.Z+1-b.Min.Z)/2)),
		}
	case OffsetCustom:
		return mesh.Vec3{X: float64(c.Offset.X), Z: float64(c.Offset.Z)}
	}
	return mesh.Vec3{}
}

// ObjectKeyword is the OBJ directive used for object/group boundaries.
func (c Config) ObjectKeyword() string {
	if c.UseGroups {
		return "g"
	}
	return "o"
}

// WholeWorld reports whether all geometry goes into a single object.
func (c Config) WholeWorld() bool {
	return !c.ObjectPerMaterial && !c.ObjectPerBlock && !c.ObjectPerChunk
}

// BlockExcluded applies the exclude list, or its inverse in whitelist mode.
func (c Config) BlockExcluded(id string) bool {
	listed := false
	for _, e := range c.ExcludeBlocks {
		if strings.EqualFold(e, id) {
			listed = true
			break
		}
	}
	return listed != c.ExcludeIsWhitelist
}

// KeepOccludedFaces reports whether faces between a block and a neighbor of a
// different material (or any neighbor, with per-block objects) are kept.
func (c Config) KeepOccludedFaces(sameMaterial bool) bool {
	if c.ObjectPerBlock && !c.ObjectPerBlockOcclusion {
		return true
	}
	if c.ObjectPerMaterial && !c.ObjectPerMaterialOcclusion && !sameMaterial {
		return true
	}
	return false
}
