// Package objwriter streams ordered mesh fragments into a Wavefront OBJ file
// and owns the global vertex, normal and texture coordinate numbering.
package objwriter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"voxelmesh.ai/internal/export/config"
	"voxelmesh.ai/internal/export/progress"
	"voxelmesh.ai/internal/mesh"
)

// Meta is the CommonMCOBJ header content.
type Meta struct {
	Exporter    string
	WorldName   string
	WorldPath   string
	Min, Max    config.Vec3i // inclusive
	Scale       float64
	Centered    bool
	SplitBlocks bool
	MtlFile     string // empty: no mtllib line
	WorldObject string // empty: no top-level object line
}

func MetaFromConfig(cfg config.Config) Meta {
	m := Meta{
		Exporter:    cfg.Exporter,
		WorldName:   cfg.WorldName,
		WorldPath:   cfg.WorldPath,
		Min:         cfg.Bounds.Min,
		Max:         cfg.Bounds.Max,
		Scale:       cfg.Scale,
		Centered:    cfg.Offset.Mode == config.OffsetCenter,
		SplitBlocks: cfg.ObjectPerBlock,
		MtlFile:     cfg.MtlName(),
	}
	if cfg.WholeWorld() {
		m.WorldObject = cfg.ObjectName
	}
	return m
}

// Counters are the number of records written so far. The next record of each
// kind gets index count+1.
type Counters struct {
	Vertices  uint64
	Normals   uint64
	TexCoords uint64
	Faces     uint64
}

// Source yields fragments in ticket order.
type Source interface {
	Next(ctx context.Context) (*mesh.Fragment, error)
}

// Writer is single-owner: only one goroutine may call its methods.
type Writer struct {
	w        *bufio.Writer
	offset   mesh.Vec3
	scale    float64
	keyword  string
	progress progress.Observer

	counters  Counters
	fragments int
	group     string
	material  string
	materials []string
	seen      map[string]bool
	line      []byte
}

func New(w io.Writer, cfg config.Config, obs progress.Observer) *Writer {
	return &Writer{
		w:        bufio.NewWriterSize(w, 1<<16),
		offset:   cfg.OffsetVec(),
		scale:    cfg.Scale,
		keyword:  cfg.ObjectKeyword(),
		progress: progress.OrNop(obs),
		seen:     map[string]bool{},
	}
}

func (w *Writer) WriteHeader(m Meta) error {
	bw := w.w
	fmt.Fprintln(bw, "# COMMON_MC_OBJ_START")
	fmt.Fprintln(bw, "# version: 1")
	fmt.Fprintf(bw, "# exporter: %s\n", m.Exporter)
	fmt.Fprintf(bw, "# world_name: %s\n", m.WorldName)
	fmt.Fprintf(bw, "# world_path: %s\n", m.WorldPath)
	fmt.Fprintf(bw, "# exported_bounds_min: (%d, %d, %d)\n", m.Min.X, m.Min.Y, m.Min.Z)
	fmt.Fprintf(bw, "# exported_bounds_max: (%d, %d, %d)\n", m.Max.X, m.Max.Y, m.Max.Z)
	fmt.Fprintf(bw, "# block_scale: %s\n", scaleString(m.Scale))
	fmt.Fprintf(bw, "# is_centered: %t\n", m.Centered)
	fmt.Fprintln(bw, "# z_up: false")
	fmt.Fprintln(bw, "# texture_type: INDIVIDUAL_TILES")
	fmt.Fprintf(bw, "# has_split_blocks: %t\n", m.SplitBlocks)
	fmt.Fprintln(bw, "# COMMON_MC_OBJ_END")
	fmt.Fprintln(bw)
	if m.MtlFile != "" {
		fmt.Fprintf(bw, "mtllib %s\n\n", m.MtlFile)
	}
	if m.WorldObject != "" {
		fmt.Fprintf(bw, "%s %s\n\n", w.keyword, m.WorldObject)
	}
	return bw.Flush()
}

// scaleString always shows a fractional part, like "1.0" or "0.25".
func scaleString(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// WriteFragment appends f, assigning the next global indices to its records.
func (w *Writer) WriteFragment(f *mesh.Fragment) error {
	w.fragments++
	if f.Empty() {
		return nil
	}
	vBase, tBase, nBase := w.counters.Vertices, w.counters.TexCoords, w.counters.Normals

	for _, v := range f.Vertices {
		p := v.Add(w.offset)
		w.line = append(w.line[:0], "v "...)
		w.line = appendFloats(w.line, p.X*w.scale, p.Y*w.scale, p.Z*w.scale)
		w.writeLine()
	}
	for _, t := range f.TexCoords {
		w.line = append(w.line[:0], "vt "...)
		w.line = appendFloats(w.line, t.U, t.V)
		w.writeLine()
	}
	for _, n := range f.Normals {
		w.line = append(w.line[:0], "vn "...)
		w.line = appendFloats(w.line, n.X, n.Y, n.Z)
		w.writeLine()
	}
	w.counters.Vertices += uint64(len(f.Vertices))
	w.counters.TexCoords += uint64(len(f.TexCoords))
	w.counters.Normals += uint64(len(f.Normals))

	for _, fc := range f.Faces {
		group := f.Group
		if fc.Group != "" {
			group = fc.Group
		}
		if group != "" && group != w.group {
			fmt.Fprintf(w.w, "\n%s %s\n\n", w.keyword, group)
			w.group = group
			w.material = ""
		}
		if fc.Material != w.material {
			fmt.Fprintf(w.w, "usemtl %s\n", fc.Material)
			w.material = fc.Material
			if !w.seen[fc.Material] {
				w.seen[fc.Material] = true
				w.materials = append(w.materials, fc.Material)
			}
		}

		w.line = append(w.line[:0], 'f')
		for i, vi := range fc.Verts {
			w.line = append(w.line, ' ')
			w.line = strconv.AppendUint(w.line, vBase+uint64(vi)+1, 10)
			hasT, hasN := i < len(fc.TexCoords), i < len(fc.Normals)
			if hasT || hasN {
				w.line = append(w.line, '/')
			}
			if hasT {
				w.line = strconv.AppendUint(w.line, tBase+uint64(fc.TexCoords[i])+1, 10)
			}
			if hasN {
				w.line = append(w.line, '/')
				w.line = strconv.AppendUint(w.line, nBase+uint64(fc.Normals[i])+1, 10)
			}
		}
		w.writeLine()
		w.counters.Faces++
	}
	return nil
}

func (w *Writer) writeLine() {
	w.line = append(w.line, '\n')
	_, _ = w.w.Write(w.line)
}

func appendFloats(b []byte, vs ...float64) []byte {
	for i, v := range vs {
		if i > 0 {
			b = append(b, ' ')
		}
		if v == 0 {
			v = 0 // drop negative zero
		}
		b = strconv.AppendFloat(b, v, 'f', -1, 64)
	}
	return b
}

// Run writes exactly total fragments pulled from src, reporting written/total
// after each one.
func (w *Writer) Run(ctx context.Context, src Source, total int) error {
	for i := 0; i < total; i++ {
		f, err := src.Next(ctx)
		if err != nil {
			_ = w.w.Flush()
			return err
		}
		if err := w.WriteFragment(f); err != nil {
			return err
		}
		w.progress.SetProgress(float64(i+1) / float64(total))
	}
	return w.Flush()
}

// Flush reports any write error buffered so far.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

func (w *Writer) Counters() Counters { return w.counters }

// Fragments is the number of fragments written, empty ones included.
func (w *Writer) Fragments() int { return w.fragments }

// Materials lists material names in first-use order.
func (w *Writer) Materials() []string {
	return append([]string(nil), w.materials...)
}
