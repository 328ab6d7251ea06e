// Package regroup rewrites a finished OBJ file so that faces are contiguous
// per material, using scratch files instead of memory.
package regroup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelmesh.ai/internal/export/config"
	"voxelmesh.ai/internal/export/progress"
)

var ErrTempDirExists = errors.New("temp directory already exists")

type Options struct {
	TempDir     string // created by Run, must not exist
	Keyword     string // "o" or "g"
	PerChunk    bool
	PerMaterial bool
}

func OptionsFor(cfg config.Config) Options {
	return Options{
		TempDir:     filepath.Join(cfg.OutputDir, "temp"),
		Keyword:     cfg.ObjectKeyword(),
		PerChunk:    cfg.ObjectPerChunk,
		PerMaterial: cfg.ObjectPerMaterial,
	}
}

// Needed reports whether the single forward pass cannot produce the requested
// grouping on its own.
func Needed(cfg config.Config) bool {
	return !cfg.ObjectPerBlock && (!cfg.ObjectPerChunk || cfg.ObjectPerMaterial)
}

type stream struct {
	name string
	f    *os.File
	w    *bufio.Writer

	object   string // last object line written into a face stream
	wroteMtl bool
}

func openStream(dir, file, name string) (*stream, error) {
	f, err := os.Create(filepath.Join(dir, file))
	if err != nil {
		return nil, err
	}
	return &stream{name: name, f: f, w: bufio.NewWriter(f)}, nil
}

func (s *stream) println(line string) {
	_, _ = s.w.WriteString(line)
	_ = s.w.WriteByte('\n')
}

// copyTo flushes s and appends its content to dst.
func (s *stream) copyTo(dst *bufio.Writer) error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := io.Copy(dst, s.f)
	return err
}

func (s *stream) close() error {
	if s == nil || s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

type regrouper struct {
	opts   Options
	obs    progress.Observer
	prefix string // object keyword followed by a space

	main, vertex, normal, uv *stream
	faces                    map[string]*stream
	order                    []*stream

	object  string
	current *stream
}

// Run regroups the OBJ at path in place. The file is only replaced once the
// new content is complete; on any error or cancellation the original is left
// as it was and the temp directory is removed.
func Run(ctx context.Context, path string, opts Options, obs progress.Observer) (err error) {
	if opts.Keyword == "" {
		opts.Keyword = "o"
	}
	if err := os.Mkdir(opts.TempDir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrTempDirExists, opts.TempDir)
		}
		return fmt.Errorf("create temp dir: %w", err)
	}

	r := &regrouper{
		opts:   opts,
		obs:    progress.OrNop(obs),
		prefix: opts.Keyword + " ",
		faces:  map[string]*stream{},
		object: opts.Keyword + " default",
	}
	defer func() {
		if cerr := r.closeAll(); cerr != nil && err == nil {
			err = cerr
		}
		if rerr := os.RemoveAll(opts.TempDir); rerr != nil && err == nil {
			err = fmt.Errorf("remove temp dir: %w", rerr)
		}
	}()

	for _, s := range []struct {
		dst  **stream
		file string
	}{{&r.main, "main"}, {&r.vertex, "vertex"}, {&r.normal, "normal"}, {&r.uv, "uv"}} {
		st, err := openStream(opts.TempDir, s.file, s.file)
		if err != nil {
			return err
		}
		*s.dst = st
	}

	if err := r.demux(ctx, path); err != nil {
		return err
	}
	if err := r.recombine(ctx); err != nil {
		return err
	}
	if err := r.main.close(); err != nil {
		return err
	}
	if err := os.Rename(filepath.Join(opts.TempDir, "main"), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	r.obs.SetProgress(1)
	return nil
}

func (r *regrouper) demux(ctx context.Context, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return err
	}
	total := st.Size()
	if total <= 0 {
		total = 1
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var read int64
	lastPermille := int64(-1)
	for n := 0; sc.Scan(); n++ {
		if n&4095 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := sc.Text()
		read += int64(len(line)) + 1
		if p := min(read, total) * 1000 / total; p != lastPermille {
			lastPermille = p
			r.obs.SetProgress(0.5 * float64(p) / 1000)
		}
		if err := r.route(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (r *regrouper) route(line string) error {
	switch {
	case line == "":
	case strings.HasPrefix(line, "usemtl "):
		name := strings.TrimSpace(line[len("usemtl "):])
		s, ok := r.faces[name]
		if !ok {
			var err error
			s, err = openStream(r.opts.TempDir, "faces-"+strconv.Itoa(len(r.order)), name)
			if err != nil {
				return err
			}
			r.faces[name] = s
			r.order = append(r.order, s)
		}
		r.current = s
		if r.opts.PerChunk && s.object != r.object {
			obj := r.object
			if r.opts.PerMaterial {
				obj += "_" + name
			}
			s.println("")
			s.println(obj)
			s.println("")
			s.object = r.object
			s.wroteMtl = false
		}
		if !s.wroteMtl {
			s.println("usemtl " + name)
			s.wroteMtl = true
		}
	case strings.HasPrefix(line, "f "):
		if r.current != nil {
			r.current.println(line)
		} else {
			r.main.println(line)
		}
	case strings.HasPrefix(line, "v "):
		r.vertex.println(line)
	case strings.HasPrefix(line, "vn "):
		r.normal.println(line)
	case strings.HasPrefix(line, "vt "):
		r.uv.println(line)
	case r.opts.PerChunk && strings.HasPrefix(line, r.prefix):
		r.object = line
	default:
		r.main.println(line)
		if strings.HasPrefix(line, "mtllib") || strings.HasPrefix(line, r.prefix) || line == "# COMMON_MC_OBJ_END" {
			r.main.println("")
		}
	}
	return nil
}

func (r *regrouper) recombine(ctx context.Context) error {
	out := r.main.w
	for _, s := range []*stream{r.normal, r.uv, r.vertex} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.copyTo(out); err != nil {
			return err
		}
	}
	for i, s := range r.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		out.WriteByte('\n')
		if r.opts.PerMaterial && !r.opts.PerChunk {
			fmt.Fprintf(out, "%s%s\n\n", r.prefix, s.name)
		}
		if err := s.copyTo(out); err != nil {
			return err
		}
		if err := s.close(); err != nil {
			return err
		}
		r.obs.SetProgress(0.5 + 0.5*float64(i+1)/float64(len(r.order)))
	}
	return out.Flush()
}

func (r *regrouper) closeAll() error {
	var first error
	for _, s := range append([]*stream{r.main, r.vertex, r.normal, r.uv}, r.order...) {
		if err := s.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
