package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"voxelmesh.ai/internal/model"
	"voxelmesh.ai/internal/persistence/chunkdb"
	"voxelmesh.ai/internal/persistence/snapshot"
	"voxelmesh.ai/internal/world"
	"voxelmesh.ai/internal/world/gen"
)

// worldSource is an opened world plus what the exporter needs to describe it.
type worldSource struct {
	store world.Store
	name  string
	path  string

	extentLo, extentHi world.ChunkCoord
	hasExtent          bool

	close func() error
}

// parseWorldSpec splits "gen", "gen:<seed>", "sqlite:<path>" or "snap:<path>".
func parseWorldSpec(spec string) (kind, arg string, err error) {
	spec = strings.TrimSpace(spec)
	kind, arg, _ = strings.Cut(spec, ":")
	kind = strings.ToLower(strings.TrimSpace(kind))
	arg = strings.TrimSpace(arg)
	switch kind {
	case "gen":
		if arg != "" {
			if _, err := strconv.ParseInt(arg, 10, 64); err != nil {
				return "", "", fmt.Errorf("world %q: bad seed: %w", spec, err)
			}
		}
	case "sqlite", "snap":
		if arg == "" {
			return "", "", fmt.Errorf("world %q: missing path", spec)
		}
	default:
		return "", "", fmt.Errorf("world %q: unknown kind %q (want gen, sqlite or snap)", spec, kind)
	}
	return kind, arg, nil
}

func openWorld(ctx context.Context, spec string, cat *model.Catalog, params gen.Params, logger *log.Logger) (*worldSource, error) {
	kind, arg, err := parseWorldSpec(spec)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "gen":
		if arg != "" {
			params.Seed, _ = strconv.ParseInt(arg, 10, 64)
		}
		g, err := gen.New(cat, params)
		if err != nil {
			return nil, err
		}
		src := &worldSource{
			store: g,
			name:  fmt.Sprintf("generated_%d", params.Seed),
			path:  "gen:" + strconv.FormatInt(params.Seed, 10),
			close: func() error { return nil },
		}
		src.extentLo, src.extentHi, src.hasExtent = g.Extent()
		return src, nil

	case "sqlite":
		db, err := chunkdb.Open(arg)
		if err != nil {
			return nil, fmt.Errorf("open chunk db: %w", err)
		}
		src := &worldSource{store: db, path: arg, close: db.Close}
		if src.name, err = db.Meta(ctx, chunkdb.MetaWorldName); err != nil {
			_ = db.Close()
			return nil, err
		}
		if d, _ := db.Meta(ctx, chunkdb.MetaPaletteDigest); d != "" && d != cat.PaletteDigest {
			logger.Printf("chunk db palette %s differs from catalog %s; block ids may resolve to the wrong blocks", short(d), short(cat.PaletteDigest))
		}
		if src.extentLo, src.extentHi, src.hasExtent, err = db.Extent(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return src, nil

	default: // snap
		st, err := snapshot.OpenStore(arg)
		if err != nil {
			return nil, fmt.Errorf("open snapshot: %w", err)
		}
		if d := st.Header.PaletteDigest; d != "" && d != cat.PaletteDigest {
			logger.Printf("snapshot palette %s differs from catalog %s; block ids may resolve to the wrong blocks", short(d), short(cat.PaletteDigest))
		}
		src := &worldSource{store: st, name: st.Header.World, path: arg, close: func() error { return nil }}
		src.extentLo, src.extentHi, src.hasExtent = st.Extent()
		return src, nil
	}
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
