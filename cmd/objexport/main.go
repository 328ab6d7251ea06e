package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"voxelmesh.ai/internal/export/config"
	"voxelmesh.ai/internal/export/pipeline"
	"voxelmesh.ai/internal/export/progress"
	"voxelmesh.ai/internal/export/report"
	"voxelmesh.ai/internal/model"
	"voxelmesh.ai/internal/persistence/indexdb"
	persistlog "voxelmesh.ai/internal/persistence/log"
	"voxelmesh.ai/internal/transport/progressws"
	"voxelmesh.ai/internal/world"
	"voxelmesh.ai/internal/world/gen"
)

type options struct {
	configPath string
	worldSpec  string
	blocksPath string

	outDir    string
	objFile   string
	minStr    string
	maxStr    string
	fitWorld  bool
	threads   int
	scale     float64
	center    bool
	perChunk  bool
	perMat    bool
	perBlock  bool
	useGroups bool
	sides     bool

	genRadius int
	genHeight int

	progressAddr string
	indexPath    string
	journalDir   string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "export config yaml (optional)")
	flag.StringVar(&o.worldSpec, "world", "gen", "world source: gen[:seed], sqlite:<path> or snap:<path>")
	flag.StringVar(&o.blocksPath, "blocks", "", "block catalog json (default: embedded)")
	flag.StringVar(&o.outDir, "out", "", "output directory (overrides config)")
	flag.StringVar(&o.objFile, "obj", "", "OBJ file name (overrides config)")
	flag.StringVar(&o.minStr, "min", "", "inclusive min corner x,y,z (overrides config)")
	flag.StringVar(&o.maxStr, "max", "", "inclusive max corner x,y,z (overrides config)")
	flag.BoolVar(&o.fitWorld, "fit", false, "set x/z bounds to the stored extent of the world")
	flag.IntVar(&o.threads, "threads", 0, "geometry workers (overrides config)")
	flag.Float64Var(&o.scale, "scale", 0, "block scale (overrides config)")
	flag.BoolVar(&o.center, "center", false, "center the export on the origin")
	flag.BoolVar(&o.perChunk, "per_chunk", false, "one object per chunk")
	flag.BoolVar(&o.perMat, "per_material", false, "one object per material")
	flag.BoolVar(&o.perBlock, "per_block", false, "one object per block")
	flag.BoolVar(&o.useGroups, "groups", false, "use g instead of o for objects")
	flag.BoolVar(&o.sides, "sides", false, "render the sides and bottom of the selection")
	flag.IntVar(&o.genRadius, "gen_radius", gen.DefaultParams().RadiusChunks, "generated world radius in chunks")
	flag.IntVar(&o.genHeight, "gen_height", gen.DefaultParams().Height, "generated world height")
	flag.StringVar(&o.progressAddr, "progress_addr", "", "serve progress over websocket on this address (empty to disable)")
	flag.StringVar(&o.indexPath, "index", "", "sqlite run index path (empty to disable)")
	flag.StringVar(&o.journalDir, "journal", "", "run journal directory (empty to disable)")
	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	logger := log.New(os.Stdout, "[objexport] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signalContext()
	defer cancel()

	if err := run(ctx, o, set, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Printf("cancelled; the partial OBJ must be discarded")
		}
		logger.Printf("export failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, set map[string]bool, logger *log.Logger) error {
	cfg := config.Defaults()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	if err := applyFlags(&cfg, o, set); err != nil {
		return err
	}

	cat := model.Default()
	if o.blocksPath != "" {
		var err error
		if cat, err = model.Load(o.blocksPath); err != nil {
			return fmt.Errorf("load blocks: %w", err)
		}
	}

	params := gen.DefaultParams()
	params.RadiusChunks = o.genRadius
	params.Height = o.genHeight
	src, err := openWorld(ctx, o.worldSpec, cat, params, logger)
	if err != nil {
		return err
	}
	defer src.close()

	if cfg.WorldName == "" {
		cfg.WorldName = src.name
	}
	if cfg.WorldPath == "" {
		cfg.WorldPath = src.path
	}
	if o.fitWorld {
		if !src.hasExtent {
			return fmt.Errorf("-fit: world %s has no bounded extent", o.worldSpec)
		}
		fitBounds(&cfg, src.extentLo, src.extentHi)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}

	runID := indexdb.NewRunID()
	logger.Printf("run %s: world=%s bounds=(%d, %d, %d)..(%d, %d, %d)", runID, cfg.WorldName,
		cfg.Bounds.Min.X, cfg.Bounds.Min.Y, cfg.Bounds.Min.Z, cfg.Bounds.Max.X, cfg.Bounds.Max.Y, cfg.Bounds.Max.Z)

	var sinks report.MultiSink
	if o.journalDir != "" {
		j := persistlog.NewJournal(o.journalDir, runID)
		defer j.Close()
		sinks = append(sinks, j)
	}
	var idx *indexdb.SQLiteIndex
	if o.indexPath != "" {
		if idx, err = indexdb.OpenSQLite(o.indexPath); err != nil {
			return fmt.Errorf("open run index: %w", err)
		}
		defer idx.Close()
		if pal, err := json.Marshal(cat.Palette); err == nil {
			idx.RecordCatalog("blocks_palette", cat.PaletteDigest, pal)
		}
		sinks = append(sinks, idx)
	}
	var sink report.Sink
	if len(sinks) > 0 {
		sink = report.WithRunID(runID, sinks)
	}

	obs := progress.Multi{&progress.Logger{L: logger, Step: 0.1}}
	var ws *progressws.Server
	if o.progressAddr != "" {
		ws = progressws.NewServer(runID, logger)
		stop, err := serveProgress(o.progressAddr, ws, logger)
		if err != nil {
			return err
		}
		defer stop()
		defer ws.Close()
		obs = append(obs, ws)
	}

	uploader, err := buildR2Uploader(cfg.OutputDir, logger)
	if err != nil {
		return fmt.Errorf("init r2 upload: %w", err)
	}

	res, exportErr := pipeline.Export(ctx, cfg, pipeline.Deps{
		Store:     src.store,
		Resolver:  model.NewCubeResolver(cat, cfg),
		Progress:  obs,
		Logger:    logger,
		Sink:      sink,
		Materials: cat,
	})

	sum := res.Summary(runID, cfg.WorldName, exportErr)
	if sink != nil {
		if err := sink.WriteRun(sum); err != nil {
			logger.Printf("record run: %v", err)
		}
	}
	if ws != nil {
		ws.Finish(sum)
	}
	if exportErr != nil {
		return exportErr
	}

	logger.Printf("%s chunks, %s vertices, %s faces, %d materials, peak %d resident chunks",
		humanize.Comma(int64(res.Chunks)), humanize.Comma(int64(res.Counters.Vertices)),
		humanize.Comma(int64(res.Counters.Faces)), len(res.Materials), res.Cache.Peak)
	for kind, n := range res.Warnings {
		logger.Printf("%d %s warnings", n, kind)
	}

	if uploader != nil {
		files := []string{res.ObjPath}
		if res.MtlPath != "" {
			files = append(files, res.MtlPath)
		}
		start := time.Now()
		if err := uploader.Upload(ctx, runID, files...); err != nil {
			return err
		}
		st := uploader.Stats()
		logger.Printf("uploaded %d files (%s) in %s", st.UploadSuccessTotal, humanize.Bytes(st.BytesTotal), time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func applyFlags(cfg *config.Config, o options, set map[string]bool) error {
	if set["out"] {
		cfg.OutputDir = o.outDir
	}
	if set["obj"] {
		cfg.ObjFile = o.objFile
		cfg.MtlFile = ""
	}
	if set["min"] {
		v, err := parseVec(o.minStr)
		if err != nil {
			return fmt.Errorf("-min: %w", err)
		}
		cfg.Bounds.Min = v
	}
	if set["max"] {
		v, err := parseVec(o.maxStr)
		if err != nil {
			return fmt.Errorf("-max: %w", err)
		}
		cfg.Bounds.Max = v
	}
	if set["threads"] {
		cfg.Threads = o.threads
	}
	if set["scale"] {
		cfg.Scale = o.scale
	}
	if set["center"] && o.center {
		cfg.Offset.Mode = config.OffsetCenter
	}
	if set["per_chunk"] {
		cfg.ObjectPerChunk = o.perChunk
	}
	if set["per_material"] {
		cfg.ObjectPerMaterial = o.perMat
	}
	if set["per_block"] {
		cfg.ObjectPerBlock = o.perBlock
	}
	if set["groups"] {
		cfg.UseGroups = o.useGroups
	}
	if set["sides"] {
		cfg.RenderSides = o.sides
	}
	return nil
}

// fitBounds sets x/z to cover the chunk rectangle lo..hi and keeps y.
func fitBounds(cfg *config.Config, lo, hi world.ChunkCoord) {
	cfg.Bounds.Min.X = lo.X * world.ChunkSize
	cfg.Bounds.Min.Z = lo.Z * world.ChunkSize
	cfg.Bounds.Max.X = (hi.X+1)*world.ChunkSize - 1
	cfg.Bounds.Max.Z = (hi.Z+1)*world.ChunkSize - 1
}

func parseVec(s string) (config.Vec3i, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return config.Vec3i{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return config.Vec3i{}, fmt.Errorf("bad coordinate %q", p)
		}
		n[i] = v
	}
	return config.Vec3i{X: n[0], Y: n[1], Z: n[2]}, nil
}

func serveProgress(addr string, ws *progressws.Server, logger *log.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("progress listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/progress", ws.StatusHandler())
	mux.HandleFunc("/v1/progress/ws", ws.WSHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("progress server: %v", err)
		}
	}()
	logger.Printf("progress on ws://%s/v1/progress/ws", ln.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
