package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/geowerk/geoloader/internal/xyz"
	"github.com/geowerk/geoloader/pkg/crs"
	"github.com/geowerk/geoloader/pkg/geoloader"
	"github.com/geowerk/geoloader/pkg/stream"
)

// Options is the flag surface. File-level knobs (column mappings, layer
// lists, service tuning) live in the YAML configuration file.
type Options struct {
	ConfigFile string `short:"c" long:"config"      env:"GEOLOADER_CONFIG"     description:"Path to configuration file"`
	OutputDir  string `short:"o" long:"out"         env:"GEOLOADER_OUT"        description:"Output directory" default:"."`
	SourceCRS  string `short:"s" long:"source-crs"  env:"GEOLOADER_SOURCE_CRS" description:"Assumed coordinate system for files that declare none (e.g. EPSG:2056)"`
	TargetCRS  string `short:"t" long:"target-crs"  env:"GEOLOADER_TARGET_CRS" description:"Target coordinate system" default:"EPSG:4326"`
	Workers    int    `short:"w" long:"workers"     env:"GEOLOADER_WORKERS"    description:"Parallel file workers (0 = CPU count)"`
	DropFailed bool   `long:"drop-failed"   description:"Drop features whose transform failed instead of keeping them flagged"`
	NoPreview  bool   `long:"no-preview"    description:"Skip writing the preview dataset"`
	LogLevel   string `short:"l" long:"log-level" env:"GEOLOADER_LOG_LEVEL" description:"Log level" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
	Quiet      bool   `short:"q" long:"quiet" description:"Suppress progress logging"`

	Args struct {
		Files []string `positional-arg-name:"FILE" required:"1" description:"Input files (.dxf, .shp, .csv, .xyz)"`
	} `positional-args:"yes"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	setupLogging(opts.LogLevel)

	cfg := &Config{}
	if opts.ConfigFile != "" {
		loaded, err := loadConfig(opts.ConfigFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", opts.ConfigFile).Msg("failed to load configuration")
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var events chan stream.Event
	if !opts.Quiet {
		events = make(chan stream.Event, 256)
		go func() {
			for ev := range events {
				log.Debug().
					Str("phase", ev.Phase).
					Float64("fraction", ev.Fraction).
					Int("features", ev.Features).
					Msg("progress")
			}
		}()
	}
	mgr := buildManager(opts, cfg, events)

	loadOpts := geoloader.DefaultLoadOptions()
	loadOpts.Workers = opts.Workers
	loadOpts.Progress = func(done, total int) {
		log.Info().Int("done", done).Int("total", total).Msg("files processed")
	}

	results, errs := geoloader.LoadFiles(ctx, mgr, opts.Args.Files, loadOpts)
	for _, err := range errs {
		log.Error().Err(err).Msg("file failed")
	}

	for _, res := range results {
		writeOutputs(res, opts)
	}

	stats := mgr.Stats()
	log.Info().
		Int("files", stats.Files).
		Int("features", stats.Features).
		Int("warnings", stats.Warnings).
		Int("transform_failures", stats.TransformFailures).
		Int("repaired", stats.Repaired).
		Float64("cache_hit_rate", stats.Cache.HitRate()).
		Msg("done")

	if len(errs) > 0 || ctx.Err() != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// buildManager wires flags and configuration into the pipeline manager.
// Flags win over the configuration file.
func buildManager(opts Options, cfg *Config, events chan stream.Event) *geoloader.Manager {
	reframe := crs.DefaultReframeOptions()
	if cfg.Service.URL != "" {
		reframe.BaseURL = cfg.Service.URL
	}
	if cfg.Service.Timeout > 0 {
		reframe.Timeout = cfg.Service.Timeout
	}
	if cfg.Service.Retries > 0 {
		reframe.Retries = cfg.Service.Retries
	}

	cacheOpts := crs.DefaultCacheOptions()
	if cfg.Cache.CellSize > 0 {
		cacheOpts.CellSize = cfg.Cache.CellSize
	}
	if cfg.Cache.Radius > 0 {
		cacheOpts.Radius = cfg.Cache.Radius
	}
	if cfg.Cache.TTL > 0 {
		cacheOpts.TTL = cfg.Cache.TTL
	}

	trOpts := crs.DefaultTransformerOptions()
	trOpts.Client = crs.NewReframeClient(reframe)
	trOpts.Cache = crs.NewGridCache(cacheOpts)
	trOpts.Logger = log.Logger
	if cfg.Service.Fallback != nil {
		trOpts.Fallback = *cfg.Service.Fallback
	}

	mgrOpts := geoloader.DefaultManagerOptions()
	mgrOpts.Transformer = crs.NewTransformer(trOpts)
	mgrOpts.Logger = log.Logger
	mgrOpts.DropFailed = opts.DropFailed
	mgrOpts.TargetCRS = opts.TargetCRS
	mgrOpts.SourceCRS = cfg.SourceCRS
	if opts.SourceCRS != "" {
		mgrOpts.SourceCRS = opts.SourceCRS
	}
	if cfg.TargetCRS != "" && opts.TargetCRS == "EPSG:4326" {
		mgrOpts.TargetCRS = cfg.TargetCRS
	}

	mgrOpts.Parse.Layers = cfg.DXF.Layers
	if cfg.XYZ.Delimiter != "" {
		if cfg.XYZ.Delimiter == " " {
			mgrOpts.Parse.Delimiter = xyz.Whitespace
		} else {
			mgrOpts.Parse.Delimiter = firstRune(cfg.XYZ.Delimiter)
		}
	}
	if cfg.XYZ.Comment != "" {
		mgrOpts.Parse.Comment = firstRune(cfg.XYZ.Comment)
	}
	mgrOpts.Parse.SkipRows = cfg.XYZ.SkipRows
	if cfg.XYZ.XCol != nil {
		mgrOpts.Parse.XCol = *cfg.XYZ.XCol
	}
	if cfg.XYZ.YCol != nil {
		mgrOpts.Parse.YCol = *cfg.XYZ.YCol
	}
	if cfg.XYZ.ZCol != nil {
		mgrOpts.Parse.ZCol = *cfg.XYZ.ZCol
	}
	mgrOpts.Parse.PointLayer = cfg.XYZ.Layer

	if cfg.Preview.MaxFeatures > 0 {
		mgrOpts.Preview.MaxFeatures = cfg.Preview.MaxFeatures
	}
	mgrOpts.Preview.Tolerance = cfg.Preview.Tolerance
	mgrOpts.Preview.Random = cfg.Preview.Random
	mgrOpts.Preview.Seed = cfg.Preview.Seed

	if cfg.Stream.ChunkSize > 0 {
		mgrOpts.Stream.ChunkSize = cfg.Stream.ChunkSize
	}
	if cfg.Stream.MaxFeatures != 0 {
		mgrOpts.Stream.MaxFeatures = cfg.Stream.MaxFeatures
	}
	if cfg.Stream.MaxBytes != 0 {
		mgrOpts.Stream.MaxBytes = cfg.Stream.MaxBytes
	}

	if events != nil {
		mgrOpts.Progress = events
	}

	return geoloader.NewManager(mgrOpts)
}

// writeOutputs writes the transformed feature stream and the preview
// dataset as GeoJSON next to the requested output directory.
func writeOutputs(res *geoloader.Result, opts Options) {
	stem := strings.TrimSuffix(filepath.Base(res.Path), filepath.Ext(res.Path))

	features, err := res.Collection.MarshalGeoJSON()
	if err != nil {
		log.Error().Err(err).Str("path", res.Path).Msg("encode features")
		return
	}
	featPath := filepath.Join(opts.OutputDir, stem+".features.geojson")
	if err := os.WriteFile(featPath, features, 0o644); err != nil {
		log.Error().Err(err).Str("path", featPath).Msg("write features")
		return
	}
	log.Info().Str("path", featPath).Int("features", res.Collection.Len()).Msg("features written")

	for _, w := range res.Warnings {
		log.Warn().Str("path", res.Path).Msg(w.String())
	}

	if opts.NoPreview || res.Preview == nil {
		return
	}
	previewJSON, err := res.Preview.MarshalGeoJSON()
	if err != nil {
		log.Error().Err(err).Str("path", res.Path).Msg("encode preview")
		return
	}
	prevPath := filepath.Join(opts.OutputDir, stem+".preview.geojson")
	if err := os.WriteFile(prevPath, previewJSON, 0o644); err != nil {
		log.Error().Err(err).Str("path", prevPath).Msg("write preview")
		return
	}
	log.Info().
		Str("path", prevPath).
		Int("sampled", res.Preview.Sampled).
		Int("total", res.Preview.Total).
		Msg("preview written")
}
