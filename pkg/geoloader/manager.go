package geoloader

import (
	"context"
	"io"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/geowerk/geoloader/internal/metrics"
	"github.com/geowerk/geoloader/pkg/crs"
	"github.com/geowerk/geoloader/pkg/geo"
	"github.com/geowerk/geoloader/pkg/preview"
	"github.com/geowerk/geoloader/pkg/stream"
)

// Property keys the pipeline writes while post-processing coordinates.
const (
	// PropSourceCRS records the system a feature was transformed from.
	PropSourceCRS = "crs_source"
	// PropApproximate marks coordinates produced by the degraded linear
	// approximation instead of the geodesy service.
	PropApproximate = "crs_approximate"
	// PropTransformFailed marks a feature kept with untransformed
	// coordinates after both service legs and the fallback failed.
	PropTransformFailed = "transform_failed"
)

// ManagerOptions configures the pipeline manager.
type ManagerOptions struct {
	// Parse configures the format parsers.
	Parse ParseOptions

	// SourceCRS assumes a coordinate system for files that do not declare
	// one (DXF drawings, bare point tables). A detected system (shapefile
	// .prj) wins over this assumption. Empty leaves undeclared files
	// untransformed, with a Warning.
	SourceCRS string

	// TargetCRS is the system features are transformed into.
	// Default: WGS84.
	TargetCRS string

	// Transformer executes the coordinate transforms. Defaults to a
	// transformer with default options (REFRAME client, grid delta cache,
	// fallback enabled).
	Transformer *crs.Transformer

	// TransformWorkers is the number of concurrent per-chunk transform
	// goroutines. Transforms block on network I/O, so this bounds in-flight
	// service calls rather than CPU use.
	// Default: runtime.NumCPU()
	TransformWorkers int

	// DropFailed discards features whose transform failed instead of
	// keeping them untransformed and flagged.
	DropFailed bool

	// Stream configures chunking and the resource ceilings. A disabled
	// stream logger is replaced with Logger.
	Stream stream.ManagerOptions

	// Preview configures sampling and simplification.
	Preview preview.GeneratorOptions

	// Progress receives phase-labeled events from every stage. Sends never
	// block; events beyond the channel's capacity are dropped.
	Progress chan<- stream.Event

	// Logger receives pipeline diagnostics. Defaults to a disabled logger.
	Logger zerolog.Logger
}

// DefaultManagerOptions returns manager options with defaults.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		Parse:            DefaultParseOptions(),
		TargetCRS:        crs.CodeWGS84,
		TransformWorkers: runtime.NumCPU(),
		Stream:           stream.DefaultManagerOptions(),
		Preview:          DefaultGeneratorOptions(),
		Logger:           zerolog.Nop(),
	}
}

// DefaultGeneratorOptions is re-exported so callers configuring the
// manager do not need to import pkg/preview for the common case.
func DefaultGeneratorOptions() preview.GeneratorOptions {
	return preview.DefaultGeneratorOptions()
}

// Result is the outcome of processing one file. On early termination
// (resource ceiling, producer error, cancellation) the collection and
// stream state carry the partial result and Stream.Complete is false.
type Result struct {
	Path   string
	Format Format

	// Collection holds every surviving feature, transformed, with a built
	// spatial index.
	Collection *geo.FeatureCollection

	// Preview is the bounded dataset for rendering. Nil when the pipeline
	// terminated before preview generation.
	Preview *preview.Dataset

	// Warnings are the per-entity diagnostics accumulated by the parser.
	Warnings []geo.Warning

	// Stream is the final streaming state: counters, running bounds and
	// the completeness mark.
	Stream stream.State

	// SourceCRS is the system the file's coordinates were read in; CRS is
	// the system of the collection's coordinates after the pipeline.
	SourceCRS string
	CRS       string

	// TransformFailures counts features whose transform failed;
	// Approximate counts features with degraded-mode coordinates; Dropped
	// counts failed features discarded under DropFailed.
	TransformFailures int
	Approximate       int
	Dropped           int
}

// Stats aggregates pipeline counters across every file a Manager has
// processed.
type Stats struct {
	Files             int
	Features          int
	Warnings          int
	TransformFailures int
	Approximate       int
	Dropped           int
	Cleaned           int
	Repaired          int
	RepairFailures    int

	// Cache is the delta cache's hit/miss accounting.
	Cache crs.CacheStats
}

// Manager runs the full pipeline: parse, transform, stream, validate,
// preview. One manager may process many files, serially or from multiple
// goroutines; per-file state is private to each Process call and only the
// statistics and the delta cache are shared.
type Manager struct {
	opts        ManagerOptions
	transformer *crs.Transformer
	log         zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewManager builds a manager. Zero-valued options fall back to defaults.
func NewManager(opts ManagerOptions) *Manager {
	def := DefaultManagerOptions()
	if opts.TargetCRS == "" {
		opts.TargetCRS = def.TargetCRS
	}
	if opts.TransformWorkers <= 0 {
		opts.TransformWorkers = def.TransformWorkers
	}
	if opts.Transformer == nil {
		opts.Transformer = crs.NewTransformer(crs.DefaultTransformerOptions())
	}
	return &Manager{
		opts:        opts,
		transformer: opts.Transformer,
		log:         opts.Logger,
	}
}

// Transformer returns the manager's coordinate transformer.
func (m *Manager) Transformer() *crs.Transformer { return m.transformer }

// Stats returns the accumulated counters, including the delta cache's
// current hit/miss figures.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Cache = m.transformer.Cache().Stats()
	return s
}

// Process runs the pipeline over one file.
//
// A fatal-structural problem (unknown format, oversize input, bad header,
// missing companion) returns a nil Result and the error. Once streaming
// has started, termination by ceiling, producer error or cancellation
// returns the partial Result alongside the error; the partial bounds and
// counters are preserved and Stream.Complete is false.
func (m *Manager) Process(ctx context.Context, path string) (*Result, error) {
	format := DetectFormat(path)
	src, err := openSource(path, format, m.opts.Parse)
	if err != nil {
		m.log.Error().Str("path", path).Err(err).Msg("file rejected")
		return nil, err
	}
	defer src.Close()

	res := &Result{Path: path, Format: format}
	res.SourceCRS = src.crs
	if res.SourceCRS == "" {
		res.SourceCRS = m.opts.SourceCRS
	}

	smOpts := m.opts.Stream
	smOpts.TotalHint = src.count
	smOpts.Phase = "ingest"
	if smOpts.Logger.GetLevel() == zerolog.Disabled {
		smOpts.Logger = m.log
	}
	sm := stream.NewManager(src, smOpts)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		m.forward(sm.Events())
	}()

	transform := res.SourceCRS != "" && res.SourceCRS != m.opts.TargetCRS
	res.CRS = res.SourceCRS
	if transform {
		res.CRS = m.opts.TargetCRS
	}

	var features []*geo.Feature
	var terminal error
	for {
		chunk, err := sm.Next(ctx)
		if len(chunk) > 0 {
			if transform {
				chunk = m.transformChunk(ctx, chunk, res)
				m.publish("transform", sm.State().Fraction, len(features)+len(chunk))
			}
			features = append(features, chunk...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			terminal = err
			break
		}
	}

	// The stream has terminated on every path here, so the event channel is
	// closed and the relay drains out.
	<-forwarded

	res.Stream = sm.State()
	res.Warnings = src.warnings()
	if res.SourceCRS == "" {
		res.Warnings = append(res.Warnings, geo.Warning{
			Format:  format.String(),
			Message: "no coordinate system declared or assumed, features kept untransformed",
		})
	}
	metrics.FeaturesParsed.WithLabelValues(format.String()).Add(float64(res.Stream.Features))
	metrics.ParserWarnings.WithLabelValues(format.String()).Add(float64(len(res.Warnings)))

	res.Collection = geo.NewFeatureCollection(features, res.CRS)
	res.Collection.BuildIndex()

	if terminal != nil {
		m.record(res, nil)
		return res, terminal
	}

	pvOpts := m.opts.Preview
	pvOpts.Progress = m.opts.Progress
	pvOpts.Logger = m.log
	gen := preview.NewGenerator(pvOpts)
	ds, err := gen.Generate(ctx, features, res.CRS)
	res.Preview = ds
	m.record(res, ds)
	if err != nil {
		return res, err
	}

	m.log.Info().
		Str("path", path).
		Str("format", format.String()).
		Int("features", res.Collection.Len()).
		Int("warnings", len(res.Warnings)).
		Int("sampled", ds.Sampled).
		Msg("file processed")
	return res, nil
}

// transformChunk reprojects one chunk's geometries over the worker pool.
// Workers touch disjoint features, so no locking is needed; the slice is
// compacted afterwards when DropFailed removed features.
func (m *Manager) transformChunk(ctx context.Context, chunk []*geo.Feature, res *Result) []*geo.Feature {
	workers := m.opts.TransformWorkers
	if workers > len(chunk) {
		workers = len(chunk)
	}

	drop := make([]bool, len(chunk))
	var failures, approximate int64
	var mu sync.Mutex

	jobs := make(chan int, len(chunk))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				f := chunk[i]
				out, approx, err := m.transformer.TransformGeom(ctx, f.Geom, res.SourceCRS, m.opts.TargetCRS)
				if err != nil {
					m.log.Warn().Str("id", f.ID).Str("layer", f.Layer).Err(err).
						Msg("transform failed")
					f.SetProperty(PropTransformFailed, true)
					mu.Lock()
					failures++
					mu.Unlock()
					if m.opts.DropFailed {
						drop[i] = true
					}
					continue
				}
				f.Geom = out
				f.BBox = nil
				f.SetProperty(PropSourceCRS, res.SourceCRS)
				if approx {
					f.SetProperty(PropApproximate, true)
					mu.Lock()
					approximate++
					mu.Unlock()
				}
			}
		}()
	}
	for i := range chunk {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	res.TransformFailures += int(failures)
	res.Approximate += int(approximate)
	if !m.opts.DropFailed {
		return chunk
	}
	kept := chunk[:0]
	for i, f := range chunk {
		if drop[i] {
			res.Dropped++
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// record folds one file's counters into the aggregate statistics.
func (m *Manager) record(res *Result, ds *preview.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Files++
	m.stats.Features += res.Stream.Features
	m.stats.Warnings += len(res.Warnings)
	m.stats.TransformFailures += res.TransformFailures
	m.stats.Approximate += res.Approximate
	m.stats.Dropped += res.Dropped
	if ds != nil {
		m.stats.Cleaned += ds.Cleaned
		m.stats.Repaired += ds.Repaired
		m.stats.RepairFailures += ds.RepairFailures
	}
}

// forward relays a stage's events to the caller's progress channel
// without ever blocking.
func (m *Manager) forward(events <-chan stream.Event) {
	for ev := range events {
		if m.opts.Progress == nil {
			continue
		}
		select {
		case m.opts.Progress <- ev:
		default:
		}
	}
}

func (m *Manager) publish(phase string, fraction float64, features int) {
	if m.opts.Progress == nil {
		return
	}
	select {
	case m.opts.Progress <- stream.Event{Phase: phase, Fraction: fraction, Features: features}:
	default:
	}
}
