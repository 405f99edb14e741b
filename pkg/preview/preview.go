// Package preview reduces a transformed feature set to a bounded dataset
// for interactive rendering: it samples down to a feature budget, repairs
// and simplifies the survivors, and categorizes them by geometry family
// with padded aggregate bounds.
//
// Sampling is either systematic (deterministic stepping, reproducible for
// a fixed input length and budget) or uniform random without replacement.
// Processing runs in bounded chunks with a cancellation check and a
// progress event between chunks, so generation over a large feature set
// cooperates with its caller.
package preview

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/twpayne/go-geom"

	"github.com/geowerk/geoloader/internal/metrics"
	"github.com/geowerk/geoloader/pkg/geo"
	"github.com/geowerk/geoloader/pkg/stream"
	"github.com/geowerk/geoloader/pkg/validate"
)

// Swiss national extent in WGS84: the preview viewport when the dataset
// yields no finite bounds.
const (
	fallbackMinLon = 5.96
	fallbackMinLat = 45.82
	fallbackMaxLon = 10.49
	fallbackMaxLat = 47.81
)

// boundsPadding widens the tight preview bounds by this fraction.
const boundsPadding = 0.1

// GeneratorOptions configure preview generation.
type GeneratorOptions struct {
	// MaxFeatures is the feature budget. Inputs at or under it are not
	// sampled.
	// Default: 500
	MaxFeatures int

	// Tolerance is the Douglas-Peucker simplification distance in the
	// dataset's working unit. Zero or negative disables simplification.
	Tolerance float64

	// Random selects uniform random sampling without replacement instead
	// of deterministic systematic stepping.
	Random bool

	// Seed fixes the random sampling sequence. Zero seeds from the clock.
	Seed int64

	// ChunkSize is the number of features processed between cancellation
	// checks and progress events.
	// Default: 256
	ChunkSize int

	// Engine validates and repairs each sampled geometry before
	// simplification. Defaults to an engine with default options.
	Engine *validate.Engine

	// Progress optionally receives phase "preview" events. Sends never
	// block: events beyond the channel's capacity are dropped.
	Progress chan<- stream.Event

	// Logger receives per-feature repair diagnostics. Defaults to a
	// disabled logger.
	Logger zerolog.Logger
}

// DefaultGeneratorOptions returns generator options with defaults.
func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{
		MaxFeatures: 500,
		ChunkSize:   256,
		Logger:      zerolog.Nop(),
	}
}

// Dataset is the preview output: three collections categorized by
// geometry family, sharing one coordinate system and padded bounds.
type Dataset struct {
	Points   *geo.FeatureCollection
	Lines    *geo.FeatureCollection
	Polygons *geo.FeatureCollection

	// Bounds is the padded extent of the sampled features, or the Swiss
	// fallback region when nothing had finite coordinates.
	Bounds geo.Bounds

	CRS         string
	GeneratedAt time.Time

	// Total counts the input features before sampling; Sampled counts the
	// features that made it into the collections.
	Total   int
	Sampled int

	// Cleaned and Repaired count geometry rewrites; RepairFailures counts
	// features kept with their original geometry and flagged.
	Cleaned        int
	Repaired       int
	RepairFailures int

	// Complete is false when generation was cancelled and the dataset
	// holds a partial result.
	Complete bool
}

// Generator builds preview datasets. It is not safe for concurrent use:
// the sampling source is stateful.
type Generator struct {
	opts   GeneratorOptions
	engine *validate.Engine
	rng    *rand.Rand
	log    zerolog.Logger
}

// NewGenerator builds a generator. Zero-valued options fall back to
// defaults.
func NewGenerator(opts GeneratorOptions) *Generator {
	def := DefaultGeneratorOptions()
	if opts.MaxFeatures <= 0 {
		opts.MaxFeatures = def.MaxFeatures
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.Engine == nil {
		opts.Engine = validate.NewEngine(validate.DefaultEngineOptions())
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		opts:   opts,
		engine: opts.Engine,
		rng:    rand.New(rand.NewSource(seed)),
		log:    opts.Logger,
	}
}

// Generate samples, repairs, simplifies and categorizes the features. On
// cancellation it returns the partial dataset alongside the context error,
// with Complete left false.
func (g *Generator) Generate(ctx context.Context, features []*geo.Feature, crs string) (*Dataset, error) {
	idx := g.sampleIndices(len(features))
	ds := &Dataset{
		CRS:         crs,
		GeneratedAt: time.Now(),
		Total:       len(features),
	}

	var points, lines, polygons []*geo.Feature
	bounds := geo.NewBounds()
	processed := 0

	for start := 0; start < len(idx); start += g.opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			g.finish(ds, points, lines, polygons, bounds)
			return ds, err
		}
		for _, i := range idx[start:min(start+g.opts.ChunkSize, len(idx))] {
			out := g.process(features[i], ds)
			switch out.Kind() {
			case geo.KindPoint:
				points = append(points, out)
			case geo.KindLine:
				lines = append(lines, out)
			case geo.KindPolygon:
				polygons = append(polygons, out)
			default:
				g.log.Debug().Str("id", out.ID).Msg("unclassifiable geometry dropped from preview")
				processed++
				continue
			}
			bounds = bounds.Union(out.Bounds())
			processed++
		}
		g.publish(processed, len(idx))
	}

	ds.Complete = true
	g.finish(ds, points, lines, polygons, bounds)
	metrics.PreviewsGenerated.Inc()
	metrics.PreviewFeaturesSampled.Add(float64(ds.Sampled))
	g.publish(processed, len(idx))
	return ds, nil
}

// sampleIndices selects which input positions survive, in ascending
// order.
func (g *Generator) sampleIndices(n int) []int {
	if n <= g.opts.MaxFeatures {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if g.opts.Random {
		idx := append([]int(nil), g.rng.Perm(n)[:g.opts.MaxFeatures]...)
		sort.Ints(idx)
		return idx
	}
	step := (n + g.opts.MaxFeatures - 1) / g.opts.MaxFeatures
	idx := make([]int, 0, (n+step-1)/step)
	for i := 0; i < n; i += step {
		idx = append(idx, i)
	}
	return idx
}

// process repairs and simplifies one feature into a fresh preview
// feature. A failed repair keeps the original geometry, unsimplified, and
// flags the feature instead of dropping it.
func (g *Generator) process(f *geo.Feature, ds *Dataset) *geo.Feature {
	res := g.engine.ValidateAndRepair(f.Geom)

	var outGeom geom.T
	failed := res.Err != nil
	if failed {
		ds.RepairFailures++
		g.log.Warn().Str("id", f.ID).Str("layer", f.Layer).Err(res.Err).
			Msg("repair failed, keeping original geometry")
		outGeom = geo.CloneGeom(f.Geom)
	} else {
		if res.WasCleaned {
			ds.Cleaned++
		}
		if res.WasRepaired {
			ds.Repaired++
		}
		outGeom = Simplify(res.Geom, g.opts.Tolerance)
	}

	out := &geo.Feature{
		ID:         f.ID,
		Layer:      f.Layer,
		Geom:       outGeom,
		Properties: copyProperties(f.Properties),
	}
	if failed {
		out.SetProperty("repair_failed", true)
	}
	b := geo.NewBounds()
	if outGeom != nil {
		b.ExtendGeom(outGeom)
	}
	out.BBox = &b
	return out
}

func (g *Generator) finish(ds *Dataset, points, lines, polygons []*geo.Feature, bounds geo.Bounds) {
	ds.Points = geo.NewFeatureCollection(points, ds.CRS)
	ds.Lines = geo.NewFeatureCollection(lines, ds.CRS)
	ds.Polygons = geo.NewFeatureCollection(polygons, ds.CRS)
	ds.Sampled = len(points) + len(lines) + len(polygons)
	if bounds.IsEmpty() {
		bounds = geo.NewBoundsXY(fallbackMinLon, fallbackMinLat, fallbackMaxLon, fallbackMaxLat)
	}
	ds.Bounds = bounds.Pad(boundsPadding)
}

func (g *Generator) publish(processed, total int) {
	if g.opts.Progress == nil {
		return
	}
	fraction := 1.0
	if total > 0 {
		fraction = float64(processed) / float64(total)
	}
	select {
	case g.opts.Progress <- stream.Event{Phase: "preview", Fraction: fraction, Features: processed}:
	default:
	}
}

func copyProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
