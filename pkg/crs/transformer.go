package crs

// transformer.go - pairwise transform execution and the Swiss pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/twpayne/go-geom"
	"golang.org/x/sync/singleflight"

	"github.com/geowerk/geoloader/internal/metrics"
	"github.com/geowerk/geoloader/pkg/geo"
)

// Official extent of the LV95 frame. Coordinates outside it are rejected
// before any service call; stray entities at the drawing origin are the
// usual offenders.
const (
	lv95MinE = 2_485_000.0
	lv95MaxE = 2_834_000.0
	lv95MinN = 1_075_000.0
	lv95MaxN = 1_296_000.0
)

// Degraded-mode frame: linear around the LV95 projection centre. The
// coefficients are empirical with no stated accuracy bound; expect errors
// on the hundreds-of-metres scale near the country's edges. Every result
// produced here is marked Approximate.
const (
	anchorE   = 2_600_000.0
	anchorN   = 1_200_000.0
	anchorLon = 7.438632
	anchorLat = 46.951083

	lonDegreesPerMeter = 1.0 / 76_540.0
	latDegreesPerMeter = 1.0 / metersPerDegree
)

// TransformError reports a failed transform: the offending leg, the system
// pair and the original input.
type TransformError struct {
	Leg   string // "lookup", "range", "route", "lhn95tobessel", "lv95towgs84"
	From  string
	To    string
	Input Position
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s -> %s at %s: %s: %v", e.From, e.To, e.Input, e.Leg, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// TransformerOptions configure a Transformer.
type TransformerOptions struct {
	// Registry supplies the known systems.
	// Default: the built-in set (LV95, LV03, WGS84).
	Registry *Registry

	// Client performs the external geodesy calls.
	// Default: a REFRAME client with default options.
	Client GeodesyClient

	// Cache holds height deltas between transforms. Inject NopCache{} to
	// bypass caching when every point must be service-exact.
	// Default: a GridCache with default geometry.
	Cache DeltaCache

	// Fallback enables the degraded linear approximation when the service
	// fails. Results taking that path are marked Approximate.
	// Default: true.
	Fallback bool

	// Logger receives degraded-mode warnings.
	// Default: no logging.
	Logger zerolog.Logger
}

// DefaultTransformerOptions returns transformer options with defaults.
func DefaultTransformerOptions() TransformerOptions {
	return TransformerOptions{
		Fallback: true,
		Logger:   zerolog.Nop(),
	}
}

// Transformer executes transforms between registered systems. One instance
// is safe for concurrent use; concurrent reference computations for the
// same grid cell are de-duplicated, so a burst of nearby points costs one
// service round trip.
type Transformer struct {
	registry *Registry
	client   GeodesyClient
	cache    DeltaCache
	fallback bool
	log      zerolog.Logger

	flights singleflight.Group
	now     func() time.Time
}

// NewTransformer builds a transformer from options.
func NewTransformer(opts TransformerOptions) *Transformer {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Client == nil {
		opts.Client = NewReframeClient(DefaultReframeOptions())
	}
	if opts.Cache == nil {
		opts.Cache = NewGridCache(DefaultCacheOptions())
	}
	return &Transformer{
		registry: opts.Registry,
		client:   opts.Client,
		cache:    opts.Cache,
		fallback: opts.Fallback,
		log:      opts.Logger,
		now:      time.Now,
	}
}

// Registry returns the transformer's system registry.
func (t *Transformer) Registry() *Registry { return t.registry }

// Cache returns the transformer's delta cache.
func (t *Transformer) Cache() DeltaCache { return t.cache }

// Transform converts one position between systems. Identity transforms
// return the input unchanged; everything else pivots through WGS84. A
// failure on either service leg aborts the whole transform, so a partially
// transformed position can never escape.
func (t *Transformer) Transform(ctx context.Context, p Position, from, to string) (Position, error) {
	if from == to {
		return p, nil
	}
	fromSys, ok := t.registry.Lookup(from)
	if !ok {
		return Position{}, &TransformError{
			Leg: "lookup", From: from, To: to, Input: p,
			Err: fmt.Errorf("unknown system %s", from),
		}
	}
	toSys, ok := t.registry.Lookup(to)
	if !ok {
		return Position{}, &TransformError{
			Leg: "lookup", From: from, To: to, Input: p,
			Err: fmt.Errorf("unknown system %s", to),
		}
	}

	// The Swiss frames differ only by the false origin change; routing
	// through WGS84 would add approximation error for nothing.
	if fromSys.Swiss && toSys.Swiss {
		return Position{
			X: p.X + fromSys.ShiftE - toSys.ShiftE,
			Y: p.Y + fromSys.ShiftN - toSys.ShiftN,
			Z: p.Z, HasZ: p.HasZ,
			Approximate: p.Approximate,
		}, nil
	}

	mid := p
	if fromSys.Swiss {
		out, err := t.swissToWGS84(ctx, p, fromSys, from, to)
		if err != nil {
			return Position{}, err
		}
		mid = out
	} else if !fromSys.Geographic {
		return Position{}, &TransformError{
			Leg: "route", From: from, To: to, Input: p,
			Err: fmt.Errorf("no WGS84 path from %s", from),
		}
	}

	if toSys.Geographic {
		return mid, nil
	}
	if toSys.Swiss {
		return t.wgs84ToSwiss(mid, toSys), nil
	}
	return Position{}, &TransformError{
		Leg: "route", From: from, To: to, Input: p,
		Err: fmt.Errorf("no WGS84 path to %s", to),
	}
}

// TransformGeom returns a transformed copy of a geometry; the original is
// never modified. Identity transforms return the input. The boolean
// reports whether any coordinate took the degraded approximation path.
func (t *Transformer) TransformGeom(ctx context.Context, g geom.T, from, to string) (geom.T, bool, error) {
	if g == nil || from == to {
		return g, false, nil
	}
	zIdx := g.Layout().ZIndex()
	out := geo.CloneGeom(g)
	approx := false
	var terr error
	geom.TransformInPlace(out, func(c geom.Coord) {
		if terr != nil {
			return
		}
		if err := ctx.Err(); err != nil {
			terr = err
			return
		}
		p := Position{X: c[0], Y: c[1]}
		if zIdx >= 0 {
			p.Z = c[zIdx]
			p.HasZ = true
		}
		res, err := t.Transform(ctx, p, from, to)
		if err != nil {
			terr = err
			return
		}
		c[0], c[1] = res.X, res.Y
		if res.HasZ && zIdx >= 0 {
			c[zIdx] = res.Z
		}
		approx = approx || res.Approximate
	})
	if terr != nil {
		return nil, false, terr
	}
	return out, approx, nil
}

// swissToWGS84 normalizes to LV95 and runs the service pipeline, delta
// cache first. Service failure drops to the marked linear approximation
// when fallback is enabled and the context is still live.
func (t *Transformer) swissToWGS84(ctx context.Context, p Position, fromSys System, from, to string) (Position, error) {
	e := p.X + fromSys.ShiftE
	n := p.Y + fromSys.ShiftN
	if e < lv95MinE || e > lv95MaxE || n < lv95MinN || n > lv95MaxN {
		return Position{}, &TransformError{
			Leg: "range", From: from, To: to, Input: p,
			Err: fmt.Errorf("easting/northing outside the Swiss frame"),
		}
	}

	out, err := t.viaCache(ctx, e, n, p, from, to)
	if err == nil {
		return out, nil
	}
	if !t.fallback || ctx.Err() != nil {
		return Position{}, err
	}

	t.log.Warn().
		Str("from", from).
		Str("to", to).
		Err(err).
		Msg("geodesy service unavailable, using linear approximation")
	metrics.TransformFallbacks.Inc()
	lon, lat := approximateLV95ToWGS84(e, n)
	// The fallback has no height model; stored heights pass through in
	// their source datum.
	return Position{X: lon, Y: lat, Z: p.Z, HasZ: p.HasZ, Approximate: true}, nil
}

// viaCache resolves a point through the delta cache, computing the cell's
// reference transform on a miss. The point that fills a cell gets
// service-exact output: applying a delta at its own reference point is the
// identity.
func (t *Transformer) viaCache(ctx context.Context, e, n float64, p Position, from, to string) (Position, error) {
	cellSize := t.cache.Options().CellSize
	key := CellKey{
		From:  CodeLV95,
		To:    CodeWGS84,
		CellX: int(math.Floor(e / cellSize)),
		CellY: int(math.Floor(n / cellSize)),
	}

	d, ok := t.cache.Lookup(key, e, n, t.now())
	if !ok || (p.HasZ && !d.HasOffset) {
		v, err, _ := t.flights.Do(key.String(), func() (any, error) {
			if d, ok := t.cache.Lookup(key, e, n, t.now()); ok && (!p.HasZ || d.HasOffset) {
				return d, nil
			}
			d, terr := t.reference(ctx, e, n, p, from, to)
			if terr != nil {
				return nil, terr
			}
			t.cache.Store(key, d)
			return d, nil
		})
		if err != nil {
			return Position{}, err
		}
		d = v.(HeightDelta)

		// A flight started by a heightless point cannot provide an
		// offset; upgrade the cell with a full reference.
		if p.HasZ && !d.HasOffset {
			full, terr := t.reference(ctx, e, n, p, from, to)
			if terr != nil {
				return Position{}, terr
			}
			t.cache.Store(key, full)
			d = full
		}
	}
	return applyDelta(d, e, n, p), nil
}

// reference transforms one point exactly through the service and packages
// the result as a cacheable delta anchored at that point.
func (t *Transformer) reference(ctx context.Context, e, n float64, p Position, from, to string) (HeightDelta, error) {
	alt := 0.0
	if p.HasZ {
		besselZ, err := t.client.LHN95ToBessel(ctx, e, n, p.Z)
		if err != nil {
			return HeightDelta{}, &TransformError{
				Leg: "lhn95tobessel", From: from, To: to, Input: p, Err: err,
			}
		}
		alt = besselZ
	}
	lon, lat, ellH, err := t.client.LV95ToWGS84(ctx, e, n, alt)
	if err != nil {
		return HeightDelta{}, &TransformError{
			Leg: "lv95towgs84", From: from, To: to, Input: p, Err: err,
		}
	}

	d := HeightDelta{
		RefE: e, RefN: n,
		RefLon: lon, RefLat: lat,
		Created: t.now(),
		Radius:  t.cache.Options().Radius,
	}
	if p.HasZ {
		d.HeightOffset = ellH - p.Z
		d.HasOffset = true
	}
	return d, nil
}

// applyDelta shifts a point by a cached delta. Heights gain the reference
// offset; heightless points stay heightless.
func applyDelta(d HeightDelta, e, n float64, p Position) Position {
	lon, lat := d.Apply(e, n)
	out := Position{X: lon, Y: lat, Approximate: p.Approximate}
	if p.HasZ {
		out.Z = p.Z + d.HeightOffset
		out.HasZ = true
	}
	return out
}

// wgs84ToSwiss is the reverse direction. The service contract is
// forward-only, so this leg always uses the labeled approximation; heights
// pass through unchanged because no reverse levelling path exists.
func (t *Transformer) wgs84ToSwiss(mid Position, toSys System) Position {
	e, n := approximateWGS84ToLV95(mid.X, mid.Y)
	metrics.TransformFallbacks.Inc()
	return Position{
		X: e - toSys.ShiftE,
		Y: n - toSys.ShiftN,
		Z: mid.Z, HasZ: mid.HasZ,
		Approximate: true,
	}
}

func approximateLV95ToWGS84(e, n float64) (lon, lat float64) {
	lon = anchorLon + (e-anchorE)*lonDegreesPerMeter
	lat = anchorLat + (n-anchorN)*latDegreesPerMeter
	return lon, lat
}

func approximateWGS84ToLV95(lon, lat float64) (e, n float64) {
	e = anchorE + (lon-anchorLon)/lonDegreesPerMeter
	n = anchorN + (lat-anchorLat)/latDegreesPerMeter
	return e, n
}
