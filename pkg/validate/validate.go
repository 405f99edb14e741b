// Package validate cleans and repairs polygonal geometry: tolerant vertex
// deduplication, segment self-intersection detection, and repair by noding
// rings at their crossing points and reassembling simple loops.
//
// The engine is idempotent: feeding its output back in yields the same
// geometry with both flags false. Non-polygonal geometry passes through
// untouched. A complexity ceiling bounds the quadratic intersection check
// on adversarial inputs; geometries above it are cleaned but not checked.
package validate

import (
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-geom"

	"github.com/geowerk/geoloader/internal/metrics"
)

// EngineOptions configure the validation and repair engine.
type EngineOptions struct {
	// Tolerance is the vertex deduplication distance in the working unit:
	// a vertex within it of the previously kept vertex is dropped.
	// Negative disables cleaning.
	// Default: 0.01
	Tolerance float64

	// MaxVertices is the complexity ceiling. Geometries with more vertices
	// after cleaning skip the self-intersection check entirely. Negative
	// disables the ceiling.
	// Default: 1000
	MaxVertices int
}

// DefaultEngineOptions returns engine options with defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Tolerance:   0.01,
		MaxVertices: 1000,
	}
}

// Result is the outcome of one validation pass. Geom is nil exactly when
// Err is set: the input could not be made valid, and the caller decides
// whether to keep the original.
type Result struct {
	Geom        geom.T
	WasRepaired bool
	WasCleaned  bool
	Err         error
}

// Engine validates and repairs Polygon and MultiPolygon geometry. All
// other geometry kinds pass through unchanged. An Engine is stateless and
// safe for concurrent use.
type Engine struct {
	opts EngineOptions
}

// NewEngine builds an engine. Zero-valued options fall back to defaults.
func NewEngine(opts EngineOptions) *Engine {
	def := DefaultEngineOptions()
	if opts.Tolerance == 0 {
		opts.Tolerance = def.Tolerance
	}
	if opts.MaxVertices == 0 {
		opts.MaxVertices = def.MaxVertices
	}
	return &Engine{opts: opts}
}

// ringSet is one polygon under construction: an outer ring and its holes,
// all in open form.
type ringSet struct {
	outer []float64
	holes [][]float64
}

// ValidateAndRepair cleans the geometry's rings, checks them for
// self-intersection and repairs what it can. Repair may change the
// geometry kind: a self-crossing polygon splits into a multipolygon of
// its simple lobes.
func (e *Engine) ValidateAndRepair(g geom.T) Result {
	switch p := g.(type) {
	case *geom.Polygon:
		rings, _ := copyRings(p.FlatCoords(), p.Ends(), 0)
		return e.run(p.Layout(), [][][]float64{rings}, false)
	case *geom.MultiPolygon:
		members := make([][][]float64, 0, p.NumPolygons())
		prev := 0
		for _, ends := range p.Endss() {
			var rings [][]float64
			rings, prev = copyRings(p.FlatCoords(), ends, prev)
			members = append(members, rings)
		}
		return e.run(p.Layout(), members, true)
	default:
		return Result{Geom: g}
	}
}

// copyRings slices a flat coordinate block into per-ring copies. The
// copies keep the engine from ever mutating caller geometry.
func copyRings(flat []float64, ends []int, start int) ([][]float64, int) {
	rings := make([][]float64, 0, len(ends))
	prev := start
	for _, end := range ends {
		rings = append(rings, append([]float64(nil), flat[prev:end]...))
		prev = end
	}
	return rings, prev
}

func (e *Engine) run(layout geom.Layout, input [][][]float64, multi bool) Result {
	stride := layout.Stride()
	minArea := 0.0
	if e.opts.Tolerance > 0 {
		minArea = e.opts.Tolerance * e.opts.Tolerance
	}

	type member struct {
		outer []float64
		holes [][]float64
		ccw   bool
	}

	// Phase one: open and clean every ring, dropping holes that collapse.
	cleaned := false
	total := 0
	members := make([]member, 0, len(input))
	for _, rings := range input {
		if len(rings) == 0 {
			continue
		}
		outer, dropped := cleanRing(openRing(rings[0], stride), stride, e.opts.Tolerance)
		cleaned = cleaned || dropped
		if len(outer) < 3*stride {
			return e.fail(cleaned, fmt.Errorf("outer ring collapsed to %d vertices during cleaning", len(outer)/stride))
		}
		m := member{outer: outer, ccw: ringArea(outer, stride) >= 0}
		total += len(outer) / stride
		for _, h := range rings[1:] {
			hole, hdropped := cleanRing(openRing(h, stride), stride, e.opts.Tolerance)
			cleaned = cleaned || hdropped
			if len(hole) < 3*stride {
				cleaned = true
				continue
			}
			m.holes = append(m.holes, hole)
			total += len(hole) / stride
		}
		members = append(members, m)
	}
	if len(members) == 0 {
		return e.fail(cleaned, errors.New("geometry has no rings"))
	}

	// The intersection check is quadratic in the vertex count; above the
	// ceiling the cleaned geometry is returned unchecked.
	if e.opts.MaxVertices > 0 && total > e.opts.MaxVertices {
		sets := make([]ringSet, len(members))
		for i, m := range members {
			sets[i] = ringSet{outer: m.outer, holes: m.holes}
		}
		return Result{Geom: buildGeom(layout, sets, multi), WasCleaned: cleaned}
	}

	// Phase two: detect and repair per ring.
	repaired := false
	var sets []ringSet
	for _, m := range members {
		outers, didRepair, err := e.repairRing(m.outer, stride, m.ccw, minArea)
		if err != nil {
			return e.fail(cleaned, err)
		}
		repaired = repaired || didRepair

		var holes [][]float64
		for _, h := range m.holes {
			loops, hRepaired, err := e.repairRing(h, stride, !m.ccw, minArea)
			if err != nil {
				return e.fail(cleaned, err)
			}
			repaired = repaired || hRepaired
			holes = append(holes, loops...)
		}

		sets = append(sets, assignHoles(outers, holes, stride)...)
	}

	if repaired {
		metrics.GeometriesRepaired.Inc()
	}
	return Result{
		Geom:        buildGeom(layout, sets, multi),
		WasRepaired: repaired,
		WasCleaned:  cleaned,
	}
}

// repairRing returns the ring unchanged when it is simple. Otherwise it
// nodes the ring at its crossing points, pinches the noded path into
// simple loops, filters out degenerate ones and orients survivors to the
// requested winding.
func (e *Engine) repairRing(ring []float64, stride int, wantCCW bool, minArea float64) ([][]float64, bool, error) {
	crossings, overlap := ringCrossings(ring, stride)
	if overlap {
		return nil, false, errors.New("collinear segment overlap cannot be repaired")
	}
	if len(crossings) == 0 && !repeatedVertex(ring, stride) {
		return [][]float64{ring}, false, nil
	}

	noded := nodeRing(ring, stride, crossings)
	loops := extractLoops(noded, stride)
	var keep [][]float64
	for _, lp := range loops {
		lp, _ = cleanRing(lp, stride, e.opts.Tolerance)
		if len(lp) < 3*stride {
			continue
		}
		a := ringArea(lp, stride)
		if math.Abs(a) <= minArea {
			continue
		}
		if (a >= 0) != wantCCW {
			reverseRing(lp, stride)
		}
		if cr, ov := ringCrossings(lp, stride); len(cr) > 0 || ov || repeatedVertex(lp, stride) {
			return nil, false, errors.New("ring self-intersection persists after repair")
		}
		keep = append(keep, lp)
	}
	if len(keep) == 0 {
		return nil, false, errors.New("ring collapsed during self-intersection repair")
	}
	return keep, true, nil
}

// assignHoles distributes holes over outer rings. With a single outer the
// assignment is trivial; after a split each hole goes to the smallest lobe
// containing its first vertex, and holes contained by no lobe were
// consumed by the repair.
func assignHoles(outers, holes [][]float64, stride int) []ringSet {
	if len(outers) == 1 {
		return []ringSet{{outer: outers[0], holes: holes}}
	}
	sets := make([]ringSet, len(outers))
	for i, o := range outers {
		sets[i].outer = o
	}
	for _, h := range holes {
		best := -1
		bestArea := math.Inf(1)
		for i, o := range outers {
			if !ringContains(o, stride, h[0], h[1]) {
				continue
			}
			if a := math.Abs(ringArea(o, stride)); a < bestArea {
				best, bestArea = i, a
			}
		}
		if best >= 0 {
			sets[best].holes = append(sets[best].holes, h)
		}
	}
	return sets
}

// buildGeom assembles ring sets back into geometry, closing each ring. A
// polygon input that split into several lobes comes back as a
// multipolygon.
func buildGeom(layout geom.Layout, sets []ringSet, multi bool) geom.T {
	stride := layout.Stride()
	if !multi && len(sets) == 1 {
		var flat []float64
		var ends []int
		flat, ends = appendClosed(flat, ends, sets[0], stride)
		return geom.NewPolygonFlat(layout, flat, ends)
	}
	var flat []float64
	endss := make([][]int, 0, len(sets))
	for _, s := range sets {
		var ends []int
		flat, ends = appendClosed(flat, ends, s, stride)
		endss = append(endss, ends)
	}
	return geom.NewMultiPolygonFlat(layout, flat, endss)
}

func appendClosed(flat []float64, ends []int, s ringSet, stride int) ([]float64, []int) {
	add := func(ring []float64) {
		flat = append(flat, ring...)
		flat = append(flat, ring[:stride]...)
		ends = append(ends, len(flat))
	}
	add(s.outer)
	for _, h := range s.holes {
		add(h)
	}
	return flat, ends
}

func (e *Engine) fail(cleaned bool, err error) Result {
	metrics.RepairFailures.Inc()
	return Result{WasCleaned: cleaned, Err: err}
}
