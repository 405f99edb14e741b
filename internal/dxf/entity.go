package dxf

// entity.go - typed DXF entities and their conversions to model geometry

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/twpayne/go-geom"
)

// circleSegments is the tessellation density for curved entities. A circle
// becomes a 33-position ring (32 segments plus the closing point).
const circleSegments = 32

// entity is one parsed ENTITIES-section record. Every variant converts
// itself to the common geometry model; a variant without a conversion does
// not satisfy the interface, so the dispatch is exhaustive by construction.
type entity interface {
	dxfType() string
	common() *entityCommon
	// geometry converts the entity. A nil error with a nil geometry never
	// happens: degenerate entities return an error and are skipped with a
	// Warning by the caller.
	geometry() (geom.T, error)
	// properties returns entity-specific attributes carried onto the
	// feature (text content, block name, pattern).
	properties() map[string]any
}

// entityCommon holds the fields shared by all entities.
type entityCommon struct {
	handle string // code 5
	layer  string // code 8
}

func (c *entityCommon) common() *entityCommon { return c }

// vec3 is one coordinate group (10/20/30 style). hasZ records whether the
// source supplied a height; the distinction survives into the layout.
type vec3 struct {
	x, y, z float64
	hasZ    bool
}

// pointAt extracts the coordinate group anchored at base (x=base, y=base+10,
// z=base+20).
func pointAt(t tagList, base int) (vec3, bool) {
	x, okX := t.float(base)
	y, okY := t.float(base + 10)
	if !okX || !okY {
		return vec3{}, false
	}
	v := vec3{x: x, y: y}
	if z, ok := t.float(base + 20); ok {
		v.z = z
		v.hasZ = true
	}
	return v, true
}

// orderedVertices walks the tags in file order collecting repeated
// coordinate groups anchored at base (x=base, y=base+10, z=base+20).
// LWPOLYLINE stores its vertices as repeated 10/20 groups; SPLINE fit
// points repeat at base 11.
func orderedVertices(t tagList, base int) []vec3 {
	var verts []vec3
	cur := -1
	for _, tg := range t {
		switch tg.code {
		case base:
			v, err := parseFloat(tg.value)
			if err != nil {
				continue
			}
			verts = append(verts, vec3{x: v})
			cur = len(verts) - 1
		case base + 10:
			if cur >= 0 {
				if v, err := parseFloat(tg.value); err == nil {
					verts[cur].y = v
				}
			}
		case base + 20:
			if cur >= 0 {
				if v, err := parseFloat(tg.value); err == nil {
					verts[cur].z = v
					verts[cur].hasZ = true
				}
			}
		}
	}
	return verts
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }

// buildCoords flattens vertices into go-geom flat coordinates. The layout is
// XYZ when any vertex carries a height; vertices without one sit at z=0 in
// that case.
func buildCoords(verts []vec3) ([]float64, geom.Layout) {
	hasZ := false
	for _, v := range verts {
		if v.hasZ {
			hasZ = true
			break
		}
	}
	if hasZ {
		flat := make([]float64, 0, len(verts)*3)
		for _, v := range verts {
			flat = append(flat, v.x, v.y, v.z)
		}
		return flat, geom.XYZ
	}
	flat := make([]float64, 0, len(verts)*2)
	for _, v := range verts {
		flat = append(flat, v.x, v.y)
	}
	return flat, geom.XY
}

func buildPoint(v vec3) geom.T {
	flat, layout := buildCoords([]vec3{v})
	return geom.NewPointFlat(layout, flat)
}

func buildLineString(verts []vec3) (geom.T, error) {
	if len(verts) < 2 {
		return nil, errors.New("needs at least 2 vertices")
	}
	flat, layout := buildCoords(verts)
	return geom.NewLineStringFlat(layout, flat), nil
}

// buildRing closes the vertex run and builds a single-ring polygon. The
// closing vertex is appended only when the run is not already closed, and
// the closed ring must still have at least 4 positions.
func buildRing(verts []vec3) (geom.T, error) {
	if len(verts) < 3 {
		return nil, errors.New("ring needs at least 3 distinct vertices")
	}
	first, last := verts[0], verts[len(verts)-1]
	if first.x != last.x || first.y != last.y {
		verts = append(verts, first)
	}
	if len(verts) < 4 {
		return nil, errors.New("ring collapsed below 4 positions")
	}
	flat, layout := buildCoords(verts)
	return geom.NewPolygonFlat(layout, flat, []int{len(flat)}), nil
}

// --- POINT ---

type pointEntity struct {
	entityCommon
	loc vec3
}

func (e *pointEntity) dxfType() string { return "POINT" }
func (e *pointEntity) properties() map[string]any { return nil }
func (e *pointEntity) geometry() (geom.T, error) {
	return buildPoint(e.loc), nil
}

// --- LINE ---

type lineEntity struct {
	entityCommon
	from, to vec3
}

func (e *lineEntity) dxfType() string { return "LINE" }
func (e *lineEntity) properties() map[string]any { return nil }
func (e *lineEntity) geometry() (geom.T, error) {
	return buildLineString([]vec3{e.from, e.to})
}

// --- POLYLINE (with VERTEX/SEQEND sub-records) ---

type polylineEntity struct {
	entityCommon
	closed bool
	verts  []vec3
}

func (e *polylineEntity) dxfType() string { return "POLYLINE" }
func (e *polylineEntity) properties() map[string]any { return nil }
func (e *polylineEntity) geometry() (geom.T, error) {
	if e.closed {
		return buildRing(e.verts)
	}
	return buildLineString(e.verts)
}

// --- LWPOLYLINE ---

type lwPolylineEntity struct {
	entityCommon
	closed bool
	verts  []vec3
}

func (e *lwPolylineEntity) dxfType() string { return "LWPOLYLINE" }
func (e *lwPolylineEntity) properties() map[string]any { return nil }
func (e *lwPolylineEntity) geometry() (geom.T, error) {
	if e.closed {
		return buildRing(e.verts)
	}
	return buildLineString(e.verts)
}

// --- CIRCLE ---

type circleEntity struct {
	entityCommon
	center vec3
	radius float64
}

func (e *circleEntity) dxfType() string { return "CIRCLE" }
func (e *circleEntity) properties() map[string]any { return nil }
func (e *circleEntity) geometry() (geom.T, error) {
	if e.radius <= 0 {
		return nil, fmt.Errorf("radius %g is not positive", e.radius)
	}
	verts := make([]vec3, 0, circleSegments+1)
	for i := 0; i < circleSegments; i++ {
		angle := 2 * math.Pi * float64(i) / circleSegments
		verts = append(verts, vec3{
			x:    e.center.x + e.radius*math.Cos(angle),
			y:    e.center.y + e.radius*math.Sin(angle),
			z:    e.center.z,
			hasZ: e.center.hasZ,
		})
	}
	// Close with an exact copy of the first vertex so the ring is closed
	// bit-for-bit, not merely within tolerance.
	verts = append(verts, verts[0])
	flat, layout := buildCoords(verts)
	return geom.NewPolygonFlat(layout, flat, []int{len(flat)}), nil
}

// --- ARC ---

type arcEntity struct {
	entityCommon
	center             vec3
	radius             float64
	startDeg, endDeg   float64
}

func (e *arcEntity) dxfType() string { return "ARC" }
func (e *arcEntity) properties() map[string]any { return nil }
func (e *arcEntity) geometry() (geom.T, error) {
	if e.radius <= 0 {
		return nil, fmt.Errorf("radius %g is not positive", e.radius)
	}
	// Angles arrive in degrees. Arcs run counter-clockwise from start to
	// end; wrap the span when the end angle is numerically behind the start.
	span := e.endDeg - e.startDeg
	for span <= 0 {
		span += 360
	}
	start := degToRad(e.startDeg)
	spanRad := degToRad(span)
	verts := make([]vec3, 0, circleSegments+1)
	for i := 0; i <= circleSegments; i++ {
		angle := start + spanRad*float64(i)/circleSegments
		verts = append(verts, vec3{
			x:    e.center.x + e.radius*math.Cos(angle),
			y:    e.center.y + e.radius*math.Sin(angle),
			z:    e.center.z,
			hasZ: e.center.hasZ,
		})
	}
	return buildLineString(verts)
}

// --- ELLIPSE ---

type ellipseEntity struct {
	entityCommon
	center     vec3
	majorAxis  vec3 // endpoint of the major axis, relative to the center
	ratio      float64
	startParam float64 // radians, unlike ARC
	endParam   float64
}

func (e *ellipseEntity) dxfType() string { return "ELLIPSE" }
func (e *ellipseEntity) properties() map[string]any { return nil }
func (e *ellipseEntity) geometry() (geom.T, error) {
	if e.ratio <= 0 {
		return nil, fmt.Errorf("axis ratio %g is not positive", e.ratio)
	}
	span := e.endParam - e.startParam
	for span <= 0 {
		span += 2 * math.Pi
	}
	full := math.Abs(span-2*math.Pi) < 1e-9
	// Minor axis direction is the major axis rotated 90° and scaled.
	minorX := -e.majorAxis.y * e.ratio
	minorY := e.majorAxis.x * e.ratio
	verts := make([]vec3, 0, circleSegments+1)
	steps := circleSegments
	for i := 0; i <= steps; i++ {
		t := e.startParam + span*float64(i)/float64(steps)
		cosT, sinT := math.Cos(t), math.Sin(t)
		verts = append(verts, vec3{
			x:    e.center.x + e.majorAxis.x*cosT + minorX*sinT,
			y:    e.center.y + e.majorAxis.y*cosT + minorY*sinT,
			z:    e.center.z,
			hasZ: e.center.hasZ,
		})
	}
	if full {
		// The last sample equals the first within rounding; replace it with
		// an exact copy so the ring closes cleanly.
		verts[len(verts)-1] = verts[0]
		flat, layout := buildCoords(verts)
		return geom.NewPolygonFlat(layout, flat, []int{len(flat)}), nil
	}
	return buildLineString(verts)
}

// --- TEXT ---

type textEntity struct {
	entityCommon
	loc  vec3
	text string
}

func (e *textEntity) dxfType() string { return "TEXT" }
func (e *textEntity) properties() map[string]any {
	return map[string]any{"text": e.text}
}
func (e *textEntity) geometry() (geom.T, error) {
	return buildPoint(e.loc), nil
}

// --- MTEXT ---

type mtextEntity struct {
	entityCommon
	loc  vec3
	text string
}

func (e *mtextEntity) dxfType() string { return "MTEXT" }
func (e *mtextEntity) properties() map[string]any {
	return map[string]any{"text": e.text}
}
func (e *mtextEntity) geometry() (geom.T, error) {
	return buildPoint(e.loc), nil
}

// --- INSERT ---
// Block references carry only their insertion point; expanding the block
// definition with its transform hierarchy is out of scope.

type insertEntity struct {
	entityCommon
	loc   vec3
	block string
}

func (e *insertEntity) dxfType() string { return "INSERT" }
func (e *insertEntity) properties() map[string]any {
	return map[string]any{"block": e.block}
}
func (e *insertEntity) geometry() (geom.T, error) {
	return buildPoint(e.loc), nil
}

// --- DIMENSION ---

type dimensionEntity struct {
	entityCommon
	loc  vec3
	text string
}

func (e *dimensionEntity) dxfType() string { return "DIMENSION" }
func (e *dimensionEntity) properties() map[string]any {
	if e.text == "" {
		return nil
	}
	return map[string]any{"text": e.text}
}
func (e *dimensionEntity) geometry() (geom.T, error) {
	return buildPoint(e.loc), nil
}

// --- HATCH ---
// Hatch boundaries are reduced to the elevation point; pattern geometry is
// out of scope.

type hatchEntity struct {
	entityCommon
	loc     vec3
	pattern string
}

func (e *hatchEntity) dxfType() string { return "HATCH" }
func (e *hatchEntity) properties() map[string]any {
	return map[string]any{"pattern": e.pattern}
}
func (e *hatchEntity) geometry() (geom.T, error) {
	return buildPoint(e.loc), nil
}

// --- 3DFACE ---

type face3DEntity struct {
	entityCommon
	corners []vec3
}

func (e *face3DEntity) dxfType() string { return "3DFACE" }
func (e *face3DEntity) properties() map[string]any { return nil }
func (e *face3DEntity) geometry() (geom.T, error) {
	verts := dedupeConsecutive(e.corners)
	return buildRing(verts)
}

// --- SOLID ---

type solidEntity struct {
	entityCommon
	corners []vec3
}

func (e *solidEntity) dxfType() string { return "SOLID" }
func (e *solidEntity) properties() map[string]any { return nil }
func (e *solidEntity) geometry() (geom.T, error) {
	verts := e.corners
	// SOLID stores its third and fourth corners swapped relative to the
	// drawing order; walking them verbatim yields a bowtie.
	if len(verts) == 4 {
		verts = []vec3{verts[0], verts[1], verts[3], verts[2]}
	}
	verts = dedupeConsecutive(verts)
	return buildRing(verts)
}

// --- SPLINE ---
// Reduced fidelity: fit points (or control points) joined by straight
// segments. Basis evaluation is out of scope.

type splineEntity struct {
	entityCommon
	closed  bool
	control []vec3
	fit     []vec3
}

func (e *splineEntity) dxfType() string { return "SPLINE" }
func (e *splineEntity) properties() map[string]any { return nil }
func (e *splineEntity) geometry() (geom.T, error) {
	verts := e.fit
	if len(verts) < 2 {
		verts = e.control
	}
	if e.closed {
		return buildRing(verts)
	}
	return buildLineString(verts)
}

func dedupeConsecutive(verts []vec3) []vec3 {
	if len(verts) < 2 {
		return verts
	}
	out := verts[:1]
	for _, v := range verts[1:] {
		last := out[len(out)-1]
		if v.x == last.x && v.y == last.y && v.z == last.z {
			continue
		}
		out = append(out, v)
	}
	return out
}
