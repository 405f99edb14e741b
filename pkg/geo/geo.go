// Package geo holds the format-independent feature model shared by every
// stage of the loading pipeline: parsers produce geo.Feature values, the
// coordinate manager rewrites their coordinates, and the preview generator
// groups them into categorized collections.
//
// Geometry payloads are go-geom values (geom.T). Two layouts appear in
// practice: geom.XY for flat data and geom.XYZ when the source carries
// heights. Height absence is expressed by the layout, never by a zero Z.
package geo

import (
	"fmt"
	"sort"

	"github.com/twpayne/go-geom"
)

// Kind is the coarse geometry family used for preview categorization.
type Kind int

const (
	KindUnknown Kind = iota
	KindPoint
	KindLine
	KindPolygon
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLine:
		return "line"
	case KindPolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// KindOf classifies a geometry into its family. Every geometry type the
// parsers emit is matched explicitly; anything else is KindUnknown and the
// caller decides whether to warn or drop.
func KindOf(g geom.T) Kind {
	switch g.(type) {
	case *geom.Point, *geom.MultiPoint:
		return KindPoint
	case *geom.LineString, *geom.MultiLineString:
		return KindLine
	case *geom.Polygon, *geom.MultiPolygon:
		return KindPolygon
	default:
		return KindUnknown
	}
}

// Feature is one geometric entity with its source attributes.
//
// Properties may gain provenance fields during coordinate post-processing
// (for example the source system identifier or the degraded-transform
// marker); a feature is only ever mutated by one pipeline stage at a time.
type Feature struct {
	// ID is a stable identifier when the source format provides one
	// (DXF handle, shapefile record number, row number). May be empty.
	ID string

	// Layer is the source layer or table the feature came from.
	Layer string

	// Geom is the geometry payload. Never nil for a feature emitted by a
	// parser.
	Geom geom.T

	// Properties holds the source attributes. Keys are unique; values are
	// scalars or strings.
	Properties map[string]any

	// BBox is an optional precomputed bounding box. When present the
	// streaming manager extends running bounds from it instead of scanning
	// the coordinates.
	BBox *Bounds
}

// Bounds returns the feature's bounding box, computing it from the geometry
// when no precomputed box is attached.
func (f *Feature) Bounds() Bounds {
	if f.BBox != nil {
		return *f.BBox
	}
	b := NewBounds()
	if f.Geom != nil {
		b.ExtendGeom(f.Geom)
	}
	return b
}

// Kind returns the feature's geometry family.
func (f *Feature) Kind() Kind {
	if f.Geom == nil {
		return KindUnknown
	}
	return KindOf(f.Geom)
}

// Property returns a property value by key.
func (f *Feature) Property(key string) (any, bool) {
	v, ok := f.Properties[key]
	return v, ok
}

// SetProperty sets a property, allocating the map on first use.
func (f *Feature) SetProperty(key string, value any) {
	if f.Properties == nil {
		f.Properties = make(map[string]any)
	}
	f.Properties[key] = value
}

// FeatureCollection is an ordered set of features sharing one coordinate
// system, together with the source layers seen while parsing.
type FeatureCollection struct {
	Features []*Feature

	// CRS identifies the coordinate system of all coordinates in the
	// collection (authority code, e.g. "EPSG:2056").
	CRS string

	// Layers lists the distinct source layers, sorted.
	Layers []string

	index *FeatureIndex
}

// NewFeatureCollection builds a collection and derives its layer list from
// the features.
func NewFeatureCollection(features []*Feature, crs string) *FeatureCollection {
	seen := make(map[string]struct{})
	for _, f := range features {
		if f.Layer != "" {
			seen[f.Layer] = struct{}{}
		}
	}
	layers := make([]string, 0, len(seen))
	for l := range seen {
		layers = append(layers, l)
	}
	sort.Strings(layers)
	return &FeatureCollection{Features: features, CRS: crs, Layers: layers}
}

// Len returns the number of features.
func (c *FeatureCollection) Len() int { return len(c.Features) }

// Bounds returns the union of all feature bounds. Features without a finite
// coordinate contribute nothing; an all-empty collection yields the empty
// sentinel.
func (c *FeatureCollection) Bounds() Bounds {
	b := NewBounds()
	for _, f := range c.Features {
		b = b.Union(f.Bounds())
	}
	return b
}

// BuildIndex builds the R-tree over the current feature slice. Call it once
// after the collection is final; FeaturesInBounds falls back to a linear scan
// until then.
func (c *FeatureCollection) BuildIndex() {
	c.index = NewFeatureIndex(c.Features)
}

// FeaturesInBounds returns the features whose bounding boxes intersect the
// viewport. With a built index the query is an R-tree search; without one it
// degrades to a linear scan so callers never have to care.
func (c *FeatureCollection) FeaturesInBounds(viewport Bounds) []*Feature {
	if c.index != nil {
		return c.index.Search(viewport)
	}
	var out []*Feature
	for _, f := range c.Features {
		if f.Bounds().Intersects(viewport) {
			out = append(out, f)
		}
	}
	return out
}

// CloneGeom deep-copies a geometry by rebuilding it from copied flat
// coordinates. The repair and simplification stages use it so an original
// geometry can be retained when processing fails.
func CloneGeom(g geom.T) geom.T {
	switch g := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(g.Layout(), copyFloats(g.FlatCoords()))
	case *geom.LineString:
		return geom.NewLineStringFlat(g.Layout(), copyFloats(g.FlatCoords()))
	case *geom.Polygon:
		return geom.NewPolygonFlat(g.Layout(), copyFloats(g.FlatCoords()), copyInts(g.Ends()))
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(g.Layout(), copyFloats(g.FlatCoords()))
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(g.Layout(), copyFloats(g.FlatCoords()), copyInts(g.Ends()))
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(g.Layout(), copyFloats(g.FlatCoords()), copyIntss(g.Endss()))
	default:
		return g
	}
}

func copyFloats(s []float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

func copyInts(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}

func copyIntss(s [][]int) [][]int {
	out := make([][]int, len(s))
	for i, inner := range s {
		out[i] = copyInts(inner)
	}
	return out
}

// EstimateSize returns a rough in-memory byte count for a feature. The
// streaming manager uses it for its memory ceiling; precision does not
// matter, stability does.
func EstimateSize(f *Feature) int64 {
	size := int64(128) // struct, headers, slack
	size += int64(len(f.ID) + len(f.Layer))
	if f.Geom != nil {
		size += int64(len(f.Geom.FlatCoords()) * 8)
		size += int64(len(f.Geom.Ends()) * 8)
	}
	for k, v := range f.Properties {
		size += int64(len(k)) + 16
		if s, ok := v.(string); ok {
			size += int64(len(s))
		} else {
			size += 8
		}
	}
	return size
}

// Warning is a per-entity diagnostic: something in the input was skipped or
// degraded without aborting the parse. Warnings identify the offending
// entity by handle/layer/type so users can find it in the source file.
type Warning struct {
	Format  string // source format ("dxf", "shapefile", "xyz")
	Entity  string // entity or shape type ("CIRCLE", "PolygonZ", "row")
	Handle  string // DXF handle, record number or row number
	Layer   string // source layer when known
	Code    int    // DXF group code when the warning concerns one, else 0
	Message string
}

// String formats the warning for logs and diagnostics output.
func (w Warning) String() string {
	s := w.Format
	if w.Entity != "" {
		s += " " + w.Entity
	}
	if w.Handle != "" {
		s += " [" + w.Handle + "]"
	}
	if w.Layer != "" {
		s += " layer " + w.Layer
	}
	if w.Code != 0 {
		s += fmt.Sprintf(" code %d", w.Code)
	}
	return s + ": " + w.Message
}

// FormatError is the fatal-structural error class: the file's signature,
// header or required companion is unusable, and parsing aborted before any
// feature was produced.
type FormatError struct {
	Format string // "dxf", "shapefile", "xyz"
	Reason string
}

func (e *FormatError) Error() string {
	return e.Format + ": " + e.Reason
}
