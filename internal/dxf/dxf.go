// Package dxf reads DXF drawings (the group-code/value text format) and
// converts their entities into model features.
//
// Parsing is tolerant per entity: a malformed value, a degenerate shape or
// an unconvertible entity is skipped with a Warning and the scan continues.
// Only a broken file structure (no recognizable sections, garbled group
// codes, truncation) aborts the whole parse.
package dxf

import (
	"fmt"
	"io"
	"sort"

	"github.com/geowerk/geoloader/pkg/geo"
)

// defaultLayer is the DXF layer every entity belongs to when code 8 is
// absent.
const defaultLayer = "0"

// Options configures a parse.
type Options struct {
	// Layers is an allow-list of layer names. When non-empty, entities on
	// other layers are dropped without a Warning (they were filtered, not
	// skipped).
	Layers []string
}

// Result is the eager parse output: every convertible entity, the distinct
// layers seen, and the per-entity diagnostics.
type Result struct {
	Features []*geo.Feature
	Layers   []string
	Warnings []geo.Warning

	// Extents is the drawing extent from the HEADER section ($EXTMIN /
	// $EXTMAX) when present, else the empty sentinel.
	Extents geo.Bounds
}

// Parse reads the whole stream and collects the scanner's output.
func Parse(r io.Reader, opts Options) (*Result, error) {
	sc, err := NewScanner(r, opts)
	if err != nil {
		return nil, err
	}
	var features []*geo.Feature
	for {
		f, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return &Result{
		Features: features,
		Layers:   sc.Layers(),
		Warnings: sc.Warnings(),
		Extents:  sc.Extents(),
	}, nil
}

// Scanner reads a DXF stream entity by entity. NewScanner consumes the
// sections before ENTITIES (HEADER extents, TABLES layer names); Next then
// yields one feature per convertible entity until io.EOF.
type Scanner struct {
	r          *pairReader
	layerAllow map[string]struct{}
	layersSeen map[string]struct{}
	warnings   []geo.Warning
	extents    geo.Bounds
	done       bool
}

// NewScanner validates the file structure up to the ENTITIES section. A
// stream without that structure is rejected as a whole.
func NewScanner(r io.Reader, opts Options) (*Scanner, error) {
	s := &Scanner{
		r:          newPairReader(r),
		layersSeen: make(map[string]struct{}),
		extents:    geo.NewBounds(),
	}
	if len(opts.Layers) > 0 {
		s.layerAllow = make(map[string]struct{}, len(opts.Layers))
		for _, l := range opts.Layers {
			s.layerAllow[l] = struct{}{}
		}
	}

	sawSection := false
	for {
		p, err := s.r.next()
		if err == io.EOF {
			if !sawSection {
				return nil, &geo.FormatError{Format: "dxf", Reason: "empty or truncated input, no SECTION marker"}
			}
			return nil, &geo.FormatError{Format: "dxf", Reason: "no ENTITIES section"}
		}
		if err != nil {
			return nil, &geo.FormatError{Format: "dxf", Reason: "unrecognized structure: " + err.Error()}
		}
		if p.code == 999 {
			continue // comment
		}
		if p.code != 0 {
			if !sawSection {
				return nil, &geo.FormatError{Format: "dxf", Reason: fmt.Sprintf("expected a SECTION marker, found group code %d", p.code)}
			}
			continue
		}
		switch p.value {
		case "SECTION":
			sawSection = true
			name, err := s.r.next()
			if err != nil || name.code != 2 {
				return nil, &geo.FormatError{Format: "dxf", Reason: "SECTION without a name"}
			}
			switch name.value {
			case "HEADER":
				if err := s.scanHeader(); err != nil {
					return nil, err
				}
			case "TABLES":
				if err := s.scanTables(); err != nil {
					return nil, err
				}
			case "ENTITIES":
				return s, nil
			default:
				if err := s.skipSection(); err != nil {
					return nil, err
				}
			}
		case "EOF":
			return nil, &geo.FormatError{Format: "dxf", Reason: "no ENTITIES section"}
		}
	}
}

// scanHeader reads HEADER variables up to ENDSEC, keeping the drawing
// extents ($EXTMIN/$EXTMAX).
func (s *Scanner) scanHeader() error {
	var current string
	var x, y float64
	var haveX, haveY bool
	flush := func() {
		if (current == "$EXTMIN" || current == "$EXTMAX") && haveX && haveY {
			s.extents.ExtendXY(x, y)
		}
		haveX, haveY = false, false
	}
	for {
		p, err := s.r.next()
		if err != nil {
			return &geo.FormatError{Format: "dxf", Reason: "truncated HEADER section"}
		}
		switch p.code {
		case 0:
			if p.value == "ENDSEC" {
				flush()
				return nil
			}
		case 9:
			flush()
			current = p.value
		case 10:
			if v, err := parseFloat(p.value); err == nil {
				x, haveX = v, true
			}
		case 20:
			if v, err := parseFloat(p.value); err == nil {
				y, haveY = v, true
			}
		}
	}
}

// scanTables reads the TABLES section up to ENDSEC, collecting layer names
// from LAYER table records.
func (s *Scanner) scanTables() error {
	inLayerRecord := false
	for {
		p, err := s.r.next()
		if err != nil {
			return &geo.FormatError{Format: "dxf", Reason: "truncated TABLES section"}
		}
		switch p.code {
		case 0:
			if p.value == "ENDSEC" {
				return nil
			}
			inLayerRecord = p.value == "LAYER"
		case 2:
			if inLayerRecord && p.value != "" {
				s.layersSeen[p.value] = struct{}{}
			}
		}
	}
}

// skipSection consumes pairs up to ENDSEC.
func (s *Scanner) skipSection() error {
	for {
		p, err := s.r.next()
		if err != nil {
			return &geo.FormatError{Format: "dxf", Reason: "truncated section"}
		}
		if p.code == 0 && p.value == "ENDSEC" {
			return nil
		}
	}
}

// Next returns the next convertible entity as a feature, io.EOF when the
// ENTITIES section ends.
func (s *Scanner) Next() (*geo.Feature, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		p, err := s.r.next()
		if err == io.EOF {
			// Missing ENDSEC/EOF markers: tolerate, but leave a trace.
			s.warn(geo.Warning{Format: "dxf", Message: "unterminated ENTITIES section"})
			s.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, &geo.FormatError{Format: "dxf", Reason: err.Error()}
		}
		if p.code != 0 {
			continue // stray pair between entities
		}
		if p.value == "ENDSEC" || p.value == "EOF" {
			s.done = true
			return nil, io.EOF
		}

		f, ok := s.readEntity(p.value)
		if ok {
			return f, nil
		}
	}
}

// readEntity collects one entity's tags (plus VERTEX/SEQEND sub-records for
// POLYLINE), converts it, and reports whether a feature came out. Skips are
// recorded as Warnings inline.
func (s *Scanner) readEntity(name string) (*geo.Feature, bool) {
	tags, badCode, badErr := s.collectTags()

	var polyVerts []vec3
	if name == "POLYLINE" {
		polyVerts = s.collectPolylineVertices()
	}

	handle := tags.str(5, "")
	layer := tags.str(8, defaultLayer)

	if badErr != nil {
		s.warn(geo.Warning{
			Format: "dxf", Entity: name, Handle: handle, Layer: layer,
			Code: badCode, Message: badErr.Error(),
		})
		return nil, false
	}

	e := buildEntity(name, tags, polyVerts)
	if e == nil {
		return nil, false // entity type not convertible; skipped silently
	}

	s.layersSeen[layer] = struct{}{}
	if s.layerAllow != nil {
		if _, ok := s.layerAllow[layer]; !ok {
			return nil, false
		}
	}

	g, err := e.geometry()
	if err != nil {
		s.warn(geo.Warning{
			Format: "dxf", Entity: name, Handle: handle, Layer: layer,
			Message: err.Error(),
		})
		return nil, false
	}

	props := map[string]any{"entity": name}
	for k, v := range e.properties() {
		props[k] = v
	}
	return &geo.Feature{
		ID:         handle,
		Layer:      layer,
		Geom:       g,
		Properties: props,
	}, true
}

// collectTags gathers pairs until the next code-0 marker, validating each
// value against the group-code table. The first violation is remembered;
// the rest of the entity is still consumed so the scan stays aligned.
func (s *Scanner) collectTags() (tagList, int, error) {
	var tags tagList
	var badCode int
	var badErr error
	for {
		p, err := s.r.peek()
		if err != nil || p.code == 0 {
			return tags, badCode, badErr
		}
		p, _ = s.r.next()
		if badErr == nil {
			if err := validateValue(p.code, p.value); err != nil {
				badCode, badErr = p.code, err
				continue
			}
		}
		tags = append(tags, tag{code: p.code, value: p.value})
	}
}

// collectPolylineVertices consumes the VERTEX sub-records of a POLYLINE up
// to SEQEND. collectTags leaves the reader on a code-0 marker, so every
// peek here sees one.
func (s *Scanner) collectPolylineVertices() []vec3 {
	var verts []vec3
	for {
		p, err := s.r.peek()
		if err != nil {
			return verts
		}
		switch p.value {
		case "VERTEX":
			s.r.next()
			tags, _, _ := s.collectTags()
			if v, ok := pointAt(tags, 10); ok {
				verts = append(verts, v)
			}
		case "SEQEND":
			s.r.next()
			s.collectTags()
			return verts
		default:
			// Next entity begins without SEQEND; stop here.
			return verts
		}
	}
}

func (s *Scanner) warn(w geo.Warning) {
	s.warnings = append(s.warnings, w)
}

// Warnings returns the diagnostics accumulated so far.
func (s *Scanner) Warnings() []geo.Warning { return s.warnings }

// Extents returns the HEADER drawing extents, empty when absent.
func (s *Scanner) Extents() geo.Bounds { return s.extents }

// Layers returns the distinct layer names seen in TABLES and on entities,
// sorted.
func (s *Scanner) Layers() []string {
	layers := make([]string, 0, len(s.layersSeen))
	for l := range s.layersSeen {
		layers = append(layers, l)
	}
	sort.Strings(layers)
	return layers
}

// buildEntity constructs the typed variant for an entity name. Returns nil
// for entity types outside the convertible set; those are not an error.
func buildEntity(name string, tags tagList, polyVerts []vec3) entity {
	com := entityCommon{
		handle: tags.str(5, ""),
		layer:  tags.str(8, defaultLayer),
	}
	switch name {
	case "POINT":
		loc, ok := pointAt(tags, 10)
		if !ok {
			loc = vec3{}
		}
		return &pointEntity{entityCommon: com, loc: loc}
	case "LINE":
		from, _ := pointAt(tags, 10)
		to, _ := pointAt(tags, 11)
		return &lineEntity{entityCommon: com, from: from, to: to}
	case "POLYLINE":
		return &polylineEntity{
			entityCommon: com,
			closed:       tags.intOr(70, 0)&1 != 0,
			verts:        polyVerts,
		}
	case "LWPOLYLINE":
		verts := orderedVertices(tags, 10)
		if elev, ok := tags.float(38); ok {
			for i := range verts {
				verts[i].z = elev
				verts[i].hasZ = true
			}
		}
		return &lwPolylineEntity{
			entityCommon: com,
			closed:       tags.intOr(70, 0)&1 != 0,
			verts:        verts,
		}
	case "CIRCLE":
		center, _ := pointAt(tags, 10)
		return &circleEntity{
			entityCommon: com,
			center:       center,
			radius:       tags.floatOr(40, 0),
		}
	case "ARC":
		center, _ := pointAt(tags, 10)
		return &arcEntity{
			entityCommon: com,
			center:       center,
			radius:       tags.floatOr(40, 0),
			startDeg:     tags.floatOr(50, 0),
			endDeg:       tags.floatOr(51, 360),
		}
	case "ELLIPSE":
		center, _ := pointAt(tags, 10)
		major, _ := pointAt(tags, 11)
		return &ellipseEntity{
			entityCommon: com,
			center:       center,
			majorAxis:    major,
			ratio:        tags.floatOr(40, 0),
			startParam:   tags.floatOr(41, 0),
			endParam:     tags.floatOr(42, 2*3.141592653589793),
		}
	case "TEXT":
		loc, _ := pointAt(tags, 10)
		return &textEntity{entityCommon: com, loc: loc, text: tags.str(1, "")}
	case "MTEXT":
		loc, _ := pointAt(tags, 10)
		text := ""
		for _, chunk := range tags.strs(3) {
			text += chunk
		}
		text += tags.str(1, "")
		return &mtextEntity{entityCommon: com, loc: loc, text: text}
	case "INSERT":
		loc, _ := pointAt(tags, 10)
		return &insertEntity{entityCommon: com, loc: loc, block: tags.str(2, "")}
	case "DIMENSION":
		loc, _ := pointAt(tags, 10)
		return &dimensionEntity{entityCommon: com, loc: loc, text: tags.str(1, "")}
	case "HATCH":
		loc, _ := pointAt(tags, 10)
		return &hatchEntity{entityCommon: com, loc: loc, pattern: tags.str(2, "")}
	case "3DFACE":
		return &face3DEntity{entityCommon: com, corners: cornerRun(tags)}
	case "SOLID":
		return &solidEntity{entityCommon: com, corners: cornerRun(tags)}
	case "SPLINE":
		return &splineEntity{
			entityCommon: com,
			closed:       tags.intOr(70, 0)&1 != 0,
			control:      orderedVertices(tags, 10),
			fit:          orderedVertices(tags, 11),
		}
	default:
		return nil
	}
}

// cornerRun extracts the up-to-four corner groups (10/11/12/13) of 3DFACE
// and SOLID entities, in corner order.
func cornerRun(tags tagList) []vec3 {
	var corners []vec3
	for base := 10; base <= 13; base++ {
		if v, ok := pointAt(tags, base); ok {
			corners = append(corners, v)
		}
	}
	return corners
}
