package dxf

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/twpayne/go-geom"

	"github.com/geowerk/geoloader/pkg/geo"
)

// doc builds a DXF stream from alternating code/value lines.
func doc(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// entitiesDoc wraps entity pairs in the minimal section scaffolding.
func entitiesDoc(lines ...string) string {
	all := append([]string{"0", "SECTION", "2", "ENTITIES"}, lines...)
	all = append(all, "0", "ENDSEC", "0", "EOF")
	return doc(all...)
}

func TestParseCircle(t *testing.T) {
	input := entitiesDoc(
		"0", "CIRCLE",
		"5", "2A",
		"8", "shapes",
		"10", "0.0",
		"20", "0.0",
		"30", "0.0",
		"40", "10.0",
	)

	res, err := Parse(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Features) != 1 {
		t.Fatalf("got %d features, want 1", len(res.Features))
	}
	f := res.Features[0]
	if f.ID != "2A" || f.Layer != "shapes" {
		t.Errorf("feature identity = (%q, %q), want (2A, shapes)", f.ID, f.Layer)
	}

	poly, ok := f.Geom.(*geom.Polygon)
	if !ok {
		t.Fatalf("geometry is %T, want *geom.Polygon", f.Geom)
	}
	ring := poly.LinearRing(0)
	if got := ring.NumCoords(); got != 33 {
		t.Fatalf("ring has %d positions, want 33", got)
	}

	first := ring.Coord(0)
	last := ring.Coord(32)
	want := []float64{10, 0, 0}
	for i := 0; i < 3; i++ {
		if first[i] != want[i] {
			t.Errorf("first position[%d] = %v, want %v", i, first[i], want[i])
		}
		if last[i] != first[i] {
			t.Errorf("last position[%d] = %v, want exact copy of first (%v)", i, last[i], first[i])
		}
	}
}

func TestParseCircleWithoutHeight(t *testing.T) {
	input := entitiesDoc(
		"0", "CIRCLE",
		"10", "5.0",
		"20", "5.0",
		"40", "2.5",
	)

	res, err := Parse(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Features) != 1 {
		t.Fatalf("got %d features, want 1", len(res.Features))
	}
	if got := res.Features[0].Geom.Layout(); got != geom.XY {
		t.Errorf("layout = %v, want XY when no height was supplied", got)
	}
}

func TestParseInvalidGroupValue(t *testing.T) {
	// Group code 70 must carry an integer. The bad entity is skipped with a
	// warning naming the code; the following entity still parses.
	input := entitiesDoc(
		"0", "LWPOLYLINE",
		"8", "bad",
		"70", "abc",
		"10", "0", "20", "0",
		"10", "1", "20", "1",
		"0", "POINT",
		"8", "good",
		"10", "3.0",
		"20", "4.0",
	)

	res, err := Parse(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Features) != 1 {
		t.Fatalf("got %d features, want 1 (bad entity skipped)", len(res.Features))
	}
	if res.Features[0].Layer != "good" {
		t.Errorf("surviving feature layer = %q, want %q", res.Features[0].Layer, "good")
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(res.Warnings), res.Warnings)
	}
	w := res.Warnings[0]
	if w.Code != 70 {
		t.Errorf("warning code = %d, want 70", w.Code)
	}
	if w.Entity != "LWPOLYLINE" {
		t.Errorf("warning entity = %q, want LWPOLYLINE", w.Entity)
	}
}

func TestParseEntities(t *testing.T) {
	tests := []struct {
		name        string
		description string
		lines       []string
		wantType    any
		check       func(t *testing.T, f *geo.Feature)
	}{
		{
			name:        "line",
			description: "LINE becomes a two-position line string",
			lines: []string{
				"0", "LINE",
				"10", "0", "20", "0",
				"11", "3", "21", "4",
			},
			wantType: (*geom.LineString)(nil),
			check: func(t *testing.T, f *geo.Feature) {
				ls := f.Geom.(*geom.LineString)
				if got := ls.NumCoords(); got != 2 {
					t.Errorf("line has %d positions, want 2", got)
				}
			},
		},
		{
			name:        "open lwpolyline",
			description: "unclosed LWPOLYLINE stays a line string",
			lines: []string{
				"0", "LWPOLYLINE",
				"70", "0",
				"10", "0", "20", "0",
				"10", "1", "20", "0",
				"10", "1", "20", "1",
			},
			wantType: (*geom.LineString)(nil),
		},
		{
			name:        "closed lwpolyline",
			description: "closed flag (70 bit 1) promotes the run to a polygon ring",
			lines: []string{
				"0", "LWPOLYLINE",
				"70", "1",
				"10", "0", "20", "0",
				"10", "4", "20", "0",
				"10", "4", "20", "4",
				"10", "0", "20", "4",
			},
			wantType: (*geom.Polygon)(nil),
			check: func(t *testing.T, f *geo.Feature) {
				ring := f.Geom.(*geom.Polygon).LinearRing(0)
				if got := ring.NumCoords(); got != 5 {
					t.Errorf("ring has %d positions, want 5 (closing vertex appended)", got)
				}
				first, last := ring.Coord(0), ring.Coord(ring.NumCoords()-1)
				if first[0] != last[0] || first[1] != last[1] {
					t.Errorf("ring not closed: first %v, last %v", first, last)
				}
			},
		},
		{
			name:        "polyline with vertex records",
			description: "POLYLINE gathers VERTEX sub-records until SEQEND",
			lines: []string{
				"0", "POLYLINE",
				"70", "1",
				"0", "VERTEX", "10", "0", "20", "0",
				"0", "VERTEX", "10", "2", "20", "0",
				"0", "VERTEX", "10", "2", "20", "2",
				"0", "SEQEND",
			},
			wantType: (*geom.Polygon)(nil),
		},
		{
			name:        "arc quarter turn",
			description: "ARC angles are degrees; a 0..90 arc ends at the top of the circle",
			lines: []string{
				"0", "ARC",
				"10", "0", "20", "0",
				"40", "5",
				"50", "0",
				"51", "90",
			},
			wantType: (*geom.LineString)(nil),
			check: func(t *testing.T, f *geo.Feature) {
				ls := f.Geom.(*geom.LineString)
				if got := ls.NumCoords(); got != 33 {
					t.Fatalf("arc has %d positions, want 33", got)
				}
				first, last := ls.Coord(0), ls.Coord(32)
				if math.Abs(first[0]-5) > 1e-9 || math.Abs(first[1]) > 1e-9 {
					t.Errorf("arc start = %v, want (5, 0)", first)
				}
				if math.Abs(last[0]) > 1e-9 || math.Abs(last[1]-5) > 1e-9 {
					t.Errorf("arc end = %v, want (0, 5)", last)
				}
			},
		},
		{
			name:        "arc wrapping zero",
			description: "an arc whose end angle is numerically behind its start wraps through 360",
			lines: []string{
				"0", "ARC",
				"10", "0", "20", "0",
				"40", "1",
				"50", "270",
				"51", "90",
			},
			wantType: (*geom.LineString)(nil),
			check: func(t *testing.T, f *geo.Feature) {
				ls := f.Geom.(*geom.LineString)
				last := ls.Coord(ls.NumCoords() - 1)
				if math.Abs(last[0]) > 1e-9 || math.Abs(last[1]-1) > 1e-9 {
					t.Errorf("wrapped arc end = %v, want (0, 1)", last)
				}
			},
		},
		{
			name:        "solid corner order",
			description: "SOLID swaps corners 3 and 4; decoding must unswap to avoid a bowtie",
			lines: []string{
				"0", "SOLID",
				"10", "0", "20", "0",
				"11", "2", "21", "0",
				"12", "0", "22", "2",
				"13", "2", "23", "2",
			},
			wantType: (*geom.Polygon)(nil),
			check: func(t *testing.T, f *geo.Feature) {
				ring := f.Geom.(*geom.Polygon).LinearRing(0)
				// Drawing order 1,2,4,3 walks the square perimeter.
				want := [][]float64{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
				if ring.NumCoords() != len(want) {
					t.Fatalf("ring has %d positions, want %d", ring.NumCoords(), len(want))
				}
				for i, w := range want {
					c := ring.Coord(i)
					if c[0] != w[0] || c[1] != w[1] {
						t.Errorf("position %d = %v, want %v", i, c, w)
					}
				}
			},
		},
		{
			name:        "text carries content",
			description: "TEXT reduces to its anchor point with the string as a property",
			lines: []string{
				"0", "TEXT",
				"10", "1", "20", "2",
				"1", "Bahnhofstrasse",
			},
			wantType: (*geom.Point)(nil),
			check: func(t *testing.T, f *geo.Feature) {
				v, _ := f.Property("text")
				if got, _ := v.(string); got != "Bahnhofstrasse" {
					t.Errorf("text property = %q, want Bahnhofstrasse", got)
				}
			},
		},
		{
			name:        "mtext joins chunks",
			description: "MTEXT splits long text over code-3 chunks before the code-1 tail",
			lines: []string{
				"0", "MTEXT",
				"10", "0", "20", "0",
				"3", "Hello ",
				"3", "wide ",
				"1", "world",
			},
			wantType: (*geom.Point)(nil),
			check: func(t *testing.T, f *geo.Feature) {
				v, _ := f.Property("text")
				if got, _ := v.(string); got != "Hello wide world" {
					t.Errorf("text property = %q, want joined chunks", got)
				}
			},
		},
		{
			name:        "insert keeps block name",
			description: "block references reduce to their insertion point",
			lines: []string{
				"0", "INSERT",
				"2", "TREE",
				"10", "7", "20", "8",
			},
			wantType: (*geom.Point)(nil),
			check: func(t *testing.T, f *geo.Feature) {
				v, _ := f.Property("block")
				if got, _ := v.(string); got != "TREE" {
					t.Errorf("block property = %q, want TREE", got)
				}
			},
		},
		{
			name:        "spline uses fit points",
			description: "reduced fidelity: fit points joined by straight segments",
			lines: []string{
				"0", "SPLINE",
				"70", "0",
				"10", "0", "20", "0",
				"10", "5", "20", "5",
				"11", "0", "21", "0",
				"11", "1", "21", "2",
				"11", "2", "21", "0",
			},
			wantType: (*geom.LineString)(nil),
			check: func(t *testing.T, f *geo.Feature) {
				ls := f.Geom.(*geom.LineString)
				if got := ls.NumCoords(); got != 3 {
					t.Errorf("spline has %d positions, want 3 fit points", got)
				}
			},
		},
		{
			name:        "3dface triangle",
			description: "a 3DFACE with a repeated last corner is a triangle",
			lines: []string{
				"0", "3DFACE",
				"10", "0", "20", "0", "30", "1",
				"11", "1", "21", "0", "31", "1",
				"12", "1", "22", "1", "32", "1",
				"13", "1", "23", "1", "33", "1",
			},
			wantType: (*geom.Polygon)(nil),
			check: func(t *testing.T, f *geo.Feature) {
				if got := f.Geom.Layout(); got != geom.XYZ {
					t.Errorf("layout = %v, want XYZ", got)
				}
				ring := f.Geom.(*geom.Polygon).LinearRing(0)
				if got := ring.NumCoords(); got != 4 {
					t.Errorf("ring has %d positions, want 4 (triangle)", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(strings.NewReader(entitiesDoc(tt.lines...)), Options{})
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(res.Warnings) != 0 {
				t.Fatalf("unexpected warnings: %v", res.Warnings)
			}
			if len(res.Features) != 1 {
				t.Fatalf("got %d features, want 1", len(res.Features))
			}
			f := res.Features[0]
			switch tt.wantType.(type) {
			case *geom.Point:
				if _, ok := f.Geom.(*geom.Point); !ok {
					t.Fatalf("geometry is %T, want *geom.Point", f.Geom)
				}
			case *geom.LineString:
				if _, ok := f.Geom.(*geom.LineString); !ok {
					t.Fatalf("geometry is %T, want *geom.LineString", f.Geom)
				}
			case *geom.Polygon:
				if _, ok := f.Geom.(*geom.Polygon); !ok {
					t.Fatalf("geometry is %T, want *geom.Polygon", f.Geom)
				}
			}
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestParseDegenerateEntities(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{
			name: "circle with zero radius",
			lines: []string{
				"0", "CIRCLE",
				"10", "0", "20", "0",
				"40", "0",
			},
		},
		{
			name: "single vertex polyline",
			lines: []string{
				"0", "LWPOLYLINE",
				"10", "1", "20", "1",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(strings.NewReader(entitiesDoc(tt.lines...)), Options{})
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(res.Features) != 0 {
				t.Errorf("got %d features, want 0", len(res.Features))
			}
			if len(res.Warnings) != 1 {
				t.Errorf("got %d warnings, want 1", len(res.Warnings))
			}
		})
	}
}

func TestParseUnknownEntitySkipped(t *testing.T) {
	input := entitiesDoc(
		"0", "VIEWPORT",
		"10", "0", "20", "0",
		"0", "POINT",
		"10", "1", "20", "1",
	)
	res, err := Parse(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Features) != 1 {
		t.Errorf("got %d features, want 1", len(res.Features))
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unknown entity types are not warnings, got %v", res.Warnings)
	}
}

func TestParseStructuralErrors(t *testing.T) {
	tests := []struct {
		name        string
		description string
		input       string
	}{
		{
			name:        "empty input",
			description: "no pairs at all",
			input:       "",
		},
		{
			name:        "no entities section",
			description: "header only, EOF before ENTITIES",
			input: doc(
				"0", "SECTION", "2", "HEADER", "0", "ENDSEC",
				"0", "EOF",
			),
		},
		{
			name:        "not a dxf stream",
			description: "first line is not a group code",
			input:       "PK\x03\x04 this is a zip archive\n",
		},
		{
			name:        "code without value",
			description: "stream ends between a code line and its value line",
			input:       "0\nSECTION\n2\nHEADER\n9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), Options{})
			if err == nil {
				t.Fatal("Parse() succeeded, want structural error")
			}
			var ferr *geo.FormatError
			if !errors.As(err, &ferr) {
				t.Fatalf("error is %T, want *geo.FormatError", err)
			}
			if ferr.Format != "dxf" {
				t.Errorf("error format = %q, want dxf", ferr.Format)
			}
		})
	}
}

func TestLayerFilter(t *testing.T) {
	input := entitiesDoc(
		"0", "POINT", "8", "roads", "10", "1", "20", "1",
		"0", "POINT", "8", "rivers", "10", "2", "20", "2",
		"0", "POINT", "8", "roads", "10", "3", "20", "3",
	)
	res, err := Parse(strings.NewReader(input), Options{Layers: []string{"rivers"}})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Features) != 1 {
		t.Fatalf("got %d features, want 1", len(res.Features))
	}
	if res.Features[0].Layer != "rivers" {
		t.Errorf("feature layer = %q, want rivers", res.Features[0].Layer)
	}
	// Filtering hides features, not the layer inventory.
	if len(res.Layers) != 2 {
		t.Errorf("layers = %v, want both roads and rivers listed", res.Layers)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("filtered entities are not warnings, got %v", res.Warnings)
	}
}

func TestHeaderAndTables(t *testing.T) {
	input := doc(
		"0", "SECTION", "2", "HEADER",
		"9", "$ACADVER", "1", "AC1027",
		"9", "$EXTMIN", "10", "2600000.0", "20", "1199000.0",
		"9", "$EXTMAX", "10", "2601000.0", "20", "1200000.0",
		"0", "ENDSEC",
		"0", "SECTION", "2", "TABLES",
		"0", "TABLE", "2", "LAYER",
		"0", "LAYER", "2", "buildings",
		"0", "LAYER", "2", "parcels",
		"0", "ENDTAB",
		"0", "ENDSEC",
		"0", "SECTION", "2", "ENTITIES",
		"0", "POINT", "8", "buildings", "10", "2600500", "20", "1199500",
		"0", "ENDSEC",
		"0", "EOF",
	)
	res, err := Parse(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if res.Extents.IsEmpty() {
		t.Fatal("extents empty, want header $EXTMIN/$EXTMAX")
	}
	if res.Extents.MinX != 2600000 || res.Extents.MaxY != 1200000 {
		t.Errorf("extents = %v, want 2600000..2601000 / 1199000..1200000", res.Extents)
	}
	want := []string{"buildings", "parcels"}
	if len(res.Layers) != len(want) {
		t.Fatalf("layers = %v, want %v", res.Layers, want)
	}
	for i, l := range want {
		if res.Layers[i] != l {
			t.Errorf("layers[%d] = %q, want %q", i, res.Layers[i], l)
		}
	}
}

func TestScannerStreaming(t *testing.T) {
	input := entitiesDoc(
		"0", "POINT", "10", "1", "20", "1",
		"0", "POINT", "10", "2", "20", "2",
	)
	sc, err := NewScanner(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}
	var count int
	for {
		_, err := sc.Next()
		if err != nil {
			break
		}
		count++
	}
	if count != 2 {
		t.Errorf("streamed %d features, want 2", count)
	}
	// Next after exhaustion stays terminal.
	if _, err := sc.Next(); err == nil {
		t.Error("Next() after end succeeded, want io.EOF")
	}
}
