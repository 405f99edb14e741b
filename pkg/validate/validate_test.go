package validate

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/twpayne/go-geom"
)

// closed appends the closing vertex to an open coordinate list.
func closed(stride int, open ...float64) []float64 {
	out := append([]float64(nil), open...)
	return append(out, open[:stride]...)
}

func polygonXY(rings ...[]float64) *geom.Polygon {
	var flat []float64
	var ends []int
	for _, r := range rings {
		flat = append(flat, r...)
		ends = append(ends, len(flat))
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}

// bowtie is the canonical self-crossing ring: its two diagonally opposed
// lobes meet at (5,5).
func bowtie() *geom.Polygon {
	return polygonXY(closed(2, 0, 0, 10, 10, 10, 0, 0, 10))
}

func assertClosedSimpleRings(t *testing.T, g geom.T) {
	t.Helper()
	var check func(flat []float64, ends []int, prev int, stride int) int
	check = func(flat []float64, ends []int, prev, stride int) int {
		for _, end := range ends {
			ring := flat[prev:end]
			n := len(ring) / stride
			if n < 4 {
				t.Errorf("ring has only %d vertices", n)
			}
			if ring[0] != ring[len(ring)-stride] || ring[1] != ring[len(ring)-stride+1] {
				t.Errorf("ring not closed: starts (%v, %v), ends (%v, %v)",
					ring[0], ring[1], ring[len(ring)-stride], ring[len(ring)-stride+1])
			}
			open := openRing(ring, stride)
			if cr, ov := ringCrossings(open, stride); len(cr) > 0 || ov {
				t.Errorf("ring still self-intersects: %d crossings, overlap %v", len(cr), ov)
			}
			if repeatedVertex(open, stride) {
				t.Error("ring still has a repeated vertex")
			}
			prev = end
		}
		return prev
	}
	switch p := g.(type) {
	case *geom.Polygon:
		check(p.FlatCoords(), p.Ends(), 0, p.Stride())
	case *geom.MultiPolygon:
		prev := 0
		for _, ends := range p.Endss() {
			prev = check(p.FlatCoords(), ends, prev, p.Stride())
		}
	default:
		t.Fatalf("unexpected geometry %T", g)
	}
}

func totalArea(t *testing.T, g geom.T) float64 {
	t.Helper()
	var sum float64
	switch p := g.(type) {
	case *geom.Polygon:
		sum = math.Abs(ringArea(openRing(p.FlatCoords()[:p.Ends()[0]], p.Stride()), p.Stride()))
	case *geom.MultiPolygon:
		prev := 0
		for _, ends := range p.Endss() {
			sum += math.Abs(ringArea(openRing(p.FlatCoords()[prev:ends[0]], p.Stride()), p.Stride()))
			prev = ends[len(ends)-1]
		}
	default:
		t.Fatalf("unexpected geometry %T", g)
	}
	return sum
}

func TestNonPolygonalPassThrough(t *testing.T) {
	e := NewEngine(DefaultEngineOptions())
	tests := []struct {
		name string
		g    geom.T
	}{
		{"point", geom.NewPointFlat(geom.XY, []float64{1, 2})},
		{"line string", geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 1, 2, 0})},
		{"multi point", geom.NewMultiPointFlat(geom.XY, []float64{0, 0, 1, 1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.ValidateAndRepair(tt.g)
			if res.Err != nil {
				t.Fatalf("Err = %v", res.Err)
			}
			if res.Geom != tt.g {
				t.Error("non-polygonal geometry was rebuilt")
			}
			if res.WasCleaned || res.WasRepaired {
				t.Errorf("flags = (%v, %v), want both false", res.WasCleaned, res.WasRepaired)
			}
		})
	}
}

func TestCleanDropsNearDuplicates(t *testing.T) {
	// (5.005, 0.005) sits ~7mm from (5, 0), inside the 1cm tolerance.
	in := polygonXY(closed(2, 0, 0, 5, 0, 5.005, 0.005, 5, 5, 0, 5))
	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(in)
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if !res.WasCleaned || res.WasRepaired {
		t.Errorf("flags = (cleaned %v, repaired %v), want (true, false)", res.WasCleaned, res.WasRepaired)
	}
	out := res.Geom.(*geom.Polygon)
	want := closed(2, 0, 0, 5, 0, 5, 5, 0, 5)
	if !reflect.DeepEqual(out.FlatCoords(), want) {
		t.Errorf("coords = %v, want %v", out.FlatCoords(), want)
	}
	assertClosedSimpleRings(t, res.Geom)
}

func TestCleanWrapAroundAgainstOrigin(t *testing.T) {
	// The vertex before the closure crowds the ring origin.
	in := polygonXY(closed(2, 0, 0, 5, 0, 5, 5, 0, 5, 0.004, 0.003))
	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(in)
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if !res.WasCleaned {
		t.Error("wrap-around duplicate not cleaned")
	}
	out := res.Geom.(*geom.Polygon)
	if got := len(out.FlatCoords()) / 2; got != 5 {
		t.Errorf("ring has %d vertices, want 5", got)
	}
	assertClosedSimpleRings(t, res.Geom)
}

func TestValidPolygonUntouched(t *testing.T) {
	outer := closed(2, 0, 0, 10, 0, 10, 10, 0, 10)
	hole := closed(2, 2, 2, 2, 4, 4, 4, 4, 2)
	in := polygonXY(outer, hole)

	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(in)
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if res.WasCleaned || res.WasRepaired {
		t.Errorf("flags = (%v, %v), want both false", res.WasCleaned, res.WasRepaired)
	}
	out := res.Geom.(*geom.Polygon)
	if !reflect.DeepEqual(out.FlatCoords(), in.FlatCoords()) {
		t.Errorf("coords changed:\n got %v\nwant %v", out.FlatCoords(), in.FlatCoords())
	}
	if !reflect.DeepEqual(out.Ends(), in.Ends()) {
		t.Errorf("ends changed: got %v, want %v", out.Ends(), in.Ends())
	}
}

func TestBowtieRepair(t *testing.T) {
	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(bowtie())
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if !res.WasRepaired {
		t.Error("bowtie not flagged as repaired")
	}
	mp, ok := res.Geom.(*geom.MultiPolygon)
	if !ok {
		t.Fatalf("geometry is %T, want *geom.MultiPolygon of the two lobes", res.Geom)
	}
	if mp.NumPolygons() != 2 {
		t.Fatalf("got %d lobes, want 2", mp.NumPolygons())
	}
	assertClosedSimpleRings(t, res.Geom)
	if a := totalArea(t, res.Geom); math.Abs(a-50) > 1e-9 {
		t.Errorf("total lobe area = %v, want 50", a)
	}
}

func TestRepairIdempotent(t *testing.T) {
	e := NewEngine(DefaultEngineOptions())
	first := e.ValidateAndRepair(bowtie())
	if first.Err != nil {
		t.Fatalf("first pass Err = %v", first.Err)
	}
	second := e.ValidateAndRepair(first.Geom)
	if second.Err != nil {
		t.Fatalf("second pass Err = %v", second.Err)
	}
	if second.WasCleaned || second.WasRepaired {
		t.Errorf("second pass flags = (%v, %v), want both false", second.WasCleaned, second.WasRepaired)
	}
	got := second.Geom.(*geom.MultiPolygon)
	want := first.Geom.(*geom.MultiPolygon)
	if !reflect.DeepEqual(got.FlatCoords(), want.FlatCoords()) {
		t.Error("second pass changed the coordinates")
	}
	if !reflect.DeepEqual(got.Endss(), want.Endss()) {
		t.Error("second pass changed the ring structure")
	}
}

func TestFigureEightPinch(t *testing.T) {
	// Two squares meeting at the origin, traced as one ring.
	in := polygonXY(closed(2,
		0, 0, 2, 0, 2, 2, 0, 2,
		0, 0, -2, 0, -2, -2, 0, -2,
	))
	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(in)
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if !res.WasRepaired {
		t.Error("pinched ring not flagged as repaired")
	}
	mp, ok := res.Geom.(*geom.MultiPolygon)
	if !ok {
		t.Fatalf("geometry is %T, want *geom.MultiPolygon", res.Geom)
	}
	if mp.NumPolygons() != 2 {
		t.Fatalf("got %d loops, want 2", mp.NumPolygons())
	}
	assertClosedSimpleRings(t, res.Geom)
	if a := totalArea(t, res.Geom); math.Abs(a-8) > 1e-9 {
		t.Errorf("total area = %v, want 8", a)
	}
}

func TestHoleAssignmentAfterSplit(t *testing.T) {
	// The outer bowtie splits into two lobes; the hole sits in the lobe
	// left of the pinch point.
	outer := closed(2, 0, 0, 10, 10, 10, 0, 0, 10)
	hole := closed(2, 0.4, 4.6, 0.4, 5.4, 0.6, 5.4, 0.6, 4.6)
	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(polygonXY(outer, hole))
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	mp, ok := res.Geom.(*geom.MultiPolygon)
	if !ok {
		t.Fatalf("geometry is %T, want *geom.MultiPolygon", res.Geom)
	}
	if mp.NumPolygons() != 2 {
		t.Fatalf("got %d lobes, want 2", mp.NumPolygons())
	}
	withHole := 0
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		if p.NumLinearRings() == 2 {
			withHole++
			open := openRing(p.FlatCoords()[:p.Ends()[0]], p.Stride())
			if !ringContains(open, p.Stride(), 0.5, 5) {
				t.Error("hole assigned to the wrong lobe")
			}
		}
	}
	if withHole != 1 {
		t.Errorf("%d lobes carry the hole, want exactly 1", withHole)
	}
}

func TestOuterRingCollapse(t *testing.T) {
	in := polygonXY(closed(2, 0, 0, 0.005, 0.005, 0.002, 0.008))
	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(in)
	if res.Err == nil {
		t.Fatal("collapsed outer ring produced a geometry")
	}
	if res.Geom != nil {
		t.Error("failed repair returned a geometry alongside the error")
	}
	if !res.WasCleaned {
		t.Error("collapse during cleaning not flagged as cleaned")
	}
	if !strings.Contains(res.Err.Error(), "collapsed") {
		t.Errorf("error %q does not describe the collapse", res.Err)
	}
}

func TestComplexityCeilingSkipsCheck(t *testing.T) {
	in := polygonXY(subdividedBowtie(300))
	vertices := len(in.FlatCoords()) / 2

	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(in)
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if res.WasRepaired || res.WasCleaned {
		t.Errorf("flags = (cleaned %v, repaired %v), want both false above the ceiling",
			res.WasCleaned, res.WasRepaired)
	}
	out := res.Geom.(*geom.Polygon)
	if got := len(out.FlatCoords()) / 2; got != vertices {
		t.Errorf("vertex count changed above the ceiling: %d -> %d", vertices, got)
	}

	// Raising the ceiling turns the check back on and repairs the ring.
	opts := DefaultEngineOptions()
	opts.MaxVertices = 5000
	res = NewEngine(opts).ValidateAndRepair(in)
	if res.Err != nil {
		t.Fatalf("Err below ceiling = %v", res.Err)
	}
	if !res.WasRepaired {
		t.Error("self-intersection not repaired below the ceiling")
	}
	if _, ok := res.Geom.(*geom.MultiPolygon); !ok {
		t.Errorf("geometry is %T, want the split lobes", res.Geom)
	}
	assertClosedSimpleRings(t, res.Geom)
}

// subdividedBowtie builds the bowtie ring with each edge split into parts
// segments, so the crossing lands exactly on a vertex.
func subdividedBowtie(parts int) []float64 {
	corners := [][2]float64{{0, 0}, {10, 10}, {10, 0}, {0, 10}}
	var flat []float64
	for i := range corners {
		a := corners[i]
		b := corners[(i+1)%len(corners)]
		for k := 0; k < parts; k++ {
			t := float64(k) / float64(parts)
			flat = append(flat, a[0]+(b[0]-a[0])*t, a[1]+(b[1]-a[1])*t)
		}
	}
	return append(flat, corners[0][0], corners[0][1])
}

func TestCleaningDisabled(t *testing.T) {
	in := polygonXY(closed(2, 0, 0, 5, 0, 5.005, 0.005, 5, 5, 0, 5))
	opts := DefaultEngineOptions()
	opts.Tolerance = -1
	res := NewEngine(opts).ValidateAndRepair(in)
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if res.WasCleaned {
		t.Error("cleaning ran despite being disabled")
	}
	out := res.Geom.(*geom.Polygon)
	if !reflect.DeepEqual(out.FlatCoords(), in.FlatCoords()) {
		t.Error("coordinates changed with cleaning disabled")
	}
}

func TestZPreservedThroughCleaning(t *testing.T) {
	flat := []float64{
		0, 0, 100,
		5, 0, 110,
		5.005, 0.005, 111, // dropped: within tolerance of the previous vertex
		5, 5, 120,
		0, 5, 130,
		0, 0, 100,
	}
	in := geom.NewPolygonFlat(geom.XYZ, flat, []int{len(flat)})
	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(in)
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if !res.WasCleaned {
		t.Error("near-duplicate vertex not cleaned")
	}
	out := res.Geom.(*geom.Polygon)
	if out.Layout() != geom.XYZ {
		t.Fatalf("layout = %v, want XYZ", out.Layout())
	}
	want := []float64{0, 0, 100, 5, 0, 110, 5, 5, 120, 0, 5, 130, 0, 0, 100}
	if !reflect.DeepEqual(out.FlatCoords(), want) {
		t.Errorf("coords = %v, want %v", out.FlatCoords(), want)
	}
}

func TestZInterpolatedAtCrossing(t *testing.T) {
	flat := []float64{
		0, 0, 0,
		10, 10, 10,
		10, 0, 20,
		0, 10, 40,
		0, 0, 0,
	}
	in := geom.NewPolygonFlat(geom.XYZ, flat, []int{len(flat)})
	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(in)
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	mp := res.Geom.(*geom.MultiPolygon)
	if mp.Layout() != geom.XYZ {
		t.Fatalf("layout = %v, want XYZ", mp.Layout())
	}
	// Original vertices keep their heights; the inserted pinch vertex
	// carries a height interpolated on one of the crossing segments.
	wantZ := map[[2]float64]float64{
		{10, 10}: 10,
		{10, 0}:  20,
		{0, 10}:  40,
		{0, 0}:   0,
	}
	coords := mp.FlatCoords()
	for i := 0; i+3 <= len(coords); i += 3 {
		if z, ok := wantZ[[2]float64{coords[i], coords[i+1]}]; ok {
			if coords[i+2] != z {
				t.Errorf("vertex (%v, %v) z = %v, want %v", coords[i], coords[i+1], coords[i+2], z)
			}
		} else if coords[i] == 5 && coords[i+1] == 5 {
			if coords[i+2] != 5 && coords[i+2] != 30 {
				t.Errorf("pinch vertex z = %v, want an interpolated 5 or 30", coords[i+2])
			}
		}
	}
}

func TestMultiPolygonMemberRepair(t *testing.T) {
	square := closed(2, 20, 20, 30, 20, 30, 30, 20, 30)
	cross := closed(2, 0, 0, 10, 10, 10, 0, 0, 10)
	var flat []float64
	var endss [][]int
	flat = append(flat, square...)
	endss = append(endss, []int{len(flat)})
	flat = append(flat, cross...)
	endss = append(endss, []int{len(flat)})
	in := geom.NewMultiPolygonFlat(geom.XY, flat, endss)

	res := NewEngine(DefaultEngineOptions()).ValidateAndRepair(in)
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	if !res.WasRepaired {
		t.Error("multipolygon with a bowtie member not flagged as repaired")
	}
	mp := res.Geom.(*geom.MultiPolygon)
	if mp.NumPolygons() != 3 {
		t.Fatalf("got %d members, want the square plus two lobes", mp.NumPolygons())
	}
	assertClosedSimpleRings(t, res.Geom)
	if a := totalArea(t, res.Geom); math.Abs(a-150) > 1e-9 {
		t.Errorf("total area = %v, want 150", a)
	}
}
