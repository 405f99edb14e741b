package preview

// simplify.go - Douglas-Peucker line simplification over flat coordinates

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Simplify reduces linear and polygonal geometry with the Douglas-Peucker
// algorithm. Distances are measured in the XY plane; extra ordinates
// travel with their kept vertices. Endpoints are anchored, ring closure is
// preserved, and a ring that would drop below a triangle is returned
// unsimplified. Points and non-positive tolerances pass through.
func Simplify(g geom.T, tolerance float64) geom.T {
	if g == nil || tolerance <= 0 {
		return g
	}
	switch t := g.(type) {
	case *geom.LineString:
		return geom.NewLineStringFlat(t.Layout(), simplifyPath(t.FlatCoords(), t.Stride(), tolerance))
	case *geom.MultiLineString:
		var flat []float64
		var ends []int
		prev := 0
		for _, end := range t.Ends() {
			flat = append(flat, simplifyPath(t.FlatCoords()[prev:end], t.Stride(), tolerance)...)
			ends = append(ends, len(flat))
			prev = end
		}
		return geom.NewMultiLineStringFlat(t.Layout(), flat, ends)
	case *geom.Polygon:
		var flat []float64
		var ends []int
		prev := 0
		for _, end := range t.Ends() {
			flat = append(flat, simplifyRing(t.FlatCoords()[prev:end], t.Stride(), tolerance)...)
			ends = append(ends, len(flat))
			prev = end
		}
		return geom.NewPolygonFlat(t.Layout(), flat, ends)
	case *geom.MultiPolygon:
		var flat []float64
		var endss [][]int
		prev := 0
		for _, pends := range t.Endss() {
			var ends []int
			for _, end := range pends {
				flat = append(flat, simplifyRing(t.FlatCoords()[prev:end], t.Stride(), tolerance)...)
				ends = append(ends, len(flat))
				prev = end
			}
			endss = append(endss, ends)
		}
		return geom.NewMultiPolygonFlat(t.Layout(), flat, endss)
	default:
		return g
	}
}

// simplifyRing simplifies a closed ring. The shared first/last vertex
// anchors the walk, which keeps the output closed; the degenerate
// zero-length baseline of the initial span resolves to point distance and
// splits the ring at its farthest vertex.
func simplifyRing(flat []float64, stride int, tol float64) []float64 {
	out := simplifyPath(flat, stride, tol)
	if len(out)/stride < 4 {
		// Below a closed triangle the ring is degenerate; keep the input.
		return append([]float64(nil), flat...)
	}
	return out
}

func simplifyPath(flat []float64, stride int, tol float64) []float64 {
	n := len(flat) / stride
	if n <= 2 {
		return append([]float64(nil), flat...)
	}
	keep := make([]bool, n)
	keep[0], keep[n-1] = true, true

	type span struct{ a, b int }
	stack := []span{{0, n - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s.b-s.a < 2 {
			continue
		}
		ax, ay := flat[s.a*stride], flat[s.a*stride+1]
		bx, by := flat[s.b*stride], flat[s.b*stride+1]
		maxD, maxI := tol, -1
		for i := s.a + 1; i < s.b; i++ {
			if d := perpDistance(flat[i*stride], flat[i*stride+1], ax, ay, bx, by); d > maxD {
				maxD, maxI = d, i
			}
		}
		if maxI >= 0 {
			keep[maxI] = true
			stack = append(stack, span{s.a, maxI}, span{maxI, s.b})
		}
	}

	out := make([]float64, 0, len(flat))
	for i := 0; i < n; i++ {
		if keep[i] {
			out = append(out, flat[i*stride:(i+1)*stride]...)
		}
	}
	return out
}

// perpDistance is the distance from p to the line through a and b, or to
// a itself when the baseline has zero length.
func perpDistance(px, py, ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	if dx == 0 && dy == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	return math.Abs(dy*px-dx*py+bx*ay-by*ax) / math.Hypot(dx, dy)
}
