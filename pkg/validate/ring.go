package validate

// ring.go - ring-level geometry: cleaning, area, containment, crossing
// detection, noding and loop extraction. Rings are flat coordinate slices
// in open form (no duplicated closing vertex); closure is implicit.

import (
	"math"
	"sort"
)

// closeEps tolerates floating-point drift in a ring's closing vertex.
const closeEps = 1e-9

// paramEps bounds the parametric interior of a segment: intersections
// closer than this to an endpoint count as endpoint contact.
const paramEps = 1e-12

// openRing strips the duplicated closing vertex. A ring whose closure
// drifted within closeEps is snapped shut by the same drop.
func openRing(flat []float64, stride int) []float64 {
	n := len(flat) / stride
	if n < 2 {
		return flat
	}
	last := (n - 1) * stride
	if math.Hypot(flat[last]-flat[0], flat[last+1]-flat[1]) < closeEps {
		return flat[:last]
	}
	return flat
}

// cleanRing drops every vertex within tol of the previously kept vertex,
// including the wrap-around against the ring origin. A negative tolerance
// disables cleaning.
func cleanRing(open []float64, stride int, tol float64) ([]float64, bool) {
	if tol < 0 || len(open) <= stride {
		return open, false
	}
	out := append([]float64(nil), open[:stride]...)
	dropped := false
	for i := stride; i < len(open); i += stride {
		lx := out[len(out)-stride]
		ly := out[len(out)-stride+1]
		if math.Hypot(open[i]-lx, open[i+1]-ly) <= tol {
			dropped = true
			continue
		}
		out = append(out, open[i:i+stride]...)
	}
	for len(out) > stride && math.Hypot(out[len(out)-stride]-out[0], out[len(out)-stride+1]-out[1]) <= tol {
		out = out[:len(out)-stride]
		dropped = true
	}
	return out, dropped
}

// ringArea returns the signed shoelace area of an open ring. Positive is
// counter-clockwise.
func ringArea(open []float64, stride int) float64 {
	n := len(open) / stride
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += open[i*stride]*open[j*stride+1] - open[j*stride]*open[i*stride+1]
	}
	return sum / 2
}

// ringContains reports whether the point lies strictly inside the ring,
// by ray casting.
func ringContains(open []float64, stride int, x, y float64) bool {
	n := len(open) / stride
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := open[i*stride], open[i*stride+1]
		xj, yj := open[j*stride], open[j*stride+1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// reverseRing flips the vertex order in place, reversing the winding.
func reverseRing(open []float64, stride int) {
	n := len(open) / stride
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		for s := 0; s < stride; s++ {
			open[i*stride+s], open[j*stride+s] = open[j*stride+s], open[i*stride+s]
		}
	}
}

// crossing is one interior intersection between two non-adjacent ring
// segments, with its parametric position on both.
type crossing struct {
	segA, segB int
	tA, tB     float64
	x, y       float64
}

// ringCrossings finds every intersection between non-adjacent segments
// that is interior to at least one of them. Contact limited to shared
// endpoints is not reported here; it surfaces as a repeated vertex.
// Collinear overlapping segments are reported separately because noding
// cannot resolve them.
func ringCrossings(open []float64, stride int) (crossings []crossing, overlap bool) {
	n := len(open) / stride
	if n < 4 {
		return nil, false
	}
	sx := func(i int) (float64, float64) {
		return open[i*stride], open[i*stride+1]
	}
	for i := 0; i < n; i++ {
		x1, y1 := sx(i)
		x2, y2 := sx((i + 1) % n)
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			x3, y3 := sx(j)
			x4, y4 := sx((j + 1) % n)

			if math.Max(x1, x2) < math.Min(x3, x4) || math.Max(x3, x4) < math.Min(x1, x2) ||
				math.Max(y1, y2) < math.Min(y3, y4) || math.Max(y3, y4) < math.Min(y1, y2) {
				continue
			}

			d := (x2-x1)*(y4-y3) - (y2-y1)*(x4-x3)
			if d == 0 {
				if collinearOverlap(x1, y1, x2, y2, x3, y3, x4, y4) {
					overlap = true
				}
				continue
			}
			tA := ((x3-x1)*(y4-y3) - (y3-y1)*(x4-x3)) / d
			tB := ((x3-x1)*(y2-y1) - (y3-y1)*(x2-x1)) / d
			if tA < -paramEps || tA > 1+paramEps || tB < -paramEps || tB > 1+paramEps {
				continue
			}
			interiorA := tA > paramEps && tA < 1-paramEps
			interiorB := tB > paramEps && tB < 1-paramEps
			if !interiorA && !interiorB {
				continue
			}
			crossings = append(crossings, crossing{
				segA: i, segB: j,
				tA: tA, tB: tB,
				x: x1 + tA*(x2-x1), y: y1 + tA*(y2-y1),
			})
		}
	}
	return crossings, overlap
}

// collinearOverlap reports whether two parallel segments lie on the same
// line and share more than a point.
func collinearOverlap(x1, y1, x2, y2, x3, y3, x4, y4 float64) bool {
	if cross := (x3-x1)*(y2-y1) - (y3-y1)*(x2-x1); math.Abs(cross) > closeEps {
		return false
	}
	// Project on the dominant axis and intersect the intervals.
	if math.Abs(x2-x1) >= math.Abs(y2-y1) {
		lo1, hi1 := math.Min(x1, x2), math.Max(x1, x2)
		lo2, hi2 := math.Min(x3, x4), math.Max(x3, x4)
		return math.Min(hi1, hi2)-math.Max(lo1, lo2) > closeEps
	}
	lo1, hi1 := math.Min(y1, y2), math.Max(y1, y2)
	lo2, hi2 := math.Min(y3, y4), math.Max(y3, y4)
	return math.Min(hi1, hi2)-math.Max(lo1, lo2) > closeEps
}

// repeatedVertex reports whether any plan-view position occurs twice in
// the open ring.
func repeatedVertex(open []float64, stride int) bool {
	n := len(open) / stride
	seen := make(map[[2]float64]struct{}, n)
	for i := 0; i < n; i++ {
		k := [2]float64{open[i*stride], open[i*stride+1]}
		if _, ok := seen[k]; ok {
			return true
		}
		seen[k] = struct{}{}
	}
	return false
}

// nodeRing inserts each crossing point into both segments it lies on,
// producing a path where every intersection is an explicit, shared
// vertex. Extra ordinates (height, measure) are interpolated along the
// segment.
func nodeRing(open []float64, stride int, crossings []crossing) []float64 {
	n := len(open) / stride
	type insertion struct {
		t, x, y float64
	}
	bySeg := make(map[int][]insertion)
	add := func(seg int, t, x, y float64) {
		if t > paramEps && t < 1-paramEps {
			bySeg[seg] = append(bySeg[seg], insertion{t, x, y})
		}
	}
	for _, c := range crossings {
		add(c.segA, c.tA, c.x, c.y)
		add(c.segB, c.tB, c.x, c.y)
	}

	out := make([]float64, 0, len(open)+len(crossings)*2*stride)
	for i := 0; i < n; i++ {
		out = append(out, open[i*stride:(i+1)*stride]...)
		list := bySeg[i]
		sort.Slice(list, func(a, b int) bool { return list[a].t < list[b].t })
		j := (i + 1) % n
		for _, p := range list {
			v := make([]float64, stride)
			v[0], v[1] = p.x, p.y
			for s := 2; s < stride; s++ {
				v[s] = open[i*stride+s] + p.t*(open[j*stride+s]-open[i*stride+s])
			}
			out = append(out, v...)
		}
	}
	return out
}

// extractLoops splits a noded path into simple loops by pinching it at
// every repeated plan-view vertex. Each returned loop is an open ring
// starting at its pinch vertex.
func extractLoops(open []float64, stride int) [][]float64 {
	n := len(open) / stride
	seen := make(map[[2]float64]int, n)
	stack := make([]float64, 0, len(open)+stride)
	var loops [][]float64

	visit := func(v []float64) {
		k := [2]float64{v[0], v[1]}
		if j, ok := seen[k]; ok {
			loop := append([]float64(nil), stack[j*stride:]...)
			if len(loop) >= 3*stride {
				loops = append(loops, loop)
			}
			for i := j + 1; i < len(stack)/stride; i++ {
				delete(seen, [2]float64{stack[i*stride], stack[i*stride+1]})
			}
			stack = stack[:(j+1)*stride]
			return
		}
		seen[k] = len(stack) / stride
		stack = append(stack, v...)
	}

	for i := 0; i < n; i++ {
		visit(open[i*stride : (i+1)*stride])
	}
	// Closing the walk at the origin pinches off the final loop.
	visit(open[0:stride])
	return loops
}
