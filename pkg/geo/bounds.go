package geo

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
)

// Bounds is an axis-aligned bounding box. Z limits are tracked when any
// extending coordinate carried a height.
//
// The empty value uses infinity sentinels (mins at +Inf, maxes at -Inf) so
// that extending an empty box with the first finite coordinate works without
// special cases. Use NewBounds, not a zero literal: the zero Bounds is the
// degenerate box at the origin, not the empty box.
type Bounds struct {
	MinX, MinY float64
	MaxX, MaxY float64
	MinZ, MaxZ float64
	HasZ       bool
}

// NewBounds returns the empty bounds sentinel.
func NewBounds() Bounds {
	return Bounds{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
		MinZ: math.Inf(1), MaxZ: math.Inf(-1),
	}
}

// NewBoundsXY returns finite 2-D bounds.
func NewBoundsXY(minX, minY, maxX, maxY float64) Bounds {
	b := NewBounds()
	b.ExtendXY(minX, minY)
	b.ExtendXY(maxX, maxY)
	return b
}

// IsEmpty reports whether no finite coordinate has been recorded.
func (b Bounds) IsEmpty() bool {
	return b.MinX > b.MaxX || b.MinY > b.MaxY
}

// ExtendXY grows the bounds to include a 2-D coordinate. Non-finite
// ordinates are ignored: bounds only ever reflect finite input.
func (b *Bounds) ExtendXY(x, y float64) {
	if !isFinite(x) || !isFinite(y) {
		return
	}
	b.MinX = math.Min(b.MinX, x)
	b.MinY = math.Min(b.MinY, y)
	b.MaxX = math.Max(b.MaxX, x)
	b.MaxY = math.Max(b.MaxY, y)
}

// ExtendXYZ grows the bounds to include a 3-D coordinate.
func (b *Bounds) ExtendXYZ(x, y, z float64) {
	b.ExtendXY(x, y)
	if !isFinite(x) || !isFinite(y) || !isFinite(z) {
		return
	}
	b.MinZ = math.Min(b.MinZ, z)
	b.MaxZ = math.Max(b.MaxZ, z)
	b.HasZ = true
}

// ExtendGeom grows the bounds to include every coordinate of a geometry,
// walking the flat coordinate slice directly.
func (b *Bounds) ExtendGeom(g geom.T) {
	flat := g.FlatCoords()
	stride := g.Stride()
	if stride < 2 {
		return
	}
	hasZ := g.Layout() == geom.XYZ || g.Layout() == geom.XYZM
	for i := 0; i+stride <= len(flat); i += stride {
		if hasZ {
			b.ExtendXYZ(flat[i], flat[i+1], flat[i+2])
		} else {
			b.ExtendXY(flat[i], flat[i+1])
		}
	}
}

// Union returns the smallest bounds containing both boxes.
func (b Bounds) Union(other Bounds) Bounds {
	if b.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return b
	}
	out := b
	out.MinX = math.Min(b.MinX, other.MinX)
	out.MinY = math.Min(b.MinY, other.MinY)
	out.MaxX = math.Max(b.MaxX, other.MaxX)
	out.MaxY = math.Max(b.MaxY, other.MaxY)
	if b.HasZ || other.HasZ {
		out.MinZ = math.Min(b.MinZ, other.MinZ)
		out.MaxZ = math.Max(b.MaxZ, other.MaxZ)
		out.HasZ = true
	}
	return out
}

// Intersects reports whether the two boxes overlap in the XY plane. Empty
// boxes intersect nothing.
func (b Bounds) Intersects(other Bounds) bool {
	if b.IsEmpty() || other.IsEmpty() {
		return false
	}
	return b.MinX <= other.MaxX && b.MaxX >= other.MinX &&
		b.MinY <= other.MaxY && b.MaxY >= other.MinY
}

// Contains reports whether the XY point lies inside the box (inclusive).
func (b Bounds) Contains(x, y float64) bool {
	if b.IsEmpty() {
		return false
	}
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// ContainsBounds reports whether other lies entirely inside b.
func (b Bounds) ContainsBounds(other Bounds) bool {
	if b.IsEmpty() || other.IsEmpty() {
		return false
	}
	return other.MinX >= b.MinX && other.MaxX <= b.MaxX &&
		other.MinY >= b.MinY && other.MaxY <= b.MaxY
}

// Width returns the X extent, zero when empty.
func (b Bounds) Width() float64 {
	if b.IsEmpty() {
		return 0
	}
	return b.MaxX - b.MinX
}

// Height returns the Y extent, zero when empty.
func (b Bounds) Height() float64 {
	if b.IsEmpty() {
		return 0
	}
	return b.MaxY - b.MinY
}

// Center returns the XY midpoint.
func (b Bounds) Center() (x, y float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Pad returns the bounds grown by factor of the larger extent on every side
// (0.1 pads by 10%). Degenerate boxes (a single point) are padded by an
// absolute minimum so the result still has area. Empty bounds stay empty.
func (b Bounds) Pad(factor float64) Bounds {
	if b.IsEmpty() || factor <= 0 {
		return b
	}
	pad := math.Max(b.Width(), b.Height()) * factor
	if pad == 0 {
		pad = factor
	}
	out := b
	out.MinX -= pad
	out.MinY -= pad
	out.MaxX += pad
	out.MaxY += pad
	return out
}

// String formats the bounds for logs.
func (b Bounds) String() string {
	if b.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("[%g %g %g %g]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
