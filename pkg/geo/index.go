package geo

import (
	"github.com/dhconnelly/rtreego"
)

// rtreeMinChildren and rtreeMaxChildren are the R-tree node fan-out limits.
// 25/50 keeps the tree shallow for collections in the 10k-1M feature range.
const (
	rtreeMinChildren = 25
	rtreeMaxChildren = 50
)

// rectEpsilon inflates degenerate rectangles (points, axis-aligned
// segments): rtreego rejects zero-length sides.
const rectEpsilon = 1e-9

// FeatureIndex is an R-tree over feature bounding boxes for viewport
// queries. Build once over a final feature slice; the index does not track
// later mutations.
type FeatureIndex struct {
	rtree *rtreego.Rtree
	size  int
}

// indexEntry implements rtreego.Spatial for one feature.
type indexEntry struct {
	feature *Feature
	bounds  Bounds
}

// Bounds converts the feature's bounding box to an R-tree rectangle.
func (e indexEntry) Bounds() rtreego.Rect {
	point := rtreego.Point{e.bounds.MinX, e.bounds.MinY}
	lengths := []float64{
		e.bounds.Width() + rectEpsilon,
		e.bounds.Height() + rectEpsilon,
	}
	rect, _ := rtreego.NewRect(point, lengths)
	return rect
}

// NewFeatureIndex builds an index over the given features. Features without
// a finite bounding box are not indexed (they can never match a viewport).
func NewFeatureIndex(features []*Feature) *FeatureIndex {
	rtree := rtreego.NewTree(2, rtreeMinChildren, rtreeMaxChildren)
	n := 0
	for _, f := range features {
		b := f.Bounds()
		if b.IsEmpty() {
			continue
		}
		rtree.Insert(indexEntry{feature: f, bounds: b})
		n++
	}
	return &FeatureIndex{rtree: rtree, size: n}
}

// Search returns the features whose bounding boxes intersect the viewport.
func (idx *FeatureIndex) Search(viewport Bounds) []*Feature {
	if idx == nil || idx.rtree == nil || viewport.IsEmpty() {
		return nil
	}
	point := rtreego.Point{viewport.MinX, viewport.MinY}
	lengths := []float64{
		viewport.Width() + rectEpsilon,
		viewport.Height() + rectEpsilon,
	}
	rect, err := rtreego.NewRect(point, lengths)
	if err != nil {
		return nil
	}
	spatials := idx.rtree.SearchIntersect(rect)
	out := make([]*Feature, 0, len(spatials))
	for _, s := range spatials {
		entry := s.(indexEntry)
		// The R-tree stores inflated rectangles; re-check against the real
		// boxes so epsilon inflation never leaks a false positive.
		if entry.bounds.Intersects(viewport) {
			out = append(out, entry.feature)
		}
	}
	return out
}

// Len returns the number of indexed features.
func (idx *FeatureIndex) Len() int {
	if idx == nil {
		return 0
	}
	return idx.size
}
