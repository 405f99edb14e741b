package preview

import (
	"github.com/geowerk/geoloader/pkg/geo"
)

// Merged flattens the three categorized collections back into one, in
// points, lines, polygons order. The renderer consumes the categories
// directly; export paths want a single FeatureCollection.
func (d *Dataset) Merged() *geo.FeatureCollection {
	features := make([]*geo.Feature, 0, d.Sampled)
	features = append(features, d.Points.Features...)
	features = append(features, d.Lines.Features...)
	features = append(features, d.Polygons.Features...)
	return geo.NewFeatureCollection(features, d.CRS)
}

// MarshalGeoJSON encodes the whole preview as one GeoJSON
// FeatureCollection.
func (d *Dataset) MarshalGeoJSON() ([]byte, error) {
	return d.Merged().MarshalGeoJSON()
}
