package geo

import (
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// GeoJSON envelope types. Geometries are encoded by go-geom; the feature and
// collection wrappers are explicit structs so the output shape is fixed and
// independent of model internals.

type geojsonFeature struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type geojsonCollection struct {
	Type     string           `json:"type"`
	BBox     []float64        `json:"bbox,omitempty"`
	CRS      string           `json:"_crs,omitempty"`
	Features []geojsonFeature `json:"features"`
}

// MarshalGeoJSON encodes the collection as a GeoJSON FeatureCollection.
// The source layer is carried as a "layer" property so the renderer can
// filter by it.
func (c *FeatureCollection) MarshalGeoJSON() ([]byte, error) {
	out := geojsonCollection{
		Type:     "FeatureCollection",
		CRS:      c.CRS,
		Features: make([]geojsonFeature, 0, len(c.Features)),
	}
	if b := c.Bounds(); !b.IsEmpty() {
		out.BBox = []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
	}
	for i, f := range c.Features {
		gf, err := marshalFeature(f)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		out.Features = append(out.Features, gf)
	}
	return json.Marshal(out)
}

// UnmarshalGeoJSON decodes a GeoJSON FeatureCollection produced by
// MarshalGeoJSON or any compatible writer. The "layer" property moves
// back onto the feature's Layer field.
func UnmarshalGeoJSON(data []byte) (*FeatureCollection, error) {
	var in geojsonCollection
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	features := make([]*Feature, 0, len(in.Features))
	for i, gf := range in.Features {
		var g geom.T
		if err := geojson.Unmarshal(gf.Geometry, &g); err != nil {
			return nil, fmt.Errorf("feature %d: decode geometry: %w", i, err)
		}
		f := &Feature{ID: gf.ID, Geom: g, Properties: gf.Properties}
		if layer, ok := gf.Properties["layer"].(string); ok {
			f.Layer = layer
			delete(gf.Properties, "layer")
		}
		features = append(features, f)
	}
	return NewFeatureCollection(features, in.CRS), nil
}

func marshalFeature(f *Feature) (geojsonFeature, error) {
	raw, err := geojson.Marshal(f.Geom)
	if err != nil {
		return geojsonFeature{}, fmt.Errorf("encode geometry: %w", err)
	}
	props := f.Properties
	if f.Layer != "" {
		props = make(map[string]any, len(f.Properties)+1)
		for k, v := range f.Properties {
			props[k] = v
		}
		props["layer"] = f.Layer
	}
	if props == nil {
		props = map[string]any{}
	}
	return geojsonFeature{
		Type:       "Feature",
		ID:         f.ID,
		Geometry:   json.RawMessage(raw),
		Properties: props,
	}, nil
}
