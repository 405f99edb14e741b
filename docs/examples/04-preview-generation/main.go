package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/geowerk/geoloader/pkg/geoloader"
	"github.com/geowerk/geoloader/pkg/preview"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: preview-generation <file>")
	}

	// Parse without the full pipeline, then generate a preview by hand
	// with a tight budget and aggressive simplification.
	parsed, err := geoloader.ParseFile(os.Args[1], geoloader.DefaultParseOptions())
	if err != nil {
		log.Fatal(err)
	}

	opts := preview.DefaultGeneratorOptions()
	opts.MaxFeatures = 100
	opts.Tolerance = 0.5 // working units; metres for Swiss data
	// Systematic sampling is the default: the same input always yields
	// the same subset. Set opts.Random for a uniform random draw instead.

	gen := preview.NewGenerator(opts)
	ds, err := gen.Generate(context.Background(), parsed.Features, parsed.CRS)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("sampled %d of %d features\n", ds.Sampled, ds.Total)
	fmt.Printf("  points:   %d\n", ds.Points.Len())
	fmt.Printf("  lines:    %d\n", ds.Lines.Len())
	fmt.Printf("  polygons: %d\n", ds.Polygons.Len())
	fmt.Printf("  cleaned %d, repaired %d, repair failures %d\n",
		ds.Cleaned, ds.Repaired, ds.RepairFailures)
	fmt.Printf("  bounds (10%% padded): %s\n", ds.Bounds)

	// The whole preview exports as one GeoJSON FeatureCollection.
	geojson, err := ds.MarshalGeoJSON()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("geojson: %d bytes\n", len(geojson))
}
