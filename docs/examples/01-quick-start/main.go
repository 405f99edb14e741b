package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/geowerk/geoloader/pkg/geoloader"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: quick-start <file.dxf|file.shp|file.csv>")
	}

	// Create a pipeline manager with defaults: transform into WGS84 via
	// the swisstopo REFRAME service, 500-feature preview.
	opts := geoloader.DefaultManagerOptions()
	opts.SourceCRS = "EPSG:2056" // assume LV95 for files that declare nothing
	mgr := geoloader.NewManager(opts)

	// Run the whole pipeline: parse, transform, validate, preview.
	result, err := mgr.Process(context.Background(), os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Format:   %s\n", result.Format)
	fmt.Printf("Features: %d\n", result.Collection.Len())
	fmt.Printf("Layers:   %v\n", result.Collection.Layers)
	fmt.Printf("CRS:      %s (from %s)\n", result.CRS, result.SourceCRS)
	fmt.Printf("Warnings: %d\n", len(result.Warnings))

	bounds := result.Preview.Bounds
	fmt.Printf("Preview:  %d features in [%.4f,%.4f] to [%.4f,%.4f]\n",
		result.Preview.Sampled,
		bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY)
}
