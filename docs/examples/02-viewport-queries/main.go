package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/geowerk/geoloader/pkg/geo"
	"github.com/geowerk/geoloader/pkg/geoloader"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: viewport-queries <file>")
	}

	opts := geoloader.DefaultManagerOptions()
	opts.SourceCRS = "EPSG:2056"
	mgr := geoloader.NewManager(opts)

	result, err := mgr.Process(context.Background(), os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	// The collection comes back with a built R-tree, so viewport queries
	// are cheap enough to run per map pan.
	viewport := geo.NewBoundsXY(7.0, 46.5, 8.0, 47.5)
	visible := result.Collection.FeaturesInBounds(viewport)
	fmt.Printf("%d of %d features intersect the viewport\n",
		len(visible), result.Collection.Len())

	for i, f := range visible {
		if i >= 10 {
			fmt.Printf("  ... and %d more\n", len(visible)-10)
			break
		}
		fmt.Printf("  %s %s on layer %q\n", f.Kind(), f.ID, f.Layer)
	}
}
