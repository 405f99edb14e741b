package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/geowerk/geoloader/pkg/crs"
	"github.com/geowerk/geoloader/pkg/geo"
	"github.com/geowerk/geoloader/pkg/geoloader"
	"github.com/geowerk/geoloader/pkg/stream"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: error-handling <file>")
	}

	opts := geoloader.DefaultManagerOptions()
	opts.SourceCRS = "EPSG:2056"
	mgr := geoloader.NewManager(opts)

	result, err := mgr.Process(context.Background(), os.Args[1])
	if err != nil {
		// The error taxonomy is typed, so callers can react per class
		// instead of string-matching.
		var formatErr *geo.FormatError
		var limitErr *stream.LimitError
		var transformErr *crs.TransformError
		switch {
		case errors.As(err, &formatErr):
			// Fatal-structural: bad signature, truncated header, missing
			// companion file. Nothing was parsed.
			log.Fatalf("unusable %s file: %s", formatErr.Format, formatErr.Reason)
		case errors.As(err, &limitErr):
			// Resource ceiling: the partial result survived.
			fmt.Printf("file too large (%v), keeping %d features parsed so far\n",
				limitErr, result.Collection.Len())
		case errors.As(err, &transformErr):
			log.Fatalf("transform failed on leg %s for input %s: %v",
				transformErr.Leg, transformErr.Input, transformErr.Err)
		default:
			log.Fatal(err)
		}
	}

	// Per-entity problems never abort the parse; they surface as warnings
	// naming the offending entity.
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}

	// Features whose transform or repair failed are kept and flagged, not
	// silently dropped.
	flagged := 0
	for _, f := range result.Collection.Features {
		if _, ok := f.Property(geoloader.PropTransformFailed); ok {
			flagged++
		}
	}
	fmt.Printf("%d features kept untransformed after service failures\n", flagged)
	fmt.Printf("%d features in degraded-approximation coordinates\n", result.Approximate)
}
