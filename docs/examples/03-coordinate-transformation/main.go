package main

import (
	"context"
	"fmt"
	"log"

	"github.com/geowerk/geoloader/pkg/crs"
)

func main() {
	// The transformer can be used on its own, without the file pipeline.
	// Every transform pivots through WGS84; Swiss coordinates run the
	// two-stage height pipeline against the REFRAME service.
	tr := crs.NewTransformer(crs.DefaultTransformerOptions())

	// Bern's main station, LV95 with an LHN95 height.
	in := crs.PosZ(2_600_037, 1_199_750, 540.2)
	out, err := tr.Transform(context.Background(), in, crs.CodeLV95, crs.CodeWGS84)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("LV95  %s\n", in)
	fmt.Printf("WGS84 %s\n", out)
	if out.Approximate {
		fmt.Println("note: service unreachable, result is the degraded linear approximation")
	}

	// Nearby points reuse the cached height delta instead of calling the
	// service again. Watch the cache do its job.
	for i := 0; i < 5; i++ {
		p := crs.PosZ(in.X+float64(i*20), in.Y+float64(i*15), 540.0)
		if _, err := tr.Transform(context.Background(), p, crs.CodeLV95, crs.CodeWGS84); err != nil {
			log.Fatal(err)
		}
	}
	stats := tr.Cache().Stats()
	fmt.Printf("cache: %d hits, %d misses (%.0f%% hit rate)\n",
		stats.Hits, stats.Misses, stats.HitRate()*100)
}
