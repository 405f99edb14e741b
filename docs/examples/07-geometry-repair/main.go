package main

import (
	"fmt"
	"log"

	"github.com/twpayne/go-geom"

	"github.com/geowerk/geoloader/pkg/validate"
)

func main() {
	// A bowtie: the classic self-intersecting ring.
	bowtie := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0,
		10, 10,
		10, 0,
		0, 10,
		0, 0,
	}, []int{10})

	engine := validate.NewEngine(validate.DefaultEngineOptions())
	res := engine.ValidateAndRepair(bowtie)
	if res.Err != nil {
		log.Fatalf("repair failed: %v", res.Err)
	}

	fmt.Printf("cleaned:  %v\n", res.WasCleaned)
	fmt.Printf("repaired: %v\n", res.WasRepaired)
	fmt.Printf("output:   %T\n", res.Geom)

	// Repair is idempotent: running the result through again is a no-op.
	again := engine.ValidateAndRepair(res.Geom)
	fmt.Printf("second pass: cleaned=%v repaired=%v\n",
		again.WasCleaned, again.WasRepaired)
}
