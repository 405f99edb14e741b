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
		log.Fatal("usage: parallel-loading <file>...")
	}
	paths := os.Args[1:]

	opts := geoloader.DefaultManagerOptions()
	opts.SourceCRS = "EPSG:2056"
	mgr := geoloader.NewManager(opts)

	loadOpts := geoloader.DefaultLoadOptions()
	loadOpts.Workers = 4
	loadOpts.SkipErrors = true
	loadOpts.ErrorLog = os.Stderr
	loadOpts.Progress = func(done, total int) {
		fmt.Printf("\rloading: %d/%d", done, total)
	}

	// One manager across all files: they share the delta cache, so files
	// covering the same region reuse each other's geodesy calls.
	results, errs := geoloader.LoadFiles(context.Background(), mgr, paths, loadOpts)
	fmt.Println()
	if len(errs) > 0 {
		fmt.Printf("skipped %d files\n", len(errs))
	}

	for _, res := range results {
		fmt.Printf("%s: %d features, %d warnings\n",
			res.Path, res.Collection.Len(), len(res.Warnings))
	}

	stats := mgr.Stats()
	fmt.Printf("total: %d features, cache hit rate %.0f%%\n",
		stats.Features, stats.Cache.HitRate()*100)
}
