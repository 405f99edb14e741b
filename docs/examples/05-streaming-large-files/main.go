package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/geowerk/geoloader/pkg/geoloader"
	"github.com/geowerk/geoloader/pkg/stream"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: streaming-large-files <file>")
	}

	// For files too large to buffer, drive the chunked stream directly.
	// Here everything still goes through ParseFile for brevity; the
	// Manager wires the scanner in as a lazy source instead.
	parsed, err := geoloader.ParseFile(os.Args[1], geoloader.DefaultParseOptions())
	if err != nil {
		log.Fatal(err)
	}

	opts := stream.DefaultManagerOptions()
	opts.ChunkSize = 64
	opts.MaxFeatures = 10_000 // reject anything bigger
	sm := stream.NewManager(stream.NewSliceSource(parsed.Features), opts)

	// Progress events arrive on a side channel that never blocks the
	// producer; the fraction is guaranteed non-decreasing.
	go func() {
		for ev := range sm.Events() {
			fmt.Printf("\r%s: %3.0f%% (%d features)", ev.Phase, ev.Fraction*100, ev.Features)
		}
		fmt.Println()
	}()

	ctx := context.Background()
	total := 0
	for {
		// Each chunk would be handed to the transform stage here.
		chunk, err := sm.Next(ctx)
		total += len(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			var lerr *stream.LimitError
			if errors.As(err, &lerr) {
				// The partial bounds survive a ceiling trip; they are
				// just marked incomplete.
				st := sm.State()
				fmt.Printf("ceiling hit: %v\npartial bounds: %s (complete=%v)\n",
					lerr, st.Bounds, st.Complete)
				return
			}
			log.Fatal(err)
		}
	}

	st := sm.State()
	fmt.Printf("streamed %d features in %d chunks, bounds %s\n",
		total, st.Chunks, st.Bounds)
}
