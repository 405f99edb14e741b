package geoloader

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
)

// LoadOptions controls parallel multi-file loading.
type LoadOptions struct {
	// Parallel enables concurrent file processing over a worker pool.
	Parallel bool

	// Workers is the pool size. Zero defaults to runtime.NumCPU(). Only
	// used when Parallel is true.
	Workers int

	// SkipErrors continues past files that fail, collecting their errors.
	// When false the first failure cancels the remaining work.
	SkipErrors bool

	// Progress is called after each file finishes, successfully or not.
	Progress func(done, total int)

	// ErrorLog receives one line per failed file.
	ErrorLog io.Writer
}

// DefaultLoadOptions returns load options with defaults.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Parallel:   true,
		Workers:    runtime.NumCPU(),
		SkipErrors: true,
	}
}

// LoadFiles processes many files through one manager, optionally in
// parallel. Results come back in input order with failed files absent;
// the error slice pairs each failure with its path. The manager's shared
// state (statistics, delta cache) makes concurrent processing cheap: a
// burst of files over the same region shares cached deltas.
func LoadFiles(ctx context.Context, m *Manager, paths []string, opts LoadOptions) ([]*Result, []error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if !opts.Parallel {
		return loadSerial(ctx, m, paths, opts)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	type item struct {
		index int
		res   *Result
		err   error
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int, len(paths))
	results := make(chan item, len(paths))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					results <- item{index: i, err: ctx.Err()}
					continue
				}
				res, err := m.Process(ctx, paths[i])
				results <- item{index: i, res: res, err: err}
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	go func() {
		wg.Wait()
		close(results)
	}()

	byIndex := make(map[int]*Result)
	var errs []error
	done := 0
	for it := range results {
		done++
		if opts.Progress != nil {
			opts.Progress(done, len(paths))
		}
		if it.err != nil {
			err := fmt.Errorf("%s: %w", paths[it.index], it.err)
			if opts.ErrorLog != nil {
				fmt.Fprintf(opts.ErrorLog, "load failed: %v\n", err)
			}
			errs = append(errs, err)
			if !opts.SkipErrors {
				cancel()
			}
			continue
		}
		byIndex[it.index] = it.res
	}

	out := make([]*Result, 0, len(byIndex))
	for i := range paths {
		if res, ok := byIndex[i]; ok {
			out = append(out, res)
		}
	}
	return out, errs
}

// loadSerial is the one-at-a-time fallback.
func loadSerial(ctx context.Context, m *Manager, paths []string, opts LoadOptions) ([]*Result, []error) {
	var out []*Result
	var errs []error
	for i, path := range paths {
		res, err := m.Process(ctx, path)
		if opts.Progress != nil {
			opts.Progress(i+1, len(paths))
		}
		if err != nil {
			err = fmt.Errorf("%s: %w", path, err)
			if opts.ErrorLog != nil {
				fmt.Fprintf(opts.ErrorLog, "load failed: %v\n", err)
			}
			errs = append(errs, err)
			if !opts.SkipErrors {
				return out, errs
			}
			continue
		}
		out = append(out, res)
	}
	return out, errs
}
