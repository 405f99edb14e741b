package geoloader

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func loaderFixtures(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		name := "points" + strings.Repeat("x", i) + ".csv"
		paths[i] = writeFile(t, dir, name,
			"x,y,z\n2600000.5,1200000.5,430.0\n")
	}
	return paths
}

func TestLoadFilesParallel(t *testing.T) {
	mgr := newTestManager(t, &fakeGeodesy{}, nil)
	paths := loaderFixtures(t, 4)

	var calls atomic.Int64
	opts := DefaultLoadOptions()
	opts.Workers = 2
	opts.Progress = func(done, total int) {
		calls.Add(1)
		if total != 4 {
			t.Errorf("progress total = %d, want 4", total)
		}
	}

	results, errs := LoadFiles(context.Background(), mgr, paths, opts)
	if len(errs) != 0 {
		t.Fatalf("errors = %v, want none", errs)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	// Results come back in input order regardless of completion order.
	for i, res := range results {
		if res.Path != paths[i] {
			t.Errorf("result %d is %s, want %s", i, res.Path, paths[i])
		}
	}
	if calls.Load() != 4 {
		t.Errorf("progress called %d times, want 4", calls.Load())
	}
	if stats := mgr.Stats(); stats.Files != 4 {
		t.Errorf("stats.Files = %d, want 4", stats.Files)
	}
}

func TestLoadFilesSkipErrors(t *testing.T) {
	mgr := newTestManager(t, &fakeGeodesy{}, nil)
	paths := loaderFixtures(t, 2)
	bad := writeFile(t, t.TempDir(), "broken.shp", "no companions")
	paths = append(paths, bad)

	var log strings.Builder
	opts := DefaultLoadOptions()
	opts.ErrorLog = &log

	results, errs := LoadFiles(context.Background(), mgr, paths, opts)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 surviving files", len(results))
	}
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if !strings.Contains(errs[0].Error(), filepath.Base(bad)) {
		t.Errorf("error %v does not name the failing file", errs[0])
	}
	if !strings.Contains(log.String(), "load failed") {
		t.Errorf("error log %q missing the failure line", log.String())
	}
}

func TestLoadFilesSerial(t *testing.T) {
	mgr := newTestManager(t, &fakeGeodesy{}, nil)
	paths := loaderFixtures(t, 3)

	opts := DefaultLoadOptions()
	opts.Parallel = false

	results, errs := LoadFiles(context.Background(), mgr, paths, opts)
	if len(errs) != 0 || len(results) != 3 {
		t.Fatalf("got %d results / %d errors, want 3 / 0", len(results), len(errs))
	}
}

func TestLoadFilesEmpty(t *testing.T) {
	mgr := newTestManager(t, &fakeGeodesy{}, nil)
	results, errs := LoadFiles(context.Background(), mgr, nil, DefaultLoadOptions())
	if results != nil || errs != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", results, errs)
	}
}
