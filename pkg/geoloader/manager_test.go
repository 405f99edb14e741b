package geoloader

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/geowerk/geoloader/pkg/crs"
	"github.com/geowerk/geoloader/pkg/stream"
)

// fakeGeodesy is a locally linear stand-in for the transformation service.
type fakeGeodesy struct {
	calls atomic.Int64
	fail  bool
}

func (f *fakeGeodesy) LHN95ToBessel(ctx context.Context, e, n, alt float64) (float64, error) {
	f.calls.Add(1)
	if f.fail {
		return 0, errors.New("service down")
	}
	return alt + 1.0, nil
}

func (f *fakeGeodesy) LV95ToWGS84(ctx context.Context, e, n, alt float64) (float64, float64, float64, error) {
	f.calls.Add(1)
	if f.fail {
		return 0, 0, 0, errors.New("service down")
	}
	lon := 7.438632 + (e-2_600_000)/76_540
	lat := 46.951083 + (n-1_200_000)/111_320
	return lon, lat, alt + 50.0, nil
}

func newTestManager(t *testing.T, fake *fakeGeodesy, mutate func(*ManagerOptions)) *Manager {
	t.Helper()
	trOpts := crs.DefaultTransformerOptions()
	trOpts.Client = fake
	trOpts.Cache = crs.NopCache{}
	trOpts.Fallback = false

	opts := DefaultManagerOptions()
	opts.SourceCRS = crs.CodeLV95
	opts.Transformer = crs.NewTransformer(trOpts)
	opts.Parse.SkipRows = 1
	if mutate != nil {
		mutate(&opts)
	}
	return NewManager(opts)
}

func csvFixture(t *testing.T, rows int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("x,y,z\n")
	for i := 0; i < rows; i++ {
		sb.WriteString("2600000.5,1200000.5,430.0\n")
	}
	return writeFile(t, t.TempDir(), "points.csv", sb.String())
}

func TestProcessPipeline(t *testing.T) {
	fake := &fakeGeodesy{}
	mgr := newTestManager(t, fake, nil)
	path := csvFixture(t, 3)

	res, err := mgr.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Format != FormatXYZ {
		t.Errorf("format = %v, want %v", res.Format, FormatXYZ)
	}
	if !res.Stream.Complete {
		t.Error("stream not marked complete after a clean drain")
	}
	if res.CRS != crs.CodeWGS84 || res.SourceCRS != crs.CodeLV95 {
		t.Errorf("crs = %q from %q, want %q from %q",
			res.CRS, res.SourceCRS, crs.CodeWGS84, crs.CodeLV95)
	}
	if res.Collection.Len() != 3 {
		t.Fatalf("collection has %d features, want 3", res.Collection.Len())
	}

	f := res.Collection.Features[0]
	x, y := f.Geom.FlatCoords()[0], f.Geom.FlatCoords()[1]
	if x < 5 || x > 11 || y < 45 || y > 48 {
		t.Errorf("coordinates (%v, %v) not in the WGS84 Swiss window", x, y)
	}
	if v, _ := f.Property(PropSourceCRS); v != crs.CodeLV95 {
		t.Errorf("%s = %v, want %q", PropSourceCRS, v, crs.CodeLV95)
	}
	if _, ok := f.Property(PropApproximate); ok {
		t.Error("service-exact feature carries the approximate mark")
	}

	if res.Preview == nil {
		t.Fatal("no preview dataset")
	}
	if res.Preview.Points.Len() != 3 {
		t.Errorf("preview points = %d, want 3", res.Preview.Points.Len())
	}
	if res.Preview.Bounds.IsEmpty() {
		t.Error("preview bounds empty")
	}

	stats := mgr.Stats()
	if stats.Files != 1 || stats.Features != 3 {
		t.Errorf("stats = %+v, want 1 file / 3 features", stats)
	}
}

func TestProcessKeepsFailedTransforms(t *testing.T) {
	fake := &fakeGeodesy{fail: true}
	mgr := newTestManager(t, fake, nil)
	path := csvFixture(t, 2)

	res, err := mgr.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.TransformFailures != 2 {
		t.Errorf("TransformFailures = %d, want 2", res.TransformFailures)
	}
	if res.Collection.Len() != 2 {
		t.Fatalf("collection has %d features, want 2 kept untransformed", res.Collection.Len())
	}
	f := res.Collection.Features[0]
	if v, _ := f.Property(PropTransformFailed); v != true {
		t.Errorf("%s = %v, want true", PropTransformFailed, v)
	}
	// Coordinates must be the untouched originals, never a partial result.
	if got := f.Geom.FlatCoords()[0]; got != 2_600_000.5 {
		t.Errorf("x = %v, want the original easting", got)
	}
}

func TestProcessDropsFailedTransforms(t *testing.T) {
	fake := &fakeGeodesy{fail: true}
	mgr := newTestManager(t, fake, func(o *ManagerOptions) {
		o.DropFailed = true
	})
	path := csvFixture(t, 2)

	res, err := mgr.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Collection.Len() != 0 {
		t.Errorf("collection has %d features, want 0 after dropping", res.Collection.Len())
	}
	if res.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", res.Dropped)
	}
}

func TestProcessWithoutCRSWarns(t *testing.T) {
	mgr := newTestManager(t, &fakeGeodesy{}, func(o *ManagerOptions) {
		o.SourceCRS = ""
	})
	path := csvFixture(t, 1)

	res, err := mgr.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.CRS != "" {
		t.Errorf("CRS = %q, want empty for an undeclared system", res.CRS)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w.Message, "no coordinate system") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings %v missing the untransformed notice", res.Warnings)
	}
	// No service traffic without a transform.
	f := res.Collection.Features[0]
	if got := f.Geom.FlatCoords()[0]; got != 2_600_000.5 {
		t.Errorf("x = %v, want the original easting", got)
	}
}

func TestProcessCeilingKeepsPartialResult(t *testing.T) {
	mgr := newTestManager(t, &fakeGeodesy{}, func(o *ManagerOptions) {
		o.Stream.MaxFeatures = 2
	})
	path := csvFixture(t, 5)

	res, err := mgr.Process(context.Background(), path)
	var lerr *stream.LimitError
	if !errors.As(err, &lerr) {
		t.Fatalf("error = %v, want *stream.LimitError", err)
	}
	if res == nil {
		t.Fatal("no partial result returned")
	}
	if res.Stream.Complete {
		t.Error("terminated stream marked complete")
	}
	if res.Collection.Len() != 2 {
		t.Errorf("partial collection has %d features, want 2", res.Collection.Len())
	}
	if res.Stream.Bounds.IsEmpty() {
		t.Error("partial bounds discarded")
	}
	if res.Preview != nil {
		t.Error("preview generated for a terminated stream")
	}
}

func TestProcessKeepsCallerStreamLogger(t *testing.T) {
	var buf bytes.Buffer
	mgr := newTestManager(t, &fakeGeodesy{}, func(o *ManagerOptions) {
		o.Stream.MaxFeatures = 2
		o.Stream.Logger = zerolog.New(&buf)
	})
	path := csvFixture(t, 5)

	_, err := mgr.Process(context.Background(), path)
	var lerr *stream.LimitError
	if !errors.As(err, &lerr) {
		t.Fatalf("error = %v, want *stream.LimitError", err)
	}
	if !strings.Contains(buf.String(), "stream terminated early") {
		t.Errorf("early termination not logged through the caller's stream logger: %q", buf.String())
	}
}

func TestProcessCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mgr := newTestManager(t, &fakeGeodesy{}, nil)
	path := csvFixture(t, 3)

	res, err := mgr.Process(ctx, path)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if res == nil || res.Stream.Complete {
		t.Error("cancellation must return an incomplete partial result")
	}
}

func TestProcessProgressEvents(t *testing.T) {
	events := make(chan stream.Event, 64)
	mgr := newTestManager(t, &fakeGeodesy{}, func(o *ManagerOptions) {
		o.Progress = events
	})
	path := csvFixture(t, 4)

	if _, err := mgr.Process(context.Background(), path); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	phases := map[string]bool{}
	last := map[string]float64{}
	for len(events) > 0 {
		ev := <-events
		phases[ev.Phase] = true
		if ev.Fraction < last[ev.Phase] {
			t.Errorf("phase %s fraction regressed: %v after %v", ev.Phase, ev.Fraction, last[ev.Phase])
		}
		last[ev.Phase] = ev.Fraction
	}
	for _, want := range []string{"ingest", "transform", "preview"} {
		if !phases[want] {
			t.Errorf("no %q events observed", want)
		}
	}
}
