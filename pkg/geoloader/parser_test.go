package geoloader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/geowerk/geoloader/pkg/geo"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"survey.dxf", FormatDXF},
		{"parcels/village.DXF", FormatDXF},
		{"parcels.shp", FormatShapefile},
		{"points.csv", FormatXYZ},
		{"cloud.xyz", FormatXYZ},
		{"cloud.txt", FormatXYZ},
		{"parcels.dbf", FormatUnknown},
		{"readme", FormatUnknown},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.path); got != tt.want {
			t.Errorf("DetectFormat(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseFileXYZ(t *testing.T) {
	path := writeFile(t, t.TempDir(), "points.csv",
		"x,y,z\n2600000.5,1200000.5,430.0\n2600010.5,1200020.5,431.5\n")

	opts := DefaultParseOptions()
	opts.SkipRows = 1
	res, err := ParseFile(path, opts)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if res.Format != FormatXYZ {
		t.Errorf("format = %v, want %v", res.Format, FormatXYZ)
	}
	if len(res.Features) != 2 {
		t.Fatalf("got %d features, want 2", len(res.Features))
	}
	if len(res.Warnings) != 0 {
		t.Errorf("got warnings %v, want none", res.Warnings)
	}
	if got := res.Layers; len(got) != 1 || got[0] != "points" {
		t.Errorf("layers = %v, want [points]", got)
	}
}

func TestParseFileDXF(t *testing.T) {
	path := writeFile(t, t.TempDir(), "drawing.dxf",
		"0\nSECTION\n2\nENTITIES\n"+
			"0\nCIRCLE\n5\n2A\n8\nshapes\n10\n0.0\n20\n0.0\n30\n0.0\n40\n10.0\n"+
			"0\nENDSEC\n0\nEOF\n")

	res, err := ParseFile(path, DefaultParseOptions())
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(res.Features) != 1 {
		t.Fatalf("got %d features, want 1", len(res.Features))
	}
	if res.Features[0].Layer != "shapes" {
		t.Errorf("layer = %q, want shapes", res.Features[0].Layer)
	}
}

func TestMissingShapefileCompanionIsFatal(t *testing.T) {
	// A .shp without its .shx must fail before any feature is produced.
	path := writeFile(t, t.TempDir(), "parcels.shp", "not a real shapefile")

	res, err := ParseFile(path, DefaultParseOptions())
	if err == nil {
		t.Fatalf("ParseFile() = %d features, want a fatal error", len(res.Features))
	}
	var ferr *geo.FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("error is %T, want *geo.FormatError", err)
	}
}

func TestOversizeInputRejected(t *testing.T) {
	path := writeFile(t, t.TempDir(), "points.csv",
		"2600000.5,1200000.5,430.0\n2600010.5,1200020.5,431.5\n")

	opts := DefaultParseOptions()
	opts.MaxBytes = 10
	_, err := ParseFile(path, opts)
	var ferr *geo.FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("error = %v, want *geo.FormatError before parsing", err)
	}
}

func TestUnknownExtensionRejected(t *testing.T) {
	path := writeFile(t, t.TempDir(), "parcels.dbf", "x")

	_, err := ParseFile(path, DefaultParseOptions())
	var ferr *geo.FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("error = %v, want *geo.FormatError", err)
	}
}
