// Package geoloader is the public entry point to the ingestion pipeline:
// it detects the source format, parses the file into model features,
// reprojects them into the target coordinate system, streams them through
// the resource-bounded chunker and produces a preview dataset for
// rendering.
//
// The Manager runs the whole pipeline for one file at a time and
// accumulates statistics across files; LoadFiles fans a file list out over
// a worker pool. The underlying stages remain usable on their own through
// pkg/stream, pkg/crs, pkg/validate and pkg/preview.
//
// Example:
//
//	mgr := geoloader.NewManager(geoloader.DefaultManagerOptions())
//	result, err := mgr.Process(ctx, "survey.dxf")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Features: %d\n", result.Collection.Len())
//	fmt.Printf("Preview bounds: %s\n", result.Preview.Bounds)
package geoloader

import (
	"path/filepath"
	"strings"
)

// Format identifies a supported source file format.
type Format int

const (
	FormatUnknown Format = iota
	FormatDXF
	FormatShapefile
	FormatXYZ
)

// String returns the format's short name.
func (f Format) String() string {
	switch f {
	case FormatDXF:
		return "dxf"
	case FormatShapefile:
		return "shapefile"
	case FormatXYZ:
		return "xyz"
	default:
		return "unknown"
	}
}

// DetectFormat infers the source format from the file extension. Tabular
// extensions (.csv, .xyz, .txt) all map to the XYZ reader; the column
// mapping in ParseOptions decides how rows are interpreted.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dxf":
		return FormatDXF
	case ".shp":
		return FormatShapefile
	case ".csv", ".xyz", ".txt":
		return FormatXYZ
	default:
		return FormatUnknown
	}
}

// Per-format size ceilings, applied before any parsing starts. The
// shapefile ceiling covers the whole bundle (.shp + .shx + .dbf).
const (
	MaxDXFBytes       int64 = 500 << 20
	MaxShapefileBytes int64 = 2 << 30
	MaxXYZBytes       int64 = 1 << 30
)
