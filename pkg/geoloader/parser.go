package geoloader

// parser.go - per-format parse dispatch behind one Source contract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/geowerk/geoloader/internal/dxf"
	"github.com/geowerk/geoloader/internal/metrics"
	"github.com/geowerk/geoloader/internal/shapefile"
	"github.com/geowerk/geoloader/internal/xyz"
	"github.com/geowerk/geoloader/pkg/geo"
)

// ParseOptions configures the format parsers. One options struct covers
// all three formats; each parser reads only the fields that concern it.
type ParseOptions struct {
	// Layers is the DXF layer allow-list. Empty keeps every layer.
	Layers []string

	// Delimiter is the XYZ field separator. xyz.Whitespace selects
	// whitespace-run splitting.
	// Default: ','
	Delimiter rune

	// Comment marks XYZ rows to ignore. Zero disables comment handling.
	// Default: '#'
	Comment rune

	// SkipRows discards this many leading XYZ rows before data starts.
	SkipRows int

	// XCol, YCol and ZCol are zero-based XYZ column positions. A negative
	// ZCol declares the table heightless.
	// Default: 0, 1, 2
	XCol, YCol, ZCol int

	// PointLayer labels features from point tables, which have no native
	// layering.
	// Default: "points"
	PointLayer string

	// Charset overrides shapefile attribute decoding (.cpg sidecar and
	// DBF language driver byte).
	Charset string

	// MaxBytes overrides the format's size ceiling. Zero keeps the
	// per-format default; negative disables the check.
	MaxBytes int64
}

// DefaultParseOptions returns parse options with defaults.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{
		Delimiter: ',',
		Comment:   '#',
		XCol:      0,
		YCol:      1,
		ZCol:      2,
	}
}

// ParseResult is the eager output of ParseFile.
type ParseResult struct {
	Format   Format
	Features []*geo.Feature
	Layers   []string
	Warnings []geo.Warning

	// CRS is the detected coordinate system code, empty when the format
	// carries none or the projection is unrecognized.
	CRS string

	// Bounds is the extent the file declares about itself (DXF header
	// extents, shapefile header box), not one computed from the features.
	// The empty sentinel when the format declares none.
	Bounds geo.Bounds
}

// ParseFile parses one file eagerly. Streaming callers use the Manager,
// which pulls the same source through the chunked pipeline instead.
func ParseFile(path string, opts ParseOptions) (*ParseResult, error) {
	format := DetectFormat(path)
	src, err := openSource(path, format, opts)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var features []*geo.Feature
	for {
		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	metrics.FeaturesParsed.WithLabelValues(format.String()).Add(float64(len(features)))
	warnings := src.warnings()
	metrics.ParserWarnings.WithLabelValues(format.String()).Add(float64(len(warnings)))
	return &ParseResult{
		Format:   format,
		Features: features,
		Layers:   src.layers(),
		Warnings: warnings,
		CRS:      src.crs,
		Bounds:   src.declared,
	}, nil
}

// fileSource adapts one open format scanner to the stream.Source contract
// and carries the header-level metadata the pipeline needs before the
// first feature arrives.
type fileSource struct {
	format   Format
	crs      string
	declared geo.Bounds

	// count is the expected record count when the format's index declares
	// one, else zero.
	count int

	next     func() (*geo.Feature, error)
	fraction func() float64
	warnings func() []geo.Warning
	layers   func() []string
	closers  []io.Closer
}

// Next implements stream.Source.
func (s *fileSource) Next() (*geo.Feature, error) { return s.next() }

// Fraction implements stream.Progresser, reporting bytes consumed over
// file size for the text formats and records read over the index count
// for shapefiles.
func (s *fileSource) Fraction() float64 {
	if s.fraction == nil {
		return 0
	}
	return s.fraction()
}

// Close releases the underlying files. Safe to call more than once.
func (s *fileSource) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// openSource checks the size ceiling and opens the format's scanner.
// Everything fatal-structural surfaces here, before any feature is
// produced.
func openSource(path string, format Format, opts ParseOptions) (*fileSource, error) {
	if format == FormatUnknown {
		metrics.ParseFailures.WithLabelValues(format.String()).Inc()
		return nil, &geo.FormatError{
			Format: "unknown",
			Reason: fmt.Sprintf("unrecognized file extension %q", filepath.Ext(path)),
		}
	}
	if err := checkSize(path, format, opts); err != nil {
		metrics.ParseFailures.WithLabelValues(format.String()).Inc()
		return nil, err
	}

	src, err := func() (*fileSource, error) {
		switch format {
		case FormatDXF:
			return openDXF(path, opts)
		case FormatShapefile:
			return openShapefile(path, opts)
		default:
			return openXYZ(path, opts)
		}
	}()
	if err != nil {
		metrics.ParseFailures.WithLabelValues(format.String()).Inc()
		return nil, err
	}
	return src, nil
}

func openDXF(path string, opts ParseOptions) (*fileSource, error) {
	f, size, err := openFile(path)
	if err != nil {
		return nil, err
	}
	cr := &countingReader{r: f}
	sc, err := dxf.NewScanner(cr, dxf.Options{Layers: opts.Layers})
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileSource{
		format:   FormatDXF,
		declared: sc.Extents(),
		next:     sc.Next,
		fraction: byteFraction(cr, size),
		warnings: sc.Warnings,
		layers:   sc.Layers,
		closers:  []io.Closer{f},
	}, nil
}

func openShapefile(path string, opts ParseOptions) (*fileSource, error) {
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	shpOpts := shapefile.DefaultOptions()
	shpOpts.Charset = opts.Charset
	sc, err := shapefile.NewScanner(os.DirFS(dir), base, shpOpts)
	if err != nil {
		return nil, err
	}

	read := 0
	total := sc.Count()
	return &fileSource{
		format:   FormatShapefile,
		crs:      sc.CRS(),
		declared: sc.Bounds(),
		count:    total,
		next: func() (*geo.Feature, error) {
			f, err := sc.Next()
			if err == nil {
				read++
			}
			return f, err
		},
		fraction: func() float64 {
			if total == 0 {
				return 0
			}
			return float64(read) / float64(total)
		},
		warnings: sc.Warnings,
		layers:   sc.Layers,
		closers:  []io.Closer{sc},
	}, nil
}

func openXYZ(path string, opts ParseOptions) (*fileSource, error) {
	f, size, err := openFile(path)
	if err != nil {
		return nil, err
	}
	xyzOpts := xyz.DefaultOptions()
	if opts.Delimiter != 0 {
		xyzOpts.Comma = opts.Delimiter
	}
	xyzOpts.Comment = opts.Comment
	xyzOpts.SkipRows = opts.SkipRows
	xyzOpts.XCol = opts.XCol
	xyzOpts.YCol = opts.YCol
	xyzOpts.ZCol = opts.ZCol
	xyzOpts.Layer = opts.PointLayer

	cr := &countingReader{r: f}
	sc, err := xyz.NewScanner(cr, xyzOpts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileSource{
		format:   FormatXYZ,
		next:     sc.Next,
		fraction: byteFraction(cr, size),
		warnings: sc.Warnings,
		layers:   sc.Layers,
		closers:  []io.Closer{f},
	}, nil
}

// checkSize rejects oversized inputs before any parsing starts. For
// shapefiles the ceiling covers the whole bundle; companion files that
// cannot be statted contribute nothing here and fail properly when the
// scanner opens them.
func checkSize(path string, format Format, opts ParseOptions) error {
	ceiling := opts.MaxBytes
	if ceiling == 0 {
		switch format {
		case FormatDXF:
			ceiling = MaxDXFBytes
		case FormatShapefile:
			ceiling = MaxShapefileBytes
		default:
			ceiling = MaxXYZBytes
		}
	}
	if ceiling < 0 {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return &geo.FormatError{Format: format.String(), Reason: err.Error()}
	}
	total := info.Size()
	if format == FormatShapefile {
		stem := strings.TrimSuffix(path, filepath.Ext(path))
		for _, ext := range []string{".shx", ".dbf"} {
			if i, err := os.Stat(stem + ext); err == nil {
				total += i.Size()
			}
		}
	}
	if total > ceiling {
		return &geo.FormatError{
			Format: format.String(),
			Reason: fmt.Sprintf("input is %d bytes, over the %d byte ceiling", total, ceiling),
		}
	}
	return nil
}

func openFile(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// countingReader tracks bytes consumed so text-format sources can report
// a progress fraction.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func byteFraction(cr *countingReader, size int64) func() float64 {
	return func() float64 {
		if size <= 0 {
			return 0
		}
		return float64(cr.n) / float64(size)
	}
}
