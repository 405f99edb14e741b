// Package xyz reads delimited coordinate tables: CSV exports and
// whitespace-separated point clouds. Every data row becomes one point
// feature. The format has no signature or header structure, so nothing
// short of an unreadable input or an exceeded row budget is fatal; rows
// that cannot produce numeric coordinates are skipped with a Warning.
package xyz

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/geowerk/geoloader/pkg/geo"
)

// Whitespace as the Comma option selects whitespace-run splitting: any run
// of spaces and tabs separates fields, the usual layout of bare .xyz files.
const Whitespace rune = ' '

const defaultLayer = "points"

// Options configure the reader. Column positions are zero-based.
type Options struct {
	// Comma is the field delimiter. Zero means comma; the Whitespace
	// constant switches to whitespace-run splitting.
	Comma rune

	// Comment marks rows to ignore when it is the first rune of a row.
	// Zero disables comment handling.
	Comment rune

	// SkipRows discards this many leading rows before data starts, for
	// header lines the caller knows about.
	SkipRows int

	// XCol and YCol locate the required coordinate columns.
	XCol, YCol int

	// ZCol locates the height column. Negative means the table has no
	// height. A configured height column that is absent or empty on a
	// given row yields a 2-D point; non-numeric text there skips the row.
	ZCol int

	// Layer labels the emitted features; point tables have no native
	// layering. Empty means "points".
	Layer string

	// MaxRows caps the number of data rows processed. Zero disables the
	// cap; exceeding it aborts the parse.
	MaxRows int
}

// DefaultOptions reads comma-separated x,y,z tables with # comments. The
// height column is tolerated missing, so two-column tables work unchanged.
func DefaultOptions() Options {
	return Options{
		Comma:   ',',
		Comment: '#',
		XCol:    0,
		YCol:    1,
		ZCol:    2,
		MaxRows: 10_000_000,
	}
}

// Result is the eager outcome of reading a whole table.
type Result struct {
	Features []*geo.Feature
	Warnings []geo.Warning
	Bounds   geo.Bounds
}

// Parse reads the whole input.
func Parse(r io.Reader, opts Options) (*Result, error) {
	s, err := NewScanner(r, opts)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for {
		f, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		res.Features = append(res.Features, f)
	}
	res.Warnings = s.Warnings()
	res.Bounds = s.Bounds()
	return res, nil
}

// Scanner streams point features row by row.
type Scanner struct {
	opts  Options
	layer string

	csv   *csv.Reader    // delimiter mode
	lines *bufio.Scanner // whitespace-run mode

	row      int // 1-based ordinal of the last record read
	dataRows int // records seen after the leading skip
	toSkip   int

	warnings []geo.Warning
	bounds   geo.Bounds
	count    int
	done     bool
}

// NewScanner validates the options and prepares the reader. Option errors
// are plain errors: they are caller mistakes, not input problems.
func NewScanner(r io.Reader, opts Options) (*Scanner, error) {
	if opts.Comma == 0 {
		opts.Comma = ','
	}
	if opts.XCol < 0 || opts.YCol < 0 {
		return nil, errors.New("xyz: x and y column positions must not be negative")
	}
	if opts.XCol == opts.YCol {
		return nil, errors.New("xyz: x and y columns must differ")
	}
	if opts.ZCol >= 0 && (opts.ZCol == opts.XCol || opts.ZCol == opts.YCol) {
		return nil, errors.New("xyz: z column collides with x or y")
	}
	if opts.Comment != 0 && opts.Comment == opts.Comma {
		return nil, errors.New("xyz: comment rune equals the delimiter")
	}

	s := &Scanner{
		opts:   opts,
		layer:  opts.Layer,
		toSkip: opts.SkipRows,
		bounds: geo.NewBounds(),
	}
	if s.layer == "" {
		s.layer = defaultLayer
	}

	if opts.Comma == Whitespace {
		s.lines = bufio.NewScanner(r)
		s.lines.Buffer(make([]byte, 64*1024), 1<<20)
	} else {
		s.csv = csv.NewReader(r)
		s.csv.Comma = opts.Comma
		s.csv.Comment = opts.Comment
		s.csv.FieldsPerRecord = -1
		s.csv.LazyQuotes = true
		s.csv.ReuseRecord = true
	}
	return s, nil
}

// Next returns the next point feature. Invalid rows are recorded as
// warnings and skipped. io.EOF signals a clean end of input.
func (s *Scanner) Next() (*geo.Feature, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		fields, err := s.readRow()
		switch {
		case err == io.EOF:
			s.done = true
			return nil, io.EOF
		case err != nil:
			s.done = true
			return nil, err
		}

		s.dataRows++
		if s.opts.MaxRows > 0 && s.dataRows > s.opts.MaxRows {
			s.done = true
			return nil, &geo.FormatError{
				Format: "xyz",
				Reason: fmt.Sprintf("row limit %d exceeded", s.opts.MaxRows),
			}
		}

		f, ok := s.parseRow(fields)
		if !ok {
			continue
		}
		s.count++
		return f, nil
	}
}

// readRow yields the next record's fields, consuming the leading skip rows
// first. Blank and comment lines are invisible in both modes.
func (s *Scanner) readRow() ([]string, error) {
	for {
		var fields []string
		if s.csv != nil {
			rec, err := s.csv.Read()
			if err == io.EOF {
				return nil, io.EOF
			}
			s.row++
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				s.warn(fmt.Sprintf("malformed row: %v", perr.Err))
				continue
			}
			if err != nil {
				return nil, err
			}
			fields = rec
		} else {
			if !s.lines.Scan() {
				if err := s.lines.Err(); err != nil {
					return nil, err
				}
				return nil, io.EOF
			}
			s.row++
			line := strings.TrimSpace(s.lines.Text())
			if line == "" {
				continue
			}
			if s.opts.Comment != 0 && strings.HasPrefix(line, string(s.opts.Comment)) {
				continue
			}
			fields = strings.Fields(line)
		}

		if s.toSkip > 0 {
			s.toSkip--
			continue
		}
		return fields, nil
	}
}

// parseRow maps a record's columns to a point feature.
func (s *Scanner) parseRow(fields []string) (*geo.Feature, bool) {
	need := s.opts.XCol
	if s.opts.YCol > need {
		need = s.opts.YCol
	}
	if len(fields) <= need {
		s.warn(fmt.Sprintf("row has %d columns, coordinates need %d", len(fields), need+1))
		return nil, false
	}

	x, ok := s.coordinate(fields[s.opts.XCol], "x")
	if !ok {
		return nil, false
	}
	y, ok := s.coordinate(fields[s.opts.YCol], "y")
	if !ok {
		return nil, false
	}

	var z float64
	withZ := false
	if s.opts.ZCol >= 0 && s.opts.ZCol < len(fields) {
		raw := strings.TrimSpace(fields[s.opts.ZCol])
		if raw != "" {
			if z, ok = s.coordinate(raw, "z"); !ok {
				return nil, false
			}
			withZ = true
		}
	}

	var g *geom.Point
	if withZ {
		g = geom.NewPointFlat(geom.XYZ, []float64{x, y, z})
		s.bounds.ExtendXYZ(x, y, z)
	} else {
		g = geom.NewPointFlat(geom.XY, []float64{x, y})
		s.bounds.ExtendXY(x, y)
	}
	return &geo.Feature{
		ID:    strconv.Itoa(s.row),
		Layer: s.layer,
		Geom:  g,
	}, true
}

// coordinate parses one ordinate, warning on non-numeric or non-finite
// values.
func (s *Scanner) coordinate(raw, axis string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		s.warn(fmt.Sprintf("%s column: %q is not a number", axis, strings.TrimSpace(raw)))
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		s.warn(fmt.Sprintf("%s column: non-finite value", axis))
		return 0, false
	}
	return v, true
}

func (s *Scanner) warn(message string) {
	s.warnings = append(s.warnings, geo.Warning{
		Format:  "xyz",
		Entity:  "row",
		Handle:  strconv.Itoa(s.row),
		Layer:   s.layer,
		Message: message,
	})
}

// Count returns the number of features emitted so far.
func (s *Scanner) Count() int { return s.count }

// Bounds returns the extent of all emitted coordinates.
func (s *Scanner) Bounds() geo.Bounds { return s.bounds }

// Warnings returns the per-row diagnostics collected so far.
func (s *Scanner) Warnings() []geo.Warning { return s.warnings }

// Layers returns the single layer label every feature carries.
func (s *Scanner) Layers() []string { return []string{s.layer} }
