// Package shapefile reads ESRI shapefile bundles into model features. A
// bundle is the .shp geometry file plus its .shx index and .dbf attribute
// table, with optional .prj (projection) and .cpg (charset) sidecars.
//
// The three core files are required: a bundle missing any of them is
// structurally incomplete and rejected as a whole, as are files with broken
// headers or inconsistent record counts. Individual records that cannot be
// decoded (unsupported shapes, degenerate rings, truncated content) are
// skipped with a Warning while the scan continues.
package shapefile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/geowerk/geoloader/pkg/geo"
)

// Options bounds decoding against antagonistic inputs. Zero values disable
// the corresponding limit.
type Options struct {
	// MaxParts and MaxPoints cap a single record's parts table and point
	// count.
	MaxParts  int
	MaxPoints int
	// MaxRecordBytes caps one record's content length.
	MaxRecordBytes int
	// MaxRecords caps the bundle's record count, checked against the .shx
	// index before any record is decoded.
	MaxRecords int
	// Charset overrides the .cpg sidecar and the .dbf language driver byte.
	Charset string
}

// DefaultOptions returns the limits used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxParts:       1_000_000,
		MaxPoints:      1_000_000,
		MaxRecordBytes: 2_000_000,
		MaxRecords:     1_000_000,
	}
}

// Result is the eager parse output.
type Result struct {
	Features []*geo.Feature
	Warnings []geo.Warning

	// CRS is the detected coordinate system code ("EPSG:2056" and friends),
	// empty when the bundle has no .prj or it names an unknown system.
	CRS string
	// Projection is the raw .prj text.
	Projection string
	// Bounds is the extent declared by the .shp header.
	Bounds geo.Bounds
}

// Parse reads the whole bundle rooted at fsys with the given basename
// (path without extension).
func Parse(fsys fs.FS, basename string, opts Options) (*Result, error) {
	sc, err := NewScanner(fsys, basename, opts)
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	var features []*geo.Feature
	for {
		f, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return &Result{
		Features:   features,
		Warnings:   sc.Warnings(),
		CRS:        sc.CRS(),
		Projection: sc.Projection(),
		Bounds:     sc.Bounds(),
	}, nil
}

// Scanner streams features from a bundle, one .shp record joined with its
// .dbf row per call.
type Scanner struct {
	shpFile  fs.File
	shp      io.Reader
	dbf      *dbfTable
	dbfFile  fs.File
	shx      *shxIndex
	header   *shxHeader
	basename string
	opts     Options

	crs        string
	projection string

	number   int
	warnings []geo.Warning
	done     bool
}

// NewScanner opens the bundle and validates everything header-level: file
// codes, versions, shape types, index consistency and the record-count
// ceiling. Record decoding is left to Next.
func NewScanner(fsys fs.FS, basename string, opts Options) (*Scanner, error) {
	s := &Scanner{basename: basename, opts: opts}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	// Required core files.
	shpFile, shpSize, err := openWithSize(fsys, basename+".shp")
	if err != nil {
		return nil, requiredFileError(basename, ".shp", err)
	}
	s.shpFile = shpFile

	shxFile, shxSize, err := openWithSize(fsys, basename+".shx")
	if err != nil {
		return nil, requiredFileError(basename, ".shx", err)
	}
	defer shxFile.Close()

	dbfFile, _, err := openWithSize(fsys, basename+".dbf")
	if err != nil {
		return nil, requiredFileError(basename, ".dbf", err)
	}
	s.dbfFile = dbfFile

	// Optional sidecars.
	charsetLabel := opts.Charset
	if charsetLabel == "" {
		if cpgFile, _, err := openWithSize(fsys, basename+".cpg"); err == nil {
			label, err := readCPG(cpgFile)
			cpgFile.Close()
			if err == nil && label != "" {
				if charsetKnown(label) {
					charsetLabel = label
				} else {
					s.warn(geo.Warning{
						Format:  "shapefile",
						Message: fmt.Sprintf("unknown charset %q in .cpg sidecar, falling back to Latin-1", label),
					})
				}
			}
		}
	}
	if prjFile, _, err := openWithSize(fsys, basename+".prj"); err == nil {
		projection, err := readPRJ(prjFile)
		prjFile.Close()
		if err == nil {
			s.projection = projection
			s.crs = detectCRS(projection)
		}
	}

	header, err := readHeader(shpFile, "shp", shpSize)
	if err != nil {
		return nil, err
	}
	s.header = header
	s.shp = bufio.NewReader(shpFile)

	shx, err := readSHX(shxFile, shxSize)
	if err != nil {
		return nil, err
	}
	s.shx = shx

	dbf, err := newDBFTable(dbfFile, charsetLabel)
	if err != nil {
		return nil, err
	}
	s.dbf = dbf

	if shx.count() != dbf.recordCount {
		return nil, &geo.FormatError{
			Format: "shapefile",
			Reason: fmt.Sprintf("index lists %d records, attribute table %d", shx.count(), dbf.recordCount),
		}
	}
	if opts.MaxRecords > 0 && shx.count() > opts.MaxRecords {
		return nil, &geo.FormatError{
			Format: "shapefile",
			Reason: fmt.Sprintf("%d records exceeds limit %d", shx.count(), opts.MaxRecords),
		}
	}

	ok = true
	return s, nil
}

// Next returns the next feature, io.EOF at the end of the bundle. Every
// call consumes exactly one record from both the .shp stream and the .dbf
// table so the two stay aligned across skips.
func (s *Scanner) Next() (*geo.Feature, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		if s.number >= s.shx.count() {
			s.done = true
			return nil, io.EOF
		}
		s.number++

		rec, shpErr := readRecord(s.shp, s.number, s.opts)
		var recErr *recordError
		switch {
		case shpErr == nil:
		case errors.As(shpErr, &recErr):
			// Skippable; fall through after the attribute read.
		case shpErr == io.EOF:
			// The index promised more records.
			return nil, &geo.FormatError{
				Format: "shapefile",
				Reason: fmt.Sprintf("shp ends at record %d, index lists %d", s.number-1, s.shx.count()),
			}
		default:
			return nil, &geo.FormatError{Format: "shapefile", Reason: shpErr.Error()}
		}

		fields, deleted, dbfErr := s.dbf.readRecord()
		var fldErr *fieldError
		switch {
		case dbfErr == nil:
		case errors.As(dbfErr, &fldErr):
			// Row bytes are consumed, alignment holds; skippable.
		default:
			return nil, dbfErr
		}

		switch {
		case recErr != nil:
			s.warn(geo.Warning{
				Format: "shapefile", Handle: strconv.Itoa(recErr.number),
				Message: recErr.reason,
			})
			continue
		case fldErr != nil:
			s.warn(geo.Warning{
				Format: "shapefile", Entity: rec.shape.String(), Handle: strconv.Itoa(rec.number),
				Message: fldErr.Error(),
			})
			continue
		case rec.shape == ShapeNull:
			s.warn(geo.Warning{
				Format: "shapefile", Entity: "Null", Handle: strconv.Itoa(rec.number),
				Message: "null shape skipped",
			})
			continue
		case deleted:
			s.warn(geo.Warning{
				Format: "shapefile", Entity: rec.shape.String(), Handle: strconv.Itoa(rec.number),
				Message: "attribute record marked deleted",
			})
			continue
		}

		f := &geo.Feature{
			ID:         strconv.Itoa(rec.number),
			Layer:      s.basename,
			Geom:       rec.geom,
			Properties: fields,
		}
		if !rec.shape.isPoint() && !rec.bbox.IsEmpty() {
			bbox := rec.bbox
			f.BBox = &bbox
		}
		return f, nil
	}
}

// Close releases the underlying files.
func (s *Scanner) Close() error {
	var err error
	if s.shpFile != nil {
		err = errors.Join(err, s.shpFile.Close())
	}
	if s.dbfFile != nil {
		err = errors.Join(err, s.dbfFile.Close())
	}
	return err
}

// Count returns the record count declared by the index.
func (s *Scanner) Count() int { return s.shx.count() }

// Bounds returns the extent declared by the .shp header.
func (s *Scanner) Bounds() geo.Bounds { return s.header.bounds }

// CRS returns the coordinate system code detected from the .prj sidecar.
func (s *Scanner) CRS() string { return s.crs }

// Projection returns the raw .prj text.
func (s *Scanner) Projection() string { return s.projection }

// Warnings returns the diagnostics accumulated so far.
func (s *Scanner) Warnings() []geo.Warning { return s.warnings }

// Layers returns the bundle's single layer, named after the basename.
func (s *Scanner) Layers() []string { return []string{s.basename} }

func (s *Scanner) warn(w geo.Warning) {
	s.warnings = append(s.warnings, w)
}

func openWithSize(fsys fs.FS, name string) (fs.File, int64, error) {
	f, err := fsys.Open(name)
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

func requiredFileError(basename, ext string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &geo.FormatError{
			Format: "shapefile",
			Reason: fmt.Sprintf("%s%s: missing required file", basename, ext),
		}
	}
	return &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("%s%s: %v", basename, ext, err)}
}
