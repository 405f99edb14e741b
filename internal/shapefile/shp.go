package shapefile

// shp.go - .shp/.shx header and shape record decoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/twpayne/go-geom"

	"github.com/geowerk/geoloader/pkg/geo"
)

const (
	headerSize = 100
	fileCode   = 9994
	shpVersion = 1000

	// noDataLimit is the threshold below which an ordinate means "no data"
	// rather than a coordinate. From the format specification.
	noDataLimit = -1e38
)

// ShapeType is the shape type from the .shp header and each record.
type ShapeType uint32

// Shape types from the format specification. MultiPatch is recognized but
// not decoded.
const (
	ShapeNull        ShapeType = 0
	ShapePoint       ShapeType = 1
	ShapePolyLine    ShapeType = 3
	ShapePolygon     ShapeType = 5
	ShapeMultiPoint  ShapeType = 8
	ShapePointZ      ShapeType = 11
	ShapePolyLineZ   ShapeType = 13
	ShapePolygonZ    ShapeType = 15
	ShapeMultiPointZ ShapeType = 18
	ShapePointM      ShapeType = 21
	ShapePolyLineM   ShapeType = 23
	ShapePolygonM    ShapeType = 25
	ShapeMultiPointM ShapeType = 28
	ShapeMultiPatch  ShapeType = 31
)

var shapeTypeNames = map[ShapeType]string{
	ShapeNull:        "Null",
	ShapePoint:       "Point",
	ShapePolyLine:    "PolyLine",
	ShapePolygon:     "Polygon",
	ShapeMultiPoint:  "MultiPoint",
	ShapePointZ:      "PointZ",
	ShapePolyLineZ:   "PolyLineZ",
	ShapePolygonZ:    "PolygonZ",
	ShapeMultiPointZ: "MultiPointZ",
	ShapePointM:      "PointM",
	ShapePolyLineM:   "PolyLineM",
	ShapePolygonM:    "PolygonM",
	ShapeMultiPointM: "MultiPointM",
	ShapeMultiPatch:  "MultiPatch",
}

func (t ShapeType) String() string {
	if name, ok := shapeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ShapeType(%d)", uint32(t))
}

func (t ShapeType) valid() bool {
	_, ok := shapeTypeNames[t]
	return ok
}

// hasZ reports whether records of this type carry a Z block.
func (t ShapeType) hasZ() bool {
	switch t {
	case ShapePointZ, ShapePolyLineZ, ShapePolygonZ, ShapeMultiPointZ:
		return true
	}
	return false
}

// hasM reports whether records of this type may carry an M block. Z types
// carry one too; both blocks are optional on the wire.
func (t ShapeType) hasM() bool {
	return t.hasZ() || t == ShapePointM || t == ShapePolyLineM || t == ShapePolygonM || t == ShapeMultiPointM
}

func (t ShapeType) isPoint() bool {
	return t == ShapePoint || t == ShapePointZ || t == ShapePointM
}

func (t ShapeType) isMultiPoint() bool {
	return t == ShapeMultiPoint || t == ShapeMultiPointZ || t == ShapeMultiPointM
}

func (t ShapeType) isPolyLine() bool {
	return t == ShapePolyLine || t == ShapePolyLineZ || t == ShapePolyLineM
}

func (t ShapeType) isPolygon() bool {
	return t == ShapePolygon || t == ShapePolygonZ || t == ShapePolygonM
}

// shxHeader is the 100-byte header shared by .shp and .shx files.
type shxHeader struct {
	shapeType ShapeType
	bounds    geo.Bounds
}

// readHeader validates the fixed header: file code 9994 (big-endian),
// declared file length matching the actual size, version 1000
// (little-endian), and a known shape type. Any violation rejects the whole
// file.
func readHeader(r io.Reader, name string, fileLength int64) (*shxHeader, error) {
	if fileLength < headerSize {
		return nil, &geo.FormatError{Format: "shapefile", Reason: name + ": file shorter than the 100-byte header"}
	}
	data := make([]byte, headerSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, &geo.FormatError{Format: "shapefile", Reason: name + ": truncated header"}
	}

	if code := binary.BigEndian.Uint32(data[:4]); code != fileCode {
		return nil, &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("%s: file code %d, want %d", name, code, fileCode)}
	}
	if declared := 2 * int64(binary.BigEndian.Uint32(data[24:28])); declared != fileLength {
		return nil, &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("%s: declared length %d does not match file size %d", name, declared, fileLength)}
	}
	if v := binary.LittleEndian.Uint32(data[28:32]); v != shpVersion {
		return nil, &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("%s: version %d, want %d", name, v, shpVersion)}
	}
	shapeType := ShapeType(binary.LittleEndian.Uint32(data[32:36]))
	if !shapeType.valid() {
		return nil, &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("%s: unknown shape type %d", name, uint32(shapeType))}
	}
	if shapeType == ShapeMultiPatch {
		return nil, &geo.FormatError{Format: "shapefile", Reason: name + ": MultiPatch files are not supported"}
	}

	// Header bounds: no-data sentinels collapse to the empty box rather
	// than poisoning later unions.
	bounds := geo.NewBounds()
	minX := math.Float64frombits(binary.LittleEndian.Uint64(data[36:44]))
	minY := math.Float64frombits(binary.LittleEndian.Uint64(data[44:52]))
	maxX := math.Float64frombits(binary.LittleEndian.Uint64(data[52:60]))
	maxY := math.Float64frombits(binary.LittleEndian.Uint64(data[60:68]))
	if !noData(minX) && !noData(minY) && !noData(maxX) && !noData(maxY) {
		bounds.ExtendXY(minX, minY)
		bounds.ExtendXY(maxX, maxY)
	}

	return &shxHeader{shapeType: shapeType, bounds: bounds}, nil
}

func noData(x float64) bool { return x <= noDataLimit }

// recordError marks a single record as undecodable. The record's bytes were
// fully consumed, so the stream stays aligned and the caller can skip it
// with a warning.
type recordError struct {
	number int
	reason string
}

func (e *recordError) Error() string {
	return fmt.Sprintf("record %d: %s", e.number, e.reason)
}

// shpRecord is one decoded .shp record. geom is nil for null shapes.
type shpRecord struct {
	number int
	shape  ShapeType
	bbox   geo.Bounds
	geom   geom.T
}

// readRecord reads and decodes the next record. Returns io.EOF at the clean
// end of the stream, a *recordError for a record that is undecodable but
// skippable, and other errors when the stream itself is broken.
func readRecord(r io.Reader, number int, opts Options) (*shpRecord, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("record %d: truncated record header: %w", number, err)
	}
	recordNumber := int(binary.BigEndian.Uint32(header[:4]))
	contentLength := 2 * int(binary.BigEndian.Uint32(header[4:8]))
	if recordNumber != number {
		return nil, fmt.Errorf("record %d: out-of-sequence record number %d", number, recordNumber)
	}
	if contentLength < 4 {
		return nil, fmt.Errorf("record %d: content length %d below minimum", number, contentLength)
	}
	if opts.MaxRecordBytes > 0 && contentLength > opts.MaxRecordBytes {
		return nil, fmt.Errorf("record %d: content length %d exceeds limit %d", number, contentLength, opts.MaxRecordBytes)
	}

	content := make([]byte, contentLength)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, fmt.Errorf("record %d: truncated record content: %w", number, err)
	}

	return decodeRecord(number, content, opts)
}

// decodeRecord decodes one record's content bytes.
func decodeRecord(number int, content []byte, opts Options) (*shpRecord, error) {
	c := newCursor(content)
	shapeType := ShapeType(c.uint32())

	if shapeType == ShapeNull {
		return &shpRecord{number: number, shape: ShapeNull}, nil
	}
	if !shapeType.valid() || shapeType == ShapeMultiPatch {
		return nil, &recordError{number: number, reason: fmt.Sprintf("unsupported shape type %d", uint32(shapeType))}
	}

	rec := &shpRecord{number: number, shape: shapeType, bbox: geo.NewBounds()}

	if shapeType.isPoint() {
		x, y := c.float64Pair()
		z, withZ := 0.0, false
		if shapeType.hasZ() {
			z = c.float64()
			withZ = !noData(z)
		}
		if shapeType.hasM() && c.remaining() >= 8 {
			c.skip(8) // optional M
		}
		if err := c.Err(); err != nil {
			return nil, &recordError{number: number, reason: "truncated point record"}
		}
		if c.remaining() != 0 {
			return nil, &recordError{number: number, reason: fmt.Sprintf("%d trailing bytes after point", c.remaining())}
		}
		if withZ {
			rec.geom = geom.NewPointFlat(geom.XYZ, []float64{x, y, z})
		} else {
			rec.geom = geom.NewPointFlat(geom.XY, []float64{x, y})
		}
		rec.bbox.ExtendXY(x, y)
		return rec, nil
	}

	// Multipoint, polyline and polygon records share a bounding box, an
	// optional parts table and an XY block, followed by optional Z and M
	// blocks.
	minX, minY := c.float64Pair()
	maxX, maxY := c.float64Pair()
	if !noData(minX) && !noData(minY) && !noData(maxX) && !noData(maxY) {
		rec.bbox.ExtendXY(minX, minY)
		rec.bbox.ExtendXY(maxX, maxY)
	}

	numParts := 1
	var partStarts []int
	if shapeType.isPolyLine() || shapeType.isPolygon() {
		numParts = c.uint32()
		if numParts <= 0 {
			return nil, &recordError{number: number, reason: "no parts"}
		}
		if opts.MaxParts > 0 && numParts > opts.MaxParts {
			return nil, &recordError{number: number, reason: fmt.Sprintf("%d parts exceeds limit %d", numParts, opts.MaxParts)}
		}
	}

	numPoints := c.uint32()
	if err := c.Err(); err != nil {
		return nil, &recordError{number: number, reason: "truncated record content"}
	}
	if numPoints <= 0 {
		return nil, &recordError{number: number, reason: "no points"}
	}
	if opts.MaxPoints > 0 && numPoints > opts.MaxPoints {
		return nil, &recordError{number: number, reason: fmt.Sprintf("%d points exceeds limit %d", numPoints, opts.MaxPoints)}
	}

	if shapeType.isPolyLine() || shapeType.isPolygon() {
		partStarts = make([]int, numParts)
		for i := range partStarts {
			partStarts[i] = c.uint32()
		}
		if c.Err() == nil {
			if partStarts[0] != 0 {
				return nil, &recordError{number: number, reason: "first part does not start at point 0"}
			}
			for i := 1; i < numParts; i++ {
				if partStarts[i] < partStarts[i-1] || partStarts[i] > numPoints {
					return nil, &recordError{number: number, reason: fmt.Sprintf("part %d starts out of range", i)}
				}
			}
		}
	}

	layout := geom.XY
	stride := 2
	if shapeType.hasZ() {
		layout = geom.XYZ
		stride = 3
	}
	flat := make([]float64, numPoints*stride)
	for i := 0; i < numPoints; i++ {
		flat[i*stride], flat[i*stride+1] = c.float64Pair()
	}

	if shapeType.hasZ() {
		c.skip(16) // z range
		allNoData := true
		for i := 0; i < numPoints; i++ {
			z := c.float64()
			if noData(z) {
				z = 0
			} else {
				allNoData = false
			}
			flat[i*stride+2] = z
		}
		if allNoData && c.Err() == nil {
			// Every height is a no-data sentinel: the file is 2D in Z
			// clothing. Strip the dimension instead of inventing zeros.
			xy := make([]float64, numPoints*2)
			for i := 0; i < numPoints; i++ {
				xy[i*2] = flat[i*stride]
				xy[i*2+1] = flat[i*stride+1]
			}
			flat = xy
			layout = geom.XY
			stride = 2
		}
	}
	if shapeType.hasM() && c.remaining() >= 16+8*numPoints {
		c.skip(16 + 8*numPoints) // measures are not part of the model
	}

	if err := c.Err(); err != nil {
		return nil, &recordError{number: number, reason: "truncated record content"}
	}
	if c.remaining() != 0 {
		return nil, &recordError{number: number, reason: fmt.Sprintf("%d trailing bytes after geometry", c.remaining())}
	}

	switch {
	case shapeType.isMultiPoint():
		rec.geom = geom.NewMultiPointFlat(layout, flat)
	case shapeType.isPolyLine():
		ends := partEnds(partStarts, numPoints, stride)
		if len(ends) == 1 {
			rec.geom = geom.NewLineStringFlat(layout, flat)
		} else {
			rec.geom = geom.NewMultiLineStringFlat(layout, flat, ends)
		}
	case shapeType.isPolygon():
		g, err := assemblePolygons(layout, flat, partEnds(partStarts, numPoints, stride))
		if err != nil {
			return nil, &recordError{number: number, reason: err.Error()}
		}
		rec.geom = g
	}
	return rec, nil
}

// partEnds converts part start indices to flat-coordinate end offsets.
func partEnds(partStarts []int, numPoints, stride int) []int {
	if len(partStarts) == 0 {
		return []int{numPoints * stride}
	}
	ends := make([]int, len(partStarts))
	for i := 1; i < len(partStarts); i++ {
		ends[i-1] = partStarts[i] * stride
	}
	ends[len(ends)-1] = numPoints * stride
	return ends
}

// assemblePolygons groups rings into polygons by winding. Clockwise rings
// (negative signed area) open a new polygon; counter-clockwise rings are
// holes of the polygon most recently opened. The first ring opens the first
// polygon whatever its orientation. A single polygon stays a Polygon, more
// become a MultiPolygon.
func assemblePolygons(layout geom.Layout, flat []float64, ends []int) (geom.T, error) {
	stride := layout.Stride()
	var endss [][]int
	polygonStart := 0
	offset := 0
	for i, end := range ends {
		if (end-offset)/stride < 4 {
			return nil, errors.New("ring with fewer than 4 positions")
		}
		area := signedDoubleArea(flat, offset, end, stride)
		if area == 0 {
			return nil, errors.New("zero-area ring")
		}
		if i != 0 && area < 0 {
			endss = append(endss, ends[polygonStart:i])
			polygonStart = i
		}
		offset = end
	}
	endss = append(endss, ends[polygonStart:])

	if len(endss) == 1 {
		return geom.NewPolygonFlat(layout, flat, endss[0]), nil
	}
	return geom.NewMultiPolygonFlat(layout, flat, endss), nil
}

// signedDoubleArea is twice the shoelace area of one ring, positive for
// counter-clockwise rings.
func signedDoubleArea(flat []float64, offset, end, stride int) float64 {
	var sum float64
	for i := offset + stride; i < end; i += stride {
		sum += (flat[i+1] - flat[i+1-stride]) * (flat[i] + flat[i-stride])
	}
	return sum
}
