package shapefile

// shx.go - .shx record index

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/geowerk/geoloader/pkg/geo"
)

// shxRecord is one index entry: the byte offset and content length of a
// .shp record. Both are stored as 16-bit word counts on the wire.
type shxRecord struct {
	offset        int
	contentLength int
}

// shxIndex is the parsed .shx file. The record count anchors cross-file
// consistency checks and progress estimation.
type shxIndex struct {
	header  *shxHeader
	records []shxRecord
}

func (x *shxIndex) count() int { return len(x.records) }

// readSHX parses the whole index. Offsets must be strictly increasing;
// anything else means the pair of files cannot be trusted.
func readSHX(r io.Reader, size int64) (*shxIndex, error) {
	header, err := readHeader(r, "shx", size)
	if err != nil {
		return nil, err
	}
	if (size-headerSize)%8 != 0 {
		return nil, &geo.FormatError{Format: "shapefile", Reason: "shx: index size is not a multiple of 8 bytes"}
	}
	n := int((size - headerSize) / 8)

	data := make([]byte, size-headerSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, &geo.FormatError{Format: "shapefile", Reason: "shx: truncated index"}
	}

	records := make([]shxRecord, 0, n)
	prevOffset := 0
	for i := 0; i < n; i++ {
		rec := shxRecord{
			offset:        2 * int(binary.BigEndian.Uint32(data[8*i:8*i+4])),
			contentLength: 2 * int(binary.BigEndian.Uint32(data[8*i+4:8*i+8])),
		}
		if rec.offset < headerSize || rec.offset <= prevOffset {
			return nil, &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("shx: record %d offset %d out of order", i+1, rec.offset)}
		}
		prevOffset = rec.offset
		records = append(records, rec)
	}
	return &shxIndex{header: header, records: records}, nil
}
