package shapefile

// dbf.go - dBase III attribute table reader

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/geowerk/geoloader/pkg/geo"
)

const (
	dbfHeaderSize     = 32
	dbfDescriptorSize = 32

	dbfRecordLive    = ' '
	dbfRecordDeleted = '*'
)

// dbfField is one column of the attribute table.
type dbfField struct {
	name     string
	typ      byte // C, N, F, L, D, M
	length   int
	decimals int
}

// dbfTable streams records from a .dbf file. Construction consumes the
// header and field descriptors; readRecord then yields one row at a time.
type dbfTable struct {
	r       *bufio.Reader
	fields  []dbfField
	decoder *encoding.Decoder

	recordCount int
	recordSize  int
	read        int
}

// ldidEncodings maps the dBase language driver byte to a character map.
// Only drivers seen in the wild for CAD exports are listed; everything else
// falls back to Latin-1.
var ldidEncodings = map[byte]encoding.Encoding{
	0x01: charmap.CodePage437,
	0x02: charmap.CodePage850,
	0x03: charmap.Windows1252,
	0x57: charmap.Windows1252,
	0xC8: charmap.Windows1250,
	0xC9: charmap.Windows1251,
}

// newDBFTable reads the header and field descriptors. charsetLabel, when
// non-empty (from a .cpg sidecar or an option), wins over the header's
// language driver byte.
func newDBFTable(r io.Reader, charsetLabel string) (*dbfTable, error) {
	headerData := make([]byte, dbfHeaderSize)
	if _, err := io.ReadFull(r, headerData); err != nil {
		return nil, &geo.FormatError{Format: "shapefile", Reason: "dbf: truncated header"}
	}

	version := int(headerData[0]) & 0x7
	if version != 3 {
		return nil, &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("dbf: unsupported version %d", version)}
	}
	if headerData[0]&0x80 != 0 {
		return nil, &geo.FormatError{Format: "shapefile", Reason: "dbf: memo (.dbt) tables are not supported"}
	}

	recordCount := int(int32(binary.LittleEndian.Uint32(headerData[4:8])))
	headerLen := int(binary.LittleEndian.Uint16(headerData[8:10]))
	recordSize := int(binary.LittleEndian.Uint16(headerData[10:12]))
	ldid := headerData[29]
	if recordCount < 0 || recordSize <= 0 || headerLen < dbfHeaderSize {
		return nil, &geo.FormatError{Format: "shapefile", Reason: "dbf: implausible header geometry"}
	}

	var fields []dbfField
	buf := make([]byte, dbfDescriptorSize)
	for {
		if _, err := io.ReadFull(r, buf[:1]); err != nil {
			return nil, &geo.FormatError{Format: "shapefile", Reason: "dbf: truncated field descriptors"}
		}
		if buf[0] == '\x0d' {
			break
		}
		if _, err := io.ReadFull(r, buf[1:]); err != nil {
			return nil, &geo.FormatError{Format: "shapefile", Reason: "dbf: truncated field descriptors"}
		}
		field := dbfField{
			name:     string(trimTrailingZeros(buf[:11])),
			typ:      buf[11],
			length:   int(buf[16]),
			decimals: int(buf[17]),
		}
		switch field.typ {
		case 'C', 'N', 'F', 'L', 'D', 'M':
		default:
			return nil, &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("dbf: field %q has unknown type %q", field.name, field.typ)}
		}
		fields = append(fields, field)
	}

	total := 1 // deletion flag byte
	for _, f := range fields {
		total += f.length
	}
	if total != recordSize {
		return nil, &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("dbf: field lengths sum to %d, record size is %d", total, recordSize)}
	}

	return &dbfTable{
		r:           bufio.NewReader(r),
		fields:      fields,
		decoder:     newTextDecoder(charsetLabel, ldid),
		recordCount: recordCount,
		recordSize:  recordSize,
	}, nil
}

// newTextDecoder picks the decoder for C fields: an explicit charset label
// first, then the language driver byte, then Latin-1.
func newTextDecoder(label string, ldid byte) *encoding.Decoder {
	if label != "" {
		if enc, _ := charset.Lookup(label); enc != nil {
			return enc.NewDecoder()
		}
	}
	if enc, ok := ldidEncodings[ldid]; ok {
		return enc.NewDecoder()
	}
	return charmap.ISO8859_1.NewDecoder()
}

// charsetKnown reports whether a charset label resolves to an encoding.
func charsetKnown(label string) bool {
	enc, _ := charset.Lookup(label)
	return enc != nil
}

// fieldError marks a row whose field values cannot be parsed. The row's
// bytes are fully consumed before parsing, so the table stays aligned and
// the caller can skip the record.
type fieldError struct {
	number int
	field  string
	reason string
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("attribute record %d, field %s: %s", e.number, e.field, e.reason)
}

// readRecord returns the next row as a field map, or deleted=true for rows
// carrying the deletion flag. io.EOF after the declared record count.
// A *fieldError means this row is malformed but the table is still readable.
func (t *dbfTable) readRecord() (fields map[string]any, deleted bool, err error) {
	if t.read >= t.recordCount {
		return nil, false, io.EOF
	}
	data := make([]byte, t.recordSize)
	if _, err := io.ReadFull(t.r, data); err != nil {
		return nil, false, &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("dbf: truncated record %d", t.read+1)}
	}
	t.read++

	switch data[0] {
	case dbfRecordLive:
	case dbfRecordDeleted:
		return nil, true, nil
	default:
		return nil, false, &geo.FormatError{Format: "shapefile", Reason: fmt.Sprintf("dbf: record %d has invalid deletion flag %#x", t.read, data[0])}
	}

	fields = make(map[string]any, len(t.fields))
	offset := 1
	for _, f := range t.fields {
		raw := data[offset : offset+f.length]
		offset += f.length
		v, err := t.parseField(f, raw)
		if err != nil {
			return nil, false, &fieldError{number: t.read, field: f.name, reason: err.Error()}
		}
		fields[f.name] = v
	}
	return fields, false, nil
}

func (t *dbfTable) parseField(f dbfField, raw []byte) (any, error) {
	switch f.typ {
	case 'C', 'M':
		trimmed := bytes.TrimSpace(trimTrailingZeros(raw))
		decoded, err := t.decoder.Bytes(trimmed)
		if err != nil {
			// Undecodable bytes degrade to the raw text, not an error.
			return string(trimmed), nil
		}
		return string(decoded), nil
	case 'N', 'F':
		s := string(bytes.TrimSpace(trimTrailingZeros(raw)))
		if s == "" {
			return nil, nil
		}
		if f.typ == 'N' && f.decimals == 0 {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				return int(v), nil
			}
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: invalid numeric", s)
		}
		return v, nil
	case 'L':
		switch string(raw) {
		case "T", "t", "Y", "y":
			return true, nil
		case "F", "f", "N", "n":
			return false, nil
		case "?", " ", "":
			return nil, nil
		default:
			return nil, fmt.Errorf("%q: invalid logical", string(raw))
		}
	case 'D':
		s := string(bytes.TrimSpace(raw))
		if s == "" {
			return nil, nil
		}
		d, err := time.Parse("20060102", s)
		if err != nil {
			return nil, fmt.Errorf("%q: invalid date", s)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported field type %q", f.typ)
	}
}

func trimTrailingZeros(data []byte) []byte {
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] != 0 {
			return data[:i+1]
		}
	}
	return nil
}
