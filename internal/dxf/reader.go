package dxf

// reader.go - group-code/value pair tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxValueLine bounds a single value line. MTEXT content can run long, but a
// line beyond this is corruption, not text.
const maxValueLine = 1 << 20

// pair is one group-code/value tuple: a code line followed by a value line.
type pair struct {
	code  int
	value string
	line  int // line number of the code line, for diagnostics
}

// pairReader tokenizes a DXF stream into pairs. A code line that is not an
// integer means the file structure itself is broken, which is fatal.
type pairReader struct {
	sc     *bufio.Scanner
	line   int
	peeked *pair
}

func newPairReader(r io.Reader) *pairReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxValueLine)
	return &pairReader{sc: sc}
}

// next returns the next pair, io.EOF at end of input. A code line without a
// following value line is a truncated file.
func (r *pairReader) next() (pair, error) {
	if r.peeked != nil {
		p := *r.peeked
		r.peeked = nil
		return p, nil
	}
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return pair{}, err
		}
		return pair{}, io.EOF
	}
	r.line++
	codeLine := strings.TrimSpace(strings.TrimSuffix(r.sc.Text(), "\r"))
	code, err := strconv.Atoi(codeLine)
	if err != nil {
		return pair{}, fmt.Errorf("line %d: malformed group code %q", r.line, codeLine)
	}
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return pair{}, err
		}
		return pair{}, fmt.Errorf("line %d: group code %d has no value line", r.line, code)
	}
	r.line++
	value := strings.TrimSpace(strings.TrimSuffix(r.sc.Text(), "\r"))
	return pair{code: code, value: value, line: r.line - 1}, nil
}

// peek returns the next pair without consuming it.
func (r *pairReader) peek() (pair, error) {
	if r.peeked != nil {
		return *r.peeked, nil
	}
	p, err := r.next()
	if err != nil {
		return pair{}, err
	}
	r.peeked = &p
	return p, nil
}

// tag is a validated pair within one entity.
type tag struct {
	code  int
	value string
}

// tagList is the ordered tag sequence of a single entity. Order matters:
// repeated coordinate codes (10/20/30 per vertex) are reconstructed by
// walking the list in file order.
type tagList []tag

// str returns the first value for a code, or the fallback.
func (t tagList) str(code int, fallback string) string {
	for _, tg := range t {
		if tg.code == code {
			return tg.value
		}
	}
	return fallback
}

// float returns the first float value for a code. ok is false when the code
// is absent. Values were validated against the code table before assembly,
// so parsing here cannot fail.
func (t tagList) float(code int) (float64, bool) {
	for _, tg := range t {
		if tg.code == code {
			v, err := strconv.ParseFloat(tg.value, 64)
			if err != nil {
				return 0, false
			}
			return v, true
		}
	}
	return 0, false
}

// floatOr returns the first float value for a code, or the fallback.
func (t tagList) floatOr(code int, fallback float64) float64 {
	if v, ok := t.float(code); ok {
		return v
	}
	return fallback
}

// intOr returns the first integer value for a code, or the fallback.
func (t tagList) intOr(code int, fallback int) int {
	for _, tg := range t {
		if tg.code == code {
			v, err := strconv.ParseInt(tg.value, 10, 64)
			if err != nil {
				return fallback
			}
			return int(v)
		}
	}
	return fallback
}

// strs returns every value for a code, in file order. MTEXT splits its text
// across repeated code-3 chunks followed by a code-1 tail.
func (t tagList) strs(code int) []string {
	var out []string
	for _, tg := range t {
		if tg.code == code {
			out = append(out, tg.value)
		}
	}
	return out
}
