package shapefile

// prj.go - .prj sidecar and coordinate system detection

import (
	"io"
	"strings"
)

// Coordinate system codes recognized from .prj sidecars. The transformation
// layer owns the systems themselves; the parser only names them.
const (
	crsLV95  = "EPSG:2056"
	crsLV03  = "EPSG:21781"
	crsWGS84 = "EPSG:4326"
)

// readPRJ returns the raw well-known-text projection description.
func readPRJ(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// detectCRS maps a projection description to a coordinate system code.
// Matching is by well-known substrings rather than full WKT parsing: the
// sidecars in the wild vary too much in formatting for anything stricter,
// and only the Swiss frames and WGS84 are transformable anyway. Returns ""
// when nothing matches; the caller then falls back to heuristics or user
// input.
func detectCRS(wkt string) string {
	if wkt == "" {
		return ""
	}
	upper := strings.ToUpper(wkt)
	switch {
	case strings.Contains(upper, "2056") ||
		strings.Contains(upper, "CH1903+") ||
		strings.Contains(upper, "LV95"):
		return crsLV95
	case strings.Contains(upper, "21781") ||
		strings.Contains(upper, "LV03") ||
		strings.Contains(upper, "CH1903"):
		return crsLV03
	case strings.Contains(upper, "4326") ||
		strings.Contains(upper, "WGS_1984") ||
		strings.Contains(upper, "WGS 84") ||
		strings.Contains(upper, "WGS84"):
		return crsWGS84
	default:
		return ""
	}
}

// readCPG returns the charset label from a .cpg sidecar, lower-cased the
// way charset lookup expects.
func readCPG(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(string(data))), nil
}
