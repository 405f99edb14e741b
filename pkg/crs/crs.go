// Package crs manages coordinate reference systems and executes transforms
// between them. Non-identity transforms pivot through WGS84; the Swiss
// frames additionally run a two-stage height pipeline over the external
// geodesy service, with a grid-keyed delta cache so nearby points share one
// service round trip.
//
// The service is the only exact path. When it is unavailable the
// transformer can fall back to a coarse linear approximation; results
// produced that way carry an explicit Approximate mark and are never
// cached.
package crs

import (
	"fmt"
	"sort"
	"sync"
)

// Authority codes of the built-in systems.
const (
	CodeLV95  = "EPSG:2056"  // Swiss LV95 (CH1903+), metres
	CodeLV03  = "EPSG:21781" // Swiss LV03 (CH1903), metres
	CodeWGS84 = "EPSG:4326"  // WGS84, degrees
)

// System describes one coordinate reference system. Systems are registered
// at construction and immutable afterwards.
type System struct {
	// Code is the authority identifier ("EPSG:2056").
	Code string

	// Name is the human-readable label.
	Name string

	// Geographic marks angular systems (degrees); projected systems use
	// metres.
	Geographic bool

	// Swiss marks the national projected frames that transform through the
	// LV95 service pipeline.
	Swiss bool

	// ShiftE and ShiftN are added to a coordinate to express it in LV95.
	// Zero for LV95 itself; the LV03 legacy frame differs by the false
	// origin change.
	ShiftE, ShiftN float64

	// HeightDatum names the vertical reference of stored heights, when the
	// system has one.
	HeightDatum string
}

// Registry is the lookup table of known systems. The built-in set covers
// the two Swiss frames and WGS84; extra systems may be registered before
// the registry is handed to a Transformer.
type Registry struct {
	mu      sync.RWMutex
	systems map[string]System
}

// NewRegistry returns a registry seeded with the built-in systems.
func NewRegistry() *Registry {
	r := &Registry{systems: make(map[string]System)}
	for _, sys := range []System{
		{
			Code:        CodeLV95,
			Name:        "CH1903+ / LV95",
			Swiss:       true,
			HeightDatum: "LHN95",
		},
		{
			Code:        CodeLV03,
			Name:        "CH1903 / LV03",
			Swiss:       true,
			ShiftE:      2_000_000,
			ShiftN:      1_000_000,
			HeightDatum: "LN02",
		},
		{
			Code:       CodeWGS84,
			Name:       "WGS 84",
			Geographic: true,
		},
	} {
		r.systems[sys.Code] = sys
	}
	return r
}

// Register adds a system. Registering an existing code is an error; systems
// are never replaced once visible to transforms.
func (r *Registry) Register(sys System) error {
	if sys.Code == "" {
		return fmt.Errorf("crs: system has no code")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.systems[sys.Code]; exists {
		return fmt.Errorf("crs: system %s already registered", sys.Code)
	}
	r.systems[sys.Code] = sys
	return nil
}

// Lookup returns the system for an authority code.
func (r *Registry) Lookup(code string) (System, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sys, ok := r.systems[code]
	return sys, ok
}

// Codes returns the registered authority codes, sorted.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.systems))
	for code := range r.systems {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Position is one coordinate tuple moving through a transform.
type Position struct {
	X, Y float64
	Z    float64
	HasZ bool

	// Approximate marks a degraded-mode result from the linear fallback
	// instead of the geodesy service. Exact results never set it.
	Approximate bool
}

// Pos builds a 2-D position.
func Pos(x, y float64) Position {
	return Position{X: x, Y: y}
}

// PosZ builds a 3-D position.
func PosZ(x, y, z float64) Position {
	return Position{X: x, Y: y, Z: z, HasZ: true}
}

// String formats the position for diagnostics.
func (p Position) String() string {
	s := fmt.Sprintf("(%.6f, %.6f", p.X, p.Y)
	if p.HasZ {
		s += fmt.Sprintf(", %.3f", p.Z)
	}
	s += ")"
	if p.Approximate {
		s += "~"
	}
	return s
}
