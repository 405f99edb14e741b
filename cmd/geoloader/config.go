package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Everything has a
// working default; the file exists for the knobs that are awkward as
// flags (column mappings, layer lists, service tuning).
type Config struct {
	// SourceCRS is assumed for files that do not declare a system.
	SourceCRS string `yaml:"source_crs,omitempty"`
	// TargetCRS is the output system.
	TargetCRS string `yaml:"target_crs,omitempty"`

	Service ServiceConfig `yaml:"service,omitempty"`
	Cache   CacheConfig   `yaml:"cache,omitempty"`
	DXF     DXFConfig     `yaml:"dxf,omitempty"`
	XYZ     XYZConfig     `yaml:"xyz,omitempty"`
	Preview PreviewConfig `yaml:"preview,omitempty"`
	Stream  StreamConfig  `yaml:"stream,omitempty"`
}

// ServiceConfig tunes the geodesy service client.
type ServiceConfig struct {
	URL      string        `yaml:"url,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Retries  int           `yaml:"retries,omitempty"`
	Fallback *bool         `yaml:"fallback,omitempty"`
}

// CacheConfig tunes the height delta cache.
type CacheConfig struct {
	CellSize float64       `yaml:"cell_size,omitempty"`
	Radius   float64       `yaml:"radius,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

// DXFConfig holds DXF parser settings.
type DXFConfig struct {
	// Layers is the allow-list; empty keeps every layer.
	Layers []string `yaml:"layers,omitempty"`
}

// XYZConfig holds the tabular column mapping.
type XYZConfig struct {
	Delimiter string `yaml:"delimiter,omitempty"`
	Comment   string `yaml:"comment,omitempty"`
	SkipRows  int    `yaml:"skip_rows,omitempty"`
	XCol      *int   `yaml:"x_col,omitempty"`
	YCol      *int   `yaml:"y_col,omitempty"`
	ZCol      *int   `yaml:"z_col,omitempty"`
	Layer     string `yaml:"layer,omitempty"`
}

// PreviewConfig tunes preview generation.
type PreviewConfig struct {
	MaxFeatures int     `yaml:"max_features,omitempty"`
	Tolerance   float64 `yaml:"tolerance,omitempty"`
	Random      bool    `yaml:"random,omitempty"`
	Seed        int64   `yaml:"seed,omitempty"`
}

// StreamConfig tunes the streaming ceilings.
type StreamConfig struct {
	ChunkSize   int   `yaml:"chunk_size,omitempty"`
	MaxFeatures int   `yaml:"max_features,omitempty"`
	MaxBytes    int64 `yaml:"max_bytes,omitempty"`
}

// loadConfig reads and parses the YAML configuration file.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// firstRune returns the first rune of a one-character YAML string option,
// zero when empty.
func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
