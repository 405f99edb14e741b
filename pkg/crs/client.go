package crs

// client.go - REST client for the Swiss geodesy transformation service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/geowerk/geoloader/internal/metrics"
)

// GeodesyClient is the external transformation service: two independent
// request/response calls. Either may fail on its own; failures are never
// conflated across legs.
type GeodesyClient interface {
	// LHN95ToBessel converts a height from the national levelling datum to
	// the Bessel ellipsoid at the given LV95 position.
	LHN95ToBessel(ctx context.Context, easting, northing, altitude float64) (float64, error)

	// LV95ToWGS84 converts an LV95 position with ellipsoidal height to
	// WGS84 longitude, latitude and ellipsoidal height.
	LV95ToWGS84(ctx context.Context, easting, northing, altitude float64) (lon, lat, height float64, err error)
}

// ReframeOptions configures the service client.
type ReframeOptions struct {
	// BaseURL is the service root.
	// Default: https://geodesy.geo.admin.ch/reframe
	BaseURL string

	// Timeout bounds one HTTP round trip.
	// Default: 10s
	Timeout time.Duration

	// Retries is the number of extra attempts after a transport error.
	// Non-200 responses are hard failures and are never retried.
	// Default: 1
	Retries int

	// HTTPClient overrides the underlying client, for tests or custom
	// transports. When set, Timeout is ignored.
	HTTPClient *http.Client
}

// DefaultReframeOptions returns client options with defaults.
func DefaultReframeOptions() ReframeOptions {
	return ReframeOptions{
		BaseURL: "https://geodesy.geo.admin.ch/reframe",
		Timeout: 10 * time.Second,
		Retries: 1,
	}
}

// ReframeClient calls the swisstopo REFRAME endpoints.
type ReframeClient struct {
	base    string
	client  *http.Client
	retries int
}

// NewReframeClient builds a client from options.
func NewReframeClient(opts ReframeOptions) *ReframeClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultReframeOptions().BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReframeOptions().Timeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &ReframeClient{
		base:    opts.BaseURL,
		client:  client,
		retries: opts.Retries,
	}
}

// LHN95ToBessel implements GeodesyClient.
func (c *ReframeClient) LHN95ToBessel(ctx context.Context, easting, northing, altitude float64) (float64, error) {
	resp, err := c.call(ctx, "lhn95tobessel", easting, northing, altitude)
	if err != nil {
		return 0, err
	}
	alt, err := resp.altitude()
	if err != nil {
		return 0, fmt.Errorf("lhn95tobessel: %w", err)
	}
	return alt, nil
}

// LV95ToWGS84 implements GeodesyClient.
func (c *ReframeClient) LV95ToWGS84(ctx context.Context, easting, northing, altitude float64) (float64, float64, float64, error) {
	resp, err := c.call(ctx, "lv95towgs84", easting, northing, altitude)
	if err != nil {
		return 0, 0, 0, err
	}
	lon, err := resp.field("easting", resp.Easting)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("lv95towgs84: %w", err)
	}
	lat, err := resp.field("northing", resp.Northing)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("lv95towgs84: %w", err)
	}
	alt, err := resp.altitude()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("lv95towgs84: %w", err)
	}
	return lon, lat, alt, nil
}

// reframeResponse tolerates the service's habit of returning coordinates as
// JSON strings; numbers are accepted too.
type reframeResponse struct {
	Easting  any `json:"easting"`
	Northing any `json:"northing"`
	Altitude any `json:"altitude"`
}

func (r *reframeResponse) altitude() (float64, error) {
	return r.field("altitude", r.Altitude)
}

func (r *reframeResponse) field(name string, v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %q is not a number", name, v)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("field %s missing from response", name)
	default:
		return 0, fmt.Errorf("field %s has unexpected type %T", name, v)
	}
}

// call issues one GET against an endpoint, retrying transport errors only.
func (c *ReframeClient) call(ctx context.Context, endpoint string, easting, northing, altitude float64) (*reframeResponse, error) {
	q := url.Values{}
	q.Set("easting", strconv.FormatFloat(easting, 'f', -1, 64))
	q.Set("northing", strconv.FormatFloat(northing, 'f', -1, 64))
	q.Set("altitude", strconv.FormatFloat(altitude, 'f', -1, 64))
	q.Set("format", "json")
	target := c.base + "/" + endpoint + "?" + q.Encode()

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		out, err := decodeResponse(resp)
		metrics.GeodesyCallDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.GeodesyCalls.WithLabelValues(endpoint, "error").Inc()
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
		metrics.GeodesyCalls.WithLabelValues(endpoint, "ok").Inc()
		return out, nil
	}

	metrics.GeodesyCalls.WithLabelValues(endpoint, "error").Inc()
	return nil, fmt.Errorf("%s: %w", endpoint, lastErr)
}

func decodeResponse(resp *http.Response) (*reframeResponse, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	out := &reframeResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
