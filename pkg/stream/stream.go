// Package stream chunks a lazy feature producer into fixed-size batches
// while maintaining running bounds, a monotonic progress fraction and
// resource ceilings.
//
// A Manager wraps one Source for one file's lifetime. The consumer drives
// it by calling Next until it returns io.EOF; progress events are
// delivered on a side channel that never blocks production. When a
// ceiling trips, the producer errors, or the context is cancelled, the
// stream terminates with whatever bounds and counters were accumulated,
// and State reports the result as incomplete.
package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/geowerk/geoloader/internal/metrics"
	"github.com/geowerk/geoloader/pkg/geo"
)

// Source produces features one at a time. It is a finite, forward-only
// sequence: after the first io.EOF it must keep returning io.EOF, and it
// cannot be rewound. Any other error terminates the stream.
type Source interface {
	Next() (*geo.Feature, error)
}

// Progresser is optionally implemented by sources that can estimate their
// own completion fraction, typically bytes consumed over file size. The
// manager clamps whatever it reports into a non-decreasing [0,1] series,
// so a source may report out of order without regressing visible progress.
type Progresser interface {
	Fraction() float64
}

// SliceSource adapts an in-memory feature slice to the Source contract.
// Eager parsers hand their results to the manager through it.
type SliceSource struct {
	features []*geo.Feature
	pos      int
}

// NewSliceSource wraps an already-parsed feature slice.
func NewSliceSource(features []*geo.Feature) *SliceSource {
	return &SliceSource{features: features}
}

// Next implements Source.
func (s *SliceSource) Next() (*geo.Feature, error) {
	if s.pos >= len(s.features) {
		return nil, io.EOF
	}
	f := s.features[s.pos]
	s.pos++
	return f, nil
}

// Fraction implements Progresser.
func (s *SliceSource) Fraction() float64 {
	if len(s.features) == 0 {
		return 1
	}
	return float64(s.pos) / float64(len(s.features))
}

// Event is one progress report: which pipeline phase is running, how far
// along it is, and how many features it has handled.
type Event struct {
	Phase    string
	Fraction float64
	Features int
}

// State is a snapshot of the stream's accumulated result. Complete is set
// only when the source was drained to io.EOF; any other termination leaves
// the partial bounds and counters in place but marked incomplete.
type State struct {
	Features int
	Chunks   int
	Bytes    int64
	Bounds   geo.Bounds
	Fraction float64
	Complete bool
}

// LimitError is the resource-ceiling error: the stream refused to buffer
// further features. The counters report what had been accepted when the
// ceiling tripped.
type LimitError struct {
	Limit    string // "features" or "bytes"
	Features int
	Bytes    int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("stream %s ceiling exceeded after %d features (%d bytes)",
		e.Limit, e.Features, e.Bytes)
}

// ManagerOptions configure a streaming manager.
type ManagerOptions struct {
	// ChunkSize is the number of features per emitted chunk.
	// Default: 256
	ChunkSize int

	// MaxFeatures is the item ceiling. The feature that would exceed it is
	// rejected and the stream terminates with a LimitError. Negative
	// disables the ceiling.
	// Default: 100000
	MaxFeatures int

	// MaxBytes is the estimated-byte ceiling, applied the same way.
	// Negative disables the ceiling.
	// Default: 64 MiB
	MaxBytes int64

	// TotalHint is the expected feature count, used for progress when the
	// source does not report its own fraction. Zero leaves the fraction at
	// zero until completion.
	TotalHint int

	// Phase labels the progress events emitted by this manager.
	// Default: "stream"
	Phase string

	// EventBuffer is the progress channel capacity. Events beyond it are
	// dropped rather than blocking production.
	// Default: 16
	EventBuffer int

	// Logger receives ceiling and termination diagnostics. Defaults to a
	// disabled logger.
	Logger zerolog.Logger
}

// DefaultManagerOptions returns manager options with defaults.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		ChunkSize:   256,
		MaxFeatures: 100_000,
		MaxBytes:    64 << 20,
		Phase:       "stream",
		EventBuffer: 16,
		Logger:      zerolog.Nop(),
	}
}

// Manager pulls features from a source and yields them in fixed-size
// chunks. It is not safe for concurrent use: one goroutine drives Next,
// while any number may watch Events.
type Manager struct {
	src    Source
	opts   ManagerOptions
	log    zerolog.Logger
	events chan Event

	state State
	err   error // sticky terminal condition, io.EOF after a clean drain
}

// NewManager builds a manager over a source. Zero-valued options fall back
// to defaults.
func NewManager(src Source, opts ManagerOptions) *Manager {
	def := DefaultManagerOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.MaxFeatures == 0 {
		opts.MaxFeatures = def.MaxFeatures
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.Phase == "" {
		opts.Phase = def.Phase
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}
	return &Manager{
		src:    src,
		opts:   opts,
		log:    opts.Logger,
		events: make(chan Event, opts.EventBuffer),
		state:  State{Bounds: geo.NewBounds()},
	}
}

// Events returns the progress channel. It is closed when the stream
// terminates, cleanly or not.
func (m *Manager) Events() <-chan Event { return m.events }

// State returns a snapshot of the accumulated counters and bounds. It is
// meaningful at any point, including after a mid-stream failure, where it
// carries the partial result.
func (m *Manager) State() State { return m.state }

// Next returns the next chunk of features. It follows the io.Reader
// convention: a terminal error may accompany a final short chunk, and the
// same error is returned on every subsequent call. A clean drain ends with
// io.EOF.
func (m *Manager) Next(ctx context.Context) ([]*geo.Feature, error) {
	if m.err != nil {
		return nil, m.err
	}

	chunk := make([]*geo.Feature, 0, m.opts.ChunkSize)
	for len(chunk) < m.opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			return m.emitChunk(chunk), m.terminate(err)
		}

		f, err := m.src.Next()
		if err == io.EOF {
			m.state.Complete = true
			m.state.Fraction = 1
			out := m.emitChunk(chunk)
			m.terminate(io.EOF)
			if out != nil {
				// The final short chunk is delivered clean; io.EOF
				// follows on the next call.
				return out, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			return m.emitChunk(chunk), m.terminate(err)
		}

		if err := m.accept(f); err != nil {
			return m.emitChunk(chunk), m.terminate(err)
		}
		chunk = append(chunk, f)
	}
	return m.emitChunk(chunk), nil
}

// accept charges a feature against the ceilings and folds it into the
// running bounds. The feature that would exceed a ceiling is rejected.
func (m *Manager) accept(f *geo.Feature) error {
	if m.opts.MaxFeatures > 0 && m.state.Features+1 > m.opts.MaxFeatures {
		metrics.StreamLimitHits.WithLabelValues("features").Inc()
		return &LimitError{Limit: "features", Features: m.state.Features, Bytes: m.state.Bytes}
	}
	est := geo.EstimateSize(f)
	if m.opts.MaxBytes > 0 && m.state.Bytes+est > m.opts.MaxBytes {
		metrics.StreamLimitHits.WithLabelValues("bytes").Inc()
		return &LimitError{Limit: "bytes", Features: m.state.Features, Bytes: m.state.Bytes}
	}

	m.state.Features++
	m.state.Bytes += est
	m.state.Bounds = m.state.Bounds.Union(f.Bounds())
	m.advanceFraction()
	return nil
}

// advanceFraction folds the best available progress estimate into the
// state, clamped so the reported fraction never decreases.
func (m *Manager) advanceFraction() {
	var f float64
	if p, ok := m.src.(Progresser); ok {
		f = p.Fraction()
	} else if m.opts.TotalHint > 0 {
		f = float64(m.state.Features) / float64(m.opts.TotalHint)
	}
	if f > 1 {
		f = 1
	}
	if f > m.state.Fraction {
		m.state.Fraction = f
	}
}

// emitChunk publishes a progress event for a non-empty chunk and returns
// it, normalizing empty chunks to nil.
func (m *Manager) emitChunk(chunk []*geo.Feature) []*geo.Feature {
	if len(chunk) == 0 {
		return nil
	}
	m.state.Chunks++
	metrics.ChunksEmitted.Inc()
	m.publish()
	return chunk
}

// terminate records the sticky terminal condition, publishes the final
// event and closes the event channel. Next's entry guard ensures it runs
// at most once per manager.
func (m *Manager) terminate(err error) error {
	m.err = err
	if err != io.EOF {
		m.log.Warn().Err(err).
			Int("features", m.state.Features).
			Int64("bytes", m.state.Bytes).
			Msg("stream terminated early")
	}
	m.publish()
	close(m.events)
	return err
}

// publish sends a progress event without ever blocking the producer.
func (m *Manager) publish() {
	ev := Event{
		Phase:    m.opts.Phase,
		Fraction: m.state.Fraction,
		Features: m.state.Features,
	}
	select {
	case m.events <- ev:
	default:
	}
}
