package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/activity-weather/internal/logging"
	"github.com/i474232898/activity-weather/internal/observability"
)

const (
	// NearRealTimeWindow is how far from "now" a timestamp may be and still
	// be answered by the current-conditions query.
	NearRealTimeWindow = 15 * time.Minute
	// HistoricalLookback is the oldest timestamp the time machine is asked about.
	HistoricalLookback = 5 * 24 * time.Hour
	// DefaultTimeout bounds a single Fetch.
	DefaultTimeout = 5 * time.Second
)

var (
	// ErrOutsideWindow is returned when the timestamp is neither recent
	// enough for current conditions nor inside the historical lookback.
	ErrOutsideWindow = errors.New("timestamp outside supported weather windows")
	// ErrUpstream wraps any provider failure.
	ErrUpstream = errors.New("weather upstream failure")
)

// SelectMode picks the upstream query for a timestamp. It depends only on
// the elapsed time between now and at.
func SelectMode(now, at time.Time) Mode {
	elapsed := now.Sub(at)
	switch {
	case elapsed < -NearRealTimeWindow:
		return ModeNone
	case elapsed <= NearRealTimeWindow:
		return ModeCurrent
	case elapsed <= HistoricalLookback:
		return ModeTimeMachine
	default:
		return ModeNone
	}
}

// Source answers "what was the weather here at this time".
type Source struct {
	provider Provider
	timeout  time.Duration
	now      func() time.Time
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithTimeout overrides the per-fetch timeout.
func WithTimeout(d time.Duration) SourceOption {
	return func(s *Source) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the clock used for mode selection.
func WithClock(now func() time.Time) SourceOption {
	return func(s *Source) {
		s.now = now
	}
}

// NewSource creates a Source backed by provider.
func NewSource(provider Provider, opts ...SourceOption) *Source {
	s := &Source{
		provider: provider,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch returns the observation for (lat, lon) at the given time. Any error
// means "no observation"; callers skip enrichment rather than fail.
func (s *Source) Fetch(ctx context.Context, lat, lon float64, at time.Time) (Observation, error) {
	mode := SelectMode(s.now(), at)
	if mode == ModeNone {
		observability.RecordWeatherRequest(string(mode), "skipped")
		return Observation{}, fmt.Errorf("%w: %s", ErrOutsideWindow, at.UTC().Format(time.RFC3339))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	loc := Coordinates{Lat: lat, Lon: lon}

	var (
		reading Reading
		err     error
	)
	switch mode {
	case ModeCurrent:
		reading, err = s.provider.Current(ctx, loc)
	case ModeTimeMachine:
		reading, err = s.provider.TimeMachine(ctx, loc, at)
	}
	if err != nil {
		observability.RecordWeatherRequest(string(mode), "error")
		logging.Debug().
			Str("provider", s.provider.Name()).
			Str("mode", string(mode)).
			Err(err).
			Msg("weather fetch failed")
		return Observation{}, fmt.Errorf("%w: %s: %v", ErrUpstream, s.provider.Name(), err)
	}

	observability.RecordWeatherRequest(string(mode), "ok")
	return Normalize(reading, mode), nil
}
