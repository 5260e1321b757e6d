// Package enrichment turns webhook events into weather lines appended to
// activity descriptions.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/activity-weather/internal/logging"
	"github.com/i474232898/activity-weather/internal/marker"
	"github.com/i474232898/activity-weather/internal/observability"
	"github.com/i474232898/activity-weather/internal/store"
	"github.com/i474232898/activity-weather/internal/strava"
	"github.com/i474232898/activity-weather/internal/weather"
)

// Event is one inbound activity notification.
type Event struct {
	ActivityID     string
	AthleteID      string
	EventTime      time.Time
	SubscriptionID int64
}

const outcomeWriteTimeout = 2 * time.Second

// Skip and failure reasons recorded in the outcome log.
const (
	ReasonUserNotFound      = "user_not_found"
	ReasonDisabled          = "enrichment_disabled"
	ReasonCredential        = "credential_unavailable"
	ReasonCredentialExpired = "credential_expired"
	ReasonActivityNotFound  = "activity_not_found"
	ReasonActivityFetch     = "activity_fetch_failed"
	ReasonNoCoordinates     = "no_coordinates"
	ReasonAlreadyEnriched   = "already_enriched"
	ReasonOutsideWindow     = "outside_weather_window"
	ReasonWeather           = "weather_unavailable"
	ReasonUpdate            = "update_failed"
	ReasonLookup            = "lookup_failed"
	ReasonPanic             = "panic"
	ReasonOK                = "ok"
)

type UserLookup interface {
	UserByAthleteID(ctx context.Context, athleteID string) (store.User, error)
}

type OutcomeLog interface {
	RecordOutcome(ctx context.Context, o store.Outcome) error
	WasEnriched(ctx context.Context, activityID string) (bool, error)
}

type ActivityGateway interface {
	Get(ctx context.Context, token, activityID string) (strava.Activity, error)
	UpdateDescription(ctx context.Context, token, activityID, description string) error
}

type WeatherSource interface {
	Fetch(ctx context.Context, lat, lon float64, at time.Time) (weather.Observation, error)
}

// CredentialSource supplies a valid bearer token for a user.
type CredentialSource interface {
	AccessToken(ctx context.Context, u store.User) (string, error)
}

// CredentialSourceFunc adapts a function to CredentialSource.
type CredentialSourceFunc func(ctx context.Context, u store.User) (string, error)

func (f CredentialSourceFunc) AccessToken(ctx context.Context, u store.User) (string, error) {
	return f(ctx, u)
}

// StoredAccessToken returns the token persisted with the user.
var StoredAccessToken = CredentialSourceFunc(func(_ context.Context, u store.User) (string, error) {
	if u.AccessToken == "" {
		return "", errors.New("user has no access token")
	}
	return u.AccessToken, nil
})

// CredentialRefresher is notified when the provider rejects a user's token.
type CredentialRefresher interface {
	CredentialExpired(ctx context.Context, u store.User)
}

// Processor runs the enrichment pipeline for a single event.
type Processor struct {
	users       UserLookup
	outcomes    OutcomeLog
	activities  ActivityGateway
	weather     WeatherSource
	credentials CredentialSource
	refresher   CredentialRefresher
	log         zerolog.Logger
	now         func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithCredentialSource overrides StoredAccessToken.
func WithCredentialSource(c CredentialSource) ProcessorOption {
	return func(p *Processor) {
		p.credentials = c
	}
}

// WithCredentialRefresher installs a hook for expired tokens.
func WithCredentialRefresher(r CredentialRefresher) ProcessorOption {
	return func(p *Processor) {
		p.refresher = r
	}
}

func NewProcessor(users UserLookup, outcomes OutcomeLog, activities ActivityGateway, source WeatherSource, opts ...ProcessorOption) *Processor {
	p := &Processor{
		users:       users,
		outcomes:    outcomes,
		activities:  activities,
		weather:     source,
		credentials: StoredAccessToken,
		log:         logging.With("enrichment"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes ev and returns the recorded outcome. It never panics and
// never returns an error: every failure ends as a logged outcome.
func (p *Processor) Handle(ctx context.Context, ev Event) (out store.Outcome) {
	started := p.now()
	log := p.log.With().
		Str("activity_id", ev.ActivityID).
		Str("athlete_id", ev.AthleteID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			out = p.finish(ctx, log, ev, started, store.OutcomeFailed, ReasonPanic, fmt.Errorf("panic: %v", r))
		}
	}()

	status, reason, err := p.run(ctx, log, ev)
	return p.finish(ctx, log, ev, started, status, reason, err)
}

func (p *Processor) run(ctx context.Context, log zerolog.Logger, ev Event) (store.OutcomeStatus, string, error) {
	user, err := p.users.UserByAthleteID(ctx, ev.AthleteID)
	if errors.Is(err, store.ErrNotFound) {
		return store.OutcomeSkipped, ReasonUserNotFound, nil
	}
	if err != nil {
		return store.OutcomeFailed, ReasonLookup, err
	}
	if !user.WeatherEnabled {
		return store.OutcomeSkipped, ReasonDisabled, nil
	}

	token, err := p.credentials.AccessToken(ctx, user)
	if err != nil {
		return store.OutcomeFailed, ReasonCredential, err
	}

	activity, err := p.activities.Get(ctx, token, ev.ActivityID)
	switch {
	case errors.Is(err, strava.ErrNotFound):
		return store.OutcomeSkipped, ReasonActivityNotFound, nil
	case errors.Is(err, strava.ErrCredentialExpired):
		if p.refresher != nil {
			p.refresher.CredentialExpired(ctx, user)
		} else {
			log.Warn().Msg("access token rejected and no credential refresher is configured")
		}
		return store.OutcomeFailed, ReasonCredentialExpired, err
	case err != nil:
		return store.OutcomeFailed, ReasonActivityFetch, err
	}

	if activity.Coordinates == nil {
		return store.OutcomeSkipped, ReasonNoCoordinates, nil
	}

	enriched, err := p.outcomes.WasEnriched(ctx, ev.ActivityID)
	if err != nil {
		log.Warn().Err(err).Msg("outcome log unavailable, relying on description check")
	}
	if enriched || marker.HasWeather(activity.Description) {
		return store.OutcomeSkipped, ReasonAlreadyEnriched, nil
	}

	obs, err := p.weather.Fetch(ctx, activity.Coordinates.Lat, activity.Coordinates.Lng, activity.StartTime)
	if errors.Is(err, weather.ErrOutsideWindow) {
		return store.OutcomeSkipped, ReasonOutsideWindow, err
	}
	if err != nil {
		return store.OutcomeFailed, ReasonWeather, err
	}

	description := marker.Merge(activity.Description, marker.Format(obs))
	if err := p.activities.UpdateDescription(ctx, token, ev.ActivityID, description); err != nil {
		return store.OutcomeFailed, ReasonUpdate, err
	}

	return store.OutcomeEnriched, ReasonOK, nil
}

func (p *Processor) finish(ctx context.Context, log zerolog.Logger, ev Event, started time.Time, status store.OutcomeStatus, reason string, err error) store.Outcome {
	elapsed := p.now().Sub(started)

	o := store.Outcome{
		ID:         uuid.NewString(),
		ActivityID: ev.ActivityID,
		AthleteID:  ev.AthleteID,
		Status:     status,
		Reason:     reason,
		Duration:   elapsed,
		RecordedAt: p.now().UTC(),
	}
	if err != nil {
		o.Detail = err.Error()
	}

	var e *zerolog.Event
	switch status {
	case store.OutcomeFailed:
		e = log.Error().Err(err)
	case store.OutcomeSkipped:
		e = log.Debug()
	default:
		e = log.Info()
	}
	e.Str("status", string(status)).Str("reason", reason).Dur("elapsed", elapsed).Msg("event processed")

	// The event's context may already be cancelled by shutdown or a client
	// disconnect; the outcome is still written.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()
	if recErr := p.outcomes.RecordOutcome(recCtx, o); recErr != nil {
		log.Warn().Err(recErr).Msg("failed to record outcome")
	}
	observability.RecordEnrichment(string(status), reason, elapsed)

	return o
}
