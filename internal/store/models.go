package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user is registered for an athlete.
	ErrNotFound = errors.New("store: not found")
)

// User is an athlete who authorized the application.
type User struct {
	AthleteID      string    `json:"athlete_id"`
	Name           string    `json:"name,omitempty"`
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	WeatherEnabled bool      `json:"weather_enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OutcomeStatus is the terminal state of one processing attempt.
type OutcomeStatus string

const (
	OutcomeEnriched OutcomeStatus = "enriched"
	OutcomeSkipped  OutcomeStatus = "skipped"
	OutcomeFailed   OutcomeStatus = "failed"
)

// Outcome records how an event was processed.
type Outcome struct {
	ID         string        `json:"id"`
	ActivityID string        `json:"activity_id"`
	AthleteID  string        `json:"athlete_id"`
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason"`
	Detail     string        `json:"detail,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Store is the persistence used by the webhook, the processor and the
// scheduler. MemoryStore and RedisStore implement it.
type Store interface {
	SaveUser(ctx context.Context, u User) error
	UserByAthleteID(ctx context.Context, athleteID string) (User, error)
	SetWeatherEnabled(ctx context.Context, athleteID string, enabled bool) error
	UpdateTokens(ctx context.Context, athleteID, accessToken, refreshToken string, expiresAt time.Time) error
	RecordOutcome(ctx context.Context, o Outcome) error
	WasEnriched(ctx context.Context, activityID string) (bool, error)
	Outcomes(ctx context.Context, limit int) ([]Outcome, error)
	PruneOutcomes(ctx context.Context) (int, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
