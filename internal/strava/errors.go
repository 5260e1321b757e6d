package strava

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/i474232898/activity-weather/internal/resilience"
)

var (
	// ErrNotFound covers a missing activity or subscription.
	ErrNotFound = errors.New("strava: not found")
	// ErrCredentialExpired is returned on 401 and should trigger a token refresh.
	ErrCredentialExpired = errors.New("strava: credential expired")
	// ErrSubscriptionConflict is returned when a subscription already exists.
	ErrSubscriptionConflict = errors.New("strava: subscription already exists")
)

// UpstreamError is a network failure or unexpected status from Strava.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("strava %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("strava %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// classify maps transport errors onto the package taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch code := resilience.StatusCode(err); code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, ErrCredentialExpired)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return &UpstreamError{Op: op, StatusCode: code, Err: err}
	}
}
