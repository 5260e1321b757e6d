// Package subscription keeps exactly one Strava push subscription alive for
// the deployment.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/i474232898/activity-weather/internal/logging"
	"github.com/i474232898/activity-weather/internal/observability"
	"github.com/i474232898/activity-weather/internal/strava"
)

// DefaultCallbackPath is appended to the base URL to build the callback.
const DefaultCallbackPath = "/webhook"

// Result is the terminal state of a reconciliation run.
type Result string

const (
	ResultAlreadySubscribed Result = "already_subscribed"
	ResultNoCallbackURL     Result = "no_callback_url"
	ResultUnreachable       Result = "unreachable"
	ResultCreated           Result = "created"
	ResultFailed            Result = "failed"
)

var (
	// ErrNoCallbackURL means the environment does not provide a base URL.
	ErrNoCallbackURL = errors.New("no callback url configured")
	// ErrUnreachable means the callback did not answer the challenge.
	ErrUnreachable = errors.New("callback url failed the challenge handshake")
)

// Manager is the subset of the Strava subscription API the reconciler drives.
type Manager interface {
	View(ctx context.Context) (*strava.Subscription, error)
	VerifyReachability(ctx context.Context, callbackURL string) bool
	Create(ctx context.Context, callbackURL string) (*strava.Subscription, error)
	Delete(ctx context.Context, id int64) error
}

// Settings is the deployment context the reconciler decides on.
type Settings struct {
	PublicBaseURL     string
	TunnelURL         string
	Production        bool
	CleanupOnShutdown bool
	CallbackPath      string
}

// Reconciler owns the subscription lifecycle. Create and delete calls are
// serialised so concurrent admin and startup runs cannot race into two
// subscriptions.
type Reconciler struct {
	manager  Manager
	settings Settings
	mu       sync.Mutex
	log      zerolog.Logger
}

func NewReconciler(manager Manager, settings Settings) *Reconciler {
	if settings.CallbackPath == "" {
		settings.CallbackPath = DefaultCallbackPath
	}
	return &Reconciler{
		manager:  manager,
		settings: settings,
		log:      logging.With("subscription"),
	}
}

// CallbackURL derives the webhook URL for the current environment.
func (r *Reconciler) CallbackURL() (string, error) {
	base := r.settings.TunnelURL
	if r.settings.Production {
		base = r.settings.PublicBaseURL
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", ErrNoCallbackURL
	}
	return base + r.settings.CallbackPath, nil
}

// Ensure runs the startup reconciliation. It never returns an error: every
// failure ends as ResultFailed and a log line.
func (r *Reconciler) Ensure(ctx context.Context) Result {
	res, err := r.Setup(ctx)
	switch {
	case err != nil && res == ResultFailed:
		r.log.Error().Err(err).Msg("subscription reconciliation failed")
	case res == ResultCreated || res == ResultAlreadySubscribed:
		r.log.Info().Str("result", string(res)).Msg("subscription reconciled")
	default:
		r.log.Warn().Str("result", string(res)).Msg("subscription not created")
	}
	return res
}

// Setup is Ensure for callers that want the error, such as the admin API.
func (r *Reconciler) Setup(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.reconcile(ctx)
	observability.RecordReconcile(string(res))
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context) (Result, error) {
	existing, err := r.manager.View(ctx)
	if err != nil {
		return ResultFailed, fmt.Errorf("view subscription: %w", err)
	}
	if existing != nil {
		r.log.Debug().Int64("subscription_id", existing.ID).Str("callback_url", existing.CallbackURL).Msg("subscription already present")
		return ResultAlreadySubscribed, nil
	}

	callbackURL, err := r.CallbackURL()
	if err != nil {
		return ResultNoCallbackURL, err
	}

	if !r.manager.VerifyReachability(ctx, callbackURL) {
		return ResultUnreachable, fmt.Errorf("%w: %s", ErrUnreachable, callbackURL)
	}

	sub, err := r.manager.Create(ctx, callbackURL)
	if err != nil {
		return ResultFailed, fmt.Errorf("create subscription: %w", err)
	}
	r.log.Info().Int64("subscription_id", sub.ID).Str("callback_url", callbackURL).Msg("subscription created")
	return ResultCreated, nil
}

// Cleanup deletes the subscription on graceful shutdown. It only acts when
// cleanup was opted into or outside production.
func (r *Reconciler) Cleanup(ctx context.Context) {
	if !r.settings.CleanupOnShutdown && r.settings.Production {
		return
	}

	id, err := r.Unsubscribe(ctx)
	switch {
	case errors.Is(err, strava.ErrNotFound):
		r.log.Info().Msg("no subscription to clean up")
	case err != nil:
		r.log.Error().Err(err).Msg("subscription cleanup failed")
	default:
		r.log.Info().Int64("subscription_id", id).Msg("subscription deleted on shutdown")
	}
}

// Status returns the current subscription or strava.ErrNotFound.
func (r *Reconciler) Status(ctx context.Context) (*strava.Subscription, error) {
	sub, err := r.manager.View(ctx)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, strava.ErrNotFound
	}
	return sub, nil
}

// Subscribe creates a subscription for callbackURL, or the derived URL when
// empty. An existing subscription yields strava.ErrSubscriptionConflict and a
// callback that fails the challenge handshake yields ErrUnreachable.
func (r *Reconciler) Subscribe(ctx context.Context, callbackURL string) (*strava.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.manager.View(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, strava.ErrSubscriptionConflict
	}

	if callbackURL == "" {
		if callbackURL, err = r.CallbackURL(); err != nil {
			return nil, err
		}
	}
	if !r.manager.VerifyReachability(ctx, callbackURL) {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, callbackURL)
	}
	return r.manager.Create(ctx, callbackURL)
}

// Unsubscribe deletes the current subscription and returns its id.
func (r *Reconciler) Unsubscribe(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, err := r.manager.View(ctx)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		return 0, strava.ErrNotFound
	}
	if err := r.manager.Delete(ctx, sub.ID); err != nil {
		return sub.ID, err
	}
	return sub.ID, nil
}

// Verify probes callbackURL, or the derived URL when empty.
func (r *Reconciler) Verify(ctx context.Context, callbackURL string) (string, bool, error) {
	if callbackURL == "" {
		var err error
		if callbackURL, err = r.CallbackURL(); err != nil {
			return "", false, err
		}
	}
	return callbackURL, r.manager.VerifyReachability(ctx, callbackURL), nil
}
