package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/activity-weather/internal/logging"
	"github.com/i474232898/activity-weather/internal/store"
	"github.com/i474232898/activity-weather/internal/strava"
)

// DefaultRefreshLeeway refreshes tokens this long before they expire.
const DefaultRefreshLeeway = 5 * time.Minute

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (strava.Token, error)
}

// TokenStore persists refreshed credentials without touching the rest of
// the user record.
type TokenStore interface {
	UpdateTokens(ctx context.Context, athleteID, accessToken, refreshToken string, expiresAt time.Time) error
}

// RefreshingCredentials hands out stored access tokens and refreshes them
// when they are about to expire or were rejected. Concurrent refreshes for
// one athlete are collapsed into a single upstream call.
type RefreshingCredentials struct {
	tokens TokenRefresher
	users  TokenStore
	leeway time.Duration
	group  singleflight.Group
	now    func() time.Time
	log    zerolog.Logger
}

func NewRefreshingCredentials(tokens TokenRefresher, users TokenStore) *RefreshingCredentials {
	return &RefreshingCredentials{
		tokens: tokens,
		users:  users,
		leeway: DefaultRefreshLeeway,
		now:    time.Now,
		log:    logging.With("credentials"),
	}
}

// AccessToken implements CredentialSource.
func (r *RefreshingCredentials) AccessToken(ctx context.Context, u store.User) (string, error) {
	if u.AccessToken != "" && !r.expiring(u) {
		return u.AccessToken, nil
	}
	refreshed, err := r.refresh(ctx, u)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// CredentialExpired implements CredentialRefresher. The refreshed token is
// persisted so that a redelivery of the event can succeed.
func (r *RefreshingCredentials) CredentialExpired(ctx context.Context, u store.User) {
	if _, err := r.refresh(ctx, u); err != nil {
		r.log.Error().Err(err).Str("athlete_id", u.AthleteID).Msg("token refresh after rejection failed")
	}
}

func (r *RefreshingCredentials) expiring(u store.User) bool {
	if u.TokenExpiresAt.IsZero() {
		return false
	}
	return !r.now().Add(r.leeway).Before(u.TokenExpiresAt)
}

func (r *RefreshingCredentials) refresh(ctx context.Context, u store.User) (store.User, error) {
	if u.RefreshToken == "" {
		return store.User{}, errors.New("user has no refresh token")
	}

	v, err, _ := r.group.Do(u.AthleteID, func() (any, error) {
		tok, err := r.tokens.Refresh(ctx, u.RefreshToken)
		if err != nil {
			return store.User{}, fmt.Errorf("refresh token: %w", err)
		}

		if err := r.users.UpdateTokens(ctx, u.AthleteID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt); err != nil {
			return store.User{}, fmt.Errorf("save refreshed token: %w", err)
		}
		u.AccessToken = tok.AccessToken
		u.RefreshToken = tok.RefreshToken
		u.TokenExpiresAt = tok.ExpiresAt

		r.log.Info().Str("athlete_id", u.AthleteID).Time("expires_at", tok.ExpiresAt).Msg("access token refreshed")
		return u, nil
	})
	if err != nil {
		return store.User{}, err
	}
	return v.(store.User), nil
}
