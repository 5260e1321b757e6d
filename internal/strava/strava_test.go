package strava

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/activity-weather/internal/resilience"
)

var fastBackoff = resilience.BackoffConfig{
	MaxRetries:      1,
	InitialInterval: time.Millisecond,
	MaxInterval:     time.Millisecond,
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), WithBaseURL(srv.URL), WithBackoff(fastBackoff))
}

func TestActivityGet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activities/999", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"id": 999, "name": "Lunch Run", "type": "Run", "sport_type": "TrailRun",
			"start_date": "2026-10-18T10:00:00Z", "start_latlng": [51.5, -0.12],
			"description": null, "visibility": "everyone"
		}`))
	})

	a, err := NewActivityClient(c).Get(context.Background(), "tok", "999")
	require.NoError(t, err)
	assert.Equal(t, "999", a.ID)
	assert.Equal(t, "TrailRun", a.Type)
	assert.Equal(t, "", a.Description)
	require.NotNil(t, a.Coordinates)
	assert.Equal(t, 51.5, a.Coordinates.Lat)
	assert.Equal(t, -0.12, a.Coordinates.Lng)
	assert.Equal(t, time.Date(2026, time.October, 18, 10, 0, 0, 0, time.UTC), a.StartTime)
}

func TestActivityGetWithoutCoordinates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 1, "start_date": "2026-10-18T10:00:00Z", "start_latlng": [], "description": "treadmill"}`))
	})

	a, err := NewActivityClient(c).Get(context.Background(), "tok", "1")
	require.NoError(t, err)
	assert.Nil(t, a.Coordinates)
	assert.Equal(t, "treadmill", a.Description)
}

func TestActivityGetErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrCredentialExpired)
		}},
		{"not found", http.StatusNotFound, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNotFound)
		}},
		{"forbidden", http.StatusForbidden, func(t *testing.T, err error) {
			var ue *UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, http.StatusForbidden, ue.StatusCode)
		}},
		{"server error", http.StatusServiceUnavailable, func(t *testing.T, err error) {
			var ue *UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.ErrorIs(t, err, resilience.ErrServerError)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := NewActivityClient(c).Get(context.Background(), "tok", "1")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestActivityUpdateDescription(t *testing.T) {
	var got struct {
		Description string `json:"description"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/activities/42", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"id": 42}`))
	})

	err := NewActivityClient(c).UpdateDescription(context.Background(), "tok", "42", "Sunny, 20°C")
	require.NoError(t, err)
	assert.Equal(t, "Sunny, 20°C", got.Description)
}

func TestSubscriptionView(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/push_subscriptions", r.URL.Path)
		assert.Equal(t, "cid", r.URL.Query().Get("client_id"))
		assert.Equal(t, "csecret", r.URL.Query().Get("client_secret"))
		_, _ = w.Write([]byte(`[{"id": 7, "callback_url": "https://example.com/webhook", "created_at": "2026-10-01T12:00:00Z"}]`))
	})

	s := NewSubscriptionClient(c, SubscriptionConfig{ClientID: "cid", ClientSecret: "csecret", VerifyToken: "vt"})
	sub, err := s.View(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.EqualValues(t, 7, sub.ID)
	assert.Equal(t, "https://example.com/webhook", sub.CallbackURL)
	assert.Equal(t, 2026, sub.CreatedAt.Year())
}

func TestSubscriptionViewEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	sub, err := NewSubscriptionClient(c, SubscriptionConfig{}).View(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestSubscriptionCreate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "https://example.com/webhook", r.PostForm.Get("callback_url"))
		assert.Equal(t, "vt", r.PostForm.Get("verify_token"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 12}`))
	})

	s := NewSubscriptionClient(c, SubscriptionConfig{ClientID: "cid", ClientSecret: "csecret", VerifyToken: "vt"})
	sub, err := s.Create(context.Background(), "https://example.com/webhook")
	require.NoError(t, err)
	assert.EqualValues(t, 12, sub.ID)
}

func TestSubscriptionCreateConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Bad Request","errors":[{"resource":"PushSubscription","field":"","code":"already exists"}]}`))
	})

	_, err := NewSubscriptionClient(c, SubscriptionConfig{}).Create(context.Background(), "https://example.com/webhook")
	require.ErrorIs(t, err, ErrSubscriptionConflict)
}

func TestSubscriptionDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/push_subscriptions/7" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	s := NewSubscriptionClient(c, SubscriptionConfig{})
	require.NoError(t, s.Delete(context.Background(), 7))
	require.ErrorIs(t, s.Delete(context.Background(), 8), ErrNotFound)
}

func TestVerifyReachability(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("hub.verify_token") != "vt" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"hub.challenge": q.Get("hub.challenge")})
	}))
	defer echo.Close()

	wrong := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hub.challenge":"nope"}`))
	}))
	defer wrong.Close()

	s := NewSubscriptionClient(NewClient(http.DefaultClient), SubscriptionConfig{VerifyToken: "vt"})
	ctx := context.Background()

	assert.True(t, s.VerifyReachability(ctx, echo.URL+"/webhook"))
	assert.False(t, s.VerifyReachability(ctx, wrong.URL+"/webhook"))
	assert.False(t, s.VerifyReachability(ctx, "not a url"))
	assert.False(t, s.VerifyReachability(ctx, "http://127.0.0.1:1/webhook"))

	other := NewSubscriptionClient(NewClient(http.DefaultClient), SubscriptionConfig{VerifyToken: "different"})
	assert.False(t, other.VerifyReachability(ctx, echo.URL+"/webhook"))
}

func TestTokenRefresh(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		_, _ = w.Write([]byte(`{"token_type":"Bearer","access_token":"a2","refresh_token":"r2","expires_at":1760803200}`))
	})

	tok, err := NewTokenClient(c, "cid", "csecret").Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r2", tok.RefreshToken)
	assert.Equal(t, time.Unix(1760803200, 0).UTC(), tok.ExpiresAt)
}

func TestTokenRefreshRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := NewTokenClient(c, "cid", "csecret").Refresh(context.Background(), "revoked")
	require.ErrorIs(t, err, ErrCredentialExpired)
}
