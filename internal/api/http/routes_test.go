package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/activity-weather/internal/enrichment"
	"github.com/i474232898/activity-weather/internal/store"
	"github.com/i474232898/activity-weather/internal/strava"
	"github.com/i474232898/activity-weather/internal/subscription"
)

const (
	verifyToken = "vt"
	adminToken  = "s3cret"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	events []enrichment.Event
	err    error
}

func (s *recordingSubmitter) Submit(ev enrichment.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

type fakeSubscriptions struct {
	current      *strava.Subscription
	statusErr    error
	subscribeErr error
	setupResult  subscription.Result
	setupErr     error
	reachable    bool
}

func (f *fakeSubscriptions) Status(context.Context) (*strava.Subscription, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.current == nil {
		return nil, strava.ErrNotFound
	}
	return f.current, nil
}

func (f *fakeSubscriptions) Subscribe(_ context.Context, url string) (*strava.Subscription, error) {
	if f.current != nil {
		return f.current, strava.ErrSubscriptionConflict
	}
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.current = &strava.Subscription{ID: 1, CallbackURL: url}
	return f.current, nil
}

func (f *fakeSubscriptions) Unsubscribe(context.Context) (int64, error) {
	if f.current == nil {
		return 0, strava.ErrNotFound
	}
	id := f.current.ID
	f.current = nil
	return id, nil
}

func (f *fakeSubscriptions) Verify(_ context.Context, url string) (string, bool, error) {
	if url == "" {
		return "", false, subscription.ErrNoCallbackURL
	}
	return url, f.reachable, nil
}

func (f *fakeSubscriptions) Setup(context.Context) (subscription.Result, error) {
	return f.setupResult, f.setupErr
}

type testEnv struct {
	app    *fiber.App
	events *recordingSubmitter
	store  *store.MemoryStore
	subs   *fakeSubscriptions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		app:    NewApp("activity-weather-test"),
		events: &recordingSubmitter{},
		store:  store.NewMemoryStore(100, time.Hour),
		subs:   &fakeSubscriptions{},
	}
	require.NoError(t, env.store.SaveUser(context.Background(), store.User{AthleteID: "42", AccessToken: "tok", WeatherEnabled: true}))

	RegisterRoutes(env.app, Deps{
		VerifyToken:   verifyToken,
		AdminToken:    adminToken,
		Events:        env.events,
		Users:         env.store,
		Outcomes:      env.store,
		Subscriptions: env.subs,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, admin bool) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestWebhookVerification(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.challenge=abc123&hub.verify_token=vt", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc123", body["hub.challenge"])

	resp, _ = env.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.challenge=abc123&hub.verify_token=wrong", "", false)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=vt", "", false)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebhookDispatchesActivityEvents(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/webhook",
		`{"object_type":"activity","object_id":999,"aspect_type":"create","owner_id":42,"subscription_id":7,"event_time":1760781600,"updates":{}}`, false)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])
	require.Len(t, env.events.events, 1)
	ev := env.events.events[0]
	assert.Equal(t, "999", ev.ActivityID)
	assert.Equal(t, "42", ev.AthleteID)
	assert.EqualValues(t, 7, ev.SubscriptionID)
	assert.Equal(t, time.Unix(1760781600, 0).UTC(), ev.EventTime)
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status string
	}{
		{"malformed json", `{"object_type":`, "ignored"},
		{"missing fields", `{"object_type":"activity"}`, "ignored"},
		{"activity delete", `{"object_type":"activity","object_id":1,"aspect_type":"delete","owner_id":42}`, "ignored"},
		{"athlete update without deauth", `{"object_type":"athlete","object_id":42,"aspect_type":"update","owner_id":42,"updates":{"name":"x"}}`, "ignored"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			resp, body := env.do(t, http.MethodPost, "/webhook", tt.body, false)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.status, body["status"])
			assert.Empty(t, env.events.events)
		})
	}

	t.Run("dispatcher closed", func(t *testing.T) {
		env := newTestEnv(t)
		env.events.err = enrichment.ErrDispatcherClosed
		resp, body := env.do(t, http.MethodPost, "/webhook",
			`{"object_type":"activity","object_id":1,"aspect_type":"update","owner_id":42}`, false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "dropped", body["status"])
	})
}

func TestWebhookDeauthorizationDisablesUser(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/webhook",
		`{"object_type":"athlete","object_id":42,"aspect_type":"update","owner_id":42,"updates":{"authorized":"false"}}`, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deauthorized", body["status"])

	u, err := env.store.UserByAthleteID(context.Background(), "42")
	require.NoError(t, err)
	assert.False(t, u.WeatherEnabled)

	// Unknown athletes are acknowledged too.
	resp, _ = env.do(t, http.MethodPost, "/webhook",
		`{"object_type":"athlete","object_id":7,"aspect_type":"update","owner_id":7,"updates":{"authorized":"false"}}`, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/admin/subscription", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/admin/subscription", nil)
	req.Header.Set("Authorization", "Bearer nope")
	r, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	app := NewApp("test")
	RegisterRoutes(app, Deps{VerifyToken: verifyToken, Events: &recordingSubmitter{}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admin/subscription", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/admin/subscription", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/admin/subscription", `{"callback_url":"https://app.example.com/webhook"}`, true)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "https://app.example.com/webhook", body["callback_url"])

	resp, body = env.do(t, http.MethodPost, "/admin/subscription", "", true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotNil(t, body["subscription"])

	resp, body = env.do(t, http.MethodGet, "/admin/subscription", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["id"])

	resp, body = env.do(t, http.MethodDelete, "/admin/subscription", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["deleted"])

	resp, _ = env.do(t, http.MethodDelete, "/admin/subscription", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminSubscriptionErrors(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/admin/subscription", `{"callback_url":"not a url"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.subs.subscribeErr = &strava.UpstreamError{Op: "create subscription", StatusCode: 500, Err: errors.New("boom")}
	resp, body := env.do(t, http.MethodPost, "/admin/subscription", `{"callback_url":"https://app.example.com/webhook"}`, true)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, true, body["error"])

	env.subs.subscribeErr = fmt.Errorf("%w: https://dead.example/webhook", subscription.ErrUnreachable)
	resp, body = env.do(t, http.MethodPost, "/admin/subscription", `{"callback_url":"https://dead.example/webhook"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body["message"], "challenge handshake")
	assert.Nil(t, env.subs.current)

	env.subs.statusErr = errors.New("dial tcp: timeout")
	resp, _ = env.do(t, http.MethodGet, "/admin/subscription", "", true)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestAdminVerifyAndSetup(t *testing.T) {
	env := newTestEnv(t)
	env.subs.reachable = true

	resp, body := env.do(t, http.MethodPost, "/admin/subscription/verify", `{"callback_url":"https://app.example.com/webhook"}`, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["reachable"])

	resp, _ = env.do(t, http.MethodPost, "/admin/subscription/verify", "", true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	env.subs.setupResult = subscription.ResultCreated
	resp, body = env.do(t, http.MethodPost, "/admin/subscription/setup", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "created", body["result"])

	env.subs.setupResult = subscription.ResultFailed
	env.subs.setupErr = errors.New("view subscription: boom")
	resp, body = env.do(t, http.MethodPost, "/admin/subscription/setup", "", true)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "view subscription: boom", body["message"])
}

func TestAdminOutcomes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, env.store.RecordOutcome(ctx, store.Outcome{ID: id, ActivityID: id, Status: store.OutcomeSkipped, RecordedAt: time.Now()}))
	}

	resp, body := env.do(t, http.MethodGet, "/admin/outcomes?limit=2", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	resp, _ = env.do(t, http.MethodGet, "/admin/outcomes?limit=0", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPut, "/admin/users/77",
		`{"name":"Ada","access_token":"abc","refresh_token":"def","expires_at":1760781600,"weather_enabled":false}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "77", body["athlete_id"])
	assert.Equal(t, false, body["weather_enabled"])
	assert.NotContains(t, body, "access_token")

	u, err := env.store.UserByAthleteID(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, "abc", u.AccessToken)
	assert.Equal(t, time.Unix(1760781600, 0).UTC(), u.TokenExpiresAt)

	resp, body = env.do(t, http.MethodGet, "/admin/users/77", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ada", body["name"])

	resp, _ = env.do(t, http.MethodGet, "/admin/users/404", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/admin/users/abc", `{"access_token":"x"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/admin/users/78", `{"name":"no token"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
