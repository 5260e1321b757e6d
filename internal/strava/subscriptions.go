package strava

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/i474232898/activity-weather/internal/logging"
	"github.com/i474232898/activity-weather/internal/resilience"
)

const defaultProbeTimeout = 5 * time.Second

// SubscriptionClient manages the push subscription for one Strava API application.
type SubscriptionClient struct {
	client       *Client
	clientID     string
	clientSecret string
	verifyToken  string
	probe        *http.Client
}

// SubscriptionConfig carries the application credentials.
type SubscriptionConfig struct {
	ClientID     string
	ClientSecret string
	VerifyToken  string
	// ProbeClient performs the reachability handshake. Defaults to a
	// plain client with a 5s timeout.
	ProbeClient *http.Client
}

func NewSubscriptionClient(client *Client, cfg SubscriptionConfig) *SubscriptionClient {
	probe := cfg.ProbeClient
	if probe == nil {
		probe = &http.Client{Timeout: defaultProbeTimeout}
	}
	return &SubscriptionClient{
		client:       client,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		verifyToken:  cfg.VerifyToken,
		probe:        probe,
	}
}

// VerifyToken is the shared secret echoed during the challenge handshake.
func (s *SubscriptionClient) VerifyToken() string {
	return s.verifyToken
}

type subscriptionPayload struct {
	ID          int64  `json:"id"`
	CallbackURL string `json:"callback_url"`
	CreatedAt   string `json:"created_at"`
}

// View returns the current subscription, or nil when none exists.
func (s *SubscriptionClient) View(ctx context.Context) (*Subscription, error) {
	buildRequest := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, s.subscriptionsURL("", s.credentials()), nil)
	}

	var payload []subscriptionPayload
	if err := s.client.do(ctx, "view subscription", buildRequest, &payload); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, nil
	}

	p := payload[0]
	sub := &Subscription{ID: p.ID, CallbackURL: p.CallbackURL}
	if ts, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
		sub.CreatedAt = ts.UTC()
	}
	return sub, nil
}

// Create registers callbackURL. Strava calls the URL with a challenge before
// answering, so the webhook endpoint must already be serving.
func (s *SubscriptionClient) Create(ctx context.Context, callbackURL string) (*Subscription, error) {
	form := s.credentials()
	form.Set("callback_url", callbackURL)
	form.Set("verify_token", s.verifyToken)
	encoded := form.Encode()

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, s.subscriptionsURL("", nil), strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	var payload subscriptionPayload
	err := s.client.do(ctx, "create subscription", buildRequest, &payload)
	if err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) && isAlreadyExists(ue.Err) {
			return nil, fmt.Errorf("create subscription: %w", ErrSubscriptionConflict)
		}
		return nil, err
	}

	return &Subscription{
		ID:          payload.ID,
		CallbackURL: callbackURL,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Delete removes the subscription. A missing id yields ErrNotFound.
func (s *SubscriptionClient) Delete(ctx context.Context, id int64) error {
	buildRequest := func() (*http.Request, error) {
		return http.NewRequest(http.MethodDelete, s.subscriptionsURL(strconv.FormatInt(id, 10), s.credentials()), nil)
	}
	return s.client.do(ctx, "delete subscription", buildRequest, nil)
}

// VerifyReachability performs the same challenge handshake Strava will run
// against callbackURL. It never returns an error: any failure is false.
func (s *SubscriptionClient) VerifyReachability(ctx context.Context, callbackURL string) bool {
	log := logging.With("strava")

	u, err := url.Parse(callbackURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		log.Warn().Str("callback_url", callbackURL).Msg("callback url is not absolute")
		return false
	}

	challenge := uuid.NewString()
	q := u.Query()
	q.Set("hub.mode", "subscribe")
	q.Set("hub.challenge", challenge)
	q.Set("hub.verify_token", s.verifyToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false
	}

	resp, err := s.probe.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("callback_url", callbackURL).Msg("callback url unreachable")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Str("callback_url", callbackURL).Msg("callback url rejected challenge")
		return false
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Warn().Err(err).Str("callback_url", callbackURL).Msg("callback url returned malformed challenge")
		return false
	}
	return body["hub.challenge"] == challenge
}

func (s *SubscriptionClient) credentials() url.Values {
	v := url.Values{}
	v.Set("client_id", s.clientID)
	v.Set("client_secret", s.clientSecret)
	return v
}

func (s *SubscriptionClient) subscriptionsURL(id string, query url.Values) string {
	u := s.client.baseURL + "/push_subscriptions"
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func isAlreadyExists(err error) bool {
	var se *resilience.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(se.Body), "already exists")
}
