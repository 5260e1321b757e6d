// Package strava talks to the Strava v3 API: single-activity reads and
// description updates, and the push-subscription endpoints.
package strava

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/i474232898/activity-weather/internal/resilience"
)

const defaultBaseURL = "https://www.strava.com/api/v3"

// Client holds the transport shared by ActivityClient and SubscriptionClient.
type Client struct {
	baseURL string
	httpCfg resilience.HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithBackoff overrides retry behaviour.
func WithBackoff(b resilience.BackoffConfig) Option {
	return func(c *Client) {
		c.httpCfg.Backoff = b
	}
}

func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		httpCfg: resilience.HTTPClientConfig{
			Client:  httpClient,
			Backoff: resilience.DefaultBackoff(),
		},
		circuit: resilience.NewBreaker("strava"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do runs the request and decodes a JSON body into out when out is non-nil.
func (c *Client) do(ctx context.Context, op string, buildRequest func() (*http.Request, error), out any) error {
	resp, err := resilience.Do(ctx, c.httpCfg, c.circuit, buildRequest)
	if err != nil {
		return classify(op, err)
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
