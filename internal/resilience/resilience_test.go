package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(client *http.Client) HTTPClientConfig {
	return HTTPClientConfig{
		Client: client,
		Backoff: BackoffConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
}

func getter(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), testConfig(srv.Client()), NewBreaker("test-retry"), getter(srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := Do(context.Background(), testConfig(srv.Client()), NewBreaker("test-giveup"), getter(srv.URL))
	require.ErrorIs(t, err, ErrRateLimited)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDoReturnsStatusErrorForClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "record not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Do(context.Background(), testConfig(srv.Client()), NewBreaker("test-4xx"), getter(srv.URL))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Body, "record not found")
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDoRejectsInvalidConfig(t *testing.T) {
	_, err := Do(context.Background(), HTTPClientConfig{}, NewBreaker("test-nil"), getter("http://example.invalid"))
	require.ErrorIs(t, err, ErrNoHTTPClient)

	cfg := HTTPClientConfig{Client: http.DefaultClient}
	_, err = Do(context.Background(), cfg, NewBreaker("test-cfg"), getter("http://example.invalid"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, testConfig(http.DefaultClient), NewBreaker("test-ctx"), getter("http://example.invalid"))
	require.ErrorIs(t, err, context.Canceled)
}
