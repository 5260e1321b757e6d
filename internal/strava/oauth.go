package strava

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Token is an athlete's OAuth credential pair.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenClient exchanges refresh tokens for new access tokens.
type TokenClient struct {
	client       *Client
	clientID     string
	clientSecret string
}

func NewTokenClient(client *Client, clientID, clientSecret string) *TokenClient {
	return &TokenClient{client: client, clientID: clientID, clientSecret: clientSecret}
}

type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Refresh trades refreshToken for a new Token. Strava may rotate the refresh
// token, so callers must persist both values.
func (t *TokenClient) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{}
	form.Set("client_id", t.clientID)
	form.Set("client_secret", t.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	encoded := form.Encode()

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, t.client.baseURL+"/oauth/token", strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	var payload tokenPayload
	if err := t.client.do(ctx, "refresh token", buildRequest, &payload); err != nil {
		return Token{}, err
	}

	tok := Token{AccessToken: payload.AccessToken, RefreshToken: payload.RefreshToken}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	if payload.ExpiresAt > 0 {
		tok.ExpiresAt = time.Unix(payload.ExpiresAt, 0).UTC()
	}
	return tok, nil
}
