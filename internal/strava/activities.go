package strava

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// ActivityClient reads a single activity and patches its description.
type ActivityClient struct {
	client *Client
}

func NewActivityClient(client *Client) *ActivityClient {
	return &ActivityClient{client: client}
}

type activityPayload struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	SportType   string    `json:"sport_type"`
	StartDate   time.Time `json:"start_date"`
	StartLatLng []float64 `json:"start_latlng"`
	Description *string   `json:"description"`
	Visibility  string    `json:"visibility"`
}

func (p activityPayload) toActivity() Activity {
	a := Activity{
		ID:         strconv.FormatInt(p.ID, 10),
		Name:       p.Name,
		Type:       p.SportType,
		StartTime:  p.StartDate.UTC(),
		Visibility: p.Visibility,
	}
	if a.Type == "" {
		a.Type = p.Type
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if len(p.StartLatLng) == 2 {
		a.Coordinates = &LatLng{Lat: p.StartLatLng[0], Lng: p.StartLatLng[1]}
	}
	return a
}

// Get fetches an activity using the owner's bearer token.
func (a *ActivityClient) Get(ctx context.Context, token, activityID string) (Activity, error) {
	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, a.activityURL(activityID), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}

	var payload activityPayload
	if err := a.client.do(ctx, "get activity", buildRequest, &payload); err != nil {
		return Activity{}, err
	}
	return payload.toActivity(), nil
}

// UpdateDescription replaces the activity description.
func (a *ActivityClient) UpdateDescription(ctx context.Context, token, activityID, description string) error {
	body, err := json.Marshal(struct {
		Description string `json:"description"`
	}{Description: description})
	if err != nil {
		return fmt.Errorf("encode description: %w", err)
	}

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPut, a.activityURL(activityID), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	return a.client.do(ctx, "update activity", buildRequest, nil)
}

func (a *ActivityClient) activityURL(id string) string {
	return fmt.Sprintf("%s/activities/%s", a.client.baseURL, url.PathEscape(id))
}
