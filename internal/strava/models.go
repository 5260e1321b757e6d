package strava

import "time"

const (
	ObjectTypeActivity = "activity"
	ObjectTypeAthlete  = "athlete"

	AspectTypeCreate = "create"
	AspectTypeUpdate = "update"
	AspectTypeDelete = "delete"
)

// Subscription is the application's push-notification registration.
type Subscription struct {
	ID          int64     `json:"id"`
	CallbackURL string    `json:"callback_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// LatLng is an activity start point.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Activity is the subset of a Strava activity the enrichment pipeline uses.
type Activity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	StartTime   time.Time `json:"start_time"`
	Coordinates *LatLng   `json:"coordinates,omitempty"`
	Description string    `json:"description"`
	Visibility  string    `json:"visibility"`
}

// WebhookEvent is the body Strava POSTs to the callback URL.
type WebhookEvent struct {
	ObjectType     string         `json:"object_type" validate:"required,oneof=activity athlete"`
	ObjectID       int64          `json:"object_id" validate:"required"`
	AspectType     string         `json:"aspect_type" validate:"required,oneof=create update delete"`
	OwnerID        int64          `json:"owner_id" validate:"required"`
	SubscriptionID int64          `json:"subscription_id"`
	EventTime      int64          `json:"event_time"`
	Updates        map[string]any `json:"updates"`
}

// Deauthorized reports whether the event revokes the athlete's authorization.
func (e WebhookEvent) Deauthorized() bool {
	if e.ObjectType != ObjectTypeAthlete || e.Updates == nil {
		return false
	}
	v, ok := e.Updates["authorized"]
	if !ok {
		return false
	}
	switch a := v.(type) {
	case string:
		return a == "false"
	case bool:
		return !a
	}
	return false
}
