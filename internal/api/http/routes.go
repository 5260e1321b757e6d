package httpapi

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/activity-weather/internal/enrichment"
	"github.com/i474232898/activity-weather/internal/logging"
	"github.com/i474232898/activity-weather/internal/store"
	"github.com/i474232898/activity-weather/internal/strava"
	"github.com/i474232898/activity-weather/internal/subscription"
)

var validate = validator.New()

// EventSubmitter hands events to background processing.
type EventSubmitter interface {
	Submit(ev enrichment.Event) error
}

type UserStore interface {
	SaveUser(ctx context.Context, u store.User) error
	UserByAthleteID(ctx context.Context, athleteID string) (store.User, error)
	SetWeatherEnabled(ctx context.Context, athleteID string, enabled bool) error
}

type OutcomeLister interface {
	Outcomes(ctx context.Context, limit int) ([]store.Outcome, error)
}

// SubscriptionAdmin is the subscription lifecycle exposed to operators.
type SubscriptionAdmin interface {
	Status(ctx context.Context) (*strava.Subscription, error)
	Subscribe(ctx context.Context, callbackURL string) (*strava.Subscription, error)
	Unsubscribe(ctx context.Context) (int64, error)
	Verify(ctx context.Context, callbackURL string) (string, bool, error)
	Setup(ctx context.Context) (subscription.Result, error)
}

// Deps are the collaborators the handlers need.
type Deps struct {
	VerifyToken   string
	AdminToken    string
	Events        EventSubmitter
	Users         UserStore
	Outcomes      OutcomeLister
	Subscriptions SubscriptionAdmin
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	wh := &webhookHandler{
		verifyToken: deps.VerifyToken,
		events:      deps.Events,
		users:       deps.Users,
		log:         logging.With("webhook"),
	}
	app.Get("/webhook", wh.verify)
	app.Post("/webhook", wh.receive)

	if deps.AdminToken == "" {
		logging.Warn().Msg("ADMIN_TOKEN not set; admin routes disabled")
		return
	}

	ad := &adminHandler{
		users:         deps.Users,
		outcomes:      deps.Outcomes,
		subscriptions: deps.Subscriptions,
	}
	admin := app.Group("/admin", bearerAuth(deps.AdminToken))

	admin.Get("/subscription", ad.subscriptionStatus)
	admin.Post("/subscription", ad.subscribe)
	admin.Delete("/subscription", ad.unsubscribe)
	admin.Post("/subscription/verify", ad.verify)
	admin.Post("/subscription/setup", ad.setup)

	admin.Get("/outcomes", ad.listOutcomes)

	admin.Get("/users/:athleteId", ad.getUser)
	admin.Put("/users/:athleteId", ad.putUser)
}
