package httpapi

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/activity-weather/internal/resilience"
	"github.com/i474232898/activity-weather/internal/store"
	"github.com/i474232898/activity-weather/internal/strava"
	"github.com/i474232898/activity-weather/internal/subscription"
)

const defaultOutcomeLimit = 50

// bearerAuth rejects requests without the expected bearer token.
func bearerAuth(token string) fiber.Handler {
	expected := []byte(token)
	return func(c *fiber.Ctx) error {
		auth := c.Get(fiber.HeaderAuthorization)
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), expected) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid admin token")
		}
		return c.Next()
	}
}

type adminHandler struct {
	users         UserStore
	outcomes      OutcomeLister
	subscriptions SubscriptionAdmin
}

func (h *adminHandler) subscriptionStatus(c *fiber.Ctx) error {
	sub, err := h.subscriptions.Status(c.UserContext())
	if err != nil {
		return mapError(err, "failed to view subscription")
	}
	return c.JSON(sub)
}

type callbackRequest struct {
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
}

func (r *callbackRequest) bind(c *fiber.Ctx) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(r); err != nil {
			return err
		}
	}
	return validate.Struct(r)
}

func (h *adminHandler) subscribe(c *fiber.Ctx) error {
	var req callbackRequest
	if err := req.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	sub, err := h.subscriptions.Subscribe(c.UserContext(), req.CallbackURL)
	if errors.Is(err, strava.ErrSubscriptionConflict) && sub != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":        true,
			"message":      "a subscription already exists",
			"subscription": sub,
		})
	}
	if err != nil {
		return mapError(err, "failed to create subscription")
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

func (h *adminHandler) unsubscribe(c *fiber.Ctx) error {
	id, err := h.subscriptions.Unsubscribe(c.UserContext())
	if err != nil {
		return mapError(err, "failed to delete subscription")
	}
	return c.JSON(fiber.Map{"deleted": id})
}

func (h *adminHandler) verify(c *fiber.Ctx) error {
	var req callbackRequest
	if err := req.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	url, reachable, err := h.subscriptions.Verify(c.UserContext(), req.CallbackURL)
	if err != nil {
		return mapError(err, "failed to verify callback url")
	}
	return c.JSON(fiber.Map{
		"callback_url": url,
		"reachable":    reachable,
	})
}

func (h *adminHandler) setup(c *fiber.Ctx) error {
	res, err := h.subscriptions.Setup(c.UserContext())
	body := fiber.Map{"result": res}
	if err != nil {
		body["message"] = err.Error()
	}
	if res == subscription.ResultFailed {
		return c.Status(fiber.StatusBadGateway).JSON(body)
	}
	return c.JSON(body)
}

type outcomesQuery struct {
	Limit int `validate:"min=1,max=1000"`
}

func (h *adminHandler) listOutcomes(c *fiber.Ctx) error {
	q := outcomesQuery{Limit: c.QueryInt("limit", defaultOutcomeLimit)}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	outcomes, err := h.outcomes.Outcomes(c.UserContext(), q.Limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list outcomes")
	}
	if outcomes == nil {
		outcomes = []store.Outcome{}
	}
	return c.JSON(fiber.Map{
		"count":    len(outcomes),
		"outcomes": outcomes,
	})
}

// userResponse omits the credentials.
type userResponse struct {
	AthleteID      string    `json:"athlete_id"`
	Name           string    `json:"name,omitempty"`
	WeatherEnabled bool      `json:"weather_enabled"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toUserResponse(u store.User) userResponse {
	return userResponse{
		AthleteID:      u.AthleteID,
		Name:           u.Name,
		WeatherEnabled: u.WeatherEnabled,
		TokenExpiresAt: u.TokenExpiresAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func (h *adminHandler) getUser(c *fiber.Ctx) error {
	u, err := h.users.UserByAthleteID(c.UserContext(), c.Params("athleteId"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no user for athlete")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load user")
	}
	return c.JSON(toUserResponse(u))
}

type userRequest struct {
	AthleteID      string `json:"-" validate:"required,numeric"`
	Name           string `json:"name"`
	AccessToken    string `json:"access_token" validate:"required"`
	RefreshToken   string `json:"refresh_token"`
	ExpiresAt      int64  `json:"expires_at" validate:"min=0"`
	WeatherEnabled *bool  `json:"weather_enabled"`
}

func (h *adminHandler) putUser(c *fiber.Ctx) error {
	var req userRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.AthleteID = c.Params("athleteId")
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	u := store.User{
		AthleteID:      req.AthleteID,
		Name:           req.Name,
		AccessToken:    req.AccessToken,
		RefreshToken:   req.RefreshToken,
		WeatherEnabled: true,
		UpdatedAt:      time.Now().UTC(),
	}
	if req.ExpiresAt > 0 {
		u.TokenExpiresAt = time.Unix(req.ExpiresAt, 0).UTC()
	}
	if req.WeatherEnabled != nil {
		u.WeatherEnabled = *req.WeatherEnabled
	}

	if err := h.users.SaveUser(c.UserContext(), u); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to save user")
	}
	return c.JSON(toUserResponse(u))
}

// mapError translates domain errors into HTTP errors.
func mapError(err error, msg string) error {
	var ue *strava.UpstreamError
	switch {
	case errors.Is(err, strava.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "no subscription exists")
	case errors.Is(err, strava.ErrSubscriptionConflict):
		return fiber.NewError(fiber.StatusConflict, "a subscription already exists")
	case errors.Is(err, subscription.ErrNoCallbackURL), errors.Is(err, subscription.ErrUnreachable):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &ue):
		if errors.Is(err, resilience.ErrRateLimited) || errors.Is(err, resilience.ErrCircuitOpen) {
			return fiber.NewError(fiber.StatusServiceUnavailable, msg+": upstream temporarily unavailable")
		}
		return fiber.NewError(fiber.StatusBadGateway, msg+": "+ue.Error())
	default:
		return fiber.NewError(fiber.StatusBadGateway, msg+": "+err.Error())
	}
}
