package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/i474232898/activity-weather/internal/enrichment"
	"github.com/i474232898/activity-weather/internal/observability"
	"github.com/i474232898/activity-weather/internal/store"
	"github.com/i474232898/activity-weather/internal/strava"
)

const deauthorizeTimeout = 2 * time.Second

type webhookHandler struct {
	verifyToken string
	events      EventSubmitter
	users       UserStore
	log         zerolog.Logger
}

// verify answers the subscription challenge handshake.
func (h *webhookHandler) verify(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || challenge == "" || token != h.verifyToken {
		h.log.Warn().Str("mode", mode).Msg("rejected webhook verification")
		return fiber.NewError(fiber.StatusForbidden, "verification failed")
	}
	return c.JSON(fiber.Map{"hub.challenge": challenge})
}

// receive acknowledges every delivery with 200. Strava retries anything else
// and expects an answer within two seconds, so work is only handed off here.
func (h *webhookHandler) receive(c *fiber.Ctx) error {
	var ev strava.WebhookEvent
	if err := c.BodyParser(&ev); err != nil {
		h.log.Warn().Err(err).Msg("undecodable webhook body")
		return ack(c, "ignored")
	}
	if err := validate.Struct(ev); err != nil {
		h.log.Warn().Err(err).Msg("invalid webhook event")
		return ack(c, "ignored")
	}

	log := h.log.With().
		Str("object_type", ev.ObjectType).
		Str("aspect_type", ev.AspectType).
		Int64("object_id", ev.ObjectID).
		Int64("owner_id", ev.OwnerID).
		Logger()

	switch {
	case ev.ObjectType == strava.ObjectTypeActivity &&
		(ev.AspectType == strava.AspectTypeCreate || ev.AspectType == strava.AspectTypeUpdate):
		err := h.events.Submit(enrichment.Event{
			ActivityID:     strconv.FormatInt(ev.ObjectID, 10),
			AthleteID:      strconv.FormatInt(ev.OwnerID, 10),
			EventTime:      time.Unix(ev.EventTime, 0).UTC(),
			SubscriptionID: ev.SubscriptionID,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to dispatch event")
			observability.RecordWebhookEvent(ev.ObjectType, ev.AspectType, false)
			return ack(c, "dropped")
		}
		log.Debug().Msg("event dispatched")
		observability.RecordWebhookEvent(ev.ObjectType, ev.AspectType, true)
		return ack(c, "accepted")

	case ev.Deauthorized():
		h.deauthorize(c.UserContext(), log, strconv.FormatInt(ev.OwnerID, 10))
		observability.RecordWebhookEvent(ev.ObjectType, ev.AspectType, false)
		return ack(c, "deauthorized")
	}

	log.Debug().Msg("event ignored")
	observability.RecordWebhookEvent(ev.ObjectType, ev.AspectType, false)
	return ack(c, "ignored")
}

func (h *webhookHandler) deauthorize(ctx context.Context, log zerolog.Logger, athleteID string) {
	ctx, cancel := context.WithTimeout(ctx, deauthorizeTimeout)
	defer cancel()

	err := h.users.SetWeatherEnabled(ctx, athleteID, false)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Debug().Msg("deauthorization for unknown athlete")
	case err != nil:
		log.Error().Err(err).Msg("failed to disable enrichment after deauthorization")
	default:
		log.Info().Msg("athlete deauthorized; enrichment disabled")
	}
}

func ack(c *fiber.Ctx, status string) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": status})
}
