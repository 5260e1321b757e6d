package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/i474232898/activity-weather/internal/api/http"
	"github.com/i474232898/activity-weather/internal/config"
	"github.com/i474232898/activity-weather/internal/enrichment"
	"github.com/i474232898/activity-weather/internal/logging"
	"github.com/i474232898/activity-weather/internal/scheduler"
	"github.com/i474232898/activity-weather/internal/store"
	"github.com/i474232898/activity-weather/internal/strava"
	"github.com/i474232898/activity-weather/internal/subscription"
	"github.com/i474232898/activity-weather/internal/weather"
	"github.com/i474232898/activity-weather/internal/weather/providers"
)

const serviceName = "activity-weather"

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.With("main")

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		os.Exit(1)
	}
	defer closeStore()

	// Weather lookups with resilience (backoff + circuit breaker).
	if cfg.OpenWeatherAPIKey == "" {
		log.Warn().Msg("OPENWEATHER_API_KEY not set; weather lookups will fail")
	}
	source := weather.NewSource(
		providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey),
		weather.WithTimeout(cfg.WeatherTimeout),
	)

	stravaClient := strava.NewClient(httpClient)
	subscriptions := strava.NewSubscriptionClient(stravaClient, strava.SubscriptionConfig{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		VerifyToken:  cfg.StravaVerifyToken,
	})
	credentials := enrichment.NewRefreshingCredentials(
		strava.NewTokenClient(stravaClient, cfg.StravaClientID, cfg.StravaClientSecret),
		st,
	)

	processor := enrichment.NewProcessor(st, st, strava.NewActivityClient(stravaClient), source,
		enrichment.WithCredentialSource(credentials),
		enrichment.WithCredentialRefresher(credentials),
	)
	dispatcher := enrichment.NewDispatcher(processor, cfg.EnrichWorkers)

	reconciler := subscription.NewReconciler(subscriptions, subscription.Settings{
		PublicBaseURL:     cfg.PublicBaseURL,
		TunnelURL:         cfg.TunnelURL,
		Production:        cfg.IsProduction(),
		CleanupOnShutdown: cfg.SubscriptionCleanupOnShutdown,
	})

	app := httpapi.NewApp(serviceName)
	httpapi.RegisterRoutes(app, httpapi.Deps{
		VerifyToken:   cfg.StravaVerifyToken,
		AdminToken:    cfg.AdminToken,
		Events:        dispatcher,
		Users:         st,
		Outcomes:      st,
		Subscriptions: reconciler,
	})

	// Strava probes the callback while the subscription is created, so
	// reconcile only once the listener is bound.
	app.Hooks().OnListen(func(ld fiber.ListenData) error {
		log.Info().Str("port", ld.Port).Str("env", cfg.Environment).Msg("http server listening")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			reconciler.Ensure(ctx)
		}()
		return nil
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	// Periodic subscription check and outcome pruning.
	sched := scheduler.New(reconciler, cfg.SubscriptionCheckInterval, st, time.Hour)
	if err := sched.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start scheduler")
		os.Exit(1)
	}
	defer sched.Stop()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	reconciler.Cleanup(shutdownCtx)

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during http shutdown")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("in-flight enrichment abandoned")
	}
}

// openStore returns the Redis store when REDIS_ADDR is set and the
// in-memory store otherwise.
func openStore(cfg *config.AppConfig) (store.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return store.NewMemoryStore(cfg.OutcomeMaxHistory, cfg.OutcomeMaxAge), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	rs, err := store.NewRedisStore(client, store.RedisConfig{
		MaxHistory: cfg.OutcomeMaxHistory,
		MaxAge:     cfg.OutcomeMaxAge,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logging.Info().Str("addr", cfg.RedisAddr).Msg("using redis store")
	return rs, func() { _ = client.Close() }, nil
}
