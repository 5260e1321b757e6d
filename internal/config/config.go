package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/activity-weather/internal/logging"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

type AppConfig struct {
	// Environment selects the callback URL source and cleanup defaults.
	Environment string `validate:"oneof=development production test"`
	Port        string `validate:"required,numeric"`

	// PublicBaseURL is used in production, TunnelURL everywhere else.
	PublicBaseURL string `validate:"omitempty,url"`
	TunnelURL     string `validate:"omitempty,url"`

	SubscriptionCleanupOnShutdown bool

	OpenWeatherAPIKey  string
	StravaClientID     string
	StravaClientSecret string
	StravaVerifyToken  string `validate:"required"`

	// AdminToken gates the admin routes. Empty disables them.
	AdminToken string

	HTTPTimeout    time.Duration `validate:"gt=0"`
	WeatherTimeout time.Duration `validate:"gt=0"`
	EnrichWorkers  int           `validate:"min=1,max=256"`

	// RedisAddr switches the store from memory to Redis when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int `validate:"min=0"`

	// Outcome log retention.
	OutcomeMaxHistory int           `validate:"min=0"` // 0 = unlimited
	OutcomeMaxAge     time.Duration `validate:"min=0"` // 0 = unlimited

	SubscriptionCheckInterval time.Duration `validate:"min=0"` // 0 disables the periodic check

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`
}

var validate = validator.New()

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg := &AppConfig{}

	cfg.Environment = strings.ToLower(getenvDefault("APP_ENV", EnvDevelopment))
	cfg.Port = getenvDefault("PORT", "8080")

	cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	cfg.TunnelURL = os.Getenv("TUNNEL_URL")

	cleanup, err := getenvBool("SUBSCRIPTION_CLEANUP_ON_SHUTDOWN", false)
	if err != nil {
		return nil, err
	}
	cfg.SubscriptionCleanupOnShutdown = cleanup

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.StravaClientID = os.Getenv("STRAVA_CLIENT_ID")
	cfg.StravaClientSecret = os.Getenv("STRAVA_CLIENT_SECRET")
	cfg.StravaVerifyToken = os.Getenv("STRAVA_VERIFY_TOKEN")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.WeatherTimeout, err = getenvDuration("WEATHER_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	cfg.EnrichWorkers = getenvInt("ENRICH_WORKERS", 8)

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getenvInt("REDIS_DB", 0)

	cfg.OutcomeMaxHistory = getenvInt("OUTCOME_MAX_HISTORY", 1000)
	if cfg.OutcomeMaxAge, err = getenvDuration("OUTCOME_MAX_AGE", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SubscriptionCheckInterval, err = getenvDuration("SUBSCRIPTION_CHECK_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", defaultLogFormat(cfg.Environment)))

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the deployment runs against the public URL.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

func defaultLogFormat(env string) string {
	if env == EnvProduction {
		return "json"
	}
	return "console"
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
