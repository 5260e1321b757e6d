package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "activity-weather:"
	maxUpdateAttempts = 5
)

// RedisStore keeps users and the outcome log in Redis so that enrichment
// markers survive restarts and are shared between replicas.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	maxHistory int
	maxAge     time.Duration
	now        func() time.Time
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	KeyPrefix  string
	MaxHistory int
	MaxAge     time.Duration
}

func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		maxHistory: cfg.MaxHistory,
		maxAge:     cfg.MaxAge,
		now:        time.Now,
	}, nil
}

func (s *RedisStore) userKey(athleteID string) string     { return s.prefix + "user:" + athleteID }
func (s *RedisStore) enrichedKey(activityID string) string { return s.prefix + "enriched:" + activityID }
func (s *RedisStore) outcomesKey() string                  { return s.prefix + "outcomes" }

func (s *RedisStore) SaveUser(ctx context.Context, u User) error {
	u.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return s.client.Set(ctx, s.userKey(u.AthleteID), data, 0).Err()
}

func (s *RedisStore) UserByAthleteID(ctx context.Context, athleteID string) (User, error) {
	data, err := s.client.Get(ctx, s.userKey(athleteID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("load user %s: %w", athleteID, err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return User{}, fmt.Errorf("decode user %s: %w", athleteID, err)
	}
	return u, nil
}

func (s *RedisStore) SetWeatherEnabled(ctx context.Context, athleteID string, enabled bool) error {
	return s.updateUser(ctx, athleteID, func(u *User) {
		u.WeatherEnabled = enabled
	})
}

func (s *RedisStore) UpdateTokens(ctx context.Context, athleteID, accessToken, refreshToken string, expiresAt time.Time) error {
	return s.updateUser(ctx, athleteID, func(u *User) {
		u.AccessToken = accessToken
		u.RefreshToken = refreshToken
		u.TokenExpiresAt = expiresAt
	})
}

// updateUser applies mutate under WATCH so a concurrent write to the same
// user aborts and retries instead of being overwritten.
func (s *RedisStore) updateUser(ctx context.Context, athleteID string, mutate func(*User)) error {
	key := s.userKey(athleteID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load user %s: %w", athleteID, err)
		}

		var u User
		if err := json.Unmarshal(data, &u); err != nil {
			return fmt.Errorf("decode user %s: %w", athleteID, err)
		}
		mutate(&u)
		u.UpdatedAt = s.now().UTC()

		out, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update user %s: too much contention", athleteID)
}

func (s *RedisStore) RecordOutcome(ctx context.Context, o Outcome) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = s.now().UTC()
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.outcomesKey(), data)
	if s.maxHistory > 0 {
		pipe.LTrim(ctx, s.outcomesKey(), 0, int64(s.maxHistory-1))
	}
	if o.Status == OutcomeEnriched {
		pipe.Set(ctx, s.enrichedKey(o.ActivityID), o.RecordedAt.Unix(), s.maxAge)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (s *RedisStore) WasEnriched(ctx context.Context, activityID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.enrichedKey(activityID)).Result()
	if err != nil {
		return false, fmt.Errorf("check enrichment marker: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Outcomes(ctx context.Context, limit int) ([]Outcome, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := s.client.LRange(ctx, s.outcomesKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}

	result := make([]Outcome, 0, len(raw))
	for _, item := range raw {
		var o Outcome
		if err := json.Unmarshal([]byte(item), &o); err != nil {
			continue
		}
		result = append(result, o)
	}
	return result, nil
}

// PruneOutcomes pops outcomes older than maxAge from the tail of the log.
// Enrichment markers expire on their own TTL.
func (s *RedisStore) PruneOutcomes(ctx context.Context) (int, error) {
	if s.maxAge <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.maxAge)

	removed := 0
	for {
		item, err := s.client.LIndex(ctx, s.outcomesKey(), -1).Result()
		if errors.Is(err, redis.Nil) {
			return removed, nil
		}
		if err != nil {
			return removed, fmt.Errorf("inspect outcome log: %w", err)
		}

		var o Outcome
		if err := json.Unmarshal([]byte(item), &o); err == nil && !o.RecordedAt.Before(cutoff) {
			return removed, nil
		}
		if err := s.client.RPop(ctx, s.outcomesKey()).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return removed, fmt.Errorf("pop outcome: %w", err)
		}
		removed++
	}
}
