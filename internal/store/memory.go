package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe in-memory user registry and outcome log.
type MemoryStore struct {
	mu sync.RWMutex

	// key: athlete id
	users map[string]User

	// outcomes ordered by RecordedAt, oldest first
	outcomes []Outcome
	// key: activity id, value: when it was enriched
	enriched map[string]time.Time

	// retention configuration
	maxHistory int           // max number of outcomes kept
	maxAge     time.Duration // optional max age for outcomes and enrichment markers

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]User),
		enriched:   make(map[string]time.Time),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

func (s *MemoryStore) SaveUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.UpdatedAt = s.now().UTC()
	s.users[u.AthleteID] = u
	return nil
}

func (s *MemoryStore) UserByAthleteID(_ context.Context, athleteID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[athleteID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) SetWeatherEnabled(_ context.Context, athleteID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[athleteID]
	if !ok {
		return ErrNotFound
	}
	u.WeatherEnabled = enabled
	u.UpdatedAt = s.now().UTC()
	s.users[athleteID] = u
	return nil
}

// UpdateTokens replaces the credential fields only, leaving the rest of the
// user as it is at the time of the write.
func (s *MemoryStore) UpdateTokens(_ context.Context, athleteID, accessToken, refreshToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[athleteID]
	if !ok {
		return ErrNotFound
	}
	u.AccessToken = accessToken
	u.RefreshToken = refreshToken
	u.TokenExpiresAt = expiresAt
	u.UpdatedAt = s.now().UTC()
	s.users[athleteID] = u
	return nil
}

// RecordOutcome appends an outcome and enforces retention.
func (s *MemoryStore) RecordOutcome(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.RecordedAt.IsZero() {
		o.RecordedAt = s.now().UTC()
	}
	s.outcomes = append(s.outcomes, o)
	if o.Status == OutcomeEnriched {
		s.enriched[o.ActivityID] = o.RecordedAt
	}

	s.pruneLocked()
	return nil
}

// WasEnriched reports whether an enriched outcome exists for the activity.
func (s *MemoryStore) WasEnriched(_ context.Context, activityID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.enriched[activityID]
	return ok, nil
}

// Outcomes returns up to limit outcomes, most recent first. limit <= 0 means all.
func (s *MemoryStore) Outcomes(_ context.Context, limit int) ([]Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.outcomes)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]Outcome, 0, n)
	for i := len(s.outcomes) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.outcomes[i])
	}
	return result, nil
}

// PruneOutcomes applies age retention and returns how many outcomes were dropped.
func (s *MemoryStore) PruneOutcomes(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(), nil
}

func (s *MemoryStore) pruneLocked() int {
	before := len(s.outcomes)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.outcomes) > s.maxHistory {
		over := len(s.outcomes) - s.maxHistory
		s.outcomes = s.outcomes[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.outcomes); i++ {
			if !s.outcomes[i].RecordedAt.Before(cutoff) {
				break
			}
		}
		s.outcomes = s.outcomes[i:]

		for id, at := range s.enriched {
			if at.Before(cutoff) {
				delete(s.enriched, id)
			}
		}
	}

	return before - len(s.outcomes)
}
