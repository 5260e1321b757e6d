package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/activity-weather/internal/logging"
	"github.com/i474232898/activity-weather/internal/subscription"
)

const (
	jobTimeout         = 30 * time.Second
	defaultPruneMinute = 60
)

// SubscriptionChecker re-runs subscription reconciliation.
type SubscriptionChecker interface {
	Ensure(ctx context.Context) subscription.Result
}

// OutcomePruner drops outcome log entries past retention.
type OutcomePruner interface {
	PruneOutcomes(ctx context.Context) (int, error)
}

// Scheduler runs the periodic maintenance jobs: the subscription health
// check and outcome log pruning.
type Scheduler struct {
	scheduler     *gocron.Scheduler
	checker       SubscriptionChecker
	pruner        OutcomePruner
	checkInterval time.Duration
	pruneInterval time.Duration
	log           zerolog.Logger
}

// New creates a new Scheduler. A zero checkInterval disables the
// subscription check; a nil pruner disables pruning.
func New(checker SubscriptionChecker, checkInterval time.Duration, pruner OutcomePruner, pruneInterval time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler:     s,
		checker:       checker,
		pruner:        pruner,
		checkInterval: checkInterval,
		pruneInterval: pruneInterval,
		log:           logging.With("scheduler"),
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	scheduled := 0

	if s.checker != nil && s.checkInterval > 0 {
		// The startup reconciliation already ran; the first check waits a full interval.
		_, err := s.scheduler.Every(minutes(s.checkInterval, 1)).Minutes().WaitForSchedule().Do(s.CheckSubscription)
		if err != nil {
			return err
		}
		scheduled++
	}

	if s.pruner != nil {
		_, err := s.scheduler.Every(minutes(s.pruneInterval, defaultPruneMinute)).Minutes().Do(s.PruneOutcomes)
		if err != nil {
			return err
		}
		scheduled++
	}

	if scheduled == 0 {
		s.log.Info().Msg("no jobs configured; nothing to schedule")
		return nil
	}

	s.scheduler.StartAsync()
	return nil
}

// CheckSubscription runs one subscription reconciliation.
func (s *Scheduler) CheckSubscription() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	res := s.checker.Ensure(ctx)
	s.log.Debug().Str("result", string(res)).Msg("subscription check completed")
}

// PruneOutcomes runs one retention pass over the outcome log.
func (s *Scheduler) PruneOutcomes() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.pruner.PruneOutcomes(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("outcome pruning failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("removed", n).Msg("pruned outcome log")
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func minutes(d time.Duration, def int) int {
	m := int(d.Minutes())
	if m <= 0 {
		return def
	}
	return m
}
