package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/repository"
	"github.com/notifyhub/torque-notifications/internal/service"
	"github.com/notifyhub/torque-notifications/internal/taskqueue"
)

// ScanHooks carries metric callbacks; nil fields are skipped.
type ScanHooks struct {
	OnScan          func(spawned, tasks int, elapsed time.Duration)
	OnEnqueued      func()
	OnEnqueueFailed func()
}

// ScanResult summarises one scan.
type ScanResult struct {
	// Spawned is the number of dispatches created by the spawning pass.
	Spawned int
	// Tasks is the number of delivery tasks issued, one per user.
	Tasks int
	// Enqueued is how many of those the dispatcher accepted.
	Enqueued int
}

// Scanner finds due work. It spawns dispatches for notifications whose
// user's cadence has elapsed, then issues one delivery task per user with
// unsent dispatches.
type Scanner struct {
	store      repository.Store
	spawner    *service.Spawner
	prefs      *service.PreferenceService
	dispatcher taskqueue.Dispatcher
	cadence    domain.Cadence
	cutoff     time.Duration
	hooks      ScanHooks
	logger     *zap.Logger
	now        func() time.Time
}

func NewScanner(
	store repository.Store,
	spawner *service.Spawner,
	prefs *service.PreferenceService,
	dispatcher taskqueue.Dispatcher,
	cadence domain.Cadence,
	cutoff time.Duration,
	hooks ScanHooks,
	logger *zap.Logger,
) *Scanner {
	return &Scanner{
		store:      store,
		spawner:    spawner,
		prefs:      prefs,
		dispatcher: dispatcher,
		cadence:    cadence,
		cutoff:     cutoff,
		hooks:      hooks,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// Scan runs both passes in one transaction and enqueues the delivery tasks
// once it has committed. A failed enqueue is logged and skipped: the
// dispatches stay unsent and the next scan issues a fresh task.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	now := s.now().UTC()

	var (
		result ScanResult
		tasks  []domain.DeliveryTask
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		spawned, err := s.spawnDue(ctx, tx, now)
		if err != nil {
			return fmt.Errorf("spawn pass: %w", err)
		}
		if tasks, err = s.issueTasks(ctx, tx); err != nil {
			return fmt.Errorf("task pass: %w", err)
		}
		result.Spawned = spawned
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}
	result.Tasks = len(tasks)

	for _, task := range tasks {
		if err := s.dispatcher.Enqueue(ctx, task); err != nil {
			if s.hooks.OnEnqueueFailed != nil {
				s.hooks.OnEnqueueFailed()
			}
			s.logger.Warn("could not enqueue delivery task",
				zap.String("user_id", task.UserID), zap.Error(err))
			continue
		}
		if s.hooks.OnEnqueued != nil {
			s.hooks.OnEnqueued()
		}
		result.Enqueued++
	}

	elapsed := time.Since(start)
	if s.hooks.OnScan != nil {
		s.hooks.OnScan(result.Spawned, result.Tasks, elapsed)
	}
	s.logger.Info("scan finished",
		zap.Int("spawned", result.Spawned),
		zap.Int("tasks", result.Tasks),
		zap.Int("enqueued", result.Enqueued),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// spawnDue spawns the outstanding notifications of every user whose cadence
// has elapsed since their last delivery. Notifications that fell due before
// the backlog cutoff are left alone. A user with no address on their channel
// is skipped; a channel with no address rule aborts the scan.
func (s *Scanner) spawnDue(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	after := now.Add(-s.cutoff)
	candidates, err := tx.ListPreferencesWithDueNotifications(ctx, now, after)
	if err != nil {
		return 0, err
	}

	spawned := 0
	for _, prefs := range candidates {
		interval, ok := s.cadence.Interval(prefs.Frequency)
		if !ok {
			continue
		}

		last := prefs.CreatedAt
		sent, err := tx.LastDispatchSent(ctx, prefs.UserID)
		if err != nil {
			return spawned, err
		}
		if sent != nil {
			last = *sent
		}
		if interval > 0 && !last.Add(interval).Before(now) {
			continue
		}

		due, err := tx.ListSpawnableNotifications(ctx, prefs.UserID, now, after)
		if err != nil {
			return spawned, err
		}
		for _, n := range due {
			ds, err := s.spawner.Spawn(ctx, tx, n, prefs)
			if errors.Is(err, domain.ErrNoAddress) {
				s.logger.Warn("user skipped: no address for channel",
					zap.String("user_id", prefs.UserID),
					zap.String("channel", string(prefs.Channel)),
				)
				break
			}
			if err != nil {
				return spawned, fmt.Errorf("notification %s: %w", n.ID, err)
			}
			spawned += len(ds)
		}
	}
	return spawned, nil
}

// issueTasks bumps the token of every user with unsent dispatches and
// returns one task carrying the new token per user.
func (s *Scanner) issueTasks(ctx context.Context, tx repository.Tx) ([]domain.DeliveryTask, error) {
	pending, err := tx.ListPreferencesWithUnsentDispatches(ctx)
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.DeliveryTask, 0, len(pending))
	for _, prefs := range pending {
		if prefs.Frequency == domain.FrequencyNever {
			continue
		}
		tok, err := s.prefs.BumpToken(ctx, tx, prefs.UserID)
		if err != nil {
			return nil, fmt.Errorf("bump token for %s: %w", prefs.UserID, err)
		}
		tasks = append(tasks, domain.DeliveryTask{UserID: prefs.UserID, LatestHash: tok})
	}
	return tasks, nil
}
