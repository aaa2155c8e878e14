package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/queue"
	"github.com/notifyhub/torque-notifications/internal/service"
)

// TaskRunner runs one delivery task. *service.Deliverer satisfies it.
type TaskRunner interface {
	Deliver(ctx context.Context, userID, latestHash string) (*service.DeliveryResult, error)
}

// Worker is a single goroutine that pulls delivery tasks from the queue and
// runs them, re-queuing transport failures with backoff.
type Worker struct {
	id      int
	q       *queue.TaskQueue
	runner  TaskRunner
	timeout time.Duration
	backoff []time.Duration
	logger  *zap.Logger
	hooks   MetricHooks

	// timers tracks pending retries so shutdown waits for them.
	timers *sync.WaitGroup
}

// NewWorker constructs a worker. Hook fields are optional (nil = no-op).
func NewWorker(
	id int,
	q *queue.TaskQueue,
	runner TaskRunner,
	timeout time.Duration,
	backoff []time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Worker {
	if hooks.OnTask == nil {
		hooks.OnTask = func(string, time.Duration) {}
	}
	if hooks.OnRetry == nil {
		hooks.OnRetry = func() {}
	}
	return &Worker{
		id: id, q: q, runner: runner,
		timeout: timeout, backoff: backoff, logger: logger,
		hooks: hooks, timers: &sync.WaitGroup{},
	}
}

// Run blocks until ctx is cancelled, processing one task per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	for {
		item, ok := w.q.Dequeue(ctx)
		if !ok {
			w.logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}
		w.process(ctx, item)
	}
}

// Drain runs queued tasks on the calling goroutine until the queue is
// empty and returns how many ran. Used by one-shot runs with no pool.
func (w *Worker) Drain(ctx context.Context) int {
	empty, cancel := context.WithCancel(ctx)
	cancel()

	n := 0
	for {
		item, ok := w.q.Dequeue(empty)
		if !ok {
			return n
		}
		w.process(ctx, item)
		n++
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	start := time.Now()
	log := w.logger.With(
		zap.String("user_id", item.Task.UserID),
		zap.Int("attempt", item.Attempt),
	)

	// In-flight tasks finish on shutdown, bounded by the task timeout.
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	res, err := w.runner.Deliver(taskCtx, item.Task.UserID, item.Task.LatestHash)
	elapsed := time.Since(start)

	switch {
	case err == nil && res.Stale:
		w.hooks.OnTask(OutcomeStale, elapsed)
	case err == nil:
		w.hooks.OnTask(OutcomeDelivered, elapsed)
		log.Info("delivery task done", zap.Int("sent", len(res.Dispatched)), zap.Duration("latency", elapsed))
	case retryable(err) && item.Attempt < len(w.backoff) && ctx.Err() == nil:
		w.hooks.OnTask(OutcomeRetried, elapsed)
		log.Warn("delivery task failed, retrying", zap.Error(err))
		w.scheduleRetry(ctx, item)
	default:
		w.hooks.OnTask(OutcomeDropped, elapsed)
		log.Error("delivery task dropped", zap.Error(err))
	}
}

// scheduleRetry re-queues item on the retry tier after the backoff step for
// its attempt:
//
//	attempt 0 → backoff[0]  (default 5 s)
//	attempt 1 → backoff[1]  (default 30 s)
//	attempt 2 → backoff[2]  (default 120 s)
func (w *Worker) scheduleRetry(ctx context.Context, item queue.Item) {
	delay := w.backoff[item.Attempt]
	next := item
	next.Attempt++

	w.timers.Add(1)
	go func() {
		defer w.timers.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		next.EnqueuedAt = time.Now()
		if err := w.q.Enqueue(next); err != nil {
			w.logger.Warn("could not re-queue delivery task",
				zap.String("user_id", next.Task.UserID), zap.Error(err))
			return
		}
		w.hooks.OnRetry()
	}()
}

func retryable(err error) bool {
	return service.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
}
