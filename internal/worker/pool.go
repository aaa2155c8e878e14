package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/queue"
)

// MetricHooks carries the metric callback functions injected by main.
type MetricHooks struct {
	OnTask  func(outcome string, latency time.Duration)
	OnRetry func()
}

// Task outcomes reported through MetricHooks.OnTask.
const (
	OutcomeDelivered = "delivered"
	OutcomeStale     = "stale"
	OutcomeRetried   = "retried"
	OutcomeDropped   = "dropped"
)

// Pool is the in-process work engine: identical workers sharing one task
// queue, used when no external engine is configured.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates size workers. Each task runs under taskTimeout; a task
// failing with a retryable error is re-queued after the matching backoff
// step until the steps run out.
func NewPool(
	size int,
	q *queue.TaskQueue,
	runner TaskRunner,
	taskTimeout time.Duration,
	backoff []time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{workers: make([]*Worker, size)}
	for i := range p.workers {
		p.workers[i] = NewWorker(
			i, q, runner, taskTimeout, backoff,
			logger.With(zap.Int("worker_id", i)),
			hooks,
		)
		p.workers[i].timers = &p.wg
	}
	return p
}

// Start launches all workers as goroutines.
// Cancelling ctx triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker and pending retry timer has returned
// after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
