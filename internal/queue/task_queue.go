package queue

import (
	"context"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// TaskQueue holds delivery tasks for the in-process work engine in two
// buffered channels: fresh tasks from the scanner and retries of tasks whose
// transport failed.
//
// Workers dequeue via the double-select pattern so fresh tasks are always
// served before retries. A retry for a user is usually stale by the time the
// next scan has issued a new token, so running it first would waste a send
// attempt.
type TaskQueue struct {
	fresh chan Item
	retry chan Item
}

// New creates a queue whose fresh tier holds size items. The retry tier is
// a quarter of that, at least one.
func New(size int) *TaskQueue {
	if size < 1 {
		size = 1
	}
	retry := size / 4
	if retry < 1 {
		retry = 1
	}
	return &TaskQueue{
		fresh: make(chan Item, size),
		retry: make(chan Item, retry),
	}
}

// Enqueue places an item on its tier.
// It is non-blocking: if the tier is full, ErrQueueFull is returned
// immediately rather than blocking the scanner or a worker.
func (q *TaskQueue) Enqueue(item Item) error {
	target := q.fresh
	if item.IsRetry() {
		target = q.retry
	}
	select {
	case target <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or ctx is cancelled.
//
// A non-blocking select drains fresh first; only when it is empty does the
// worker enter a blocking select over both tiers and the done signal.
//
// Returns (Item{}, false) when ctx is cancelled.
func (q *TaskQueue) Dequeue(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.fresh:
		return item, true
	default:
	}

	select {
	case item := <-q.fresh:
		return item, true
	case item := <-q.retry:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths returns the number of items waiting in each tier.
func (q *TaskQueue) Depths() (fresh, retry int) {
	return len(q.fresh), len(q.retry)
}
