package queue

import (
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// Item is a delivery task waiting for a local worker.
// It carries only the user and the token; the worker loads everything else
// from the store when the task runs.
type Item struct {
	Task       domain.DeliveryTask
	Attempt    int
	EnqueuedAt time.Time
}

// IsRetry reports whether the item is a re-run of a failed task.
func (i Item) IsRetry() bool {
	return i.Attempt > 0
}
