package taskqueue

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/queue"
)

// Dispatcher schedules delivery tasks on a work engine. The engine later
// posts {"latest_hash": ...} to the user's delivery webhook.
type Dispatcher interface {
	Enqueue(ctx context.Context, task domain.DeliveryTask) error
}

// WebhookURL is the delivery webhook of userID under base.
func WebhookURL(base, userID string) string {
	return strings.TrimRight(base, "/") + "/notify/" + url.PathEscape(userID)
}

// LocalDispatcher hands tasks to the in-process worker pool.
type LocalDispatcher struct {
	q   *queue.TaskQueue
	now func() time.Time
}

func NewLocalDispatcher(q *queue.TaskQueue) *LocalDispatcher {
	return &LocalDispatcher{q: q, now: time.Now}
}

// Enqueue is non-blocking and returns domain.ErrQueueFull when the pool is
// saturated.
func (d *LocalDispatcher) Enqueue(_ context.Context, task domain.DeliveryTask) error {
	return d.q.Enqueue(queue.Item{Task: task, EnqueuedAt: d.now()})
}

var (
	_ Dispatcher = (*LocalDispatcher)(nil)
	_ Dispatcher = (*HTTPDispatcher)(nil)
)
