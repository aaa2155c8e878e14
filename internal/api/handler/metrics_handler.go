package handler

import (
	"net/http"
)

// QueueDepths reports the local task queue. *queue.TaskQueue satisfies it.
type QueueDepths interface {
	Depths() (fresh, retry int)
}

// MetricsHandler serves a human-readable JSON snapshot of the local task
// queue. Raw Prometheus metrics are at /metrics via promhttp.
type MetricsHandler struct {
	q QueueDepths
}

// NewMetricsHandler accepts a nil queue when tasks go to a remote engine.
func NewMetricsHandler(q QueueDepths) *MetricsHandler {
	return &MetricsHandler{q: q}
}

// GetQueue handles GET /queue
//
// @Summary  Local task queue depth snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /queue [get]
func (h *MetricsHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	if h.q == nil {
		respondJSON(w, http.StatusOK, map[string]any{"engine": "remote"})
		return
	}
	fresh, retry := h.q.Depths()
	respondJSON(w, http.StatusOK, map[string]any{
		"engine": "local",
		"queue_depth": map[string]int{
			"fresh": fresh,
			"retry": retry,
			"total": fresh + retry,
		},
	})
}
