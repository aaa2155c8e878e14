package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/notifyhub/torque-notifications/internal/service"
)

// NotificationHandler serves per-notification endpoints.
type NotificationHandler struct {
	svc *service.NotificationService
}

func NewNotificationHandler(svc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

// MarkRead handles POST /notifications/{id}/read
//
// A read notification is never spawned, and its unsent dispatches are
// skipped by later deliveries. Marking twice keeps the first timestamp.
//
// @Summary  Mark a notification read
// @Tags     notifications
// @Produce  json
// @Param    id   path      string  true  "Notification ID"
// @Success  200  {object}  domain.Notification
// @Failure  404  {object}  map[string]string
// @Router   /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}
