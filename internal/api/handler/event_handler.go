package handler

import (
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/torque-notifications/internal/api/middleware"
	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/service"
)

// EventHandler ingests domain events.
type EventHandler struct {
	svc    *service.EventService
	logger *zap.Logger
}

func NewEventHandler(svc *service.EventService, logger *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, logger: logger}
}

// Create handles POST /events
//
// @Summary  Ingest a domain event
// @Tags     events
// @Accept   json
// @Produce  json
// @Param    body  body      domain.CreateEventRequest  true  "Event"
// @Success  202   {object}  map[string]any
// @Failure  400   {object}  map[string]string
// @Router   /events [post]
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	res, err := h.svc.Handle(r.Context(), req)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("event ingest failed", zap.Error(err))
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"event":         res.Event,
		"notifications": len(res.Notifications),
		"dispatches":    len(res.Dispatches),
	})
}
