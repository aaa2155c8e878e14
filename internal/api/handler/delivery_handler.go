package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/torque-notifications/internal/api/middleware"
	"github.com/notifyhub/torque-notifications/internal/auth"
	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/service"
)

// DeliveryHandler is the webhook the work engine calls for each delivery task.
type DeliveryHandler struct {
	deliverer *service.Deliverer
	logger    *zap.Logger
}

func NewDeliveryHandler(deliverer *service.Deliverer, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{deliverer: deliverer, logger: logger}
}

// deliveryFailure is the error body of a delivery that stopped partway:
// what was sent before the failure plus the reason. The engine retries on
// any 5xx.
type deliveryFailure struct {
	*service.DeliveryResult
	Error string `json:"error"`
}

// Deliver handles POST /notify/{user_id}
//
// @Summary     Deliver a user's unsent dispatches
// @Tags        delivery
// @Accept      json
// @Produce     json
// @Param       user_id  path      string                 true  "User ID"
// @Param       body     body      domain.DeliverRequest  true  "Delivery task"
// @Success     200      {object}  service.DeliveryResult
// @Failure     400      {object}  map[string]string
// @Failure     404      {object}  map[string]string
// @Failure     422      {object}  map[string]any
// @Failure     502      {object}  map[string]any
// @Failure     504      {object}  map[string]any
// @Router      /notify/{user_id} [post]
func (h *DeliveryHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if err := auth.Allows(apimw.GetClaims(r.Context()), userID); err != nil {
		mapError(w, err)
		return
	}

	var req domain.DeliverRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		mapError(w, err)
		return
	}

	res, err := h.deliverer.Deliver(r.Context(), userID, req.LatestHash)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("delivery failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		if res == nil {
			mapError(w, err)
			return
		}
		status := statusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
		respondJSON(w, status, deliveryFailure{DeliveryResult: res, Error: msg})
		return
	}
	respondJSON(w, http.StatusOK, res)
}
