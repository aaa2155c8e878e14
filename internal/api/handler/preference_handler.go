package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/service"
)

type PreferenceHandler struct {
	svc *service.PreferenceService
}

func NewPreferenceHandler(svc *service.PreferenceService) *PreferenceHandler {
	return &PreferenceHandler{svc: svc}
}

// Get handles GET /preferences/{user_id}
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Update handles PUT /preferences/{user_id}
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdatePreferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	p, err := h.svc.Update(r.Context(), chi.URLParam(r, "user_id"), req)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
