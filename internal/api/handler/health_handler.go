package handler

import "net/http"

// HealthHandler serves the liveness probe endpoint.
type HealthHandler struct {
	engine string
}

// NewHealthHandler reports which work engine runs delivery tasks:
// "local" or "remote".
func NewHealthHandler(engine string) *HealthHandler { return &HealthHandler{engine: engine} }

// Health handles GET /health
//
// @Summary  Liveness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": h.engine})
}
