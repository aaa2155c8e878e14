package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/api/handler"
	apimw "github.com/notifyhub/torque-notifications/internal/api/middleware"
	"github.com/notifyhub/torque-notifications/internal/service"
)

// Services are the application services behind the HTTP surface.
type Services struct {
	Events        *service.EventService
	Notifications *service.NotificationService
	Preferences   *service.PreferenceService
	Deliverer     *service.Deliverer
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. q is nil when delivery tasks run on a remote engine.
// A non-empty secret puts every route except /health and /metrics behind
// bearer auth.
func NewRouter(
	svcs Services,
	q handler.QueueDepths,
	reg prometheus.Gatherer,
	secret string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger))

	engine := "local"
	if q == nil {
		engine = "remote"
	}
	dh := handler.NewDeliveryHandler(svcs.Deliverer, logger)
	eh := handler.NewEventHandler(svcs.Events, logger)
	ph := handler.NewPreferenceHandler(svcs.Preferences)
	nh := handler.NewNotificationHandler(svcs.Notifications)
	mh := handler.NewMetricsHandler(q)
	hh := handler.NewHealthHandler(engine)

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(apimw.BearerAuth(secret))

		r.Post("/notify/{user_id}", dh.Deliver)
		r.Post("/events", eh.Create)
		r.Get("/preferences/{user_id}", ph.Get)
		r.Put("/preferences/{user_id}", ph.Update)
		r.Post("/notifications/{id}/read", nh.MarkRead)
		r.Get("/queue", mh.GetQueue)
	})

	return r
}
