package app

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/api"
	"github.com/notifyhub/torque-notifications/internal/api/handler"
	"github.com/notifyhub/torque-notifications/internal/config"
	"github.com/notifyhub/torque-notifications/internal/db"
	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/mapping"
	"github.com/notifyhub/torque-notifications/internal/metrics"
	"github.com/notifyhub/torque-notifications/internal/queue"
	"github.com/notifyhub/torque-notifications/internal/ratelimiter"
	"github.com/notifyhub/torque-notifications/internal/repository"
	"github.com/notifyhub/torque-notifications/internal/sender"
	"github.com/notifyhub/torque-notifications/internal/service"
	"github.com/notifyhub/torque-notifications/internal/taskqueue"
	"github.com/notifyhub/torque-notifications/internal/worker"
)

// App holds everything the three entry points share.
type App struct {
	Config   *config.Config
	Store    repository.Store
	Registry *mapping.Registry
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Preferences   *service.PreferenceService
	Spawner       *service.Spawner
	Notifications *service.NotificationService
	Events        *service.EventService
	Deliverer     *service.Deliverer

	// Queue is nil when delivery tasks go to a remote work engine.
	Queue      *queue.TaskQueue
	Dispatcher taskqueue.Dispatcher
	Scanner    *worker.Scanner

	logger *zap.Logger
}

// DefaultResolvers are the named role resolvers mapping files may refer to.
func DefaultResolvers() map[string]mapping.RoleResolverFunc {
	return map[string]mapping.RoleResolverFunc{
		// actor notifies whoever caused the event.
		"actor": func(_ context.Context, e *domain.Event, _ string) ([]string, error) {
			if e.ActorID == "" {
				return nil, nil
			}
			return []string{e.ActorID}, nil
		},
	}
}

// New opens the store, loads the mapping file and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := db.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry, err := mapping.Load(cfg.MappingFile, cfg.SiteEmail, DefaultResolvers())
	if err != nil {
		store.Close()
		return nil, err
	}

	senders, err := Senders(cfg, sender.NewFSRenderer(os.DirFS(cfg.TemplateDir)), logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	a := &App{
		Config:   cfg,
		Store:    store,
		Registry: registry,
		Metrics:  m,
		Gatherer: reg,
		logger:   logger,
	}
	a.Preferences = service.NewPreferenceService(store)
	a.Spawner = service.NewSpawner(registry, a.Preferences, logger).OnSpawned(m.OnSpawned)
	a.Notifications = service.NewNotificationService(store, a.Preferences, a.Spawner, logger)
	a.Events = service.NewEventService(store, registry, a.Notifications, logger)
	a.Deliverer = service.NewDeliverer(store, senders, sender.DefaultViews(), cfg.FromAddress(), m.DeliveryHooks(), logger)

	if cfg.WorkEngineURL == "" {
		a.Queue = queue.New(cfg.LocalQueueSize)
		a.Dispatcher = taskqueue.NewLocalDispatcher(a.Queue)
		m.WatchQueue(a.Queue.Depths)
		logger.Info("delivery tasks run in-process", zap.Int("workers", cfg.LocalWorkers))
	} else {
		a.Dispatcher = taskqueue.NewHTTPDispatcher(cfg.WorkEngineURL, cfg.WebhookBaseURL, cfg.WebhookSecret,
			cfg.TaskTimeout, cfg.TaskTokenTTL, cfg.TransportTimeout)
		logger.Info("delivery tasks go to work engine", zap.String("url", cfg.WorkEngineURL))
	}

	a.Scanner = worker.NewScanner(store, a.Spawner, a.Preferences, a.Dispatcher,
		cfg.Cadence, cfg.BacklogCutoff, m.ScanHooks(), logger)
	return a, nil
}

// Senders builds the channel senders for cfg.SenderMode.
func Senders(cfg *config.Config, renderer sender.Renderer, logger *zap.Logger) (*sender.Registry, error) {
	if cfg.SenderMode == "stub" {
		return sender.NewRegistry(
			sender.NewStubEmailSender(renderer, logger),
			sender.NewStubSMSSender(renderer, logger),
		), nil
	}

	limiter := ratelimiter.New(cfg.RateLimit)

	var email sender.EmailTransport
	switch cfg.EmailTransport {
	case "smtp":
		email = sender.NewSMTPTransport(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SiteEmail)
	case "postmark":
		if cfg.PostmarkToken == "" {
			return nil, fmt.Errorf("POSTMARK_TOKEN is required for live email")
		}
		email = sender.NewPostmarkTransport(cfg.PostmarkURL, cfg.PostmarkToken, cfg.TransportTimeout)
	default:
		return nil, fmt.Errorf("unknown email transport %q", cfg.EmailTransport)
	}

	senders := []sender.Sender{sender.NewEmailSender(renderer, email, limiter)}
	if cfg.TwilioSID != "" {
		sms := sender.NewTwilioTransport(cfg.TwilioURL, cfg.TwilioSID, cfg.TwilioToken, cfg.SMSFrom, cfg.TransportTimeout)
		senders = append(senders, sender.NewSMSSender(renderer, sms, limiter))
	} else {
		logger.Warn("TWILIO_ACCOUNT_SID not set, sms dispatches will fail")
	}
	return sender.NewRegistry(senders...), nil
}

// Services returns the services behind the HTTP API.
func (a *App) Services() api.Services {
	return api.Services{
		Events:        a.Events,
		Notifications: a.Notifications,
		Preferences:   a.Preferences,
		Deliverer:     a.Deliverer,
	}
}

// QueueDepths is nil when there is no local queue.
func (a *App) QueueDepths() handler.QueueDepths {
	if a.Queue == nil {
		return nil
	}
	return a.Queue
}

func (a *App) Poller() *worker.Poller {
	return worker.NewPoller(a.Scanner, a.Config.PollDelay, a.logger)
}

// NewPool builds the in-process worker pool, or nil with a remote engine.
func (a *App) NewPool() *worker.Pool {
	if a.Queue == nil {
		return nil
	}
	return worker.NewPool(a.Config.LocalWorkers, a.Queue, a.Deliverer, a.Config.TaskTimeout,
		a.Config.RetryBackoff, a.logger, a.Metrics.WorkerHooks())
}

// DrainLocal runs every queued task on the calling goroutine without
// retries. A no-op with a remote engine.
func (a *App) DrainLocal(ctx context.Context) int {
	if a.Queue == nil {
		return 0
	}
	w := worker.NewWorker(0, a.Queue, a.Deliverer, a.Config.TaskTimeout, nil, a.logger, a.Metrics.WorkerHooks())
	return w.Drain(ctx)
}

func (a *App) Close() {
	a.Store.Close()
}
