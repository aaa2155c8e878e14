package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/service"
	"github.com/notifyhub/torque-notifications/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	Scans             prometheus.Counter
	ScanDuration      prometheus.Histogram
	DispatchesSpawned *prometheus.CounterVec
	TasksEnqueued     *prometheus.CounterVec
	DispatchesSent    *prometheus.CounterVec
	DispatchesFailed  *prometheus.CounterVec
	SendLatency       *prometheus.HistogramVec
	StaleTasks        prometheus.Counter
	LocalTasks        *prometheus.CounterVec
	LocalRetries      prometheus.Counter

	reg prometheus.Registerer
}

// New registers all instruments with the given Prometheus registerer.
// A custom registry keeps tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_scans_total",
			Help: "Completed due-work scans.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notification_scan_seconds",
			Help:    "Duration of one due-work scan including task enqueueing.",
			Buckets: prometheus.DefBuckets,
		}),
		DispatchesSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatches_spawned_total",
			Help: "Dispatches created, inline or by a scan.",
		}, []string{"channel"}),
		TasksEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_delivery_tasks_total",
			Help: "Delivery tasks handed to the work engine.",
		}, []string{"result"}),
		DispatchesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatches_sent_total",
			Help: "Dispatches delivered by a channel sender.",
		}, []string{"channel"}),
		DispatchesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatches_failed_total",
			Help: "Dispatch sends that failed and stay unsent.",
		}, []string{"channel"}),
		SendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_send_seconds",
			Help:    "Time from loading a dispatch to the transport's ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		StaleTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_stale_tasks_total",
			Help: "Delivery tasks ignored because a newer token was issued.",
		}),
		LocalTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_local_tasks_total",
			Help: "Delivery tasks run by the in-process pool, by outcome.",
		}, []string{"outcome"}),
		LocalRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_local_retries_total",
			Help: "Delivery tasks re-queued by the in-process pool.",
		}),
		reg: reg,
	}

	reg.MustRegister(
		m.Scans,
		m.ScanDuration,
		m.DispatchesSpawned,
		m.TasksEnqueued,
		m.DispatchesSent,
		m.DispatchesFailed,
		m.SendLatency,
		m.StaleTasks,
		m.LocalTasks,
		m.LocalRetries,
	)
	return m
}

// WatchQueue exports the depth of each local queue tier as a gauge read at
// scrape time.
func (m *Metrics) WatchQueue(depths func() (fresh, retry int)) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "notification_queue_depth",
			Help:        "Delivery tasks waiting in the local queue.",
			ConstLabels: prometheus.Labels{"tier": "fresh"},
		}, func() float64 {
			fresh, _ := depths()
			return float64(fresh)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "notification_queue_depth",
			Help:        "Delivery tasks waiting in the local queue.",
			ConstLabels: prometheus.Labels{"tier": "retry"},
		}, func() float64 {
			_, retry := depths()
			return float64(retry)
		}),
	)
}

// OnSpawned counts a created dispatch. Pass it to service.Spawner.OnSpawned.
func (m *Metrics) OnSpawned(ch domain.Channel) {
	m.DispatchesSpawned.WithLabelValues(string(ch)).Inc()
}

// DeliveryHooks returns the callbacks expected by service.NewDeliverer.
func (m *Metrics) DeliveryHooks() service.DeliveryHooks {
	return service.DeliveryHooks{
		OnSent: func(ch domain.Channel, latency time.Duration) {
			m.DispatchesSent.WithLabelValues(string(ch)).Inc()
			m.SendLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
		},
		OnFailed: func(ch domain.Channel) {
			m.DispatchesFailed.WithLabelValues(string(ch)).Inc()
		},
		OnStale: m.StaleTasks.Inc,
	}
}

// ScanHooks returns the callbacks expected by worker.NewScanner.
func (m *Metrics) ScanHooks() worker.ScanHooks {
	return worker.ScanHooks{
		OnScan: func(_, _ int, elapsed time.Duration) {
			m.Scans.Inc()
			m.ScanDuration.Observe(elapsed.Seconds())
		},
		OnEnqueued:      m.TasksEnqueued.WithLabelValues("enqueued").Inc,
		OnEnqueueFailed: m.TasksEnqueued.WithLabelValues("failed").Inc,
	}
}

// WorkerHooks returns the callbacks expected by worker.NewPool.
func (m *Metrics) WorkerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnTask: func(outcome string, _ time.Duration) {
			m.LocalTasks.WithLabelValues(outcome).Inc()
		},
		OnRetry: m.LocalRetries.Inc,
	}
}
