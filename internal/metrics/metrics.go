// Package metrics exposes the Prometheus instruments used across the server.
// Every method is safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Push outcomes.
const (
	PushDelivered = "delivered"
	PushOffline   = "offline"
	PushDropped   = "dropped"
)

// Metrics groups the server's collectors.
type Metrics struct {
	onlineUsers          prometheus.Gauge
	pushes               *prometheus.CounterVec
	notificationsCreated *prometheus.CounterVec
	eventsPublished      *prometheus.CounterVec
	eventsFailed         *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	jobSuccess           *prometheus.CounterVec
	jobFailure           *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg yields a no-op Metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "donor_presence_online_users",
			Help: "Users currently holding a realtime connection on this instance.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_notification_push_total",
			Help: "Realtime push attempts by outcome.",
		}, []string{"outcome"}),
		notificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_notifications_created_total",
			Help: "Notifications persisted by type.",
		}, []string{"type"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_request_events_published_total",
			Help: "Request lifecycle events handed to the event bus.",
		}, []string{"kind"}),
		eventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_request_events_failed_total",
			Help: "Request lifecycle events that exhausted their handling attempts.",
		}, []string{"kind"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "donor_job_duration_seconds",
			Help:    "Duration of scheduled jobs in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		jobSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_job_success_total",
			Help: "Successful scheduled job executions.",
		}, []string{"job"}),
		jobFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donor_job_failure_total",
			Help: "Failed scheduled job executions.",
		}, []string{"job"}),
	}
	reg.MustRegister(
		m.onlineUsers, m.pushes, m.notificationsCreated,
		m.eventsPublished, m.eventsFailed,
		m.jobDuration, m.jobSuccess, m.jobFailure,
	)
	return m
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}

func (m *Metrics) IncPush(outcome string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncNotificationCreated(notificationType string) {
	if m == nil {
		return
	}
	m.notificationsCreated.WithLabelValues(normalizeLabel(notificationType)).Inc()
}

func (m *Metrics) IncEventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncEventFailed(kind string) {
	if m == nil {
		return
	}
	m.eventsFailed.WithLabelValues(normalizeLabel(kind)).Inc()
}

// ObserveJob records one run of the named job.
func (m *Metrics) ObserveJob(job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	job = normalizeLabel(job)
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.jobFailure.WithLabelValues(job).Inc()
		return
	}
	m.jobSuccess.WithLabelValues(job).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
