// Package metrics exposes Prometheus instruments for the workflow engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	MergeEntriesTotal   *prometheus.CounterVec
	MergeConflictsTotal prometheus.Counter
	ReviewsCreatedTotal *prometheus.CounterVec
	ReviewDecisions     *prometheus.CounterVec

	NotificationsTotal  *prometheus.CounterVec
	ArchiveCommitsTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskreview_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskreview_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		MergeEntriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskreview_merge_entries_total",
			Help: "Nodes sorted by the three-way merge, by category.",
		}, []string{"category"}),
		MergeConflictsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskreview_merge_conflicts_total",
			Help: "Saves, submissions and approvals intercepted because the base was outdated.",
		}),
		ReviewsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskreview_reviews_created_total",
			Help: "Reviews created on submission, by reviewer type.",
		}, []string{"reviewer_type"}),
		ReviewDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskreview_review_decisions_total",
			Help: "Review decisions by outcome.",
		}, []string{"decision"}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskreview_notifications_total",
			Help: "Notification deliveries by sink and outcome.",
		}, []string{"sink", "outcome"}),
		ArchiveCommitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskreview_archive_commits_total",
			Help: "Version archive commits by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) MergeEntries(category string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.MergeEntriesTotal.WithLabelValues(category).Add(float64(count))
}

func (m *Metrics) MergeConflict() {
	if m == nil {
		return
	}
	m.MergeConflictsTotal.Inc()
}

func (m *Metrics) ReviewCreated(reviewerType string) {
	if m == nil {
		return
	}
	m.ReviewsCreatedTotal.WithLabelValues(reviewerType).Inc()
}

func (m *Metrics) ReviewDecision(decision string) {
	if m == nil {
		return
	}
	m.ReviewDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) Notification(sink string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(sink, outcome(err)).Inc()
}

func (m *Metrics) ArchiveCommit(err error) {
	if m == nil {
		return
	}
	m.ArchiveCommitsTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
