// Package metrics экспортирует метрики движка подписок в Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmeshcher/subscription-engine/internal/model"
)

const namespace = "subsengine"

// Metrics собирает счётчики и гистограммы движка. Нулевой указатель допустим и ничего не учитывает.
type Metrics struct {
	transfers     *prometheus.CounterVec
	points        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	renewals      *prometheus.CounterVec
	renewalRuns   prometheus.Histogram
	notifications *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// MustNewMetrics создаёт метрики и регистрирует их в reg. Повторная регистрация приводит к панике.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Committed point movements by ledger kind.",
		}, []string{"kind"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_moved_total",
			Help:      "Points credited to wallets by ledger kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Rejected or failed engine operations by error kind.",
		}, []string{"operation", "error_kind"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renewals_total",
			Help:      "Subscriptions processed by the renewal scheduler by outcome.",
		}, []string{"outcome"}),
		renewalRuns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "renewal_run_duration_seconds",
			Help:      "Duration of one renewal scheduler pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification batches by delivery result.",
		}, []string{"result"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.transfers,
		m.points,
		m.failures,
		m.renewals,
		m.renewalRuns,
		m.notifications,
		m.httpDurations,
	)
	return m
}

// ObserveTransfer учитывает зачисление amount баллов по операции kind.
func (m *Metrics) ObserveTransfer(kind model.LedgerKind, amount int64) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(string(kind)).Inc()
	m.points.WithLabelValues(string(kind)).Add(float64(amount))
}

// ObserveFailure учитывает отказ операции.
func (m *Metrics) ObserveFailure(operation, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(operation, kind).Inc()
}

// ObserveRenewal учитывает результат обработки одной подписки планировщиком.
func (m *Metrics) ObserveRenewal(outcome string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRenewalRun(d time.Duration) {
	if m == nil {
		return
	}
	m.renewalRuns.Observe(d.Seconds())
}

func (m *Metrics) ObserveNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// ObserveHTTP учитывает длительность обработки HTTP-запроса. В route передаётся шаблон маршрута, а не фактический путь.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDurations.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
