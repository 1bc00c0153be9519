package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	ops             *prometheus.CounterVec
	taxSunk         *prometheus.CounterVec
	persistFailures prometheus.Counter
	saveLatency     prometheus.Histogram
	loadedAccounts  prometheus.Gauge
	pendingRequests prometheus.Gauge
	dailyResets     prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by kind and result code.",
		}, []string{"op", "code"}),
		taxSunk: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "tax_sunk_total",
			Help:      "Transfer and conversion tax removed from circulation.",
		}, []string{"currency"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "persist_failures_total",
			Help:      "Account saves that returned an error.",
		}),
		saveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "save_duration_seconds",
			Help:      "Time spent writing one account to the backend.",
			Buckets:   prometheus.DefBuckets,
		}),
		loadedAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "loaded_accounts",
			Help:      "Accounts currently held in the cache.",
		}),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "pending_requests",
			Help:      "Payment requests awaiting an answer.",
		}),
		dailyResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "daily_resets_total",
			Help:      "Wallets whose daily counters were reset.",
		}),
	}
	m.registry.MustRegister(m.ops, m.taxSunk, m.persistFailures, m.saveLatency,
		m.loadedAccounts, m.pendingRequests, m.dailyResets)
	return m
}

func (m *Metrics) ObserveOp(op, code string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, code).Inc()
}

func (m *Metrics) AddTax(currency string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.taxSunk.WithLabelValues(currency).Add(amount)
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) ObserveSave(d time.Duration) {
	if m == nil {
		return
	}
	m.saveLatency.Observe(d.Seconds())
}

func (m *Metrics) SetLoaded(n int) {
	if m == nil {
		return
	}
	m.loadedAccounts.Set(float64(n))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(n))
}

func (m *Metrics) AddResets(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dailyResets.Add(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
