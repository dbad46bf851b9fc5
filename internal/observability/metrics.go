package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus counters for the billing core.
type Metrics struct {
	ledgerOperations *prometheus.CounterVec
	planApplications *prometheus.CounterVec
	renewals         *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		ledgerOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unitledger",
			Name:      "ledger_operations_total",
			Help:      "Balance ledger operations by type and outcome.",
		}, []string{"operation", "outcome"}),
		planApplications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unitledger",
			Name:      "plan_applications_total",
			Help:      "Plan applications by plan code and outcome.",
		}, []string{"plan_code", "outcome"}),
		renewals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unitledger",
			Name:      "subscription_renewals_total",
			Help:      "Automatic subscription renewals by outcome.",
		}, []string{"outcome"}),
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unitledger",
			Name:      "http_requests_total",
			Help:      "Inbound HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "unitledger",
			Name:      "http_request_duration_seconds",
			Help:      "Inbound HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) RecordLedgerOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordPlanApplication(planCode, outcome string) {
	if m == nil {
		return
	}
	m.planApplications.WithLabelValues(planCode, outcome).Inc()
}

func (m *Metrics) RecordRenewal(outcome string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(outcome).Inc()
}
