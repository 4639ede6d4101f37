// Package metrics exposes prometheus counters for ledger activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

type Metrics struct {
	ledgerOps     *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	rateLimit     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_ledger_operations_total",
			Help: "Ledger operations by operation and result.",
		}, []string{"operation", "result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_webhook_events_total",
			Help: "Provider webhook events by type and outcome.",
		}, []string{"event_type", "outcome"}),
		rateLimit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_rate_limit_decisions_total",
			Help: "Rate limit decisions by operation and decision.",
		}, []string{"operation", "decision"}),
	}
	reg.MustRegister(m.ledgerOps, m.webhookEvents, m.rateLimit)
	return m
}

func (m *Metrics) RecordLedgerOp(operation, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordRateLimit(operation, decision string) {
	if m == nil {
		return
	}
	m.rateLimit.WithLabelValues(operation, decision).Inc()
}

var Module = fx.Module("metrics",
	fx.Provide(func() *prometheus.Registry {
		reg := prometheus.NewRegistry()
		return reg
	}),
	fx.Provide(func(reg *prometheus.Registry) prometheus.Registerer { return reg }),
	fx.Provide(New),
)
