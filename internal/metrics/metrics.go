package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	TGIncomingUpdates *prometheus.CounterVec
	TGOutgoingCalls   *prometheus.CounterVec
	FSMTransitions    *prometheus.CounterVec
	AdviceRequests    *prometheus.CounterVec
	AdviceLatency     *prometheus.HistogramVec
	PaymentEvents     *prometheus.CounterVec
	LedgerOps         *prometheus.CounterVec
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			TGIncomingUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_incoming_updates_total",
				Help:      "Total incoming Telegram updates processed.",
			}, []string{"type"}),
			TGOutgoingCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_outgoing_calls_total",
				Help:      "Total outgoing Telegram API calls by method and outcome.",
			}, []string{"method", "status"}),
			FSMTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fsm_transitions_total",
				Help:      "Total conversation state transitions by target state.",
			}, []string{"to"}),
			AdviceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "advice_requests_total",
				Help:      "Total YandexGPT advice requests by outcome.",
			}, []string{"status"}),
			AdviceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "advice_request_duration_seconds",
				Help:      "Latency distribution for YandexGPT completion calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			PaymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_events_total",
				Help:      "Total payment flow events by kind.",
			}, []string{"kind"}),
			LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Total credit ledger operations by kind and outcome.",
			}, []string{"op", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.TGIncomingUpdates,
			metricsInstance.TGOutgoingCalls,
			metricsInstance.FSMTransitions,
			metricsInstance.AdviceRequests,
			metricsInstance.AdviceLatency,
			metricsInstance.PaymentEvents,
			metricsInstance.LedgerOps,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
