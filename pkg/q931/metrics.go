package q931

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics метрики движка Q.931
type Metrics struct {
	callsActive      prometheus.Gauge
	callsTotal       *prometheus.CounterVec
	messages         *prometheus.CounterVec
	timerExpirations *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	restarts         *prometheus.CounterVec
	dlcsActive       prometheus.Gauge
	decodeErrors     *prometheus.CounterVec
	primitives       *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg. При reg == nil используется
// собственный реестр, чтобы несколько движков не конфликтовали.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "q931",
			Name:      "calls_active",
			Help:      "Number of call entities currently allocated",
		}),
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "q931",
			Name:      "calls_total",
			Help:      "Total number of calls by direction",
		}, []string{"direction"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "q931",
			Name:      "messages_total",
			Help:      "Q.931 messages sent and received",
		}, []string{"direction", "type"}),
		timerExpirations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "q931",
			Name:      "timer_expirations_total",
			Help:      "Protocol timer expirations",
		}, []string{"timer"}),
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "q931",
			Name:      "state_transitions_total",
			Help:      "Call state transitions by target state",
		}, []string{"role", "state"}),
		restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "q931",
			Name:      "restarts_total",
			Help:      "Restart procedures by origin and result",
		}, []string{"origin", "result"}),
		dlcsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "q931",
			Name:      "dlcs_active",
			Help:      "Number of data link connections allocated",
		}),
		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "q931",
			Name:      "decode_errors_total",
			Help:      "Frames and information elements that failed to decode",
		}, []string{"kind"}),
		primitives: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "q931",
			Name:      "primitives_total",
			Help:      "Primitives delivered to the application",
		}, []string{"kind"}),
	}
}
