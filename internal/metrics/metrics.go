package metrics

import (
	"net/http"

	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relayctl"

type EngineMetrics struct {
	readingsAccepted prometheus.Counter
	readingsRejected *prometheus.CounterVec
	relayCommands    *prometheus.CounterVec
	resets           *prometheus.CounterVec
}

var _ port.EngineMetrics = (*EngineMetrics)(nil)

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		readingsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_accepted_total",
			Help:      "Consumption readings applied to a meter.",
		}),
		readingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Consumption readings rejected by the ingest pipeline.",
		}, []string{"reason"}),
		relayCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_commands_total",
			Help:      "Relay commands dispatched by directive and result.",
		}, []string{"directive", "result"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumption_resets_total",
			Help:      "Consumption resets by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.readingsAccepted, m.readingsRejected, m.relayCommands, m.resets)
	return m
}

func (m *EngineMetrics) ReadingAccepted() {
	m.readingsAccepted.Inc()
}

func (m *EngineMetrics) ReadingRejected(reason domain.RejectReason) {
	m.readingsRejected.WithLabelValues(string(reason)).Inc()
}

func (m *EngineMetrics) CommandDispatched(directive domain.Directive, success bool) {
	m.relayCommands.WithLabelValues(string(directive), result(success)).Inc()
}

func (m *EngineMetrics) ConsumptionReset(success bool) {
	m.resets.WithLabelValues(result(success)).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func result(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}
