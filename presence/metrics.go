package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports coordinator activity to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	visiblePeers     prometheus.Gauge
	state            prometheus.Gauge
	providerCalls    *prometheus.CounterVec
	ignoredCallbacks *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		visiblePeers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lanpresence",
			Name:      "visible_peers",
			Help:      "Number of peers currently visible on the local network.",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lanpresence",
			Name:      "announcement_state",
			Help:      "Current announcement state (0 unregistered, 1 registering, 2 registered, 3 waiting to unregister, 4 unregistering, 5 waiting to register).",
		}),
		providerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanpresence",
			Name:      "provider_calls_total",
			Help:      "Register and unregister requests issued to the discovery provider.",
		}, []string{"call", "outcome"}),
		ignoredCallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanpresence",
			Name:      "ignored_callbacks_total",
			Help:      "Provider callbacks that were discarded, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) setVisiblePeers(n int) {
	if m == nil {
		return
	}

	m.visiblePeers.Set(float64(n))
}

func (m *Metrics) setState(s AnnouncementState) {
	if m == nil {
		return
	}

	m.state.Set(float64(s))
}

func (m *Metrics) providerCall(call string, err error) {
	if m == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	m.providerCalls.WithLabelValues(call, outcome).Inc()
}

func (m *Metrics) ignoredCallback(reason string) {
	if m == nil {
		return
	}

	m.ignoredCallbacks.WithLabelValues(reason).Inc()
}
