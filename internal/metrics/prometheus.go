package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus is the production Recorder, grounded on
// go-server-3/internal/metrics/metrics.go's Registry/promauto style.
type Prometheus struct {
	connectionsActive prometheus.Gauge
	invocationsFanned *prometheus.CounterVec
	localWrites       prometheus.Counter
	busPublished      *prometheus.CounterVec
	busPublishFailed  *prometheus.CounterVec
	handlerFailures   *prometheus.CounterVec
	acksCompleted     *prometheus.CounterVec
}

// NewPrometheus registers and returns the hub's Prometheus collectors.
func NewPrometheus() *Prometheus {
	return &Prometheus{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hub_connections_active",
			Help: "Connections currently registered on this server.",
		}),
		invocationsFanned: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_invocations_fanned_total",
			Help: "Invocations fanned out, by target method.",
		}, []string{"method"}),
		localWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hub_local_writes_total",
			Help: "Direct writes to locally hosted connections.",
		}),
		busPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_bus_published_total",
			Help: "Successful bus publishes, by topic kind.",
		}, []string{"kind"}),
		busPublishFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_bus_publish_failed_total",
			Help: "Failed bus publishes, by topic kind.",
		}, []string{"kind"}),
		handlerFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_handler_failures_total",
			Help: "Inbound bus messages that failed to decode or apply, by kind.",
		}, []string{"kind"}),
		acksCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_group_acks_completed_total",
			Help: "Cross-server group mutation acks, by outcome.",
		}, []string{"outcome"}),
	}
}

var _ Recorder = (*Prometheus)(nil)

func (p *Prometheus) ConnectionRegistered()   { p.connectionsActive.Inc() }
func (p *Prometheus) ConnectionUnregistered() { p.connectionsActive.Dec() }

func (p *Prometheus) InvocationFanned(method string, localWrites int) {
	p.invocationsFanned.WithLabelValues(method).Inc()
	p.localWrites.Add(float64(localWrites))
}

func (p *Prometheus) BusPublished(kind string)     { p.busPublished.WithLabelValues(kind).Inc() }
func (p *Prometheus) BusPublishFailed(kind string) { p.busPublishFailed.WithLabelValues(kind).Inc() }
func (p *Prometheus) HandlerFailed(kind string)     { p.handlerFailures.WithLabelValues(kind).Inc() }

func (p *Prometheus) AckCompleted(timedOut bool) {
	outcome := "acked"
	if timedOut {
		outcome = "timed_out"
	}
	p.acksCompleted.WithLabelValues(outcome).Inc()
}

// Handler returns the HTTP handler exposing these collectors.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.Handler()
}
