// Package metrics exposes server counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "respkv"

// Registry holds the server metrics on a private prometheus registry so
// that tests can build as many as they like.
type Registry struct {
	registry *prometheus.Registry

	CommandsTotal     *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ProtocolErrors    prometheus.Counter
	RateLimited       prometheus.Counter
	ExpiredKeys       *prometheus.CounterVec
	SnapshotKeys      prometheus.Gauge
}

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by command name",
		}, []string{"command"}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Currently open client connections",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Client connections accepted",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections closed because of a malformed request",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Commands rejected by the per-connection rate limit",
		}),
		ExpiredKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keyspace",
			Name:      "expired_keys_total",
			Help:      "Expired keys removed, by the operation that noticed them",
		}, []string{"trigger"}),
		SnapshotKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "keys_loaded",
			Help:      "Keys restored from the snapshot at startup",
		}),
	}
	r.registry.MustRegister(
		r.CommandsTotal,
		r.ConnectionsActive,
		r.ConnectionsTotal,
		r.ProtocolErrors,
		r.RateLimited,
		r.ExpiredKeys,
		r.SnapshotKeys,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RegisterKeyspace exposes the current number of keys, read at scrape time.
func (r *Registry) RegisterKeyspace(size func() int) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "keyspace",
		Name:      "keys",
		Help:      "Keys currently held, including expired keys not yet removed",
	}, func() float64 {
		return float64(size())
	}))
}

// ObserveExpired matches database.ExpireFunc.
func (r *Registry) ObserveExpired(trigger string, n int) {
	r.ExpiredKeys.WithLabelValues(trigger).Add(float64(n))
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
