// Package metrics exposes the monitor's fleet state as Prometheus metrics,
// grounded on the same github.com/prometheus/client_golang usage a sibling
// supervisor in this ecosystem uses to report restarts and crashes. This is
// opt-in observability layered on top of supervision, not a control
// surface: the monitor functions identically with the HTTP listener never
// started.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the monitor reports. A nil *Registry is safe
// to call methods on (they become no-ops), so callers that didn't enable
// metrics don't need to branch at every call site.
type Registry struct {
	restarts *prometheus.CounterVec
	reloads  *prometheus.CounterVec
	childUp  *prometheus.GaugeVec
	uptime   prometheus.Gauge

	reg   *prometheus.Registry
	start time.Time
}

// New constructs and registers the monitor's metric set against a private
// prometheus.Registry (never the global default registry, so multiple
// monitors in one test binary don't collide).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fdbmon_restart_total",
			Help: "Total number of times the monitor launched a child.",
		}, []string{"reason"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fdbmon_reload_total",
			Help: "Total number of configuration reload attempts.",
		}, []string{"result"}),
		childUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdbmon_child_up",
			Help: "1 if the instance has a live child, 0 otherwise.",
		}, []string{"section"}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fdbmon_uptime_seconds",
			Help: "Seconds since the monitor started.",
		}),
		reg:   reg,
		start: time.Now(),
	}

	reg.MustRegister(r.restarts, r.reloads, r.childUp, r.uptime)
	return r
}

// Restart records a child launch attributed to reason (initial, reload,
// crash).
func (r *Registry) Restart(reason string) {
	if r == nil {
		return
	}
	r.restarts.WithLabelValues(reason).Inc()
}

// Reload records a reconciliation pass's outcome (ok, parse_error).
func (r *Registry) Reload(result string) {
	if r == nil {
		return
	}
	r.reloads.WithLabelValues(result).Inc()
}

// SetChildUp records whether section currently has a live pid.
func (r *Registry) SetChildUp(section string, up bool) {
	if r == nil {
		return
	}
	v := 0.0
	if up {
		v = 1.0
	}
	r.childUp.WithLabelValues(section).Set(v)
}

// Tick refreshes the uptime gauge; the event loop calls this once per
// iteration.
func (r *Registry) Tick() {
	if r == nil {
		return
	}
	r.uptime.Set(time.Since(r.start).Seconds())
}

// Serve starts an HTTP server exposing the registry at /metrics and blocks
// until ctx is canceled, at which point it shuts the server down.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
