package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	configReloads    *prom.CounterVec
	watcherRestarts  prom.Counter
	watcherHealth    prom.Gauge
	backendConnects  *prom.CounterVec
	colorPushes      *prom.CounterVec
	backendConnected prom.Gauge
	reconnectBackoff prom.Histogram
}

// NewPrometheusRecorder constructs the metric instruments and registers them
// with reg (a nil reg gets a private registry). Call it at most once per
// registry; a second registration panics in MustRegister.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		configReloads: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "indicatord",
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts by result",
		}, []string{"result"}),
		watcherRestarts: prom.NewCounter(prom.CounterOpts{
			Namespace: "indicatord",
			Name:      "config_watcher_restarts_total",
			Help:      "Config watch loop restarts performed by the supervisor",
		}),
		watcherHealth: prom.NewGauge(prom.GaugeOpts{
			Namespace: "indicatord",
			Name:      "config_watcher_health",
			Help:      "Config watcher health (0 healthy, 1 restarting, 2 failed)",
		}),
		backendConnects: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "indicatord",
			Name:      "backend_connects_total",
			Help:      "Presentation backend connection attempts by result",
		}, []string{"result"}),
		colorPushes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "indicatord",
			Name:      "color_pushes_total",
			Help:      "Color updates pushed to the presentation backend by result",
		}, []string{"result"}),
		backendConnected: prom.NewGauge(prom.GaugeOpts{
			Namespace: "indicatord",
			Name:      "backend_connected",
			Help:      "Whether a presentation backend is currently connected",
		}),
		reconnectBackoff: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "indicatord",
			Name:      "backend_reconnect_backoff_seconds",
			Help:      "Backoff durations applied between backend reconnection attempts",
			Buckets:   []float64{1, 2, 4, 8, 16, 30},
		}),
	}
	reg.MustRegister(pr.configReloads, pr.watcherRestarts, pr.watcherHealth,
		pr.backendConnects, pr.colorPushes, pr.backendConnected, pr.reconnectBackoff)
	return pr
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

func (p *PrometheusRecorder) IncConfigReload(success bool) {
	if p == nil || p.configReloads == nil {
		return
	}
	p.configReloads.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncWatcherRestart() {
	if p == nil || p.watcherRestarts == nil {
		return
	}
	p.watcherRestarts.Inc()
}

func (p *PrometheusRecorder) SetWatcherHealth(h HealthLabel) {
	if p == nil || p.watcherHealth == nil {
		return
	}
	var v float64
	switch h {
	case HealthRestarting:
		v = 1
	case HealthFailed:
		v = 2
	}
	p.watcherHealth.Set(v)
}

func (p *PrometheusRecorder) IncBackendConnect(success bool) {
	if p == nil || p.backendConnects == nil {
		return
	}
	p.backendConnects.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncColorPush(success bool) {
	if p == nil || p.colorPushes == nil {
		return
	}
	p.colorPushes.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) SetBackendConnected(connected bool) {
	if p == nil || p.backendConnected == nil {
		return
	}
	if connected {
		p.backendConnected.Set(1)
	} else {
		p.backendConnected.Set(0)
	}
}

func (p *PrometheusRecorder) ObserveReconnectBackoff(d time.Duration) {
	if p == nil || p.reconnectBackoff == nil {
		return
	}
	p.reconnectBackoff.Observe(d.Seconds())
}
