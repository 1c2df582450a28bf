package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metric descriptors for the chat engine. It
// implements platform.Recorder.
type Metrics struct {
	registry  *prometheus.Registry
	startTime time.Time

	messagesRouted *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	autoLeaves     *prometheus.CounterVec
	dispatchErrors prometheus.Counter
	configReloads  *prometheus.CounterVec
	playersOnline  prometheus.Gauge
	channelsLoaded prometheus.Gauge
	uptimeSeconds  prometheus.Gauge
	goroutines     prometheus.Gauge
}

// NewMetrics creates the engine metrics on a private registry, so several
// engines can live in one process.
func NewMetrics(startTime time.Time) *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: startTime,
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushchat_messages_routed_total",
			Help: "Messages dispatched, by target kind.",
		}, []string{"target"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushchat_deliveries_total",
			Help: "Per-recipient delivery decisions, by mode.",
		}, []string{"mode"}),
		autoLeaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushchat_auto_leaves_total",
			Help: "Players removed from a channel after losing permission.",
		}, []string{"channel"}),
		dispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mushchat_dispatch_errors_total",
			Help: "Chat dispatches that failed unexpectedly.",
		}),
		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushchat_config_reloads_total",
			Help: "Channel configuration reloads, by result.",
		}, []string{"result"}),
		playersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushchat_players_online",
			Help: "Players with a live membership record.",
		}),
		channelsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushchat_channels_loaded",
			Help: "Channels in the active registry.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushchat_uptime_seconds",
			Help: "Engine uptime in seconds.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushchat_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.messagesRouted,
		m.deliveries,
		m.autoLeaves,
		m.dispatchErrors,
		m.configReloads,
		m.playersOnline,
		m.channelsLoaded,
		m.uptimeSeconds,
		m.goroutines,
	)

	return m
}

func (m *Metrics) MessageRouted(target string) { m.messagesRouted.WithLabelValues(target).Inc() }
func (m *Metrics) Delivered(mode string)       { m.deliveries.WithLabelValues(mode).Inc() }
func (m *Metrics) AutoLeft(channel string)     { m.autoLeaves.WithLabelValues(channel).Inc() }
func (m *Metrics) DispatchError()              { m.dispatchErrors.Inc() }

// ConfigReloaded counts a reload attempt: "ok", "partial" when some
// definitions were rejected, or "error" when nothing was applied.
func (m *Metrics) ConfigReloaded(result string) { m.configReloads.WithLabelValues(result).Inc() }

// SetOnline records the online player count.
func (m *Metrics) SetOnline(n int) { m.playersOnline.Set(float64(n)) }

// SetChannels records the loaded channel count.
func (m *Metrics) SetChannels(n int) { m.channelsLoaded.Set(float64(n)) }

// Update refreshes the process gauges.
func (m *Metrics) Update() {
	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}
