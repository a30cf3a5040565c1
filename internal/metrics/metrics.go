// Package metrics exposes Prometheus collectors for the live core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	sessions        prometheus.Gauge
	liveRooms       prometheus.Gauge
	framesTotal     *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	closesTotal     *prometheus.CounterVec
	broadcastDrops  prometheus.Counter
	chatMessages    prometheus.Counter
	donations       *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "live",
			Name:      "sessions",
			Help:      "Current authenticated websocket sessions",
		}),
		liveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "live",
			Name:      "rooms",
			Help:      "Current rooms held in memory",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "live",
			Name:      "frames_received_total",
			Help:      "Inbound frames by event type",
		}, []string{"type"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "live",
			Name:      "stream_errors_total",
			Help:      "stream_error replies by code",
		}, []string{"code"}),
		closesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "live",
			Name:      "session_closes_total",
			Help:      "Session closes by websocket close code",
		}, []string{"code"}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "live",
			Name:      "backpressure_disconnects_total",
			Help:      "Sessions disconnected because their send buffer was full",
		}),
		chatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "live",
			Name:      "chat_messages_total",
			Help:      "Chat messages persisted and broadcast",
		}),
		donations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "live",
			Name:      "donations_total",
			Help:      "Donations recorded by currency",
		}, []string{"currency"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "live",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "live",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	registry.MustRegister(
		m.sessions,
		m.liveRooms,
		m.framesTotal,
		m.errorsTotal,
		m.closesTotal,
		m.broadcastDrops,
		m.chatMessages,
		m.donations,
		m.requestsTotal,
		m.requestDuration,
	)
	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) AddSessions(delta float64) {
	if m == nil {
		return
	}
	m.sessions.Add(delta)
}

func (m *Metrics) AddRooms(delta float64) {
	if m == nil {
		return
	}
	m.liveRooms.Add(delta)
}

func (m *Metrics) IncFrame(typ string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(typ).Inc()
}

func (m *Metrics) IncError(code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) IncClose(code int) {
	if m == nil {
		return
	}
	m.closesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) IncBackpressure() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

func (m *Metrics) IncChatMessages() {
	if m == nil {
		return
	}
	m.chatMessages.Inc()
}

func (m *Metrics) IncDonation(currency string) {
	if m == nil {
		return
	}
	m.donations.WithLabelValues(currency).Inc()
}

// ObserveRequest records timing and status of one HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}
