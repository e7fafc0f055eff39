// Package metrics exposes the Prometheus collectors and scrape server
// for the fan-out layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_active_connections",
		Help: "Live WebSocket connections on this instance.",
	})

	AuthRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_auth_rejections_total",
		Help: "Connections closed with the authentication-required code.",
	})

	InboundFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_inbound_frames_total",
		Help: "Client frames received, by dispatched type.",
	}, []string{"type"})

	DeliveredEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_delivered_events_total",
		Help: "Events written to client sockets, by kind.",
	}, []string{"kind"})

	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_frames_total",
		Help: "Events dropped because a client send buffer was full.",
	})

	PublishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_published_events_total",
		Help: "Envelopes published to the group registry, by kind.",
	}, []string{"kind"})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_publish_failures_total",
		Help: "Registry publishes that failed after retries.",
	})
)

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
