// Package statusserver exposes the gateway's live session/topic counters as
// a JSON status endpoint and as Prometheus metrics (§4.10).
package statusserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqttsn/gateway/internal/logger"
	"github.com/mqttsn/gateway/internal/sngateway"
)

// GatewaySource is the narrow view of *sngateway.Gateway this package needs.
type GatewaySource interface {
	Stats() sngateway.Stats
}

// Server is a http server publishing /status and /metrics.
type Server struct {
	lg             logger.Logger
	config         *Config
	addr           string
	*http.ServeMux // embedded (provides Handle and HandleFunc)
	svr            *http.Server
	gw             GatewaySource
}

// New returns a new status server wired against gw's live stats.
func New(lg logger.Logger, config *Config, gw GatewaySource) *Server {
	if lg == nil {
		lg = logger.Null
	}

	mux := &http.ServeMux{}
	addr := config.addr()
	s := &Server{
		lg:       lg,
		config:   config,
		addr:     addr,
		ServeMux: mux,
		svr:      &http.Server{Addr: addr, Handler: mux},
		gw:       gw,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mqttsn_sessions_active",
			Help: "Number of live MQTT-SN client sessions.",
		}, func() float64 { return float64(gw.Stats().SessionsActive) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mqttsn_topic_mappings",
			Help: "Number of entries in the gateway-wide topic mapping table.",
		}, func() float64 { return float64(gw.Stats().TopicMappings) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mqttsn_sleeping_queue_depth",
			Help: "Total number of frames buffered across all sleeping sessions.",
		}, func() float64 { return float64(gw.Stats().SleepingQueueDepth) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "mqttsn_frames_decoded_total",
			Help: "Total number of MQTT-SN frames successfully decoded.",
		}, func() float64 { return float64(gw.Stats().FramesDecoded) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "mqttsn_frames_malformed_total",
			Help: "Total number of frames dropped for failing to decode.",
		}, func() float64 { return float64(gw.Stats().FramesMalformed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "mqttsn_retries_total",
			Help: "Total number of unicast retransmissions sent.",
		}, func() float64 { return float64(gw.Stats().RetriesTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "mqttsn_sessions_lost_total",
			Help: "Total number of sessions evicted for a keepalive timeout or exhausted retry budget.",
		}, func() float64 { return float64(gw.Stats().SessionsLostTotal) }),
	)

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", s.handleStatus)

	return s
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.gw.Stats()); err != nil {
		s.lg.Printf("status encode: %s", err)
	}
}

// Addr returns the server address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe starts the server listening for new connections.
func (s *Server) ListenAndServe() error {
	s.lg.Printf("connect to http server %s", s.addr)
	go func() {
		if err := s.svr.ListenAndServe(); err != http.ErrServerClosed {
			s.lg.Fatalf("http server ListenAndServe: %s", err)
		}
	}()
	return nil
}

// Close closes the http server.
func (s *Server) Close() error {
	s.lg.Println("shutdown http server...")
	if err := s.svr.Shutdown(context.Background()); err != nil {
		s.lg.Printf("http server Shutdown: %v", err)
	}
	s.lg.Printf("disconnected from http server %s", s.addr)
	return nil
}
