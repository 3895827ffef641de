// Package apihttp exposes the indexing, search and broadcast operations over
// HTTP, plus a websocket feed of broadcast progress.
package apihttp

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mediaindex/internal/core"
)

type Server struct {
	service        *core.Service
	allowedOrigins []string
	rps            float64
	burst          int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRequestLimit overrides the global HTTP token bucket.
func WithRequestLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rps = rps
		s.burst = burst
	}
}

func NewServer(service *core.Service, opts ...ServerOption) *Server {
	s := &Server{
		service: service,
		rps:     100,
		burst:   200,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/files", s.handleFiles)
	mux.HandleFunc("/files/", s.handleFileByFingerprint)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/channels/", s.handleChannelByID)
	mux.HandleFunc("/recipients", s.handleRecipients)
	mux.HandleFunc("/broadcasts", s.handleBroadcasts)
	mux.HandleFunc("/broadcasts/", s.handleBroadcastByID)
	mux.HandleFunc("/internal/health", s.handleHealth)
	mux.HandleFunc("/internal/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "mediaindex",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && !strings.HasPrefix(p, "/internal/")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rps, s.burst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

// Notifier returns the websocket hub as a broadcast progress sink.
func (s *Server) Notifier() *wsHub {
	return s.wsHub
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects every websocket client.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
