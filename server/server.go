// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"stagetimer/service"
	"stagetimer/timer"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

// Templates.
var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

const maxBodyBytes = 64 << 10

// Timer is the timer service the handlers drive.
type Timer interface {
	Start(ctx context.Context, req timer.Request) bool
	Pause(ctx context.Context) bool
	Reset(ctx context.Context)
	Status(ctx context.Context) service.Status
	SetMessage(ctx context.Context, text string, seconds int)
	ClearMessage(ctx context.Context)
	History() []string
}

// Server handles HTTP requests.
type Server struct {
	timer       Timer
	logger      *slog.Logger
	allowlist   *Allowlist
	viewers     *viewers
	corsOrigins []string
	httpServer  *http.Server
}

// Config holds server configuration.
type Config struct {
	Addr          string // Listen address, e.g. ":8080"
	Timer         Timer
	Logger        *slog.Logger
	Clock         clockwork.Clock
	Allowlist     *Allowlist
	CORSOrigins   []string // Empty allows any origin
	ViewerTimeout time.Duration
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Server{
		timer:       cfg.Timer,
		logger:      cfg.Logger,
		allowlist:   cfg.Allowlist,
		viewers:     newViewers(clock, cfg.ViewerTimeout),
		corsOrigins: cfg.CORSOrigins,
	}
	// Configure server with timeouts to prevent resource exhaustion
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,  // Time to read request headers and body
		WriteTimeout:      30 * time.Second,  // Time to write response
		IdleTimeout:       120 * time.Second, // Time to keep connection alive between requests
		ReadHeaderTimeout: 5 * time.Second,   // Time to read request headers only
	}
	return s
}

// Handler returns the routed handler with request IDs and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleOverlay)
	mux.HandleFunc("GET /control", s.handleControl)
	mux.HandleFunc("GET /help", s.handleHelp)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/start", s.controlOnly(s.handleStart))
	mux.HandleFunc("POST /api/pause", s.controlOnly(s.handlePause))
	mux.HandleFunc("POST /api/reset", s.controlOnly(s.handleReset))
	mux.HandleFunc("POST /api/message", s.controlOnly(s.handleMessage))
	mux.HandleFunc("POST /api/message/clear", s.controlOnly(s.handleMessageClear))
	mux.HandleFunc("GET /api/message/history", s.controlOnly(s.handleMessageHistory))
	mux.HandleFunc("GET /api/allowlist", s.controlOnly(s.handleAllowlist))
	mux.HandleFunc("GET /api/clients", s.controlOnly(s.handleClients))

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})

	return s.withRequestID(c.Handler(mux))
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Starting HTTP server", "addr", s.httpServer.Addr, "allowlist_entries", s.allowlist.Len())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.requestLogger(r), http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, logger *slog.Logger) {
	writeJSON(w, logger, http.StatusOK, map[string]bool{"success": true})
}
