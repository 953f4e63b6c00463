package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tripline/internal/config"
	"tripline/internal/domain"
	"tripline/internal/metrics"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the booking engine over HTTP: booking lifecycle,
// manual sync triggers, exports, and the payment webhook.
type HTTPServer struct {
	cfg      config.APIConfig
	handlers *Handlers
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, handlers *Handlers, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, handlers: handlers, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/bookings/export", handlers.handleExport)
	mux.HandleFunc("/api/v1/bookings/", handlers.handleBooking)
	mux.HandleFunc("/api/v1/bookings", handlers.handleBookings)
	mux.HandleFunc("/api/v1/sync/status", handlers.handleSyncStatus)
	mux.HandleFunc("/api/v1/sync", handlers.handleSync)
	mux.HandleFunc("/webhooks/payment", handlers.handlePaymentWebhook)
	mux.HandleFunc("/healthz", handlers.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(routeLabel(r.URL.Path))
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// routeLabel collapses per-booking paths so metric cardinality stays flat.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/api/v1/bookings/") && path != "/api/v1/bookings/export" {
		suffix := strings.TrimPrefix(path, "/api/v1/bookings/")
		if strings.HasSuffix(suffix, "/confirm") {
			return "/api/v1/bookings/{key}/confirm"
		}
		if strings.HasSuffix(suffix, "/cancel") {
			return "/api/v1/bookings/{key}/cancel"
		}
		return "/api/v1/bookings/{key}"
	}
	return path
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// syncStatusResponse is the payload for GET /api/v1/sync/status.
type syncStatusResponse struct {
	Online       bool      `json:"online"`
	Stale        bool      `json:"stale"`
	QueueDepth   int       `json:"queue_depth"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	LastSynced   int       `json:"last_synced"`
	LastFailed   int       `json:"last_failed"`
}

// confirmResponse carries the checkout redirect when payment was initiated.
type confirmResponse struct {
	Booking any                    `json:"booking"`
	Payment *domain.PaymentSession `json:"payment,omitempty"`
}
