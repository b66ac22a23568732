// Package api serves the operational HTTP endpoints: health, version,
// Prometheus metrics and a read-only view of upcoming appointments.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/tralfaz/internal/appointments"
	"github.com/nugget/tralfaz/internal/buildinfo"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// AppointmentLister lists upcoming appointments.
type AppointmentLister interface {
	ListUpcoming(ctx context.Context, owner string, now time.Time) ([]*appointments.Appointment, error)
}

// Server is the operational HTTP server.
type Server struct {
	address  string
	port     int
	gatherer prometheus.Gatherer
	appts    AppointmentLister
	owner    string
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a server. appts may be nil to omit the
// appointments endpoint.
func NewServer(address string, port int, gatherer prometheus.Gatherer, appts AppointmentLister, owner string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		address:  address,
		port:     port,
		gatherer: gatherer,
		appts:    appts,
		owner:    owner,
		logger:   logger.With("component", "api"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.appts != nil {
		mux.HandleFunc("GET /v1/appointments", s.handleAppointments)
	}
	return s.withLogging(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.address, fmt.Sprint(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		addr := s.address
		if addr == "" {
			addr = "0.0.0.0"
		}
		s.logger.Info("starting API server", "address", addr, "port", s.port)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"status": "healthy",
		"uptime": buildinfo.Uptime().Truncate(time.Second).String(),
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

type appointmentView struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	When     time.Time `json:"when"`
	Reminder int       `json:"reminder_minutes"`
	Reminded bool      `json:"reminded"`
	Calendar bool      `json:"calendar_synced"`
}

func (s *Server) handleAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := s.appts.ListUpcoming(r.Context(), s.owner, time.Now())
	if err != nil {
		s.logger.Error("list appointments failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]string{"error": "failed to list appointments"}, s.logger)
		return
	}
	views := make([]appointmentView, 0, len(appts))
	for _, a := range appts {
		views = append(views, appointmentView{
			ID:       a.ID,
			Title:    a.Title,
			When:     a.When,
			Reminder: a.LeadMinutes(),
			Reminded: a.Reminded,
			Calendar: a.ExternalRef != "",
		})
	}
	writeJSON(w, map[string]any{"appointments": views}, s.logger)
}
