// Package admin serves the operator endpoints of the message log daemon:
// Prometheus metrics, timestamping diagnostics and out-of-band
// timestamping of a single record.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/logging"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/logmanager"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
	"github.com/dmitrijs2005/messagelog/internal/server/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 15 * time.Second

// LogManager is the part of logmanager.Manager the admin endpoint uses.
type LogManager interface {
	Status() *logmanager.Status
	Timestamp(ctx context.Context, id int64) (*models.TimestampRecord, error)
}

type Server struct {
	address   string
	manager   LogManager
	logger    logging.Logger
	jwtSecret []byte
}

// NewServer builds the admin server. An empty secretKey leaves the
// diagnostics routes open and does not mount the timestamping route.
func NewServer(address string, l logging.Logger, m LogManager, secretKey string) *Server {
	return &Server{
		address:   address,
		manager:   m,
		logger:    l.With("module", "admin_server"),
		jwtSecret: []byte(secretKey),
	}
}

// Handler returns the router with all admin routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Handle("/metrics", promhttp.Handler())

	if len(s.jwtSecret) == 0 {
		r.Get("/diagnostics/timestamping", s.timestampingStatus)
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.jwtSecret, s.logger))
		r.Get("/diagnostics/timestamping", s.timestampingStatus)
		// calls the TSA, so never mounted without authentication
		r.Post("/records/{id}/timestamp", s.timestampRecord)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) timestampingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Status())
}

type timestampResponse struct {
	ID              int64     `json:"id"`
	Time            time.Time `json:"time"`
	Token           []byte    `json:"token"`
	HashChainResult []byte    `json:"hash_chain_result,omitempty"`
}

func (s *Server) timestampRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid record id", http.StatusBadRequest)
		return
	}

	rec, err := s.manager.Timestamp(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrorNotFound):
		http.Error(w, "record not found", http.StatusNotFound)
		return
	default:
		s.logger.Warn(r.Context(), "out-of-band timestamping failed", "id", id, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, timestampResponse{
		ID:              rec.ID,
		Time:            rec.CreatedAt().UTC(),
		Token:           rec.Timestamp,
		HashChainResult: rec.HashChainResult,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping admin server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting admin server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
