package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/geo"
	"github.com/couchcryptid/geoposition-service/internal/geocode"
)

const (
	requestTimeout = 25 * time.Second
	maxBodyBytes   = 64 << 10
)

// Checks is ready when every member is.
type Checks []sharedobs.ReadinessChecker

func (c Checks) CheckReadiness(ctx context.Context) error {
	for _, check := range c {
		if err := check.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Service is the geolocation surface the API exposes.
type Service interface {
	Locate(ctx context.Context, opts *domain.PositionOptions) (*domain.Position, error)
	LookupIP(ctx context.Context) (string, error)
	Resolve(ctx context.Context, pos *domain.Position, opts ...geocode.Option) (geo.Resolution, error)
}

// Server exposes health, readiness, metrics and the geolocation API.
type Server struct {
	httpServer *http.Server
	svc        Service
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /v1 routes.
func NewServer(addr string, svc Service, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: requestTimeout + 5*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		svc:    svc,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/position", s.handlePosition)
	mux.HandleFunc("GET /v1/ip", s.handleIP)
	mux.HandleFunc("POST /v1/geocode", s.handleGeocode)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handlePosition accepts optional timeout (a Go duration) and
// high_accuracy=true query parameters.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	opts := &domain.PositionOptions{EnableHighAccuracy: r.URL.Query().Get("high_accuracy") == "true"}
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout", nil)
			return
		}
		opts.Timeout = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	pos, err := s.svc.Locate(ctx, opts)
	if err != nil {
		s.logger.Warn("locate failed", "error", err)
		writeError(w, locationStatus(err), err.Error(), err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, pos)
}

func (s *Server) handleIP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ip, err := s.svc.LookupIP(ctx)
	if err != nil {
		s.logger.Warn("ip lookup failed", "error", err)
		writeError(w, locationStatus(err), err.Error(), err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]string{"ip": ip})
}

type geocodeResponse struct {
	Position *domain.Position  `json:"position"`
	Role     domain.GeocodeRole `json:"role"`
	Result   any                `json:"result"`
}

// handleGeocode geocodes the posted position payload once. The provider
// query parameter prefers a registered provider by name.
func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	var payload domain.Payload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid position payload: "+err.Error(), nil)
		return
	}
	pos := domain.NewPosition(payload)

	var opts []geocode.Option
	if name := r.URL.Query().Get("provider"); name != "" {
		opts = append(opts, geocode.WithProvider(name))
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := s.svc.Resolve(ctx, pos, opts...)
	switch {
	case errors.Is(err, geo.ErrNothingToResolve):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, domain.ErrNoProvider):
		writeError(w, http.StatusServiceUnavailable, err.Error(), err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error(), nil)
	case err != nil:
		s.logger.Warn("geocode failed", "role", res.Role, "error", err)
		writeError(w, http.StatusBadGateway, err.Error(), err)
	case res.Data == nil:
		sharedobs.WriteJSON(w, http.StatusNotFound, geocodeResponse{Position: pos, Role: res.Role})
	default:
		sharedobs.WriteJSON(w, http.StatusOK, geocodeResponse{Position: pos, Role: res.Role, Result: res.Data})
	}
}

// locationStatus maps a location failure to 504 on timeout and 502 otherwise.
func locationStatus(err error) int {
	var perr *domain.PositionError
	switch {
	case errors.As(err, &perr) && perr.Code == domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, msg string, details error) {
	body := map[string]any{"error": msg}
	if details != nil {
		body["details"] = details
	}
	sharedobs.WriteJSON(w, status, body)
}
