package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/config"
	"github.com/JakeFAU/crawl-cluster-master/internal/master"
	"github.com/JakeFAU/crawl-cluster-master/internal/metrics"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 60 * time.Second
	readyTimeout   = 2 * time.Second
)

// Master is the scheduler surface the HTTP handlers drive.
type Master interface {
	Schedule(ctx context.Context, domains []string, settings cluster.Settings, priority int) error
	Stop(ctx context.Context, domains []string) error
	Remove(ctx context.Context, domains []string) (int, error)
	Discard(ctx context.Context, domains []string) (int, error)
	Running(ctx context.Context) (map[string]string, error)
	Pending(ctx context.Context, verbosity int) ([]master.PendingView, error)
	Nodes(ctx context.Context, verbosity int) (map[string]master.NodeView, error)
	Statistics(ctx context.Context) (master.StatisticsView, error)
	EnableNode(ctx context.Context, name string) error
	DisableNode(ctx context.Context, name string) error
	AddNode(ctx context.Context, name, addr string) error
	RemoveNode(ctx context.Context, name string) error
	Report(ctx context.Context, name string, report cluster.Report) error
	DefaultPriority() int
}

// Server wires HTTP handlers to the scheduler.
type Server struct {
	router chi.Router
	master Master
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(m Master, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		master: m,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/schedule", s.schedule)
		r.Post("/stop", s.stop)
		r.Post("/remove", s.remove)
		r.Post("/discard", s.discard)
		r.Get("/running", s.running)
		r.Get("/pending", s.pending)
		r.Get("/statistics", s.statistics)
		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.nodes)
			r.Route("/{name}", func(r chi.Router) {
				r.Put("/", s.addNode)
				r.Delete("/", s.removeNode)
				r.Post("/enable", s.enableNode)
				r.Post("/disable", s.disableNode)
				r.Post("/report", s.report)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the scheduler loop answers.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if _, err := s.master.Statistics(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scheduleRequest struct {
	Domains  []string         `json:"domains"`
	Settings cluster.Settings `json:"settings"`
	Priority *int             `json:"priority"`
}

type domainsRequest struct {
	Domains []string `json:"domains"`
}

type addNodeRequest struct {
	Addr string `json:"addr"`
}

func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Domains) == 0 {
		writeError(w, http.StatusBadRequest, "domains required")
		return
	}
	priority := s.master.DefaultPriority()
	if req.Priority != nil {
		priority = *req.Priority
	}
	if err := s.master.Schedule(r.Context(), req.Domains, cluster.NormalizeSettings(req.Settings), priority); err != nil {
		s.writeMasterError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"scheduled": len(req.Domains), "priority": priority})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDomains(w, r)
	if !ok {
		return
	}
	if err := s.master.Stop(r.Context(), req.Domains); err != nil {
		s.writeMasterError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"stopping": req.Domains})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDomains(w, r)
	if !ok {
		return
	}
	removed, err := s.master.Remove(r.Context(), req.Domains)
	if err != nil {
		s.writeMasterError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"removed": removed})
}

func (s *Server) discard(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDomains(w, r)
	if !ok {
		return
	}
	removed, err := s.master.Discard(r.Context(), req.Domains)
	if err != nil {
		s.writeMasterError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"removed": removed})
}

func (s *Server) running(w http.ResponseWriter, r *http.Request) {
	out, err := s.master.Running(r.Context())
	if err != nil {
		s.writeMasterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": out})
}

func (s *Server) pending(w http.ResponseWriter, r *http.Request) {
	verbosity, ok := parseVerbosity(w, r)
	if !ok {
		return
	}
	out, err := s.master.Pending(r.Context(), verbosity)
	if err != nil {
		s.writeMasterError(w, err)
		return
	}
	if out == nil {
		out = []master.PendingView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": out})
}

func (s *Server) nodes(w http.ResponseWriter, r *http.Request) {
	verbosity, ok := parseVerbosity(w, r)
	if !ok {
		return
	}
	out, err := s.master.Nodes(r.Context(), verbosity)
	if err != nil {
		s.writeMasterError(w, err)
		return
	}
	if out == nil {
		out = map[string]master.NodeView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": out})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	out, err := s.master.Statistics(r.Context())
	if err != nil {
		s.writeMasterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) enableNode(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.master.EnableNode(r.Context(), name); err != nil {
		s.writeMasterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": name, "available": true})
}

func (s *Server) disableNode(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.master.DisableNode(r.Context(), name); err != nil {
		s.writeMasterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": name, "available": false})
}

func (s *Server) addNode(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req addNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, _, err := net.SplitHostPort(req.Addr); err != nil {
		writeError(w, http.StatusBadRequest, "addr must be host:port")
		return
	}
	if err := s.master.AddNode(r.Context(), name, req.Addr); err != nil {
		s.writeMasterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"node": name, "addr": req.Addr})
}

func (s *Server) removeNode(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.master.RemoveNode(r.Context(), name); err != nil {
		s.writeMasterError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var rep cluster.Report
	if err := decodeJSON(r, &rep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := rep.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.master.Report(r.Context(), name, rep); err != nil {
		s.writeMasterError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeMasterError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cluster.ErrUnknownNode):
		status = http.StatusNotFound
	case errors.Is(err, cluster.ErrNodeBusy):
		status = http.StatusConflict
	case errors.Is(err, cluster.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func decodeDomains(w http.ResponseWriter, r *http.Request) (domainsRequest, bool) {
	var req domainsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	if len(req.Domains) == 0 {
		writeError(w, http.StatusBadRequest, "domains required")
		return req, false
	}
	return req, true
}

func parseVerbosity(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("verbosity")
	if raw == "" {
		return master.VerbositySummary, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < master.VerbosityNone || v > master.VerbosityFull {
		writeError(w, http.StatusBadRequest, "verbosity must be 0, 1 or 2")
		return 0, false
	}
	return v, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("request_id", RequestID(r.Context())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
