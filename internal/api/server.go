package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteshot/internal/config"
	"github.com/JakeFAU/siteshot/internal/metrics"
	"github.com/JakeFAU/siteshot/internal/pipeline"
	"github.com/JakeFAU/siteshot/internal/shot"
	"github.com/JakeFAU/siteshot/internal/store"
)

// retryAfterSeconds is advertised on Busy responses.
const retryAfterSeconds = 5

// Generator runs capture jobs. *pipeline.Orchestrator satisfies it.
type Generator interface {
	Generate(ctx context.Context, req pipeline.GenerateRequest) (shot.GeneratedAssets, error)
	Busy() bool
	LastMemory() shot.MemoryReading
}

// Server wires HTTP handlers to the job pipeline.
type Server struct {
	router    chi.Router
	generator Generator
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. history may be nil, in which case
// the job endpoints answer 503.
func NewServer(generator Generator, history store.JobHistory, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		generator: generator,
		cfg:       cfg,
		logger:    logger,
	}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	progress := NewProgressHandler(history, logger)
	r.Route("/api", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/jobs", progress.ListJobs)
		r.Get("/jobs/{job_id}", progress.GetJob)

		r.Group(func(r chi.Router) {
			if timeout := cfg.Server.RequestTimeout(); timeout > 0 {
				r.Use(timeoutMiddleware(timeout))
			}
			r.Post("/screenshot/full", s.assetHandler(shot.KindScreenshot, shot.ModeFullPage))
			r.Post("/screenshot/collage", s.assetHandler(shot.KindCollage, ""))
			r.Post("/video/scroll", s.assetHandler(shot.KindVideo, ""))
			r.Post("/generate", s.generate)
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

// readyz reports 503 while a job holds the lease so load balancers steer new work elsewhere.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	reading := s.generator.LastMemory()
	body := map[string]any{
		"status":       "ready",
		"memory_ratio": reading.Ratio(),
	}
	if s.generator.Busy() {
		body["status"] = "busy"
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type assetRequest struct {
	URL    string   `json:"url"`
	Assets []string `json:"assets"`
	Mode   string   `json:"mode"`
}

// assetHandler serves one binary asset. A non-empty mode is forced; otherwise the request
// body may pick one.
func (s *Server) assetHandler(kind shot.Kind, mode shot.CaptureMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.decode(w, r)
		if !ok {
			return
		}
		if mode != "" {
			req.Mode = mode
		}
		req.Kinds = shot.NewKinds(kind)

		assets, err := s.generator.Generate(r.Context(), req)
		if err != nil {
			s.writeJobError(w, r, err)
			return
		}
		art := assets.Get(kind)
		if art == nil {
			writeError(w, http.StatusInternalServerError, "asset missing from result")
			return
		}
		h := w.Header()
		h.Set("Content-Type", art.ContentType)
		h.Set("Content-Length", strconv.Itoa(len(art.Data)))
		h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", art.Filename))
		h.Set("X-Job-ID", assets.JobID)
		h.Set("X-Primary-Color", assets.Colors.Primary.Hex())
		h.Set("X-Secondary-Color", assets.Colors.Secondary.Hex())
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(art.Data); err != nil {
			s.logger.Warn("write asset failed", zap.String("job_id", assets.JobID), zap.Error(err))
		}
	}
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	assets, err := s.generator.Generate(r.Context(), req)
	if err != nil {
		s.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assets.Payload())
}

// decode parses the JSON body into a GenerateRequest, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (pipeline.GenerateRequest, bool) {
	if s.cfg.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	}
	var body assetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeKindError(w, http.StatusBadRequest, "invalid JSON", shot.InvalidInput)
		return pipeline.GenerateRequest{}, false
	}
	kinds, err := shot.ParseKinds(body.Assets)
	if err != nil {
		writeKindError(w, http.StatusBadRequest, err.Error(), shot.InvalidInput)
		return pipeline.GenerateRequest{}, false
	}
	mode, err := shot.ParseCaptureMode(body.Mode)
	if err != nil {
		writeKindError(w, http.StatusBadRequest, err.Error(), shot.InvalidInput)
		return pipeline.GenerateRequest{}, false
	}
	return pipeline.GenerateRequest{URL: body.URL, Kinds: kinds, Mode: mode}, true
}

func (s *Server) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	kind := shot.KindOf(err)
	status := StatusFor(kind)
	if kind == shot.Busy {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	msg := err.Error()
	var serr *shot.Error
	if errors.As(err, &serr) {
		msg = serr.Message
	}
	diag := shot.DiagnosticsOf(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		fields := []zap.Field{
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err),
		}
		if diag != "" {
			fields = append(fields, zap.String("diagnostics", diag))
		}
		s.logger.Error("job failed", fields...)
	}
	if kind == "" {
		kind = "internal"
	}
	body := map[string]string{"error": msg, "kind": string(kind)}
	if diag != "" {
		body["detail"] = diag
	}
	writeJSON(w, status, body)
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind shot.ErrorKind) int {
	switch kind {
	case shot.InvalidInput:
		return http.StatusBadRequest
	case shot.Busy, shot.CaptureUnavailable:
		return http.StatusServiceUnavailable
	case shot.CaptureTimeout:
		return http.StatusGatewayTimeout
	case shot.CaptureFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestIDFrom(r.Context())),
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
						zap.String("request_id", requestIDFrom(r.Context())),
						zap.Any("error", rec),
						zap.Stack("stack"),
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
		return http.TimeoutHandler(next, d, `{"error":"request timed out","kind":"capture_timeout"}`)
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

func writeKindError(w http.ResponseWriter, status int, msg string, kind shot.ErrorKind) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": string(kind)})
}
