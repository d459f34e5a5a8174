// Package server exposes the personalization service over HTTP.
//
//	POST /api/personalize       run the full pipeline, streamed as SSE
//	POST /api/personalize/page  regenerate one page, JSON response
//	GET  /api/runs/{id}         stored run record
//	GET  /healthz               liveness
package server

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/service"
	"github.com/fpang/storybook-faceswap/internal/store"
)

// maxBodyBytes caps request bodies. Photos are passed by URL, never inline.
const maxBodyBytes = 1 << 20

// Service is what the handlers call.
type Service interface {
	Personalize(ctx context.Context, req service.Request, sink faceswap.EventSink) (*faceswap.Result, error)
	RetryPage(ctx context.Context, req service.PageRequest) (service.PageResponse, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
}

// Options configures the HTTP surface.
type Options struct {
	// AllowedOrigins lists CORS origins; "*" allows any origin.
	AllowedOrigins []string
	// StaticDir, when set, is served under /illustrations/ so locally
	// hosted artwork has a URL the bridge can upload from.
	StaticDir string
}

// Server routes requests to a Service.
type Server struct {
	svc  Service
	opts Options
}

func New(svc Service, opts Options) *Server {
	return &Server{svc: svc, opts: opts}
}

// Handler returns the routed handler wrapped in logging and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/personalize", s.handlePersonalize)
	mux.HandleFunc("POST /api/personalize/page", s.handlePersonalizePage)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /healthz", handleHealth)
	if s.opts.StaticDir != "" {
		mux.Handle("GET /illustrations/", http.FileServer(http.Dir(s.opts.StaticDir)))
	}
	return withLogging(withCORS(s.opts.AllowedOrigins, mux))
}

// --- Middleware ---

// statusRecorder captures the response status for logging. It forwards
// Flush so event streams are not buffered.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}
	})
}

func withCORS(origins []string, next http.Handler) http.Handler {
	anyOrigin := slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (anyOrigin || slices.Contains(origins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
