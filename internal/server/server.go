// Package server exposes analyses over HTTP and streams their audit trail
// over WebSocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/config"
	"github.com/xkilldash9x/consentscope/internal/metrics"
	"github.com/xkilldash9x/consentscope/internal/observability"
	"github.com/xkilldash9x/consentscope/internal/orchestrator"
	"github.com/xkilldash9x/consentscope/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Analyzer runs analyses. *orchestrator.Orchestrator satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, target string, listener orchestrator.StepListener) (*schemas.AnalysisResult, error)
	AnalyzeQuick(ctx context.Context, target string, listener orchestrator.StepListener) (*schemas.AnalysisResult, error)
}

const (
	quickKeyPrefix = "quick:"
	idKeyPrefix    = "id:"
)

// Server hosts the HTTP API.
type Server struct {
	analyzer       Analyzer
	repo           store.Repository
	metrics        *metrics.Metrics
	cache          *gocache.Cache
	cacheTTL       time.Duration
	requestTimeout time.Duration
	logger         *zap.Logger
	httpServer     *http.Server
}

// New wires a server. repo and m may be nil; without a repository, results
// are only retrievable while they stay in the in-memory cache.
func New(cfg config.ServerConfig, analyzer Analyzer, repo store.Repository, m *metrics.Metrics, logger *zap.Logger) *Server {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s := &Server{
		analyzer:       analyzer,
		repo:           repo,
		metrics:        m,
		cache:          gocache.New(ttl, 2*ttl),
		cacheTTL:       ttl,
		requestTimeout: cfg.RequestTimeout,
		logger:         observability.Component(logger, observability.ComponentServer),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	// The WebSocket route lives outside the timeout group; it ends when the analysis does.
	r.Get("/ws/v1/analyze", s.handleAnalyzeStream)

	r.Group(func(r chi.Router) {
		if s.requestTimeout > 0 {
			r.Use(middleware.Timeout(s.requestTimeout))
		}
		r.Get("/healthz", s.handleHealth)
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/analyze", s.handleAnalyze)
			r.Get("/analyses/{id}", s.handleGetAnalysis)
		})
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics.Handler())
		}
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("address", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Received shutdown signal, shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	return nil
}

type analyzeRequest struct {
	URL   string `json:"url"`
	Quick bool   `json:"quick"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := s.analyze(r.Context(), req.URL, req.Quick, nil)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if v, ok := s.cache.Get(idKeyPrefix + id); ok {
		s.respond(w, http.StatusOK, v)
		return
	}
	if s.repo == nil {
		s.respondError(w, http.StatusNotFound, "analysis not found")
		return
	}
	res, err := s.repo.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "analysis not found")
	case err != nil:
		s.logger.Error("Failed to load analysis", zap.String("analysis_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load analysis")
	default:
		s.respond(w, http.StatusOK, res)
	}
}

// analyze runs one analysis, serving quick runs from the cache when possible.
func (s *Server) analyze(ctx context.Context, raw string, quick bool, listener orchestrator.StepListener) (*schemas.AnalysisResult, error) {
	target, err := orchestrator.NormalizeURL(raw)
	if err != nil {
		return nil, err
	}
	if quick {
		if v, ok := s.cache.Get(quickKeyPrefix + target); ok {
			if s.metrics != nil {
				s.metrics.CacheHit()
			}
			return v.(*schemas.AnalysisResult), nil
		}
	}
	if s.metrics != nil {
		defer s.metrics.Track()()
	}

	run := s.analyzer.Analyze
	if quick {
		run = s.analyzer.AnalyzeQuick
	}
	res, err := run(ctx, target, listener)
	if err != nil {
		return nil, err
	}

	s.cache.Set(idKeyPrefix+res.ID, res, gocache.DefaultExpiration)
	if quick {
		s.cache.Set(quickKeyPrefix+target, res, gocache.DefaultExpiration)
	}
	if s.repo != nil {
		// Persistence failures do not fail the request; the result is still cached.
		if err := s.repo.Save(ctx, res); err != nil {
			s.logger.Warn("Failed to persist analysis", zap.String("analysis_id", res.ID), zap.Error(err))
		}
	}
	return res, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, errorResponse{Error: msg})
}

func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
