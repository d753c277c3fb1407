package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chartpilot/analysis-engine/internal/auth"
	"github.com/chartpilot/analysis-engine/internal/config"
)

// maxBodyBytes bounds request bodies; inline images dominate.
const maxBodyBytes = 24 << 20

// subjectHeader carries the subject when auth is disabled.
const subjectHeader = "X-Subject-ID"

// HTTPServer serves the REST surface, health and metrics.
type HTTPServer struct {
	analyzer Analyzer
	verifier *auth.Verifier
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	router   chi.Router
	server   *http.Server
}

// NewHTTPServer builds the router. verifier may be nil; gatherer nil uses the default registry.
func NewHTTPServer(cfg config.ServerConfig, analyzer Analyzer, verifier *auth.Verifier, gatherer prometheus.Gatherer, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &HTTPServer{analyzer: analyzer, verifier: verifier, gatherer: gatherer, logger: logger}
	s.router = s.routes(cfg.CORSOrigins)
	s.server = &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *HTTPServer) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) routes(origins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", subjectHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if s.verifier != nil {
			r.Use(s.verifier.Middleware)
		}
		r.Post("/analyses/chart", s.handleAnalyzeChart)
		r.Post("/analyses/symbol", s.handleAnalyzeSymbol)
		r.Get("/analyses", s.handleListHistory)
		r.Get("/analyses/{id}", s.handleGetAnalysis)
		r.Get("/usage", s.handleUsage)
		r.Get("/patterns", s.handlePatterns)
	})
	return r
}

// POST /v1/analyses/chart
func (s *HTTPServer) handleAnalyzeChart(w http.ResponseWriter, r *http.Request) {
	var body ChartRequestBody
	if !s.decode(w, r, &body) {
		return
	}
	body.SubjectID = requestSubject(r, body.SubjectID)
	outcome, err := s.analyzer.AnalyzeChart(r.Context(), body.ToChartRequest())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewAnalysisResponse(outcome))
}

// POST /v1/analyses/symbol
func (s *HTTPServer) handleAnalyzeSymbol(w http.ResponseWriter, r *http.Request) {
	var body SymbolRequestBody
	if !s.decode(w, r, &body) {
		return
	}
	body.SubjectID = requestSubject(r, body.SubjectID)
	outcome, err := s.analyzer.AnalyzeSymbol(r.Context(), body.ToSymbolRequest())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewAnalysisResponse(outcome))
}

// GET /v1/analyses?pair=&before=&pageSize=&pageToken=
func (s *HTTPServer) handleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body := SubjectRequestBody{
		SubjectID: requestSubject(r, ""),
		Pair:      q.Get("pair"),
		Before:    q.Get("before"),
		PageToken: q.Get("pageToken"),
	}
	if raw := q.Get("pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			s.writeError(w, invalid(errors.New("pageSize must be a positive integer")))
			return
		}
		body.PageSize = size
	}
	req, err := body.ToListHistoryRequest()
	if err != nil {
		s.writeError(w, invalid(err))
		return
	}
	resp, err := s.analyzer.ListHistory(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Records: resp.Records, NextPageToken: resp.NextPageToken})
}

// GET /v1/analyses/{id}
func (s *HTTPServer) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	record, err := s.analyzer.GetAnalysis(r.Context(), requestSubject(r, ""), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// GET /v1/usage
func (s *HTTPServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.analyzer.Usage(r.Context(), requestSubject(r, ""))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UsageResponse{Usage: usage})
}

// GET /v1/patterns?pair=
func (s *HTTPServer) handlePatterns(w http.ResponseWriter, r *http.Request) {
	stats, err := s.analyzer.PatternStats(r.Context(), requestSubject(r, ""), r.URL.Query().Get("pair"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PatternsResponse{Patterns: stats})
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		s.writeError(w, invalid(err))
		return false
	}
	return true
}

func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	mapping, body := classify(err)
	if mapping.status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, mapping.status, body)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// requestSubject reads the subject from the header, the query or the body.
// Verified token claims still take precedence inside the service.
func requestSubject(r *http.Request, fromBody string) string {
	if v := strings.TrimSpace(r.Header.Get(subjectHeader)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("subjectId")); v != "" {
		return v
	}
	return fromBody
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
