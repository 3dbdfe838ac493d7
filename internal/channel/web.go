package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"digitaltwin/internal/config"
	"digitaltwin/internal/domain"
	"digitaltwin/internal/metrics"
	"digitaltwin/internal/twin"
)

const (
	maxBodySize    = 1 << 20 // 1MB
	requestTimeout = 60 * time.Second
	serviceName    = "Digital Twin MCP Server"
	internalError  = "Internal server error"
)

var features = []string{"basic-rag", "llm-enhanced-rag", "interview-contexts", "mcp-tools"}

var (
	_ domain.Channel = (*Web)(nil)
	_ domain.Channel = (*Telegram)(nil)
	_ domain.Channel = (*CLI)(nil)
)

// Twin is what the channels need from the twin service.
type Twin interface {
	Ask(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error)
	Search(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error)
	Sections(ctx context.Context, names []string) ([]twin.Section, error)
	InterviewTypes() []string
}

// HealthFunc reports named dependency errors; nil values are healthy.
type HealthFunc func(ctx context.Context) map[string]error

// QueryLister exposes the query log to the admin endpoints.
type QueryLister interface {
	RecentQueries(ctx context.Context, limit int) ([]domain.QueryRecord, error)
}

// Web serves the HTTP API: chat, full pipeline, MCP JSON-RPC, health and metrics.
type Web struct {
	host        string
	port        int
	twin        Twin
	health      HealthFunc
	queries     QueryLister
	cfg         *config.Config
	corsOrigin  string
	metricsPath string
	version     string
	logger      *slog.Logger
	server      *http.Server
	mcp         *MCPServer
}

type WebConfig struct {
	Host        string
	Port        int
	Twin        Twin
	Health      HealthFunc  // optional
	Queries     QueryLister // optional; enables GET /api/queries
	Config      *config.Config
	CORSOrigin  string
	MetricsPath string // empty disables /metrics
	Version     string
	Logger      *slog.Logger
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Web{
		host:        cfg.Host,
		port:        cfg.Port,
		twin:        cfg.Twin,
		health:      cfg.Health,
		queries:     cfg.Queries,
		cfg:         cfg.Config,
		corsOrigin:  cfg.CORSOrigin,
		metricsPath: cfg.MetricsPath,
		version:     cfg.Version,
		logger:      cfg.Logger,
		mcp:         NewMCPServer(MCPConfig{Twin: cfg.Twin, Version: cfg.Version, Logger: cfg.Logger}),
	}
}

func (w *Web) Name() string { return "web" }

// Handler builds the route table. Exposed for tests and embedding.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", w.handleChat)
	mux.HandleFunc("POST /api/mcp", w.handleAsk)
	mux.HandleFunc("GET /api/mcp", w.handleHealth)
	mux.HandleFunc("GET /api/health", w.handleHealth)
	mux.HandleFunc("GET /api/interview-types", w.handleInterviewTypes)
	mux.HandleFunc("GET /api/config", w.handleGetConfig)
	mux.HandleFunc("GET /api/queries", w.handleQueries)
	mux.Handle("POST /mcp", w.mcp)
	if w.metricsPath != "" {
		mux.Handle("GET "+w.metricsPath, metrics.Handler())
	}
	return w.withRequestID(w.withCORS(mux))
}

// Start serves until ctx is cancelled, then shuts down with a 5s grace period.
func (w *Web) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      requestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	w.logger.Info("HTTP API started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

func (w *Web) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if w.corsOrigin != "" {
			rw.Header().Set("Access-Control-Allow-Origin", w.corsOrigin)
			rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			rw.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func (w *Web) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		rw.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(rw, r)
		w.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "request_id", id, "duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodySize))
}

// handleChat is the public chat endpoint: {question} → {answer, sources}.
func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err == nil {
		err = validate(chatSchema, body)
	}
	if err != nil {
		w.logger.Debug("rejected chat request", "err", err)
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Invalid question format"})
		return
	}
	var req struct {
		Question      string `json:"question"`
		InterviewType string `json:"interviewType"`
	}
	_ = json.Unmarshal(body, &req)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resp, err := w.twin.Ask(ctx, domain.PipelineRequest{Question: req.Question, Enhanced: true, InterviewType: req.InterviewType})
	if err != nil {
		w.logger.Error("chat request failed", "err", err)
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"answer": twin.UnavailableAnswer})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"answer":  resp.Answer,
		"sources": resp.Sources,
	})
}

// handleAsk returns the full pipeline response with metadata.
func (w *Web) handleAsk(rw http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err == nil {
		err = validate(askSchema, body)
	}
	if err != nil {
		w.logger.Debug("rejected pipeline request", "err", err)
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}
	var req struct {
		Question      string `json:"question"`
		Enhanced      *bool  `json:"enhanced"`
		InterviewType string `json:"interviewType"`
	}
	_ = json.Unmarshal(body, &req)
	enhanced := req.Enhanced == nil || *req.Enhanced

	w.logger.Info("received question", "enhanced", enhanced, "interview_type", req.InterviewType, "length", len(req.Question))

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resp, err := w.twin.Ask(ctx, domain.PipelineRequest{Question: req.Question, Enhanced: enhanced, InterviewType: req.InterviewType})
	if err != nil {
		w.logger.Error("pipeline request failed", "err", err, "retrieval", errors.Is(err, domain.ErrRetrieval))
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": internalError})
		return
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (w *Web) handleHealth(rw http.ResponseWriter, r *http.Request) {
	status := "ok"
	deps := map[string]string{}
	if w.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		for name, err := range w.health(ctx) {
			if err != nil {
				deps[name] = err.Error()
				status = "degraded"
				continue
			}
			deps[name] = "ok"
		}
	}
	doc := map[string]any{
		"status":    status,
		"service":   serviceName,
		"version":   w.version,
		"features":  features,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(deps) > 0 {
		doc["dependencies"] = deps
	}
	writeJSON(rw, http.StatusOK, doc)
}

func (w *Web) handleInterviewTypes(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"interviewTypes": w.twin.InterviewTypes()})
}
