// Package rag implements the question-to-answer pipeline: query enhancement,
// retrieval and interview-style answer formatting.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"digitaltwin/internal/domain"
	"digitaltwin/internal/interview"
	"digitaltwin/internal/metrics"
)

const (
	tracerName       = "digitaltwin/rag"
	defaultTopK      = 5
	generalInterview = "general"
)

// RetrieveFunc fetches ranked results for a search query.
type RetrieveFunc func(ctx context.Context, query string) ([]domain.RetrievalResult, error)

// Pipeline runs Start → Enhance (optional) → Retrieve → Format → Done.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	enhancer  *Enhancer
	formatter *Formatter
	registry  *interview.Registry
	retriever domain.Retriever
	topK      int
	tracer    trace.Tracer
	logger    *slog.Logger
}

type PipelineConfig struct {
	Enhancer  *Enhancer
	Formatter *Formatter
	Registry  *interview.Registry
	Retriever domain.Retriever // used by Ask; Run takes its own RetrieveFunc
	TopK      int
	Tracer    trace.TracerProvider // default: the global provider
	Logger    *slog.Logger
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Enhancer == nil {
		return nil, errors.New("rag: enhancer is required")
	}
	if cfg.Formatter == nil {
		return nil, errors.New("rag: formatter is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = interview.NewRegistry()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.GetTracerProvider()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		enhancer:  cfg.Enhancer,
		formatter: cfg.Formatter,
		registry:  cfg.Registry,
		retriever: cfg.Retriever,
		topK:      cfg.TopK,
		tracer:    cfg.Tracer.Tracer(tracerName),
		logger:    cfg.Logger,
	}, nil
}

// Registry exposes the interview registry the pipeline resolves directives from.
func (p *Pipeline) Registry() *interview.Registry { return p.registry }

// Ask runs the pipeline against the configured retriever.
func (p *Pipeline) Ask(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error) {
	if p.retriever == nil {
		return nil, fmt.Errorf("%w: no retriever configured", domain.ErrRetrieval)
	}
	return p.Run(ctx, req, func(ctx context.Context, query string) ([]domain.RetrievalResult, error) {
		return p.retriever.Search(ctx, query, p.topK, true)
	})
}

// Run executes one request. Only retrieval errors are returned; enhancement
// and formatting failures degrade inside their stages.
func (p *Pipeline) Run(ctx context.Context, req domain.PipelineRequest, retrieve RetrieveFunc) (*domain.PipelineResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}

	ctx, span := p.tracer.Start(ctx, "rag.pipeline", trace.WithAttributes(
		attribute.Bool("rag.enhanced", req.Enhanced),
		attribute.String("rag.interview_type", req.InterviewType),
	))
	defer span.End()

	start := time.Now()
	var perf domain.StageDurations

	// Enhance
	searchQuery := question
	var degraded bool
	if req.Enhanced {
		stageStart := time.Now()
		sctx, s := p.tracer.Start(ctx, "rag.enhance")
		searchQuery, degraded = p.enhancer.Enhance(sctx, question)
		s.SetAttributes(attribute.Bool("rag.query_changed", searchQuery != question), attribute.Bool("rag.degraded", degraded))
		s.End()
		perf.QueryEnhancement = time.Since(stageStart)
		metrics.StageDuration.WithLabelValues(metrics.StageEnhancement).Observe(perf.QueryEnhancement.Seconds())
	}

	// Retrieve
	stageStart := time.Now()
	rctx, rs := p.tracer.Start(ctx, "rag.retrieve")
	results, err := retrieve(rctx, searchQuery)
	perf.VectorSearch = time.Since(stageStart)
	metrics.StageDuration.WithLabelValues(metrics.StageRetrieval).Observe(perf.VectorSearch.Seconds())
	if err != nil {
		rs.RecordError(err)
		rs.SetStatus(codes.Error, "retrieval failed")
		rs.End()
		span.SetStatus(codes.Error, "retrieval failed")
		if !errors.Is(err, domain.ErrRetrieval) {
			err = fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
		}
		return nil, err
	}
	rs.SetAttributes(attribute.Int("rag.results", len(results)))
	rs.End()

	// Format
	directive, _ := p.registry.Resolve(req.InterviewType)
	stageStart = time.Now()
	fctx, fs := p.tracer.Start(ctx, "rag.format")
	answer, fmtDegraded := p.formatter.Format(fctx, results, question, directive)
	fs.SetAttributes(attribute.Bool("rag.degraded", fmtDegraded))
	fs.End()
	degraded = degraded || fmtDegraded
	perf.ResponseFormatting = time.Since(stageStart)
	metrics.StageDuration.WithLabelValues(metrics.StageFormatting).Observe(perf.ResponseFormatting.Seconds())

	perf.Total = time.Since(start)
	metrics.StageDuration.WithLabelValues(metrics.StageTotal).Observe(perf.Total.Seconds())

	interviewType := req.InterviewType
	if interviewType == "" {
		interviewType = generalInterview
	}
	meta := domain.PipelineMetadata{
		Enhanced:      req.Enhanced,
		InterviewType: interviewType,
		OriginalQuery: question,
		Performance:   perf,
		ResultsCount:  len(results),
		Degraded:      degraded,
	}
	if req.Enhanced {
		meta.EnhancedQuery = searchQuery
	}

	p.logger.Debug("pipeline complete",
		"results", len(results),
		"enhanced", req.Enhanced,
		"degraded", degraded,
		"total_ms", perf.Total.Milliseconds(),
	)

	return &domain.PipelineResponse{
		Answer:   answer,
		Sources:  buildSources(results),
		Metadata: meta,
	}, nil
}

func buildSources(results []domain.RetrievalResult) []domain.Source {
	sources := make([]domain.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, domain.Source{Title: r.Title(), Type: r.Type(), Score: r.Score})
	}
	return sources
}
