// Package twin is the boundary façade every channel talks to. It guards the
// question, consults the answer cache, runs the pipeline, redacts the answer
// and records the query.
package twin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"digitaltwin/internal/domain"
	"digitaltwin/internal/interview"
	"digitaltwin/internal/metrics"
	"digitaltwin/internal/security"
)

// Fixed answers returned without running the pipeline.
const (
	EmptyQuestionAnswer = "Please ask me a question about my professional background, skills, or experience."
	RefusalAnswer       = "I don't know. I can only answer questions about my professional background, skills, and experience."
	UnavailableAnswer   = "I'm temporarily unavailable. Please try again in a moment."
)

// DefaultSections are the profile sections "all" expands to.
var DefaultSections = []string{"skill", "experience", "education", "project"}

const sectionTopK = 5

// Asker runs one question through the RAG pipeline.
type Asker interface {
	Ask(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error)
}

// AnswerCache stores complete responses. Implementations swallow their own errors.
type AnswerCache interface {
	Get(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, bool)
	Set(ctx context.Context, req domain.PipelineRequest, resp *domain.PipelineResponse)
}

// QueryLog persists one record per answered question.
type QueryLog interface {
	RecordQuery(ctx context.Context, rec domain.QueryRecord) error
}

// SectionLister lists stored chunks by section type.
type SectionLister interface {
	Sections(ctx context.Context, sections []string) ([]domain.ProfileChunk, error)
}

// Section groups profile chunks under one section name.
type Section struct {
	Section string                `json:"section"`
	Items   []domain.ProfileChunk `json:"items"`
}

type Service struct {
	pipeline  Asker
	guard     *security.Guard
	cache     AnswerCache
	queryLog  QueryLog
	retriever domain.Retriever
	sections  SectionLister
	registry  *interview.Registry
	logger    *slog.Logger
}

type ServiceConfig struct {
	Pipeline  Asker
	Guard     *security.Guard
	Cache     AnswerCache      // optional
	QueryLog  QueryLog         // optional
	Retriever domain.Retriever // used for raw search and section fallback
	Sections  SectionLister    // optional; preferred over Retriever for sections
	Registry  *interview.Registry
	Logger    *slog.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("twin: pipeline is required")
	}
	if cfg.Guard == nil {
		return nil, errors.New("twin: guard is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = interview.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		pipeline:  cfg.Pipeline,
		guard:     cfg.Guard,
		cache:     cfg.Cache,
		queryLog:  cfg.QueryLog,
		retriever: cfg.Retriever,
		sections:  cfg.Sections,
		registry:  cfg.Registry,
		logger:    cfg.Logger,
	}, nil
}

// InterviewTypes lists the supported interview-type tags.
func (s *Service) InterviewTypes() []string { return s.registry.Types() }

// Ask answers one question. The only error returned wraps domain.ErrRetrieval;
// callers map it to a "temporarily unavailable" reply.
func (s *Service) Ask(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error) {
	verdict := s.guard.Inspect(req.Question)
	if verdict.Blocked {
		metrics.RequestsTotal.WithLabelValues("blocked").Inc()
		return fixedResponse(RefusalAnswer, req, verdict.Question), nil
	}
	if verdict.Question == "" {
		metrics.RequestsTotal.WithLabelValues("empty").Inc()
		return fixedResponse(EmptyQuestionAnswer, req, ""), nil
	}
	req.Question = verdict.Question

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, req); ok {
			cached.Metadata.Cached = true
			// Stage timings belong to the run that filled the cache.
			cached.Metadata.Performance = domain.StageDurations{}
			metrics.RequestsTotal.WithLabelValues("cached").Inc()
			s.record(ctx, req, cached)
			return cached, nil
		}
	}

	resp, err := s.pipeline.Ask(ctx, req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		s.logger.Error("pipeline failed", "err", err)
		if !errors.Is(err, domain.ErrRetrieval) {
			err = fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
		}
		return nil, err
	}

	resp.Answer = s.guard.Redact(resp.Answer)
	if s.cache != nil && !resp.Metadata.Degraded {
		s.cache.Set(ctx, req, resp)
	}
	metrics.RequestsTotal.WithLabelValues("answered").Inc()
	s.record(ctx, req, resp)
	return resp, nil
}

func (s *Service) record(ctx context.Context, req domain.PipelineRequest, resp *domain.PipelineResponse) {
	if s.queryLog == nil {
		return
	}
	rec := domain.QueryRecord{
		Question:      req.Question,
		EnhancedQuery: resp.Metadata.EnhancedQuery,
		InterviewType: resp.Metadata.InterviewType,
		ResultsCount:  resp.Metadata.ResultsCount,
		AnswerLength:  len(resp.Answer),
		Durations:     resp.Metadata.Performance,
		Cached:        resp.Metadata.Cached,
		CreatedAt:     time.Now(),
	}
	if err := s.queryLog.RecordQuery(ctx, rec); err != nil {
		s.logger.Warn("failed to record query", "err", err)
	}
}

func fixedResponse(answer string, req domain.PipelineRequest, question string) *domain.PipelineResponse {
	interviewType := req.InterviewType
	if interviewType == "" {
		interviewType = "general"
	}
	return &domain.PipelineResponse{
		Answer:  answer,
		Sources: []domain.Source{},
		Metadata: domain.PipelineMetadata{
			Enhanced:      req.Enhanced,
			InterviewType: interviewType,
			OriginalQuery: question,
		},
	}
}

// Search runs a raw retrieval query, bypassing generation.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	if s.retriever == nil {
		return nil, fmt.Errorf("%w: no retriever configured", domain.ErrRetrieval)
	}
	query = s.guard.Sanitize(query)
	if query == "" {
		return []domain.RetrievalResult{}, nil
	}
	if topK <= 0 {
		topK = 3
	}
	results, err := s.retriever.Search(ctx, query, topK, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}
	return results, nil
}

// Sections returns profile chunks grouped by section. "all" expands to
// DefaultSections. The section store is used when configured, otherwise each
// section is searched by name and filtered by type.
func (s *Service) Sections(ctx context.Context, names []string) ([]Section, error) {
	wanted := expandSections(names)
	out := make([]Section, 0, len(wanted))

	if s.sections != nil {
		chunks, err := s.sections.Sections(ctx, wanted)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
		}
		for _, name := range wanted {
			sec := Section{Section: name, Items: []domain.ProfileChunk{}}
			for _, c := range chunks {
				if sameSection(c.Type, name) {
					sec.Items = append(sec.Items, c)
				}
			}
			out = append(out, sec)
		}
		return out, nil
	}

	if s.retriever == nil {
		return nil, fmt.Errorf("%w: no retriever configured", domain.ErrRetrieval)
	}
	for _, name := range wanted {
		results, err := s.retriever.Search(ctx, name, sectionTopK, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
		}
		sec := Section{Section: name, Items: []domain.ProfileChunk{}}
		for _, r := range results {
			if !sameSection(r.Type(), name) {
				continue
			}
			sec.Items = append(sec.Items, domain.ProfileChunk{ID: r.ID, Title: r.Title(), Content: r.Content(), Type: r.Type()})
		}
		out = append(out, sec)
	}
	return out, nil
}

func expandSections(names []string) []string {
	if len(names) == 0 {
		return DefaultSections
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "all" {
			return DefaultSections
		}
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// sameSection treats singular and plural forms as equal ("skills" ~ "skill").
func sameSection(typ, section string) bool {
	return strings.TrimSuffix(strings.ToLower(typ), "s") == strings.TrimSuffix(section, "s")
}
