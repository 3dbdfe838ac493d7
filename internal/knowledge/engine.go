// Package knowledge loads profile content and feeds it to the retrieval indexes.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"digitaltwin/internal/domain"
)

const upsertBatchSize = 100

// Engine splits profile chunks and upserts them into every configured index.
type Engine struct {
	indexers  []domain.Indexer
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

type EngineConfig struct {
	Indexers  []domain.Indexer
	ChunkSize int // words per chunk (default: 180)
	Overlap   int // overlap words between parts (default: 20)
	Logger    *slog.Logger
}

// IngestReport summarises one ingestion run.
type IngestReport struct {
	Loaded  int            // chunks read from the profile
	Indexed int            // chunks after splitting
	Targets map[string]int // indexer name -> chunks upserted
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 180
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 20
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		indexers:  cfg.Indexers,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
		logger:    cfg.Logger,
	}
}

// Ingest loads the profile at path and upserts it into every index.
// Indexers are independent: a failing one does not stop the others.
func (e *Engine) Ingest(ctx context.Context, path string) (*IngestReport, error) {
	if len(e.indexers) == 0 {
		return nil, errors.New("no indexers configured")
	}
	loaded, err := LoadProfile(path, e.logger)
	if err != nil {
		return nil, err
	}
	chunks := e.Split(loaded)

	report := &IngestReport{Loaded: len(loaded), Indexed: len(chunks), Targets: make(map[string]int)}
	var errs []error
	for _, idx := range e.indexers {
		n, err := e.upsert(ctx, idx, chunks)
		report.Targets[idx.Name()] = n
		if err != nil {
			e.logger.Error("ingest failed", "index", idx.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", idx.Name(), err))
		}
	}

	e.logger.Info("profile ingested",
		"path", path, "loaded", report.Loaded, "indexed", report.Indexed)
	return report, errors.Join(errs...)
}

func (e *Engine) upsert(ctx context.Context, idx domain.Indexer, chunks []domain.ProfileChunk) (int, error) {
	done := 0
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))
		if err := idx.Upsert(ctx, chunks[start:end]); err != nil {
			return done, err
		}
		done = end
	}
	return done, nil
}

// Split breaks chunks longer than chunkSize words into overlapping parts.
// Parts get ids "<id>-<n>" and titles suffixed "(part n)"; short chunks pass through.
func (e *Engine) Split(chunks []domain.ProfileChunk) []domain.ProfileChunk {
	out := make([]domain.ProfileChunk, 0, len(chunks))
	for _, c := range chunks {
		words := strings.Fields(c.Content)
		if len(words) <= e.chunkSize {
			out = append(out, c)
			continue
		}

		step := e.chunkSize - e.overlap
		part := 1
		for i := 0; i < len(words); i += step {
			end := min(i+e.chunkSize, len(words))
			p := c
			p.ID = fmt.Sprintf("%s-%d", c.ID, part)
			p.Title = fmt.Sprintf("%s (part %d)", c.Title, part)
			p.Content = strings.Join(words[i:end], " ")
			out = append(out, p)
			part++
			if end >= len(words) {
				break
			}
		}
	}
	return out
}
