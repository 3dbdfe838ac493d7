// Package store persists profile chunks (with a full-text index) and the
// query log in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"digitaltwin/internal/domain"
)

// Store is the SQLite-backed profile store. It implements domain.Retriever
// and domain.Indexer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the database file if needed and applies pending migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Name() string { return "sqlite" }

// DB exposes the underlying handle for status reporting.
func (s *Store) DB() *sql.DB { return s.db }

// Upsert replaces chunks by id and keeps the FTS index in step.
func (s *Store) Upsert(ctx context.Context, chunks []domain.ProfileChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", c.ID, err)
		}
		if c.Metadata == nil {
			meta = []byte("{}")
		}
		im := c.IndexMetadata()

		stmts := []sq.Sqlizer{
			sq.Replace("profile_chunks").
				Columns("id", "title", "content", "type", "category", "tags", "metadata", "updated_at").
				Values(c.ID, c.Title, c.Content, c.Type, im["category"], im["tags"], string(meta), now),
			sq.Delete("profile_chunks_fts").Where(sq.Eq{"chunk_id": c.ID}),
			sq.Insert("profile_chunks_fts").
				Columns("chunk_id", "title", "content").
				Values(c.ID, c.Title, c.Content),
		}
		for _, st := range stmts {
			query, args, err := st.ToSql()
			if err != nil {
				return fmt.Errorf("build upsert for %s: %w", c.ID, err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("upsert %s: %w", c.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	s.logger.Info("upserted chunks", "index", s.Name(), "count", len(chunks))
	return nil
}

// Search ranks chunks with FTS5 bm25. Any query token may match. The score
// is the negated bm25 rank so higher is better.
func (s *Store) Search(ctx context.Context, query string, topK int, includeMetadata bool) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("sqlite search: topK must be positive, got %d", topK)
	}
	match := ftsQuery(query)
	if match == "" {
		return []domain.RetrievalResult{}, nil
	}

	q, args, err := sq.Select("c.id", "c.title", "c.content", "c.type", "c.category", "c.tags", "bm25(profile_chunks_fts) AS bm").
		From("profile_chunks_fts").
		Join("profile_chunks c ON c.id = profile_chunks_fts.chunk_id").
		Where("profile_chunks_fts MATCH ?", match).
		OrderBy("bm").
		Limit(uint64(topK)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite search: %w", err)
	}
	defer rows.Close()

	results := make([]domain.RetrievalResult, 0, topK)
	for rows.Next() {
		var id, title, content, typ, category, tags string
		var rank float64
		if err := rows.Scan(&id, &title, &content, &typ, &category, &tags, &rank); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		r := domain.RetrievalResult{ID: id, Score: -rank}
		if includeMetadata {
			r.Metadata = map[string]any{
				"title":    title,
				"content":  content,
				"type":     typ,
				"category": category,
				"tags":     tags,
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ftsQuery turns free text into an FTS5 expression of OR-joined quoted tokens.
func ftsQuery(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, `"`+f+`"`)
	}
	return strings.Join(tokens, " OR ")
}

// Sections lists chunks whose type matches one of sections, singular or
// plural ("skills" matches type "skill"). Empty sections or "all" lists everything.
func (s *Store) Sections(ctx context.Context, sections []string) ([]domain.ProfileChunk, error) {
	b := sq.Select("id", "title", "content", "type", "metadata").
		From("profile_chunks").
		OrderBy("type", "id")

	all := len(sections) == 0
	var filter sq.Or
	for _, sec := range sections {
		sec = strings.ToLower(strings.TrimSpace(sec))
		if sec == "all" {
			all = true
			break
		}
		stem := strings.TrimSuffix(sec, "s")
		filter = append(filter, sq.Eq{"type": []string{stem, stem + "s"}})
	}
	if !all && len(filter) > 0 {
		b = b.Where(filter)
	}

	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sections: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	var out []domain.ProfileChunk
	for rows.Next() {
		var c domain.ProfileChunk
		var meta string
		if err := rows.Scan(&c.ID, &c.Title, &c.Content, &c.Type, &meta); err != nil {
			return nil, fmt.Errorf("scan section row: %w", err)
		}
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &c.Metadata)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunkCount returns the number of stored chunks.
func (s *Store) ChunkCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profile_chunks").Scan(&n)
	return n, err
}

// RecordQuery appends one entry to the query log.
func (s *Store) RecordQuery(ctx context.Context, rec domain.QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cached := 0
	if rec.Cached {
		cached = 1
	}
	q, args, err := sq.Insert("query_log").
		Columns("id", "question", "enhanced_query", "interview_type", "results_count", "answer_length",
			"enhancement_ms", "retrieval_ms", "formatting_ms", "total_ms", "cached", "created_at").
		Values(rec.ID, rec.Question, rec.EnhancedQuery, rec.InterviewType, rec.ResultsCount, rec.AnswerLength,
			rec.Durations.QueryEnhancement.Milliseconds(), rec.Durations.VectorSearch.Milliseconds(),
			rec.Durations.ResponseFormatting.Milliseconds(), rec.Durations.Total.Milliseconds(),
			cached, rec.CreatedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query log insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("record query: %w", err)
	}
	return nil
}

// RecentQueries returns the newest query log entries first.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]domain.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q, args, err := sq.Select("id", "question", "enhanced_query", "interview_type", "results_count", "answer_length",
		"enhancement_ms", "retrieval_ms", "formatting_ms", "total_ms", "cached", "created_at").
		From("query_log").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent queries: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recent queries: %w", err)
	}
	defer rows.Close()

	var out []domain.QueryRecord
	for rows.Next() {
		var rec domain.QueryRecord
		var enh, ret, fmtMs, total, created int64
		var cached int
		if err := rows.Scan(&rec.ID, &rec.Question, &rec.EnhancedQuery, &rec.InterviewType, &rec.ResultsCount,
			&rec.AnswerLength, &enh, &ret, &fmtMs, &total, &cached, &created); err != nil {
			return nil, fmt.Errorf("scan query log row: %w", err)
		}
		rec.Durations = domain.StageDurations{
			QueryEnhancement:   time.Duration(enh) * time.Millisecond,
			VectorSearch:       time.Duration(ret) * time.Millisecond,
			ResponseFormatting: time.Duration(fmtMs) * time.Millisecond,
			Total:              time.Duration(total) * time.Millisecond,
		}
		rec.Cached = cached == 1
		rec.CreatedAt = time.UnixMilli(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// QueryCount returns the total number of logged queries.
func (s *Store) QueryCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_log").Scan(&n)
	return n, err
}
