package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"digitaltwin/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "twin.db"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func profileChunks() []domain.ProfileChunk {
	return []domain.ProfileChunk{
		{ID: "exp-1", Title: "Senior Backend Engineer", Content: "Built payment services in Go and PostgreSQL.", Type: "experience",
			Metadata: map[string]any{"category": "work", "tags": []string{"go", "payments"}}},
		{ID: "skill-1", Title: "Languages", Content: "Go, TypeScript, Python.", Type: "skill"},
		{ID: "edu-1", Title: "BSc Computer Science", Content: "Graduated with honours.", Type: "education"},
		{ID: "proj-1", Title: "Open source CLI", Content: "A Kubernetes deployment tool written in Go.", Type: "projects"},
	}
}

// --- Upsert / Search ---

func TestStore_UpsertAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, profileChunks()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	n, err := s.ChunkCount(ctx)
	if err != nil || n != 4 {
		t.Fatalf("ChunkCount = %d, %v", n, err)
	}

	results, err := s.Search(ctx, "payment services", 5, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].ID != "exp-1" {
		t.Fatalf("expected exp-1 first, got %+v", results)
	}
	if results[0].Title() != "Senior Backend Engineer" || results[0].Type() != "experience" {
		t.Fatalf("unexpected metadata %+v", results[0].Metadata)
	}
	if results[0].Metadata["tags"] != "[go, payments]" {
		t.Fatalf("tags not flattened: %v", results[0].Metadata["tags"])
	}
}

func TestStore_Search_OrderAndTopK(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Upsert(ctx, profileChunks()); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "go", 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected topK=2 results, got %d", len(results))
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("results not in descending score order: %+v", results)
	}
	if results[0].Metadata != nil {
		t.Fatal("metadata should be omitted when not requested")
	}
}

func TestStore_Search_EmptyAndInvalid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	results, err := s.Search(ctx, "?!", 5, true)
	if err != nil || len(results) != 0 {
		t.Fatalf("punctuation-only query: %v, %v", results, err)
	}
	if _, err := s.Search(ctx, "go", 0, true); err == nil {
		t.Fatal("expected error for topK=0")
	}
}

func TestStore_Upsert_ReplacesById(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Upsert(ctx, profileChunks()); err != nil {
		t.Fatal(err)
	}
	updated := domain.ProfileChunk{ID: "exp-1", Title: "Staff Engineer", Content: "Led the observability platform.", Type: "experience"}
	if err := s.Upsert(ctx, []domain.ProfileChunk{updated}); err != nil {
		t.Fatal(err)
	}

	n, _ := s.ChunkCount(ctx)
	if n != 4 {
		t.Fatalf("expected 4 chunks after replace, got %d", n)
	}
	results, _ := s.Search(ctx, "payment", 5, true)
	if len(results) != 0 {
		t.Fatalf("stale FTS row still matches: %+v", results)
	}
	results, _ = s.Search(ctx, "observability", 5, true)
	if len(results) != 1 || results[0].Title() != "Staff Engineer" {
		t.Fatalf("updated chunk not searchable: %+v", results)
	}
}

// --- Sections ---

func TestStore_Sections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Upsert(ctx, profileChunks()); err != nil {
		t.Fatal(err)
	}

	all, err := s.Sections(ctx, []string{"all"})
	if err != nil || len(all) != 4 {
		t.Fatalf("all sections = %d, %v", len(all), err)
	}

	skills, err := s.Sections(ctx, []string{"skills"})
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 1 || skills[0].ID != "skill-1" {
		t.Fatalf("plural section name should match singular type: %+v", skills)
	}

	projects, _ := s.Sections(ctx, []string{"project"})
	if len(projects) != 1 || projects[0].ID != "proj-1" {
		t.Fatalf("singular section name should match plural type: %+v", projects)
	}

	exp, _ := s.Sections(ctx, []string{"experience"})
	if len(exp) != 1 || exp[0].Metadata["category"] != "work" {
		t.Fatalf("metadata not restored: %+v", exp)
	}
}

// --- Query log ---

func TestStore_QueryLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, q := range []string{"first", "second", "third"} {
		rec := domain.QueryRecord{
			Question:      q,
			InterviewType: "technical",
			ResultsCount:  3,
			AnswerLength:  120,
			Durations:     domain.StageDurations{Total: 250 * time.Millisecond, VectorSearch: 80 * time.Millisecond},
			Cached:        i == 2,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
		if err := s.RecordQuery(ctx, rec); err != nil {
			t.Fatalf("RecordQuery: %v", err)
		}
	}

	n, err := s.QueryCount(ctx)
	if err != nil || n != 3 {
		t.Fatalf("QueryCount = %d, %v", n, err)
	}

	recent, err := s.RecentQueries(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Question != "third" || recent[1].Question != "second" {
		t.Fatalf("unexpected order %+v", recent)
	}
	if recent[0].ID == "" || !recent[0].Cached || recent[1].Cached {
		t.Fatalf("id or cached flag not persisted: %+v", recent[0])
	}
	if recent[0].Durations.Total != 250*time.Millisecond || recent[0].Durations.VectorSearch != 80*time.Millisecond {
		t.Fatalf("durations not persisted: %+v", recent[0].Durations)
	}
}
