package retrieval

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"digitaltwin/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleChunks() []domain.ProfileChunk {
	return []domain.ProfileChunk{
		{ID: "exp-1", Title: "Senior Engineer", Content: "Built payment systems in Go.", Type: "experience", Metadata: map[string]any{"category": "work", "tags": []string{"go", "payments"}}},
		{ID: "skills-1", Title: "Skills", Content: "Go, Kubernetes, PostgreSQL.", Type: "skills"},
	}
}

// --- Upstash ---

func TestUpstash_Search(t *testing.T) {
	var got upstashQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query-data" || r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"result":[
			{"id":"b","score":0.62,"metadata":{"title":"Backend","content":"Go","type":"skills"}},
			{"id":7,"score":0.91,"metadata":{"title":"Frontend","content":"React","type":"skills"}}
		]}`))
	}))
	defer srv.Close()

	u, err := NewUpstash(UpstashConfig{URL: srv.URL + "/", Token: "tok", Client: srv.Client(), Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	results, err := u.Search(context.Background(), "skills", 5, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got.Data != "skills" || got.TopK != 5 || !got.IncludeMetadata {
		t.Fatalf("unexpected query %+v", got)
	}
	if len(results) != 2 || results[0].ID != "7" || results[0].Title() != "Frontend" {
		t.Fatalf("results not ordered by score: %+v", results)
	}
}

func TestUpstash_Search_TruncatesToTopK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[{"id":"a","score":0.9},{"id":"b","score":0.8},{"id":"c","score":0.7}]}`))
	}))
	defer srv.Close()

	u, _ := NewUpstash(UpstashConfig{URL: srv.URL, Token: "tok", Client: srv.Client()})
	results, err := u.Search(context.Background(), "q", 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Metadata != nil {
		t.Fatal("metadata should be dropped when not requested")
	}
}

func TestUpstash_Search_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	u, _ := NewUpstash(UpstashConfig{URL: srv.URL, Token: "tok", Client: srv.Client()})
	if _, err := u.Search(context.Background(), "q", 5, true); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, err := u.Search(context.Background(), "q", 0, true); err == nil {
		t.Fatal("expected error for topK=0")
	}
}

func TestUpstash_UpsertAndInfo(t *testing.T) {
	var vectors []upstashVector
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upsert-data":
			_ = json.NewDecoder(r.Body).Decode(&vectors)
			w.Write([]byte(`{"result":"Success"}`))
		case "/info":
			if r.Method != http.MethodGet {
				t.Errorf("info should be GET, got %s", r.Method)
			}
			w.Write([]byte(`{"result":{"vectorCount":42,"pendingVectorCount":1,"dimension":1024}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	u, _ := NewUpstash(UpstashConfig{URL: srv.URL, Token: "tok", Client: srv.Client(), Logger: testLogger()})
	if err := u.Upsert(context.Background(), sampleChunks()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(vectors) != 2 || vectors[0].Data != "Senior Engineer: Built payment systems in Go." {
		t.Fatalf("unexpected vectors %+v", vectors)
	}
	if vectors[0].Metadata["tags"] != "[go, payments]" || vectors[0].Metadata["category"] != "work" {
		t.Fatalf("unexpected metadata %+v", vectors[0].Metadata)
	}

	info, err := u.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.VectorCount != 42 || info.Dimension != 1024 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestNewUpstash_RequiresCredentials(t *testing.T) {
	if _, err := NewUpstash(UpstashConfig{URL: "https://x"}); err == nil {
		t.Fatal("expected error without token")
	}
}

// --- Elasticsearch ---

func esServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestElasticsearch_Search(t *testing.T) {
	var body map[string]any
	srv := esServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/profile/_search") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"hits":{"hits":[
			{"_id":"exp-1","_score":3.2,"_source":{"title":"Senior Engineer","content":"Go","type":"experience"}},
			{"_id":"skills-1","_score":1.1,"_source":{"title":"Skills","content":"Go","type":"skills"}}
		]}}`))
	})

	es, err := NewElasticsearch(ElasticsearchConfig{Addresses: []string{srv.URL}, Index: "profile", Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	results, err := es.Search(context.Background(), "golang experience", 5, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].ID != "exp-1" || results[0].Type() != "experience" {
		t.Fatalf("unexpected results %+v", results)
	}
	if body["size"] != float64(5) {
		t.Fatalf("unexpected size in query: %v", body)
	}
	mm := body["query"].(map[string]any)["multi_match"].(map[string]any)
	if mm["query"] != "golang experience" {
		t.Fatalf("unexpected multi_match %v", mm)
	}
}

func TestElasticsearch_Search_Error(t *testing.T) {
	srv := esServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"index_not_found_exception"}}`))
	})

	es, _ := NewElasticsearch(ElasticsearchConfig{Addresses: []string{srv.URL}, Index: "missing"})
	_, err := es.Search(context.Background(), "q", 5, true)
	if err == nil || !strings.Contains(err.Error(), "index_not_found_exception") {
		t.Fatalf("expected index error, got %v", err)
	}
}

func TestElasticsearch_Upsert(t *testing.T) {
	var lines []string
	srv := esServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_bulk") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("refresh") != "true" {
			t.Errorf("expected refresh=true")
		}
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		w.Write([]byte(`{"errors":false,"items":[]}`))
	})

	es, _ := NewElasticsearch(ElasticsearchConfig{Addresses: []string{srv.URL}, Index: "profile", Logger: testLogger()})
	if err := es.Upsert(context.Background(), sampleChunks()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(lines) != 4 {
		t.Fatalf("expected 4 NDJSON lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"_id":"exp-1"`) || !strings.Contains(lines[1], `"title":"Senior Engineer"`) {
		t.Fatalf("unexpected bulk body %v", lines)
	}
}

func TestElasticsearch_Upsert_ItemErrors(t *testing.T) {
	srv := esServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":true}`))
	})
	es, _ := NewElasticsearch(ElasticsearchConfig{Addresses: []string{srv.URL}, Index: "profile", Logger: testLogger()})
	if err := es.Upsert(context.Background(), sampleChunks()); err == nil {
		t.Fatal("expected error when bulk items fail")
	}
}

func TestNewElasticsearch_RequiresIndex(t *testing.T) {
	if _, err := NewElasticsearch(ElasticsearchConfig{Addresses: []string{"http://localhost:9200"}}); err == nil {
		t.Fatal("expected error without index")
	}
}

// --- Retry ---

func TestUpstash_UpsertRetriesTransientErrors(t *testing.T) {
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() { retryBaseDelay = time.Second })

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"result":"Success"}`))
	}))
	defer srv.Close()

	u, _ := NewUpstash(UpstashConfig{URL: srv.URL, Token: "tok", Client: srv.Client(), Logger: testLogger()})
	if err := u.Upsert(context.Background(), sampleChunks()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestUpstash_SearchDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	u, _ := NewUpstash(UpstashConfig{URL: srv.URL, Token: "tok", Client: srv.Client()})
	if _, err := u.Search(context.Background(), "q", 3, true); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("search should fail fast, got %d attempts", calls.Load())
	}
}
