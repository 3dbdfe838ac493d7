package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"digitaltwin/internal/domain"
)

// Elasticsearch searches profile chunks with a BM25 multi_match query.
type Elasticsearch struct {
	client *elasticsearch.Client
	index  string
	logger *slog.Logger
}

type ElasticsearchConfig struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	Logger    *slog.Logger
}

func NewElasticsearch(cfg ElasticsearchConfig) (*Elasticsearch, error) {
	if cfg.Index == "" {
		return nil, errors.New("elasticsearch: index is required")
	}
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Elasticsearch{client: es, index: cfg.Index, logger: cfg.Logger}, nil
}

func (e *Elasticsearch) Name() string { return "elasticsearch" }

// Ping tests the cluster connection.
func (e *Elasticsearch) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string         `json:"_id"`
			Score  float64        `json:"_score"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func searchBody(query string, topK int, includeMetadata bool) map[string]any {
	return map[string]any{
		"size":    topK,
		"_source": includeMetadata,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"title^2", "content", "type"},
			},
		},
	}
}

func (e *Elasticsearch) Search(ctx context.Context, query string, topK int, includeMetadata bool) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("elasticsearch: topK must be positive, got %d", topK)
	}
	body, err := json.Marshal(searchBody(query, topK, includeMetadata))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch marshal: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{e.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search: %s", errorStatus(res))
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("elasticsearch decode: %w", err)
	}

	results := make([]domain.RetrievalResult, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		results = append(results, domain.RetrievalResult{ID: h.ID, Score: h.Score, Metadata: h.Source})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// Upsert bulk-indexes chunks by id and refreshes the index.
func (e *Elasticsearch) Upsert(ctx context.Context, chunks []domain.ProfileChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		if err := enc.Encode(map[string]any{"index": map[string]any{"_index": e.index, "_id": c.ID}}); err != nil {
			return fmt.Errorf("elasticsearch bulk encode: %w", err)
		}
		if err := enc.Encode(c.IndexMetadata()); err != nil {
			return fmt.Errorf("elasticsearch bulk encode: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch bulk: %s", errorStatus(res))
	}

	var summary struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&summary); err != nil {
		return fmt.Errorf("elasticsearch bulk decode: %w", err)
	}
	if summary.Errors {
		return errors.New("elasticsearch bulk: one or more chunks failed to index")
	}
	e.logger.Info("upserted chunks", "index", e.index, "count", len(chunks))
	return nil
}

func errorStatus(res *esapi.Response) string {
	data, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return strings.TrimSpace(res.Status() + " " + string(data))
}
