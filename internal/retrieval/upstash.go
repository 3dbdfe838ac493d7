// Package retrieval holds the vector and keyword retrievers the pipeline
// searches profile chunks with.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"digitaltwin/internal/domain"
)

const maxErrorBody = 256

// Upstash talks to the Upstash Vector REST API. The index embeds text
// server-side, so queries and upserts carry raw text.
type Upstash struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger
}

type UpstashConfig struct {
	URL    string
	Token  string
	Client *http.Client
	Logger *slog.Logger
}

func NewUpstash(cfg UpstashConfig) (*Upstash, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, errors.New("upstash: url and token are required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Upstash{
		url:    strings.TrimRight(cfg.URL, "/"),
		token:  cfg.Token,
		client: cfg.Client,
		logger: cfg.Logger,
	}, nil
}

func (u *Upstash) Name() string { return "upstash" }

type upstashQuery struct {
	Data            string `json:"data"`
	TopK            int    `json:"topK"`
	IncludeMetadata bool   `json:"includeMetadata"`
}

type upstashVector struct {
	ID       string         `json:"id"`
	Data     string         `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upstashMatch struct {
	ID       any            `json:"id"` // string or number depending on how it was indexed
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

type upstashQueryResponse struct {
	Result []upstashMatch `json:"result"`
	Error  string         `json:"error,omitempty"`
}

type upstashInfoResponse struct {
	Result struct {
		VectorCount        int64 `json:"vectorCount"`
		PendingVectorCount int64 `json:"pendingVectorCount"`
		Dimension          int   `json:"dimension"`
	} `json:"result"`
}

// IndexInfo summarises the remote index.
type IndexInfo struct {
	VectorCount int64
	Pending     int64
	Dimension   int
}

// Search runs a text query against the index.
func (u *Upstash) Search(ctx context.Context, query string, topK int, includeMetadata bool) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("upstash: topK must be positive, got %d", topK)
	}
	var resp upstashQueryResponse
	if err := u.do(ctx, http.MethodPost, "/query-data", upstashQuery{Data: query, TopK: topK, IncludeMetadata: includeMetadata}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("upstash query: %s", resp.Error)
	}

	results := make([]domain.RetrievalResult, 0, len(resp.Result))
	for _, m := range resp.Result {
		r := domain.RetrievalResult{ID: fmt.Sprint(m.ID), Score: m.Score}
		if includeMetadata {
			r.Metadata = m.Metadata
		}
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Upsert indexes chunks by id; the index embeds IndexText server-side.
func (u *Upstash) Upsert(ctx context.Context, chunks []domain.ProfileChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors := make([]upstashVector, 0, len(chunks))
	for _, c := range chunks {
		vectors = append(vectors, upstashVector{ID: c.ID, Data: c.IndexText(), Metadata: c.IndexMetadata()})
	}
	var resp struct {
		Result string `json:"result"`
	}
	if err := u.send(ctx, http.MethodPost, "/upsert-data", vectors, &resp, true); err != nil {
		return err
	}
	u.logger.Info("upserted chunks", "index", u.Name(), "count", len(chunks))
	return nil
}

// Info returns the index vector count and dimension.
func (u *Upstash) Info(ctx context.Context) (*IndexInfo, error) {
	var resp upstashInfoResponse
	if err := u.do(ctx, http.MethodGet, "/info", nil, &resp); err != nil {
		return nil, err
	}
	return &IndexInfo{
		VectorCount: resp.Result.VectorCount,
		Pending:     resp.Result.PendingVectorCount,
		Dimension:   resp.Result.Dimension,
	}, nil
}

func (u *Upstash) do(ctx context.Context, method, path string, body, out any) error {
	return u.send(ctx, method, path, body, out, false)
}

// send issues one request. With retry set, transient failures are retried
// with backoff.
func (u *Upstash) send(ctx context.Context, method, path string, body, out any, retry bool) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("upstash marshal: %w", err)
		}
		payload = data
	}

	buildReq := func() (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.url+path, reader)
		if err != nil {
			return nil, fmt.Errorf("upstash request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+u.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	var (
		resp *http.Response
		err  error
	)
	if retry {
		resp, err = doWithRetry(ctx, u.client, buildReq, u.logger)
	} else {
		var req *http.Request
		if req, err = buildReq(); err != nil {
			return err
		}
		resp, err = u.client.Do(req)
	}
	if err != nil {
		return fmt.Errorf("upstash %s: %s", path, strings.ReplaceAll(err.Error(), u.token, "***"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("upstash %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstash %s: decode: %w", path, err)
	}
	return nil
}
