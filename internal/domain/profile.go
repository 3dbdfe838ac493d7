package domain

import (
	"context"
	"fmt"
	"strings"
)

// ProfileChunk is one retrievable unit of profile content.
type ProfileChunk struct {
	ID       string         `json:"id" yaml:"id"`
	Title    string         `json:"title" yaml:"title"`
	Content  string         `json:"content" yaml:"content"`
	Type     string         `json:"type" yaml:"type"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IndexMetadata is the flat metadata stored next to the chunk in an index.
func (c ProfileChunk) IndexMetadata() map[string]any {
	return map[string]any{
		"title":    c.Title,
		"content":  c.Content,
		"type":     c.Type,
		"category": metaString(c.Metadata, "category"),
		"tags":     metaString(c.Metadata, "tags"),
	}
}

// IndexText is the text that gets embedded for semantic search.
func (c ProfileChunk) IndexText() string {
	return c.Title + ": " + c.Content
}

// RetrievalResult is one ranked match returned by a retriever.
type RetrievalResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (r RetrievalResult) Title() string   { return metaString(r.Metadata, "title") }
func (r RetrievalResult) Content() string { return metaString(r.Metadata, "content") }
func (r RetrievalResult) Type() string    { return metaString(r.Metadata, "type") }

// Retriever is the vector retrieval collaborator. Results are ordered by
// descending score and never longer than topK.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, includeMetadata bool) ([]RetrievalResult, error)
}

// Indexer accepts profile chunks for later retrieval.
type Indexer interface {
	Name() string
	Upsert(ctx context.Context, chunks []ProfileChunk) error
}

func metaString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return "[" + strings.Join(t, ", ") + "]"
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(t)
	}
}
