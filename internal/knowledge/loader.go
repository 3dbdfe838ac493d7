package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"digitaltwin/internal/domain"
)

// ErrUnsupportedFormat is returned for profile files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported profile format")

// profileDocument is the on-disk shape of a profile export.
type profileDocument struct {
	ContentChunks []domain.ProfileChunk `json:"content_chunks" yaml:"content_chunks"`
}

// LoadProfile reads profile chunks from a .json, .yaml/.yml or .html/.htm file.
// Chunks without an id or with blank content are dropped with a warning.
func LoadProfile(path string, logger *slog.Logger) ([]domain.ProfileChunk, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var chunks []domain.ProfileChunk
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		chunks, err = parseJSON(data)
	case ".yaml", ".yml":
		chunks, err = parseYAML(data)
	case ".html", ".htm":
		chunks, err = parseHTML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", filepath.Base(path), err)
	}

	valid := chunks[:0]
	for i, c := range chunks {
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			logger.Warn("skipping profile chunk without id", "index", i, "title", c.Title)
			continue
		}
		if strings.TrimSpace(c.Content) == "" {
			logger.Warn("skipping profile chunk with empty content", "id", c.ID)
			continue
		}
		valid = append(valid, c)
	}
	return valid, nil
}

func parseJSON(data []byte) ([]domain.ProfileChunk, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var chunks []domain.ProfileChunk
		if err := json.Unmarshal(data, &chunks); err != nil {
			return nil, err
		}
		return chunks, nil
	}
	var doc profileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.ContentChunks == nil {
		return nil, errors.New("no content_chunks found")
	}
	return doc.ContentChunks, nil
}

func parseYAML(data []byte) ([]domain.ProfileChunk, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var chunks []domain.ProfileChunk
		if err := node.Decode(&chunks); err != nil {
			return nil, err
		}
		return chunks, nil
	}
	var doc profileDocument
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	if doc.ContentChunks == nil {
		return nil, errors.New("no content_chunks found")
	}
	return doc.ContentChunks, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// parseHTML turns each section or article that carries a heading into a chunk.
func parseHTML(data []byte) ([]domain.ProfileChunk, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}

	var chunks []domain.ProfileChunk
	doc.Find("section, article").Each(func(_ int, s *goquery.Selection) {
		heading := s.Find("h1, h2, h3").First()
		if heading.Length() == 0 {
			return
		}
		title := strings.TrimSpace(whitespace.ReplaceAllString(heading.Text(), " "))

		body := s.Clone()
		body.Find("h1, h2, h3").First().Remove()
		body.Find("section, article, script, style").Remove()
		content := strings.TrimSpace(whitespace.ReplaceAllString(body.Text(), " "))

		id, _ := s.Attr("id")
		if id == "" {
			id = slug(title)
		}
		typ, ok := s.Attr("data-type")
		if !ok || typ == "" {
			typ = "section"
		}

		c := domain.ProfileChunk{ID: id, Title: title, Content: content, Type: typ}
		if cat, ok := s.Attr("data-category"); ok {
			c.Metadata = map[string]any{"category": cat}
		}
		chunks = append(chunks, c)
	})
	return chunks, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "_"), "_")
}
