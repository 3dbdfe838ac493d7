// Package interview maps interview-type tags to the directive that steers
// the tone and focus of a generated answer.
package interview

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Type is an interview-type tag.
type Type string

const (
	Technical     Type = "technical"
	Behavioral    Type = "behavioral"
	Screening     Type = "screening"
	HiringManager Type = "hiring_manager"
	Executive     Type = "executive"
)

var builtin = map[Type]string{
	Technical:     "This is a technical interview. Focus on: technical skills, problem-solving, architecture decisions, code quality, and specific technologies used.",
	Behavioral:    "This is a behavioral interview. Focus on: leadership, teamwork, communication, conflict resolution, and STAR format stories with emotional intelligence.",
	Screening:     "This is an initial HR/recruiter screening. Focus on: cultural fit, basic qualifications, salary expectations, availability, and motivation.",
	Executive:     "This is an executive/leadership interview. Focus on: strategic thinking, business impact, vision, leadership philosophy, and high-level achievements.",
	HiringManager: "This is a hiring manager interview. Focus on: role-specific responsibilities, team collaboration, project delivery, and how you handle challenges.",
}

// Registry is an immutable tag → directive table. Safe for concurrent use.
type Registry struct {
	directives map[Type]string
}

// NewRegistry returns a registry holding the built-in directives.
func NewRegistry() *Registry {
	d := make(map[Type]string, len(builtin))
	for k, v := range builtin {
		d[k] = v
	}
	return &Registry{directives: d}
}

// LoadRegistry reads directive overrides from a YAML map of tag → text.
// Unknown tags are ignored with a warning; the set of tags never grows.
// An empty path yields the built-in registry.
func LoadRegistry(path string, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interview contexts: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse interview contexts %s: %w", path, err)
	}

	for tag, text := range overrides {
		t := Type(tag)
		if _, ok := r.directives[t]; !ok {
			logger.Warn("ignoring unknown interview type", "type", tag, "path", path)
			continue
		}
		if text == "" {
			continue
		}
		r.directives[t] = text
	}
	logger.Debug("loaded interview contexts", "path", path, "overrides", len(overrides))
	return r, nil
}

// Resolve returns the directive for tag. Unknown or empty tags resolve to ("", false).
func (r *Registry) Resolve(tag string) (string, bool) {
	if tag == "" {
		return "", false
	}
	d, ok := r.directives[Type(tag)]
	return d, ok
}

// Types lists the known tags in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.directives))
	for t := range r.directives {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}
