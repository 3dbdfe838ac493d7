// Package security screens questions on the way in and redacts answers on the way out.
package security

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"digitaltwin/internal/config"
	"digitaltwin/internal/metrics"
)

const (
	defaultMaxQuestionLength = 500
	redacted                 = "[REDACTED]"
)

// Guard implements input sanitation, malicious-input screening and answer redaction.
type Guard struct {
	maxLen   int
	blockRe  []*regexp.Regexp
	redactRe []*regexp.Regexp
	secrets  []string
	logger   *slog.Logger
}

// Verdict is the outcome of inspecting one question.
type Verdict struct {
	Question string // sanitized question
	Blocked  bool
	Pattern  string // block pattern that matched, if any
}

// NewGuard compiles the configured patterns. Secrets are literal values
// (API keys, tokens) that must never appear in an answer.
func NewGuard(cfg config.SecurityConfig, secrets []string, logger *slog.Logger) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{maxLen: cfg.MaxQuestionLength, logger: logger}
	if g.maxLen <= 0 {
		g.maxLen = defaultMaxQuestionLength
	}

	var err error
	g.blockRe, err = compilePatterns(cfg.BlockPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid block pattern: %w", err)
	}
	g.redactRe, err = compilePatterns(cfg.RedactPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid redact pattern: %w", err)
	}

	for _, s := range secrets {
		// very short values would shred ordinary words
		if len(s) >= 6 {
			g.secrets = append(g.secrets, s)
		}
	}
	return g, nil
}

// Sanitize trims the question, caps it to the maximum length in runes and
// removes angle brackets.
func (g *Guard) Sanitize(question string) string {
	s := strings.TrimSpace(question)
	if utf8.RuneCountInString(s) > g.maxLen {
		s = string([]rune(s)[:g.maxLen])
	}
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	return strings.TrimSpace(s)
}

// Inspect sanitizes the question and screens it. Patterns run against the
// trimmed raw text so markup removed by sanitation is still seen.
func (g *Guard) Inspect(question string) Verdict {
	v := Verdict{Question: g.Sanitize(question)}
	raw := strings.TrimSpace(question)
	for _, re := range g.blockRe {
		if re.MatchString(raw) || re.MatchString(v.Question) {
			v.Blocked = true
			v.Pattern = re.String()
			metrics.GuardBlocks.Inc()
			g.logger.Warn("question BLOCKED by guard", "pattern", v.Pattern, "length", len(raw))
			return v
		}
	}
	return v
}

// Redact replaces sensitive phrases and configured secrets in an answer.
func (g *Guard) Redact(answer string) string {
	for _, s := range g.secrets {
		answer = strings.ReplaceAll(answer, s, redacted)
	}
	for _, re := range g.redactRe {
		answer = re.ReplaceAllString(answer, redacted)
	}
	return answer
}

// Simple strings are converted to case-insensitive substring patterns.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		var re *regexp.Regexp
		var err error
		if isRegex(p) {
			re, err = regexp.Compile(p)
		} else {
			re, err = regexp.Compile(`(?i)` + regexp.QuoteMeta(p))
		}
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func isRegex(s string) bool {
	return strings.ContainsAny(s, `()[]{}|^$.*+?\`)
}
