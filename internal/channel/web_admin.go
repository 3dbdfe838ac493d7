package channel

import (
	"net/http"
	"strconv"

	"digitaltwin/internal/config"
)

// handleGetConfig returns the running config with secrets masked.
func (w *Web) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	if w.cfg == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "config not loaded"})
		return
	}
	writeJSON(rw, http.StatusOK, config.Sanitize(w.cfg))
}

type queryView struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	EnhancedQuery string `json:"enhancedQuery,omitempty"`
	InterviewType string `json:"interviewType"`
	ResultsCount  int    `json:"resultsCount"`
	AnswerLength  int    `json:"answerLength"`
	TotalMs       int64  `json:"totalMs"`
	Cached        bool   `json:"cached"`
	CreatedAt     string `json:"createdAt"`
}

// handleQueries lists the most recent query log entries (?limit=N, default 20).
func (w *Web) handleQueries(rw http.ResponseWriter, r *http.Request) {
	if w.queries == nil {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "query log disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	recs, err := w.queries.RecentQueries(r.Context(), limit)
	if err != nil {
		w.logger.Error("list queries failed", "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": internalError})
		return
	}
	out := make([]queryView, 0, len(recs))
	for _, q := range recs {
		out = append(out, queryView{
			ID:            q.ID,
			Question:      q.Question,
			EnhancedQuery: q.EnhancedQuery,
			InterviewType: q.InterviewType,
			ResultsCount:  q.ResultsCount,
			AnswerLength:  q.AnswerLength,
			TotalMs:       q.Durations.Total.Milliseconds(),
			Cached:        q.Cached,
			CreatedAt:     q.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"queries": out})
}
