package domain

import (
	"encoding/json"
	"time"
)

// PipelineRequest is the input of one question-to-answer run.
type PipelineRequest struct {
	Question      string `json:"question"`
	Enhanced      bool   `json:"enhanced"`
	InterviewType string `json:"interviewType,omitempty"`
}

// Source is a citation of a retrieved chunk. It never carries chunk content.
type Source struct {
	Title string  `json:"title"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

// StageDurations holds per-stage wall-clock times. JSON renders milliseconds.
type StageDurations struct {
	QueryEnhancement   time.Duration
	VectorSearch       time.Duration
	ResponseFormatting time.Duration
	Total              time.Duration
}

func (d StageDurations) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]int64{
		"queryEnhancement":   d.QueryEnhancement.Milliseconds(),
		"vectorSearch":       d.VectorSearch.Milliseconds(),
		"responseFormatting": d.ResponseFormatting.Milliseconds(),
		"total":              d.Total.Milliseconds(),
	})
}

func (d *StageDurations) UnmarshalJSON(data []byte) error {
	var ms map[string]int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	d.QueryEnhancement = time.Duration(ms["queryEnhancement"]) * time.Millisecond
	d.VectorSearch = time.Duration(ms["vectorSearch"]) * time.Millisecond
	d.ResponseFormatting = time.Duration(ms["responseFormatting"]) * time.Millisecond
	d.Total = time.Duration(ms["total"]) * time.Millisecond
	return nil
}

type PipelineMetadata struct {
	Enhanced      bool           `json:"enhanced"`
	InterviewType string         `json:"interviewType"`
	OriginalQuery string         `json:"originalQuery"`
	EnhancedQuery string         `json:"enhancedQuery,omitempty"` // empty only when enhancement was not requested
	Performance   StageDurations `json:"performance"`
	ResultsCount  int            `json:"resultsCount"`
	Cached        bool           `json:"cached,omitempty"`
	// Degraded marks a run where enhancement or formatting fell back.
	Degraded bool `json:"-"`
}

// PipelineResponse is the output of one run.
type PipelineResponse struct {
	Answer   string           `json:"answer"`
	Sources  []Source         `json:"sources"`
	Metadata PipelineMetadata `json:"metadata"`
}

// QueryRecord is what the query log persists for every answered request.
type QueryRecord struct {
	ID            string
	Question      string
	EnhancedQuery string
	InterviewType string
	ResultsCount  int
	AnswerLength  int
	Durations     StageDurations
	Cached        bool
	CreatedAt     time.Time
}
