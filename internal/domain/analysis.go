package domain

import (
	"encoding/json"
	"time"
)

// AnalysisKind names an analysis that can be run asynchronously.
type AnalysisKind string

// Analysis kinds.
const (
	AnalysisRFM      AnalysisKind = "rfm"
	AnalysisSegments AnalysisKind = "segments"
	AnalysisRules    AnalysisKind = "rules"
	AnalysisPolicy   AnalysisKind = "policy"
)

// Valid reports whether k is a known analysis kind.
func (k AnalysisKind) Valid() bool {
	switch k {
	case AnalysisRFM, AnalysisSegments, AnalysisRules, AnalysisPolicy:
		return true
	}
	return false
}

// Analysis run statuses.
const (
	RunPending   = "PENDING"
	RunSucceeded = "SUCCEEDED"
	RunFailed    = "FAILED"
)

// AnalysisRequest asks a worker to run one analysis on a dataset.
type AnalysisRequest struct {
	ID      string          `json:"id"`
	Dataset string          `json:"dataset"`
	Kind    AnalysisKind    `json:"kind"`
	Params  json.RawMessage `json:"params,omitempty"`
	TraceID string          `json:"traceId,omitempty"`
}

// AnalysisRun is the persisted record of an analysis.
type AnalysisRun struct {
	ID         string          `json:"id"`
	Dataset    string          `json:"dataset"`
	Kind       AnalysisKind    `json:"kind"`
	Status     string          `json:"status"`
	Params     json.RawMessage `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
