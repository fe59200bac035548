package domain

import (
	"context"
	"time"
)

// QueryRecord is the stored transcript of one processed query.
type QueryRecord struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer,omitempty"`
	Error     string    `json:"error,omitempty"`
	ToolCalls []string  `json:"tool_calls,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// TranscriptStore persists query transcripts. Transcripts are never fed back
// to the model.
type TranscriptStore interface {
	SaveQuery(ctx context.Context, rec QueryRecord) error
	RecentQueries(ctx context.Context, limit int) ([]QueryRecord, error)
	Close() error
}
