package model

import "time"

// Download is one locally present model file, keyed by model and
// quantization. The gateway only reads this manifest; download
// orchestration lives outside this process.
type Download struct {
	ID           string    `db:"id" json:"id"`
	Model        string    `db:"model" json:"model"`
	Quantization string    `db:"quantization" json:"quantization"`
	Path         string    `db:"path" json:"path"`
	SizeBytes    int64     `db:"size_bytes" json:"size_bytes"`
	SHA256       string    `db:"sha256" json:"sha256,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// StatEvent is one completed gateway operation. Message content is
// never stored here.
type StatEvent struct {
	ID        string    `db:"id" json:"id"`
	Timestamp time.Time `db:"ts" json:"ts"`
	Backend   string    `db:"backend" json:"backend"`
	Model     string    `db:"model" json:"model"`
	Operation string    `db:"operation" json:"operation"` // chat, stream, vision, connect, configure, pull
	LatencyMS int64     `db:"latency_ms" json:"latency_ms"`
	Tokens    int       `db:"tokens" json:"tokens"`
	ErrorType string    `db:"error_type" json:"error_type,omitempty"` // empty on success
}

// StatsSummary aggregates stat events over a window.
type StatsSummary struct {
	Operations   int64   `db:"operations"`
	Errors       int64   `db:"errors"`
	TotalTokens  int64   `db:"total_tokens"`
	AvgLatencyMS float64 `db:"avg_latency_ms"`
}
