// Package signal supplies the inputs a cycle resolves from: heuristic vote
// sources, the oracle price snapshot they read and the real-weather scorer.
package signal

import (
	"context"
	"time"

	"agrocycle/internal/outcome"
)

// Analysis is one source's verdict on a snapshot.
type Analysis struct {
	Prediction outcome.Outcome `json:"prediction"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// VoteSource produces a vote from an oracle snapshot. Implementations must be
// pure with respect to the snapshot and return within the collector timeout.
type VoteSource interface {
	ID() string
	Analyze(ctx context.Context, snap OracleSnapshot) (Analysis, error)
}

type HealthStatus struct {
	Status     string
	LastPollAt *time.Time
	LastError  *string
}

type SourceInfo struct {
	SourceType string
	Endpoint   string
}

// SourceInfoProvider is implemented by sources that describe themselves for
// the signal_sources registry.
type SourceInfoProvider interface {
	SourceInfo() SourceInfo
}
