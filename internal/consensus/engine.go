// Package consensus combines weighted source votes into a deterministic
// outcome.
package consensus

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"agrocycle/internal/config"
	"agrocycle/internal/outcome"
)

const (
	MinConfidence   = 0.1
	MaxConfidence   = 1.0
	DefaultDeadZone = 0.05
)

// Vote is one source's prediction for a cycle.
type Vote struct {
	SourceID   string          `json:"source_id"`
	Prediction outcome.Outcome `json:"prediction"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning,omitempty"`
}

// CountedVote is a vote that contributed to the score, with its effective
// confidence and weight.
type CountedVote struct {
	Vote
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

type DroppedVote struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

type Result struct {
	CycleID         int64           `json:"cycle_id"`
	Score           float64         `json:"consensus_score"`
	Outcome         outcome.Outcome `json:"outcome"`
	TieBreakApplied bool            `json:"tie_break_applied"`
	Votes           []CountedVote   `json:"votes"`
	Dropped         []DroppedVote   `json:"dropped,omitempty"`
}

func (r Result) ValidVotes() int { return len(r.Votes) }

type Engine struct {
	DeadZone      float64
	MinValidVotes int
	Logger        *zap.Logger
}

func NewEngine(cfg config.ConsensusConfig, logger *zap.Logger) *Engine {
	return &Engine{DeadZone: cfg.DeadZone, MinValidVotes: cfg.MinValidVotes, Logger: logger}
}

// Calculate is a pure function of its inputs: vote order does not matter and
// identical inputs always yield an identical result.
//
// Votes from sources without a positive weight are dropped with a warning.
// When the score falls in the dead zone the outcome comes from TieBreak; with
// no seed, the score is still returned alongside ErrTieBreakUnavailable.
func (e *Engine) Calculate(votes []Vote, weights map[string]float64, cycleID int64, seed string) (Result, error) {
	res := Result{CycleID: cycleID}

	sorted := make([]Vote, len(votes))
	copy(sorted, votes)
	sort.Slice(sorted, func(i, j int) bool { return voteLess(sorted[i], sorted[j]) })

	var weightedSum, totalWeight float64
	seen := make(map[string]struct{}, len(sorted))
	for _, v := range sorted {
		if _, dup := seen[v.SourceID]; dup {
			res.Dropped = append(res.Dropped, DroppedVote{SourceID: v.SourceID, Reason: "duplicate vote"})
			continue
		}
		seen[v.SourceID] = struct{}{}

		w, ok := weights[v.SourceID]
		switch {
		case !ok:
			res.Dropped = append(res.Dropped, DroppedVote{SourceID: v.SourceID, Reason: "unknown source"})
			continue
		case !(w > 0) || math.IsInf(w, 0):
			res.Dropped = append(res.Dropped, DroppedVote{SourceID: v.SourceID, Reason: "inactive source"})
			continue
		case !v.Prediction.Valid():
			res.Dropped = append(res.Dropped, DroppedVote{SourceID: v.SourceID, Reason: "invalid prediction"})
			continue
		case math.IsNaN(v.Confidence):
			res.Dropped = append(res.Dropped, DroppedVote{SourceID: v.SourceID, Reason: "invalid confidence"})
			continue
		}

		conf := clamp(v.Confidence, MinConfidence, MaxConfidence)
		contribution := v.Prediction.Sign() * conf * w
		weightedSum += contribution
		totalWeight += conf * w

		cv := CountedVote{Vote: v, Weight: w, Contribution: contribution}
		cv.Confidence = conf
		res.Votes = append(res.Votes, cv)
	}

	e.logDropped(cycleID, res.Dropped)

	required := e.MinValidVotes
	if required < 1 {
		required = 1
	}
	if totalWeight == 0 {
		return res, &InsufficientSignalError{Valid: len(res.Votes), Required: required, Reason: "total weight is zero"}
	}
	if len(res.Votes) < required {
		return res, &InsufficientSignalError{Valid: len(res.Votes), Required: required}
	}

	res.Score = clamp(weightedSum/totalWeight, -1, 1)
	dz := e.DeadZone
	if dz <= 0 {
		dz = DefaultDeadZone
	}
	switch {
	case res.Score > dz:
		res.Outcome = outcome.Good
	case res.Score < -dz:
		res.Outcome = outcome.Bad
	default:
		o, err := TieBreak(seed, cycleID)
		if err != nil {
			return res, err
		}
		res.Outcome = o
		res.TieBreakApplied = true
	}
	return res, nil
}

func (e *Engine) logDropped(cycleID int64, dropped []DroppedVote) {
	if e.Logger == nil {
		return
	}
	for _, d := range dropped {
		e.Logger.Warn("vote dropped",
			zap.Int64("cycle_id", cycleID),
			zap.String("source_id", d.SourceID),
			zap.String("reason", d.Reason),
		)
	}
}

// ResolveWeights builds the weight table for the given source ids. Sources
// missing from overrides get def.
func ResolveWeights(ids []string, overrides map[string]float64, def float64) map[string]float64 {
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		if w, ok := overrides[id]; ok {
			out[id] = w
			continue
		}
		out[id] = def
	}
	return out
}

// voteLess orders by source id, then by content, so duplicate resolution does
// not depend on input order.
func voteLess(a, b Vote) bool {
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	if a.Prediction != b.Prediction {
		return a.Prediction < b.Prediction
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Reasoning < b.Reasoning
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
