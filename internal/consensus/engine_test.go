package consensus

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"agrocycle/internal/outcome"
)

func newTestEngine() *Engine {
	return &Engine{DeadZone: 0.05, MinValidVotes: 1}
}

var testWeights = map[string]float64{
	"momentum":       1.0,
	"mean_reversion": 0.5,
	"volatility":     2.0,
	"contrarian":     1.0,
}

func TestStableHashFixture(t *testing.T) {
	if got := StableHash("abc", 7); got != 16802160604534561222 {
		t.Fatalf("StableHash(abc,7) = %d", got)
	}
	if got := StableHash("abc", 8); got != 17855991557820096775 {
		t.Fatalf("StableHash(abc,8) = %d", got)
	}
	o, err := TieBreak("abc", 7)
	if err != nil || o != outcome.Bad {
		t.Fatalf("TieBreak(abc,7) = %s (%v), want BAD", o, err)
	}
	o, err = TieBreak("abc", 8)
	if err != nil || o != outcome.Good {
		t.Fatalf("TieBreak(abc,8) = %s (%v), want GOOD", o, err)
	}
}

func TestCalculateDeadZoneUsesTieBreak(t *testing.T) {
	e := newTestEngine()
	votes := []Vote{
		{SourceID: "momentum", Prediction: outcome.Good, Confidence: 0.515},
		{SourceID: "contrarian", Prediction: outcome.Bad, Confidence: 0.485},
	}
	res, err := e.Calculate(votes, testWeights, 7, "abc")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if math.Abs(res.Score-0.03) > 1e-9 {
		t.Fatalf("score = %v, want 0.03", res.Score)
	}
	if !res.TieBreakApplied || res.Outcome != outcome.Bad {
		t.Fatalf("expected tie-break BAD, got %+v", res)
	}

	again, err := e.Calculate(votes, testWeights, 7, "abc")
	if err != nil || !reflect.DeepEqual(res, again) {
		t.Fatalf("tie-break not deterministic: %+v vs %+v (%v)", res, again, err)
	}
}

func TestCalculateDeadZoneWithoutSeed(t *testing.T) {
	e := newTestEngine()
	votes := []Vote{
		{SourceID: "momentum", Prediction: outcome.Good, Confidence: 0.5},
		{SourceID: "contrarian", Prediction: outcome.Bad, Confidence: 0.5},
	}
	res, err := e.Calculate(votes, testWeights, 3, "")
	if !errors.Is(err, ErrTieBreakUnavailable) {
		t.Fatalf("expected ErrTieBreakUnavailable, got %v", err)
	}
	if res.Outcome != "" || res.Score != 0 {
		t.Fatalf("no outcome expected, got %+v", res)
	}
}

func TestCalculateOrderIndependent(t *testing.T) {
	e := newTestEngine()
	votes := []Vote{
		{SourceID: "momentum", Prediction: outcome.Good, Confidence: 0.8},
		{SourceID: "volatility", Prediction: outcome.Bad, Confidence: 0.3},
		{SourceID: "mean_reversion", Prediction: outcome.Good, Confidence: 0.6},
		{SourceID: "contrarian", Prediction: outcome.Bad, Confidence: 0.9},
		{SourceID: "momentum", Prediction: outcome.Bad, Confidence: 0.2},
	}
	want, err := e.Calculate(votes, testWeights, 11, "seed")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	reversed := make([]Vote, len(votes))
	for i, v := range votes {
		reversed[len(votes)-1-i] = v
	}
	got, err := e.Calculate(reversed, testWeights, 11, "seed")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("order dependent result:\n%+v\n%+v", want, got)
	}
	if len(want.Dropped) != 1 || want.Dropped[0].Reason != "duplicate vote" {
		t.Fatalf("expected one duplicate drop, got %+v", want.Dropped)
	}
}

func TestCalculateWeightsAndClamping(t *testing.T) {
	e := newTestEngine()
	votes := []Vote{
		{SourceID: "volatility", Prediction: outcome.Good, Confidence: 1.7},
		{SourceID: "momentum", Prediction: outcome.Bad, Confidence: 0.01},
	}
	res, err := e.Calculate(votes, testWeights, 1, "s")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// GOOD: 1.0*2.0, BAD: 0.1*1.0 => (2-0.1)/(2+0.1)
	want := 1.9 / 2.1
	if math.Abs(res.Score-want) > 1e-12 || res.Outcome != outcome.Good || res.TieBreakApplied {
		t.Fatalf("got %+v, want score %v GOOD", res, want)
	}
	for _, v := range res.Votes {
		if v.Confidence < MinConfidence || v.Confidence > MaxConfidence {
			t.Fatalf("confidence not clamped: %+v", v)
		}
	}
}

func TestCalculateDropsUnknownAndInactive(t *testing.T) {
	e := newTestEngine()
	weights := map[string]float64{"momentum": 1, "breadth": 0}
	votes := []Vote{
		{SourceID: "momentum", Prediction: outcome.Bad, Confidence: 0.7},
		{SourceID: "breadth", Prediction: outcome.Good, Confidence: 1},
		{SourceID: "rogue", Prediction: outcome.Good, Confidence: 1},
		{SourceID: "momentum2", Prediction: "MAYBE", Confidence: 1},
	}
	weights["momentum2"] = 1
	res, err := e.Calculate(votes, weights, 2, "s")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.ValidVotes() != 1 || len(res.Dropped) != 3 {
		t.Fatalf("expected 1 valid and 3 dropped, got %+v", res)
	}
	if res.Score != -1 || res.Outcome != outcome.Bad {
		t.Fatalf("got %+v", res)
	}
}

func TestCalculateInsufficientSignal(t *testing.T) {
	e := newTestEngine()
	_, err := e.Calculate(nil, testWeights, 1, "s")
	var ise *InsufficientSignalError
	if !errors.As(err, &ise) || !errors.Is(err, ErrInsufficientSignal) {
		t.Fatalf("expected InsufficientSignalError, got %v", err)
	}

	e.MinValidVotes = 3
	votes := []Vote{
		{SourceID: "momentum", Prediction: outcome.Good, Confidence: 0.9},
		{SourceID: "volatility", Prediction: outcome.Good, Confidence: 0.9},
	}
	_, err = e.Calculate(votes, testWeights, 1, "s")
	if !errors.As(err, &ise) || ise.Valid != 2 || ise.Required != 3 {
		t.Fatalf("expected valid=2 required=3, got %v", err)
	}
}

func TestResolveWeights(t *testing.T) {
	got := ResolveWeights([]string{"a", "b"}, map[string]float64{"b": 0.25, "z": 9}, 1)
	want := map[string]float64{"a": 1, "b": 0.25}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
