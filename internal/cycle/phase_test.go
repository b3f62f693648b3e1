package cycle

import (
	"errors"
	"testing"

	"agrocycle/internal/config"
)

func testParams() Params {
	return Params{StartBlock: 0, CycleLength: 10, PhaseLengths: [4]int64{6, 3, 1, 1}}
}

func TestCurrentCycleScenario(t *testing.T) {
	p := testParams()
	cases := []struct {
		block    int64
		cycleID  int64
		phase    Phase
		progress float64
		settling *int64
	}{
		{block: 0, cycleID: 0, phase: PhasePlanting, progress: 0},
		{block: 5, cycleID: 0, phase: PhasePlanting, progress: 5.0 / 6.0},
		{block: 6, cycleID: 0, phase: PhaseWorking, progress: 0},
		{block: 8, cycleID: 0, phase: PhaseWorking, progress: 2.0 / 3.0},
		{block: 9, cycleID: 0, phase: PhaseRevealing, progress: 0},
		{block: 10, cycleID: 1, phase: PhasePlanting, progress: 0, settling: ptr(int64(0))},
		{block: 11, cycleID: 1, phase: PhasePlanting, progress: 1.0 / 6.0},
	}
	for _, tc := range cases {
		info, err := CurrentCycle(tc.block, p)
		if err != nil {
			t.Fatalf("block %d: unexpected err: %v", tc.block, err)
		}
		if info.CycleID != tc.cycleID || info.Phase != tc.phase {
			t.Fatalf("block %d: got cycle=%d phase=%s, want cycle=%d phase=%s", tc.block, info.CycleID, info.Phase, tc.cycleID, tc.phase)
		}
		if info.PhaseProgress != tc.progress {
			t.Fatalf("block %d: progress=%v want %v", tc.block, info.PhaseProgress, tc.progress)
		}
		switch {
		case tc.settling == nil && info.Settling != nil:
			t.Fatalf("block %d: unexpected settling cycle %d", tc.block, info.Settling.CycleID)
		case tc.settling != nil && (info.Settling == nil || info.Settling.CycleID != *tc.settling):
			t.Fatalf("block %d: expected settling cycle %d, got %+v", tc.block, *tc.settling, info.Settling)
		}
	}
}

func TestCurrentCycleBounds(t *testing.T) {
	p := testParams()
	info, err := CurrentCycle(23, p)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if info.StartBlock != 20 || info.EndBlock != 29 {
		t.Fatalf("bounds = [%d,%d], want [20,29]", info.StartBlock, info.EndBlock)
	}
	if info.PhaseStartBlock != 20 || info.PhaseEndBlock != 25 {
		t.Fatalf("phase bounds = [%d,%d], want [20,25]", info.PhaseStartBlock, info.PhaseEndBlock)
	}
}

func TestCurrentCycleSettlingInsideCycle(t *testing.T) {
	p := Params{StartBlock: 100, CycleLength: 10, PhaseLengths: [4]int64{5, 3, 1, 1}}
	info, err := CurrentCycle(109, p)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if info.CycleID != 0 || info.Phase != PhaseSettling {
		t.Fatalf("got cycle=%d phase=%s", info.CycleID, info.Phase)
	}
	next, _ := CurrentCycle(110, p)
	if next.Settling != nil {
		t.Fatalf("no overlap expected, got %+v", next.Settling)
	}
}

func TestCurrentCycleDeterministic(t *testing.T) {
	p := testParams()
	for b := int64(0); b < 200; b++ {
		a, errA := CurrentCycle(b, p)
		c, errC := CurrentCycle(b, p)
		if errA != nil || errC != nil {
			t.Fatalf("block %d: %v %v", b, errA, errC)
		}
		if a.CycleID != c.CycleID || a.Phase != c.Phase || a.PhaseProgress != c.PhaseProgress {
			t.Fatalf("block %d: non-deterministic result", b)
		}
		if a.PhaseProgress < 0 || a.PhaseProgress >= 1 {
			t.Fatalf("block %d: progress %v out of [0,1)", b, a.PhaseProgress)
		}
	}
}

func TestCurrentCycleBeforeStart(t *testing.T) {
	p := testParams()
	p.StartBlock = 50
	if _, err := CurrentCycle(49, p); !errors.Is(err, ErrBeforeStart) {
		t.Fatalf("expected ErrBeforeStart, got %v", err)
	}
}

func TestParamsFromConfigRejectsBadLayout(t *testing.T) {
	bad := []config.CycleConfig{
		{CycleLength: 0, PhaseLengths: []int64{1, 1, 1, 1}},
		{CycleLength: 10, PhaseLengths: []int64{6, 3, 1}},
		{CycleLength: 10, PhaseLengths: []int64{6, 3, 0, 1}},
		{CycleLength: 10, PhaseLengths: []int64{6, 3, 2, 1}},
		{CycleLength: 10, PhaseLengths: []int64{5, 2, 1, 1}},
		{CycleLength: 10, PhaseLengths: []int64{2, 2, 2, 8}},
	}
	for i, cfg := range bad {
		if _, err := ParamsFromConfig(cfg); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, cfg)
		}
	}
	p, err := ParamsFromConfig(config.CycleConfig{StartBlock: 3, CycleLength: 10, PhaseLengths: []int64{6, 3, 1, 1}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if p.PhaseLengths != [4]int64{6, 3, 1, 1} || p.StartBlock != 3 {
		t.Fatalf("unexpected params %+v", p)
	}
}

func TestWindow(t *testing.T) {
	w, err := ParseWindow(nil)
	if err != nil || !w.Allows(PhasePlanting) || w.Allows(PhaseWorking) {
		t.Fatalf("default window should be PLANTING only, got %v (%v)", w, err)
	}
	w, err = ParseWindow([]string{"planting", " working "})
	if err != nil || !w.Allows(PhaseWorking) {
		t.Fatalf("got %v (%v)", w, err)
	}
	if _, err := ParseWindow([]string{"harvest"}); err == nil {
		t.Fatalf("expected error for unknown phase")
	}
}

func ptr[T any](v T) *T { return &v }
