package cycle

import (
	"errors"
	"fmt"
	"strings"

	"agrocycle/internal/config"
)

type Phase string

const (
	PhasePlanting  Phase = "PLANTING"
	PhaseWorking   Phase = "WORKING"
	PhaseRevealing Phase = "REVEALING"
	PhaseSettling  Phase = "SETTLING"
)

var phaseOrder = [4]Phase{PhasePlanting, PhaseWorking, PhaseRevealing, PhaseSettling}

// Index is the position of p in the cycle, or -1.
func (p Phase) Index() int {
	for i, v := range phaseOrder {
		if v == p {
			return i
		}
	}
	return -1
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	if p.Index() < 0 {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

var ErrBeforeStart = errors.New("block precedes the first cycle")

// Params is the fixed phase layout. PhaseLengths are in blocks, in phase order.
type Params struct {
	StartBlock   int64
	CycleLength  int64
	PhaseLengths [4]int64
}

func ParamsFromConfig(cfg config.CycleConfig) (Params, error) {
	if err := cfg.Validate(); err != nil {
		return Params{}, err
	}
	p := Params{StartBlock: cfg.StartBlock, CycleLength: cfg.CycleLength}
	copy(p.PhaseLengths[:], cfg.PhaseLengths)
	return p, nil
}

func (p Params) thresholds() [4]int64 {
	var t [4]int64
	var acc int64
	for i, l := range p.PhaseLengths {
		acc += l
		t[i] = acc
	}
	return t
}

// SettlingInfo describes the previous cycle while its SETTLING phase overlaps
// the current cycle's first blocks.
type SettlingInfo struct {
	CycleID       int64   `json:"cycle_id"`
	PhaseProgress float64 `json:"phase_progress"`
}

// Info is the derived position of a block within the cycle schedule.
type Info struct {
	Block           int64         `json:"block"`
	CycleID         int64         `json:"cycle_id"`
	StartBlock      int64         `json:"start_block"`
	EndBlock        int64         `json:"end_block"`
	Phase           Phase         `json:"phase"`
	PhaseProgress   float64       `json:"phase_progress"`
	PhaseStartBlock int64         `json:"phase_start_block"`
	PhaseEndBlock   int64         `json:"phase_end_block"`
	Settling        *SettlingInfo `json:"settling,omitempty"`
}

// CurrentCycle derives the cycle and phase for block. It is a pure function of
// its inputs; nothing about a phase is ever stored.
func CurrentCycle(block int64, p Params) (Info, error) {
	if p.CycleLength <= 0 {
		return Info{}, fmt.Errorf("cycle length must be positive, got %d", p.CycleLength)
	}
	if block < p.StartBlock {
		return Info{}, ErrBeforeStart
	}
	elapsed := block - p.StartBlock
	cycleID := elapsed / p.CycleLength
	offset := elapsed % p.CycleLength
	start := p.StartBlock + cycleID*p.CycleLength

	t := p.thresholds()
	info := Info{
		Block:      block,
		CycleID:    cycleID,
		StartBlock: start,
		EndBlock:   start + p.CycleLength - 1,
	}
	var lower int64
	for i, upper := range t {
		if offset < upper {
			info.Phase = phaseOrder[i]
			info.PhaseProgress = float64(offset-lower) / float64(p.PhaseLengths[i])
			info.PhaseStartBlock = start + lower
			info.PhaseEndBlock = start + upper - 1
			break
		}
		lower = upper
	}
	if info.Phase == "" {
		return Info{}, fmt.Errorf("phase lengths %v do not cover offset %d", p.PhaseLengths, offset)
	}

	if cycleID > 0 {
		prevOffset := offset + p.CycleLength
		if prevOffset >= t[2] && prevOffset < t[3] {
			info.Settling = &SettlingInfo{
				CycleID:       cycleID - 1,
				PhaseProgress: float64(prevOffset-t[2]) / float64(p.PhaseLengths[3]),
			}
		}
	}
	return info, nil
}

// Tracked maps every cycle with a live phase at this block to that phase.
func (i Info) Tracked() map[int64]Phase {
	out := map[int64]Phase{i.CycleID: i.Phase}
	if i.Settling != nil {
		out[i.Settling.CycleID] = PhaseSettling
	}
	return out
}

// Window is the set of phases in which wagers are accepted.
type Window []Phase

func ParseWindow(raw []string) (Window, error) {
	out := make(Window, 0, len(raw))
	for _, s := range raw {
		p, err := ParsePhase(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = Window{PhasePlanting}
	}
	return out, nil
}

func (w Window) Allows(p Phase) bool {
	for _, v := range w {
		if v == p {
			return true
		}
	}
	return false
}

// WagerEligible reports whether wagers for the current cycle are accepted at
// this block.
func (i Info) WagerEligible(w Window) bool {
	return w.Allows(i.Phase)
}
