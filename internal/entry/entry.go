// Package entry implements the Entry Calculator (spec.md §4.1), a pure
// function from (signal side, VPVR summary, config) to entry/TP/SL levels
// and the retry-entry ladder. Modeled on the teacher's pure, no-I/O
// calculators such as internal/risk/trailing_stop.go.
package entry

import (
	"github.com/lseng/topstep-bot-5.0-sub000/internal/symboltable"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/vpvr"
)

// Side is the position direction.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Levels is the output of the Entry Calculator: absent (zero Levels) for
// close actions.
type Levels struct {
	EntryPrice float64
	InitialSL  float64
	TP1        float64
	TP2        float64
	TP3        float64
}

// Params are the inputs beyond side and VPVR.
type Params struct {
	Symbol        string
	SLBufferTicks int
}

// Compute implements spec.md §4.1's entry/TP/SL rules.
func Compute(side Side, v vpvr.Summary, p Params) Levels {
	var l Levels
	switch side {
	case Long:
		l.EntryPrice = v.VAL
		l.TP1 = v.POC
		l.TP2 = v.VAH
		l.TP3 = v.RangeHigh
	case Short:
		l.EntryPrice = v.VAH
		l.TP1 = v.POC
		l.TP2 = v.VAL
		l.TP3 = v.RangeLow
	}
	l.InitialSL = initialSL(side, l.EntryPrice, l.TP1, p)
	return l
}

// SLFromFill mirrors Compute's stop-loss formula but anchors it at an actual
// fill price rather than the target entry (spec.md §4.1 "SL from fill price
// helper"), for use when a fill may have slipped from the limit price.
func SLFromFill(side Side, fillPrice, tp1 float64, p Params) float64 {
	return initialSL(side, fillPrice, tp1, p)
}

func initialSL(side Side, entryPrice, tp1 float64, p Params) float64 {
	if p.SLBufferTicks > 0 {
		tick := symboltable.TickSize(p.Symbol)
		buffer := float64(p.SLBufferTicks) * tick
		if side == Long {
			return entryPrice - buffer
		}
		return entryPrice + buffer
	}

	// Mirror the entry<->TP1 distance on the opposite side of entry. For a
	// long, tp1 sits above entry, so this lands below; for a short, tp1
	// (POC) sits below entry (VAH), so dist is negative and this lands
	// above. Same formula serves both sides.
	dist := tp1 - entryPrice
	return entryPrice - dist
}

// RetryLadder computes the precomputed fallback entry-price sequence for a
// side and VPVR per spec.md §4.1. Index 0 is always the original VPVR-derived
// entry; indices >= 3 repeat index 2.
func RetryLadder(side Side, v vpvr.Summary) []float64 {
	switch side {
	case Long:
		idx2 := v.RangeLow - (v.VAL - v.RangeLow)
		return []float64{v.VAL, v.RangeLow, idx2}
	case Short:
		idx2 := v.RangeHigh + (v.RangeHigh - v.VAH)
		return []float64{v.VAH, v.RangeHigh, idx2}
	default:
		return nil
	}
}

// RetryPrice returns the ladder price for attempt index attempt, clamping to
// the last precomputed rung (index >= 3 repeats index 2) per spec.md §4.1.
func RetryPrice(ladder []float64, attempt int) float64 {
	if len(ladder) == 0 {
		return 0
	}
	if attempt >= len(ladder) {
		attempt = len(ladder) - 1
	}
	if attempt < 0 {
		attempt = 0
	}
	return ladder[attempt]
}
