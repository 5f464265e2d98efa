// Package trailing implements the Trailing Stop Evaluator (spec.md §4.2), a
// pure function from a position snapshot and the current price to an
// optional state transition, optional new stop loss, and close decision.
//
// Adapted from the teacher's internal/risk/trailing_stop.go
// (TrailingStopManager.updateLongPosition/updateShortPosition), generalized
// from percent-based trailing to the TP1/TP2/TP3 ladder this engine trails
// against, and made pure: no map, no mutex, no owned state. The owning
// Position State Machine (internal/position) holds the state this package
// only reads and proposes transitions for.
package trailing

import "github.com/lseng/topstep-bot-5.0-sub000/internal/entry"

// State mirrors the subset of position.State this package needs to reason
// about, duplicated here (rather than imported) to keep this package free of
// a dependency on internal/position — the position package imports this one.
type State string

const (
	PendingEntry State = "pending_entry"
	Active       State = "active"
	TP1Hit       State = "tp1_hit"
	TP2Hit       State = "tp2_hit"
	TP3Hit       State = "tp3_hit"
	PendingRetry State = "pending_retry"
	Closed       State = "closed"
	Cancelled    State = "cancelled"
)

// Input is a position snapshot plus the current price.
type Input struct {
	Side       entry.Side
	State      State
	EntryPrice float64
	CurrentSL  float64
	TP1, TP2, TP3 float64
	CurrentPrice  float64
}

// Result is the evaluator's decision.
type Result struct {
	NewState     State  // zero value means "no state change"
	StateChanged bool
	NewSL        float64
	SLChanged    bool
	ShouldClose  bool
	CloseReason  string
}

// Evaluate implements spec.md §4.2. SL breach takes priority over any TP
// transition; ties (breach and TP hit on the same tick) resolve to the
// breach.
func Evaluate(in Input) Result {
	switch in.State {
	case PendingEntry, PendingRetry, Closed, Cancelled:
		return Result{}
	}

	if breached(in) {
		return Result{
			ShouldClose: true,
			CloseReason: "sl_hit_from_" + string(in.State),
		}
	}

	switch in.State {
	case Active:
		if reached(in.Side, in.CurrentPrice, in.TP1) {
			return Result{NewState: TP1Hit, StateChanged: true, NewSL: in.EntryPrice, SLChanged: true}
		}
	case TP1Hit:
		if reached(in.Side, in.CurrentPrice, in.TP2) {
			return Result{NewState: TP2Hit, StateChanged: true, NewSL: in.TP1, SLChanged: true}
		}
	case TP2Hit:
		if reached(in.Side, in.CurrentPrice, in.TP3) {
			return Result{NewState: TP3Hit, StateChanged: true, NewSL: in.TP2, SLChanged: true}
		}
	case TP3Hit:
		gap := absf(in.TP3 - in.TP2)
		if in.Side == entry.Long {
			newSL := in.CurrentPrice - gap
			if newSL > in.CurrentSL {
				return Result{NewSL: newSL, SLChanged: true}
			}
		} else {
			newSL := in.CurrentPrice + gap
			if newSL < in.CurrentSL {
				return Result{NewSL: newSL, SLChanged: true}
			}
		}
	}
	return Result{}
}

func breached(in Input) bool {
	if in.Side == entry.Long {
		return in.CurrentPrice <= in.CurrentSL
	}
	return in.CurrentPrice >= in.CurrentSL
}

// reached reports whether price has reached a take-profit target: >= for
// longs, <= for shorts (spec.md §4.2 "TP checks are greater-or-equal for
// longs, less-or-equal for shorts").
func reached(side entry.Side, price, target float64) bool {
	if side == entry.Long {
		return price >= target
	}
	return price <= target
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
