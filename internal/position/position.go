// Package position implements the Managed Position data model and the
// per-account Position State Machine (spec.md §3, §4.3 — Component C). The
// machine owns its symbol-keyed position map exclusively; it communicates
// with the rest of the engine only through the Intent values its handlers
// return (spec.md §9's "event-emitter" redesign flag), never by exposing
// position pointers.
package position

import (
	"time"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/entry"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/trailing"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/vpvr"
)

// State re-exports the trailing evaluator's state enum: the Position State
// Machine and the pure evaluator share one vocabulary of states.
type State = trailing.State

const (
	PendingEntry = trailing.PendingEntry
	Active       = trailing.Active
	TP1Hit       = trailing.TP1Hit
	TP2Hit       = trailing.TP2Hit
	TP3Hit       = trailing.TP3Hit
	PendingRetry = trailing.PendingRetry
	Closed       = trailing.Closed
	Cancelled    = trailing.Cancelled
)

// IsTerminal reports whether s is closed or cancelled.
func IsTerminal(s State) bool {
	return s == Closed || s == Cancelled
}

// HighestTP maps a position's pre-close state to the highest take-profit
// level reached, for TradeResult.HighestTPHit.
func HighestTP(s State) string {
	switch s {
	case TP1Hit:
		return "tp1"
	case TP2Hit:
		return "tp2"
	case TP3Hit:
		return "tp3"
	default:
		return "none"
	}
}

// Position is one managed position: at most one non-terminal instance
// exists per (account, symbol) at any time (spec.md §3 invariant 1).
type Position struct {
	ID              string
	AlertID         string
	OriginalAlertID string
	Symbol          string
	Side            entry.Side
	State           State

	TargetEntryPrice float64
	FillPrice        *float64
	Quantity         int
	ContractID       string
	AccountID        string

	CurrentSL float64
	InitialSL float64
	TP1, TP2, TP3 float64

	LastPrice     float64
	UnrealizedPnL float64

	VPVR              vpvr.Summary
	ConfirmationScore *float64
	LLMReasoning      string
	LLMConfidence     *float64

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	ExitPrice  *float64
	ExitReason string

	RetryCount       int
	MaxRetries       int
	RetryEntryLevels []float64

	StrategyTag   string
	SLBufferTicks int

	EntryOrderID string

	Dirty bool
}

// TradeResult is the persisted output of a closed (ever-filled) leg
// (spec.md §3).
type TradeResult struct {
	PositionID      string
	AlertID         string
	OriginalAlertID string
	Symbol          string
	Side            entry.Side

	EntryPrice float64
	EntryTime  time.Time
	ExitPrice  float64
	ExitTime   time.Time
	ExitReason string

	Quantity int

	GrossPnL float64
	Fees     float64
	NetPnL   float64

	VPVRPOC float64
	VPVRVAH float64
	VPVRVAL float64

	HighestTPHit string
	RetryCount   int

	ConfirmationScore *float64
	LLMReasoning      string
}
