// Package alert defines the Alert Record (spec.md §3) and the abstraction
// over its external source. Populating the store behind that source (the
// HTTP webhook receiver) is out of scope (spec.md §1) — this package only
// consumes a stream of already-persisted alerts.
package alert

import "time"

// Action is the signal action carried by an alert.
type Action string

const (
	ActionBuy        Action = "buy"
	ActionSell       Action = "sell"
	ActionClose      Action = "close"
	ActionCloseLong  Action = "close_long"
	ActionCloseShort Action = "close_short"
)

// IsClose reports whether the action is one of the close variants.
func (a Action) IsClose() bool {
	switch a {
	case ActionClose, ActionCloseLong, ActionCloseShort:
		return true
	default:
		return false
	}
}

// TPLadder is the optional raw-source-provided TP/SL override (spec.md §3).
type TPLadder struct {
	TP1      float64
	TP2      float64
	TP3      float64
	StopLoss *float64
}

// Alert is one inbound signal event.
type Alert struct {
	ID                string
	Timestamp         time.Time
	Symbol            string
	Action            Action
	Quantity          *int
	StrategyTag       string
	SFXLevels         *TPLadder
	ConfirmationScore *float64
}
