package position

// Intent is a sealed sum type: every state-machine handler returns a slice
// of Intents instead of calling out to the broker, the write queue, or a
// logger directly (spec.md §9 REDESIGN FLAGS — replacing the teacher's
// event-emitter/callback style in internal/trading/bot.go with explicit
// return values the orchestrator interprets).
type Intent interface {
	intentKind() string
}

// PlaceOrderIntent asks the orchestrator to submit a market or limit order
// through the Brokerage Adapter.
type PlaceOrderIntent struct {
	PositionID string
	Symbol     string
	AccountID  string
	ContractID string
	Side       string // "buy" or "sell"
	Quantity   int
	OrderType  string // "market" or "limit"
	LimitPrice *float64
	Tag        string // correlates the eventual fill back to PositionID
}

func (PlaceOrderIntent) intentKind() string { return "place_order" }

// CancelOrderIntent asks the orchestrator to cancel a resting order.
type CancelOrderIntent struct {
	OrderID   string
	AccountID string
	Reason    string
}

func (CancelOrderIntent) intentKind() string { return "cancel_order" }

// ClosePositionIntent asks the orchestrator to submit a market order that
// flattens a live position.
type ClosePositionIntent struct {
	PositionID string
	Symbol     string
	AccountID  string
	ContractID string
	Side       string // the closing side: opposite of the position's side
	Quantity   int
	Reason     string
}

func (ClosePositionIntent) intentKind() string { return "close_position" }

// RetryEntryIntent asks the Retry Coordinator to place the stepped/fallback
// limit order pair for a stopped-out position (spec.md §4.3, §4.5): two
// distinct limit prices, placed concurrently, the first fill cancels the
// other.
type RetryEntryIntent struct {
	PositionID    string
	Symbol        string
	AccountID     string
	ContractID    string
	Side          string
	Quantity      int
	SteppedPrice  float64
	FallbackPrice float64
	Attempt       int
}

func (RetryEntryIntent) intentKind() string { return "retry_entry" }

// StateChangeIntent asks the Write Queue to mark a position dirty for the
// next flush. It carries a value snapshot, never a pointer, so the queue
// cannot observe (or race with) further machine mutations.
type StateChangeIntent struct {
	Position Position
}

func (StateChangeIntent) intentKind() string { return "state_change" }

// PositionClosedIntent asks the Write Queue to insert a completed trade
// immediately (spec.md §4.7 — trade-log inserts are not batched).
type PositionClosedIntent struct {
	Trade TradeResult
}

func (PositionClosedIntent) intentKind() string { return "position_closed" }

// CapacityExceededIntent reports a rejected alert for observability; no
// order is placed (spec.md §4.4).
type CapacityExceededIntent struct {
	Symbol    string
	AccountID string
	Current   int
	Required  int
	Max       int
}

func (CapacityExceededIntent) intentKind() string { return "capacity_exceeded" }

// AlertDroppedIntent reports an alert that was discarded without acting on
// it (missing VPVR, or a same-side alert on an already open position).
type AlertDroppedIntent struct {
	AlertID string
	Symbol  string
	Reason  string
}

func (AlertDroppedIntent) intentKind() string { return "alert_dropped" }
