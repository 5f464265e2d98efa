// Package brokerage defines the Brokerage Adapter boundary (spec.md §4.8 —
// Component H): the interface the orchestrator drives and the event types
// it receives back. Concrete adapters (internal/brokerage/paper being the
// bundled one) translate this vocabulary to and from one broker's wire
// protocol.
package brokerage

import (
	"context"
	"time"
)

// OrderRequest is a market or limit order submission (spec.md §6:
// placeLimit/marketClose are the only two shapes a brokerage exposes).
type OrderRequest struct {
	AccountID  string
	ContractID string
	Side       string // "buy" or "sell"
	Quantity   int
	OrderType  string // "market" or "limit"
	LimitPrice *float64
	Tag        string
}

// OrderAck is the broker's synchronous acknowledgement of a submission.
type OrderAck struct {
	OrderID string
}

// OpenPosition is one position the brokerage reports as currently held,
// used by the Runner's startup flatten and periodic reconciliation
// (spec.md §4.8, §4.9).
type OpenPosition struct {
	ContractID   string
	Size         int // signed: positive long, negative short
	AveragePrice float64
}

// FlattenResult reports what a flatten(accountID) call actually did
// (spec.md §6: "cancel all working orders for the account, then
// market-close net positions").
type FlattenResult struct {
	OrdersCancelled  int
	PositionsClosed  int
}

// Adapter is what the orchestrator needs from a brokerage connection.
// Fills, rejections, and quote ticks arrive asynchronously on the channels
// returned by Fills/Rejections/Quotes, not as Adapter return values, since a
// submitted order's outcome is never known at submission time.
type Adapter interface {
	// Authenticate establishes credentials for the session; Connect calls
	// it internally but the orchestrator may call it again to refresh a
	// token without tearing down the streams.
	Authenticate(ctx context.Context) error

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, accountID, orderID string) error

	// ListPositions reports accountID's currently open positions at the
	// brokerage, for reconciliation (spec.md §4.9).
	ListPositions(ctx context.Context, accountID string) ([]OpenPosition, error)

	// Flatten cancels every working order and market-closes every net
	// position for accountID, used for the optional clean-baseline startup
	// step (spec.md §4.8).
	Flatten(ctx context.Context, accountID string) (FlattenResult, error)

	Fills() <-chan Fill
	Rejections() <-chan Rejection
	Quotes() <-chan Quote

	// Subscribe/Unsubscribe manage the quote stream's symbol set
	// (spec.md §6: "supports subscribe(contractId) and
	// unsubscribe(contractId), with automatic re-subscribe on reconnect").
	Subscribe(ctx context.Context, contractID string) error
	Unsubscribe(ctx context.Context, contractID string) error

	Connect(ctx context.Context) error
	Close() error
}

// Fill reports a confirmed execution.
type Fill struct {
	OrderID string
	Symbol  string
	Price   float64
	At      time.Time
}

// Rejection reports a failed order submission.
type Rejection struct {
	OrderID string
	Reason  string
	At      time.Time
}

// Quote is one price tick for a symbol.
type Quote struct {
	Symbol string
	Price  float64
	At     time.Time
}
