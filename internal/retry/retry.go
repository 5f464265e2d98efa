// Package retry implements the Retry Coordinator (spec.md §4.5 — Component
// E): when a position is stopped out before any profit target is hit, it
// tracks a stepped limit order and a fallback limit order placed together,
// and whichever fills first cancels the other.
package retry

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/logging"
)

// Leg is one of the two orders in a retry pair.
type Leg int

const (
	LegStepped Leg = iota
	LegFallback
)

type pair struct {
	positionID  string
	symbol      string
	accountID   string
	steppedID   string
	fallbackID  string
	steppedTag  string
	fallbackTag string
}

// Coordinator owns the set of outstanding retry pairs. One Coordinator
// serves every account's Machine: pairs are keyed by the broker order ID of
// each leg, so a fill event routes straight to its pair regardless of which
// account placed it.
type Coordinator struct {
	mu        sync.Mutex
	byOrderID map[string]*pair // orderID (either leg) -> pair
	log       zerolog.Logger
}

// NewCoordinator builds an empty Coordinator.
func NewCoordinator(log zerolog.Logger) *Coordinator {
	return &Coordinator{
		byOrderID: make(map[string]*pair),
		log:       logging.Component(log, "retry_coordinator"),
	}
}

// RegisterPair records the two broker order IDs placed for one retry
// attempt, once the orchestrator has submitted both legs.
func (c *Coordinator) RegisterPair(positionID, symbol, accountID, steppedOrderID, fallbackOrderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := &pair{
		positionID: positionID,
		symbol:     symbol,
		accountID:  accountID,
		steppedID:  steppedOrderID,
		fallbackID: fallbackOrderID,
	}
	c.byOrderID[steppedOrderID] = p
	c.byOrderID[fallbackOrderID] = p
}

// FillResult tells the caller which sibling order (if any) must now be
// cancelled at the broker.
type FillResult struct {
	Matched       bool
	FilledLeg     Leg
	CancelOrderID string
	PositionID    string
	Symbol        string
	AccountID     string
}

// HandleFill reports a fill on orderID. If orderID is one leg of a
// registered retry pair, the pair is retired and the sibling order ID is
// returned for cancellation (spec.md §4.5 "whichever fills first cancels
// the other"). Subsequent fills or cancel-confirmations for either leg of
// the same pair are no-ops since the pair was already removed.
func (c *Coordinator) HandleFill(orderID string) FillResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byOrderID[orderID]
	if !ok {
		return FillResult{}
	}
	delete(c.byOrderID, p.steppedID)
	delete(c.byOrderID, p.fallbackID)

	result := FillResult{
		Matched:    true,
		PositionID: p.positionID,
		Symbol:     p.symbol,
		AccountID:  p.accountID,
	}
	if orderID == p.steppedID {
		result.FilledLeg = LegStepped
		result.CancelOrderID = p.fallbackID
	} else {
		result.FilledLeg = LegFallback
		result.CancelOrderID = p.steppedID
	}
	return result
}

// CancelPair forcibly retires a pair without a fill, e.g. because the
// position was closed by an opposing signal while the retry was resting.
// It returns both order IDs so the caller can cancel whichever are still
// open at the broker.
func (c *Coordinator) CancelPair(positionID string) (steppedID, fallbackID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for orderID, p := range c.byOrderID {
		if p.positionID != positionID {
			continue
		}
		delete(c.byOrderID, p.steppedID)
		delete(c.byOrderID, p.fallbackID)
		_ = orderID
		return p.steppedID, p.fallbackID, true
	}
	return "", "", false
}

// Pending reports the number of outstanding retry pairs being tracked, for
// status/metrics reporting.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byOrderID) / 2
}
