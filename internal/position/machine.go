package position

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	alertpkg "github.com/lseng/topstep-bot-5.0-sub000/internal/alert"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/capacity"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/entry"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/logging"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/symboltable"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/trailing"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/vpvr"
)

// Machine is the Position State Machine for a single brokerage account
// (spec.md §4.3 — Component C). It owns its symbol-keyed map exclusively;
// every handler runs to completion before the next one starts (spec.md §5's
// single-threaded cooperative event loop), so no locking is needed here —
// the Runner orchestrator is responsible for never calling two handlers on
// the same Machine concurrently.
type Machine struct {
	accountID     string
	capacityAcct  *capacity.Accountant
	maxRetries    int
	slBufferTicks int
	positions     map[string]*Position
	log           zerolog.Logger
}

// NewMachine builds a Machine for one account.
func NewMachine(accountID string, capacityAcct *capacity.Accountant, maxRetries, slBufferTicks int, log zerolog.Logger) *Machine {
	return &Machine{
		accountID:     accountID,
		capacityAcct:  capacityAcct,
		maxRetries:    maxRetries,
		slBufferTicks: slBufferTicks,
		positions:     make(map[string]*Position),
		log:           logging.Component(log, "position_machine"),
	}
}

// OnAlert applies one inbound alert (spec.md §4.3). contractID is the
// account-specific contract identifier the Router resolved for a.Symbol.
func (m *Machine) OnAlert(a alertpkg.Alert, v vpvr.Summary, contractID string) []Intent {
	existing, hasExisting := m.positions[a.Symbol]

	if a.Action.IsClose() {
		if !hasExisting || IsTerminal(existing.State) {
			return nil
		}
		if a.Action == alertpkg.ActionCloseLong && existing.Side != entry.Long {
			return nil
		}
		if a.Action == alertpkg.ActionCloseShort && existing.Side != entry.Short {
			return nil
		}
		return []Intent{ClosePositionIntent{
			PositionID: existing.ID,
			Symbol:     existing.Symbol,
			AccountID:  existing.AccountID,
			ContractID: existing.ContractID,
			Side:       oppositeSideStr(existing.Side),
			Quantity:   existing.Quantity,
			Reason:     "close_alert",
		}}
	}

	if v.IsZero() {
		return []Intent{AlertDroppedIntent{AlertID: a.ID, Symbol: a.Symbol, Reason: "missing_vpvr"}}
	}

	side := entry.Long
	if a.Action == alertpkg.ActionSell {
		side = entry.Short
	}

	var intents []Intent

	if hasExisting && !IsTerminal(existing.State) {
		if existing.Side == side {
			return []Intent{AlertDroppedIntent{AlertID: a.ID, Symbol: a.Symbol, Reason: "already_positioned"}}
		}

		// Opposing signal: flatten the live position now, in-memory, using the
		// last observed price as the best available exit mark, AND still ask
		// the orchestrator to submit the real flattening order at the broker
		// (spec.md §8 scenario S6 — the freed capacity and the new entry both
		// need to land within this one alert's processing).
		closeIntent := ClosePositionIntent{
			PositionID: existing.ID,
			Symbol:     existing.Symbol,
			AccountID:  existing.AccountID,
			ContractID: existing.ContractID,
			Side:       oppositeSideStr(existing.Side),
			Quantity:   existing.Quantity,
			Reason:     "opposing_alert",
		}
		intents = append(intents, closeIntent)
		intents = append(intents, m.finalizeClose(existing, existing.LastPrice, "opposing_alert", a.Timestamp)...)
	}

	quantity := 1
	if a.Quantity != nil {
		quantity = *a.Quantity
	}

	ok, current, required, max := m.capacityAcct.Reserve(a.Symbol, quantity)
	if !ok {
		intents = append(intents, CapacityExceededIntent{
			Symbol: a.Symbol, AccountID: m.accountID,
			Current: current, Required: required, Max: max,
		})
		return intents
	}

	levels := entry.Compute(side, v, entry.Params{Symbol: a.Symbol, SLBufferTicks: m.slBufferTicks})
	if a.SFXLevels != nil {
		levels.TP1, levels.TP2, levels.TP3 = a.SFXLevels.TP1, a.SFXLevels.TP2, a.SFXLevels.TP3
		if a.SFXLevels.StopLoss != nil {
			levels.InitialSL = *a.SFXLevels.StopLoss
		}
	}

	now := a.Timestamp
	pos := &Position{
		ID:                uuid.NewString(),
		AlertID:           a.ID,
		OriginalAlertID:   a.ID,
		Symbol:            a.Symbol,
		Side:              side,
		State:             PendingEntry,
		TargetEntryPrice:  levels.EntryPrice,
		Quantity:          quantity,
		ContractID:        contractID,
		AccountID:         m.accountID,
		CurrentSL:         levels.InitialSL,
		InitialSL:         levels.InitialSL,
		TP1:               levels.TP1,
		TP2:               levels.TP2,
		TP3:               levels.TP3,
		VPVR:              v,
		ConfirmationScore: a.ConfirmationScore,
		CreatedAt:         now,
		UpdatedAt:         now,
		MaxRetries:        m.maxRetries,
		RetryEntryLevels:  entry.RetryLadder(side, v),
		StrategyTag:       a.StrategyTag,
		SLBufferTicks:     m.slBufferTicks,
		Dirty:             true,
	}
	m.positions[a.Symbol] = pos

	orderSide := "buy"
	if side == entry.Short {
		orderSide = "sell"
	}
	limitPrice := pos.TargetEntryPrice
	intents = append(intents,
		PlaceOrderIntent{
			PositionID: pos.ID, Symbol: pos.Symbol, AccountID: pos.AccountID,
			ContractID: pos.ContractID, Side: orderSide, Quantity: quantity,
			OrderType: "limit", LimitPrice: &limitPrice, Tag: pos.ID,
		},
		StateChangeIntent{Position: *pos},
	)
	return intents
}

// SetEntryOrderID tags the position for symbol with the broker-assigned
// order ID for its (still pending) entry order, so a later fill/reject
// event can be matched back to it.
func (m *Machine) SetEntryOrderID(symbol, orderID string) {
	if pos, ok := m.positions[symbol]; ok {
		pos.EntryOrderID = orderID
		pos.Dirty = true
	}
}

// OnOrderFill applies a confirmed fill for a pending entry or retry order.
func (m *Machine) OnOrderFill(orderID string, fillPrice float64, at time.Time) []Intent {
	pos := m.findByEntryOrderID(orderID)
	if pos == nil || (pos.State != PendingEntry && pos.State != PendingRetry) {
		return nil
	}

	fp := fillPrice
	pos.FillPrice = &fp
	pos.State = Active
	if pos.SLBufferTicks > 0 {
		pos.CurrentSL = entry.SLFromFill(pos.Side, fillPrice, pos.TP1, entry.Params{Symbol: pos.Symbol, SLBufferTicks: pos.SLBufferTicks})
	}
	pos.LastPrice = fillPrice
	pos.UpdatedAt = at
	pos.Dirty = true

	return []Intent{StateChangeIntent{Position: *pos}}
}

// OnOrderRejected treats a rejected entry/retry order as an immediate
// cancellation of the pending position.
func (m *Machine) OnOrderRejected(orderID, reason string, at time.Time) []Intent {
	pos := m.findByEntryOrderID(orderID)
	if pos == nil {
		return nil
	}
	return m.finalizeClose(pos, 0, "order_rejected:"+reason, at)
}

// OnRetryOrderPlaced records the order ID for a freshly-placed retry leg,
// transitions pending_retry back to pending_entry (spec.md §4.3), and resets
// the stop loss to the initial (non-trailed) level, since the position has
// no fill yet to trail from (spec.md §9 open question: reset on
// pending_retry, recompute from the actual fill on the next OnOrderFill).
func (m *Machine) OnRetryOrderPlaced(symbol, orderID string, at time.Time) []Intent {
	pos, ok := m.positions[symbol]
	if !ok || pos.State != PendingRetry {
		return nil
	}
	pos.State = PendingEntry
	pos.EntryOrderID = orderID
	pos.CurrentSL = pos.InitialSL
	pos.UpdatedAt = at
	pos.Dirty = true
	return []Intent{StateChangeIntent{Position: *pos}}
}

// OnTick feeds a quote update through the Trailing Stop Evaluator for the
// position on symbol, if any.
func (m *Machine) OnTick(symbol string, price float64, at time.Time) []Intent {
	pos, ok := m.positions[symbol]
	if !ok || IsTerminal(pos.State) {
		return nil
	}

	pos.LastPrice = price
	if pos.FillPrice != nil {
		pos.UnrealizedPnL = unrealizedPnL(pos, price)
	}

	result := trailing.Evaluate(trailing.Input{
		Side: pos.Side, State: pos.State,
		EntryPrice: valueOr(pos.FillPrice, pos.TargetEntryPrice),
		CurrentSL:  pos.CurrentSL,
		TP1:        pos.TP1, TP2: pos.TP2, TP3: pos.TP3,
		CurrentPrice: price,
	})

	if result.ShouldClose {
		if result.CloseReason == "sl_hit_from_active" && pos.RetryCount < pos.MaxRetries {
			return m.beginRetry(pos, price, at)
		}
		return m.finalizeClose(pos, price, result.CloseReason, at)
	}

	if !result.StateChanged && !result.SLChanged {
		return nil
	}

	if result.StateChanged {
		pos.State = result.NewState
	}
	if result.SLChanged {
		pos.CurrentSL = result.NewSL
	}
	pos.UpdatedAt = at
	pos.Dirty = true
	return []Intent{StateChangeIntent{Position: *pos}}
}

// OnClose applies a confirmed broker-side flatten for symbol's live
// position (spec.md §4.3's plain close_alert path: the intent was already
// emitted by OnAlert, this is the eventual confirmation).
func (m *Machine) OnClose(symbol string, exitPrice float64, reason string, at time.Time) []Intent {
	pos, ok := m.positions[symbol]
	if !ok || IsTerminal(pos.State) {
		return nil
	}
	return m.finalizeClose(pos, exitPrice, reason, at)
}

// Positions returns a value-copy snapshot of every live (non-terminal)
// position this Machine owns.
func (m *Machine) Positions() []Position {
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// DirtySnapshot returns value copies of every position mutated since the
// last call and clears their dirty flag, for the Write Queue's periodic
// flush (spec.md §4.7).
func (m *Machine) DirtySnapshot() []Position {
	var out []Position
	for _, p := range m.positions {
		if p.Dirty {
			out = append(out, *p)
			p.Dirty = false
		}
	}
	return out
}

// beginRetry records the losing leg's TradeResult (spec.md §4.3: a
// retry-eligible stop-out still produces a closed trade for the leg that was
// stopped) and moves the position into pending_retry with a fresh stepped/
// fallback order pair (spec.md §4.3, §4.5). The position is not removed from
// the map and its capacity reservation is not released: the retry reuses it.
func (m *Machine) beginRetry(pos *Position, price float64, at time.Time) []Intent {
	trade := m.buildTradeResult(pos, pos.State, price, "sl_hit_from_active", at)

	prevRetryCount := pos.RetryCount
	pos.RetryCount++
	pos.State = PendingRetry
	pos.FillPrice = nil
	pos.EntryOrderID = ""
	pos.UpdatedAt = at
	pos.Dirty = true

	steppedPrice := entry.RetryPrice(pos.RetryEntryLevels, prevRetryCount+1)
	fallbackPrice := entry.RetryPrice(pos.RetryEntryLevels, 0)
	orderSide := "buy"
	if pos.Side == entry.Short {
		orderSide = "sell"
	}

	return []Intent{
		StateChangeIntent{Position: *pos},
		PositionClosedIntent{Trade: trade},
		RetryEntryIntent{
			PositionID: pos.ID, Symbol: pos.Symbol, AccountID: pos.AccountID,
			ContractID: pos.ContractID, Side: orderSide, Quantity: pos.Quantity,
			SteppedPrice: steppedPrice, FallbackPrice: fallbackPrice, Attempt: pos.RetryCount,
		},
	}
}

// finalizeClose removes pos from the map and releases its capacity
// reservation. A position that was never filled is cancelled with no trade
// record; an ever-filled position is closed and its TradeResult emitted.
func (m *Machine) finalizeClose(pos *Position, exitPrice float64, reason string, at time.Time) []Intent {
	m.capacityAcct.Release(pos.Symbol)
	delete(m.positions, pos.Symbol)

	wasFilled := pos.FillPrice != nil
	preCloseState := pos.State

	pos.UpdatedAt = at
	pos.Dirty = true
	pos.ExitReason = reason
	pos.ClosedAt = &at

	if !wasFilled {
		pos.State = Cancelled
		return []Intent{StateChangeIntent{Position: *pos}}
	}

	pos.State = Closed
	pos.ExitPrice = &exitPrice
	trade := m.buildTradeResult(pos, preCloseState, exitPrice, reason, at)
	return []Intent{StateChangeIntent{Position: *pos}, PositionClosedIntent{Trade: trade}}
}

func (m *Machine) buildTradeResult(pos *Position, preCloseState State, exitPrice float64, reason string, at time.Time) TradeResult {
	fillPrice := pos.TargetEntryPrice
	if pos.FillPrice != nil {
		fillPrice = *pos.FillPrice
	}
	gross := unrealizedPnLAt(pos.Side, fillPrice, exitPrice, pos.Symbol, pos.Quantity)

	return TradeResult{
		PositionID:        pos.ID,
		AlertID:           pos.AlertID,
		OriginalAlertID:   pos.OriginalAlertID,
		Symbol:            pos.Symbol,
		Side:              pos.Side,
		EntryPrice:        fillPrice,
		EntryTime:         pos.CreatedAt,
		ExitPrice:         exitPrice,
		ExitTime:          at,
		ExitReason:        reason,
		Quantity:          pos.Quantity,
		GrossPnL:          gross,
		NetPnL:            gross,
		VPVRPOC:           pos.VPVR.POC,
		VPVRVAH:           pos.VPVR.VAH,
		VPVRVAL:           pos.VPVR.VAL,
		HighestTPHit:      HighestTP(preCloseState),
		RetryCount:        pos.RetryCount,
		ConfirmationScore: pos.ConfirmationScore,
		LLMReasoning:      pos.LLMReasoning,
	}
}

func (m *Machine) findByEntryOrderID(orderID string) *Position {
	if orderID == "" {
		return nil
	}
	for _, p := range m.positions {
		if p.EntryOrderID == orderID && !IsTerminal(p.State) {
			return p
		}
	}
	return nil
}

func unrealizedPnL(pos *Position, price float64) float64 {
	return unrealizedPnLAt(pos.Side, *pos.FillPrice, price, pos.Symbol, pos.Quantity)
}

func unrealizedPnLAt(side entry.Side, fillPrice, price float64, symbol string, quantity int) float64 {
	sign := 1.0
	if side == entry.Short {
		sign = -1.0
	}
	return (price - fillPrice) * symboltable.PointValue(symbol) * float64(quantity) * sign
}

func oppositeSideStr(s entry.Side) string {
	if s == entry.Long {
		return "sell"
	}
	return "buy"
}

func valueOr(p *float64, fallback float64) float64 {
	if p != nil {
		return *p
	}
	return fallback
}
