// Package runner implements the Orchestrator (spec.md §4.8 — Component I):
// it wires every other component together, demultiplexes brokerage and
// alert events onto the single-threaded event loop spec.md §5 requires, and
// drives the periodic reconciliation timer (spec.md §4.9).
//
// Grounded on the teacher's internal/bot/bot.go (one run loop wiring
// strategy/order/position events into a single goroutine) and main.go's
// signal-driven shutdown. Every event-handling step here catches and logs
// rather than propagating, per spec.md §4.10's explicit design decision
// that a handler fault must never bring down the Runner.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/alert"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/brokerage"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/logging"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/metrics"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/position"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/retry"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/router"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/vpvr"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/writequeue"
)

// Config controls Runner lifecycle behavior (spec.md §4.8, §4.9).
type Config struct {
	FlattenOnStartup     bool
	SyncInterval         time.Duration // 0 disables reconciliation
	WriteQueueFlush      time.Duration
	OrderTimeout         time.Duration
}

// Runner is the Orchestrator.
type Runner struct {
	cfg         Config
	adapter     brokerage.Adapter
	router      *router.Router
	retryCoord  *retry.Coordinator
	writeQueue  *writequeue.Queue
	alertSource alert.Source
	vpvrSource  vpvr.Provider
	metrics     *metrics.Registry
	log         zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Runner. m may be nil to disable metrics recording.
func New(cfg Config, adapter brokerage.Adapter, r *router.Router, retryCoord *retry.Coordinator,
	wq *writequeue.Queue, alertSource alert.Source, vpvrSource vpvr.Provider, m *metrics.Registry, log zerolog.Logger) *Runner {
	return &Runner{
		cfg:         cfg,
		adapter:     adapter,
		router:      r,
		retryCoord:  retryCoord,
		writeQueue:  wq,
		alertSource: alertSource,
		vpvrSource:  vpvrSource,
		metrics:     m,
		log:         logging.Component(log, "runner"),
		done:        make(chan struct{}),
	}
}

// Start implements spec.md §4.8 step 1: authenticate, optionally flatten
// each account for a clean baseline, open the streams, subscribe every
// configured contract, and start the event loop plus the write-queue and
// reconciliation timers.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.adapter.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	if r.cfg.FlattenOnStartup {
		for _, acct := range r.router.Accounts() {
			result, err := r.adapter.Flatten(ctx, acct.ID)
			if err != nil {
				r.log.Warn().Err(err).Str("account_id", acct.ID).Msg("flatten failed, continuing startup")
				continue
			}
			r.log.Info().Str("account_id", acct.ID).Int("orders_cancelled", result.OrdersCancelled).
				Int("positions_closed", result.PositionsClosed).Msg("flattened account for clean baseline")
		}
	}

	if err := r.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	for _, acct := range r.router.Accounts() {
		for symbol, contractID := range acct.ContractIDs {
			if err := r.adapter.Subscribe(ctx, contractID); err != nil {
				r.log.Warn().Err(err).Str("symbol", symbol).Msg("quote subscribe failed")
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.writeQueue.Run(runCtx)
	go r.writeQueue.RunPeriodicFlush(runCtx, r.flushInterval(), r.dirtyProviders())
	go r.run(runCtx)

	r.log.Info().Msg("runner started")
	return nil
}

// Stop stops accepting new alerts, flushes the write queue once under a
// 10-second deadline, then disconnects. A position upsert that fails during
// this final flush is logged and not retried.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done

	if r.alertSource != nil {
		if err := r.alertSource.Close(); err != nil {
			r.log.Warn().Err(err).Msg("alert source close failed")
		}
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 10*time.Second)
	defer flushCancel()
	r.writeQueue.Flush(flushCtx, r.dirtyProviders())

	if err := r.adapter.Close(); err != nil {
		return fmt.Errorf("adapter close: %w", err)
	}
	r.log.Info().Msg("runner stopped")
	return nil
}

func (r *Runner) flushInterval() time.Duration {
	if r.cfg.WriteQueueFlush > 0 {
		return r.cfg.WriteQueueFlush
	}
	return 5 * time.Second
}

func (r *Runner) dirtyProviders() []writequeue.DirtyProvider {
	accounts := r.router.Accounts()
	out := make([]writequeue.DirtyProvider, 0, len(accounts))
	for _, acct := range accounts {
		if m, ok := r.router.Machine(acct.ID); ok {
			out = append(out, m)
		}
	}
	return out
}

// run is the single-threaded event-demultiplexing loop (spec.md §4.8
// step 2, §5's cooperative-scheduling model). Every branch is wrapped in a
// recover so a panic in one handler cannot take down the others.
func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	var reconcileTicker *time.Ticker
	var reconcileC <-chan time.Time
	if r.cfg.SyncInterval > 0 {
		reconcileTicker = time.NewTicker(r.cfg.SyncInterval)
		defer reconcileTicker.Stop()
		reconcileC = reconcileTicker.C
	}

	alerts := r.alertSource.Alerts()
	for {
		select {
		case <-ctx.Done():
			return

		case a, ok := <-alerts:
			if !ok {
				alerts = nil        // a nil channel never fires in select
				r.alertSource = nil // already closed upstream
				continue
			}
			r.safely("alert", func() { r.handleAlert(ctx, a) })

		case f, ok := <-r.adapter.Fills():
			if !ok {
				continue
			}
			r.safely("fill", func() { r.handleFill(ctx, f) })

		case rej, ok := <-r.adapter.Rejections():
			if !ok {
				continue
			}
			r.safely("rejection", func() { r.handleRejection(rej) })

		case q, ok := <-r.adapter.Quotes():
			if !ok {
				continue
			}
			r.safely("quote", func() { r.handleQuote(q) })

		case <-reconcileC:
			r.safely("reconciliation", func() { r.reconcile(ctx) })
		}
	}
}

// safely implements spec.md §4.10's "unhandled exception in any handler"
// kind: caught at the orchestrator boundary, logged, engine continues.
func (r *Runner) safely(kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("handler", kind).Msg("handler panicked, engine continuing")
		}
	}()
	fn()
}

func (r *Runner) handleAlert(ctx context.Context, a alert.Alert) {
	action := string(a.Action)
	if r.metrics != nil {
		r.metrics.AlertsReceived.WithLabelValues(a.Symbol, action).Inc()
	}

	if !a.Action.IsClose() && !r.router.Known(a.Symbol) {
		r.dropAlert(a.Symbol, "unknown_symbol")
		return
	}

	var summary vpvr.Summary
	if !a.Action.IsClose() {
		s, ok, err := r.vpvrSource.Summary(ctx, a.Symbol)
		if err != nil {
			r.log.Warn().Err(err).Str("symbol", a.Symbol).Msg("vpvr lookup failed, dropping alert")
			r.dropAlert(a.Symbol, "missing_vpvr")
			return
		}
		if !ok || s.IsZero() {
			r.dropAlert(a.Symbol, "missing_vpvr")
			return
		}
		summary = s
	}

	for _, result := range r.router.Route(a, summary) {
		r.applyIntents(ctx, result.AccountID, result.Intents)
	}
}

func (r *Runner) dropAlert(symbol, reason string) {
	if r.metrics != nil {
		r.metrics.AlertsDropped.WithLabelValues(symbol, reason).Inc()
	}
	r.log.Warn().Str("symbol", symbol).Str("reason", reason).Msg("alert dropped")
}

func (r *Runner) handleFill(ctx context.Context, f brokerage.Fill) {
	if retryResult := r.retryCoord.HandleFill(f.OrderID); retryResult.Matched {
		if err := r.adapter.CancelOrder(ctx, retryResult.AccountID, retryResult.CancelOrderID); err != nil {
			r.log.Warn().Err(err).Str("order_id", retryResult.CancelOrderID).Msg("retry sibling cancel failed")
		}
		if retryResult.FilledLeg == retry.LegFallback {
			// onRetryOrderPlaced tagged the position with the stepped leg's
			// order id provisionally; the fallback filled first, so retag it
			// with the order id that actually matched (spec.md §4.5).
			if machine, ok := r.router.Machine(retryResult.AccountID); ok {
				machine.SetEntryOrderID(retryResult.Symbol, f.OrderID)
			}
		}
	}

	for _, acct := range r.router.Accounts() {
		machine, ok := r.router.Machine(acct.ID)
		if !ok {
			continue
		}
		intents := machine.OnOrderFill(f.OrderID, f.Price, f.At)
		r.applyIntents(ctx, acct.ID, intents)
	}
}

func (r *Runner) handleRejection(rej brokerage.Rejection) {
	for _, acct := range r.router.Accounts() {
		machine, ok := r.router.Machine(acct.ID)
		if !ok {
			continue
		}
		intents := machine.OnOrderRejected(rej.OrderID, rej.Reason, rej.At)
		if len(intents) > 0 {
			r.writeQueue.Submit(intents)
			if r.metrics != nil {
				r.metrics.OrdersRejected.WithLabelValues("").Inc()
			}
		}
	}
}

func (r *Runner) handleQuote(q brokerage.Quote) {
	for _, result := range r.router.BroadcastQuote(q.Symbol, q.Price, q.At) {
		r.applyIntentsNoOrder(result.AccountID, result.Intents)
	}
}

// applyIntents interprets every Intent kind, including ones that submit
// brokerage orders (spec.md §9 REDESIGN FLAGS: typed intents consumed by
// the orchestrator, not dynamic dispatch).
func (r *Runner) applyIntents(ctx context.Context, accountID string, intents []position.Intent) {
	for _, intent := range intents {
		switch it := intent.(type) {
		case position.PlaceOrderIntent:
			r.handlePlaceOrder(ctx, accountID, it)
		case position.CancelOrderIntent:
			if err := r.adapter.CancelOrder(ctx, accountID, it.OrderID); err != nil {
				r.log.Warn().Err(err).Str("order_id", it.OrderID).Msg("cancel failed")
			}
		case position.ClosePositionIntent:
			r.handleClosePosition(ctx, accountID, it)
		case position.RetryEntryIntent:
			r.handleRetryEntry(ctx, accountID, it)
		case position.StateChangeIntent, position.PositionClosedIntent:
			r.writeQueue.Submit([]position.Intent{intent})
			if pc, ok := intent.(position.PositionClosedIntent); ok && r.metrics != nil {
				r.metrics.TradesClosed.WithLabelValues(pc.Trade.Symbol, pc.Trade.ExitReason).Inc()
				r.metrics.RealizedPnL.WithLabelValues(pc.Trade.Symbol).Add(pc.Trade.NetPnL)
			}
		case position.CapacityExceededIntent:
			r.log.Warn().Str("account_id", it.AccountID).Str("symbol", it.Symbol).
				Int("current", it.Current).Int("required", it.Required).Int("max", it.Max).
				Msg("capacity exceeded, alert dropped")
		case position.AlertDroppedIntent:
			r.dropAlert(it.Symbol, it.Reason)
		}
	}
}

// applyIntentsNoOrder handles the intents a tick can legitimately produce
// (state changes, closes, retries) by delegating to applyIntents with a
// background context; OnTick never emits PlaceOrderIntent, so that branch
// is never taken from here.
func (r *Runner) applyIntentsNoOrder(accountID string, intents []position.Intent) {
	r.applyIntents(context.Background(), accountID, intents)
}

func (r *Runner) handlePlaceOrder(ctx context.Context, accountID string, it position.PlaceOrderIntent) {
	placeCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.OrderTimeout > 0 {
		placeCtx, cancel = context.WithTimeout(ctx, r.cfg.OrderTimeout)
		defer cancel()
	}

	ack, err := r.adapter.PlaceOrder(placeCtx, brokerage.OrderRequest{
		AccountID: accountID, ContractID: it.ContractID, Side: it.Side,
		Quantity: it.Quantity, OrderType: it.OrderType, LimitPrice: it.LimitPrice, Tag: it.Tag,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("position_id", it.PositionID).Msg("place order failed, cancelling position")
		if machine, ok := r.router.Machine(accountID); ok {
			// No broker order id exists; tag the position with its own id so
			// OnOrderRejected can find it.
			machine.SetEntryOrderID(it.Symbol, it.Tag)
			r.writeQueue.Submit(machine.OnOrderRejected(it.Tag, err.Error(), time.Now()))
		}
		if r.metrics != nil {
			r.metrics.OrdersRejected.WithLabelValues(it.Symbol).Inc()
		}
		return
	}

	if machine, ok := r.router.Machine(accountID); ok {
		machine.SetEntryOrderID(it.Symbol, ack.OrderID)
	}
	if r.metrics != nil {
		r.metrics.OrdersPlaced.WithLabelValues(it.Symbol, it.OrderType).Inc()
	}
}

// handleClosePosition implements spec.md §4.8's closePosition branch:
// submit the market flatten, and on a successful ack call the Machine's
// onClose immediately — a market order's eventual fill event is not waited
// on here, since the exit price spec.md §4.9 accepts is already a best-
// effort "last known price or currentSl or 0" fallback, not the confirmed
// fill.
func (r *Runner) handleClosePosition(ctx context.Context, accountID string, it position.ClosePositionIntent) {
	closeCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.OrderTimeout > 0 {
		closeCtx, cancel = context.WithTimeout(ctx, r.cfg.OrderTimeout)
		defer cancel()
	}

	_, err := r.adapter.PlaceOrder(closeCtx, brokerage.OrderRequest{
		AccountID: accountID, ContractID: it.ContractID, Side: it.Side,
		Quantity: it.Quantity, OrderType: "market", Tag: it.PositionID,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("position_id", it.PositionID).Msg("market close failed")
		return
	}

	machine, ok := r.router.Machine(accountID)
	if !ok {
		return
	}
	// Only confirm the close for the same position: an opposing alert has
	// already finalized it in-memory and put a new position on the symbol.
	exitPrice := 0.0
	found := false
	for _, p := range machine.Positions() {
		if p.ID == it.PositionID {
			found = true
			exitPrice = p.LastPrice
			if exitPrice == 0 {
				exitPrice = p.CurrentSL
			}
			break
		}
	}
	if !found {
		return
	}
	r.writeQueue.Submit(machine.OnClose(it.Symbol, exitPrice, it.Reason, time.Now()))
}

func (r *Runner) handleRetryEntry(ctx context.Context, accountID string, it position.RetryEntryIntent) {
	machine, ok := r.router.Machine(accountID)
	if !ok {
		return
	}

	steppedPrice := it.SteppedPrice
	stepped, err := r.adapter.PlaceOrder(ctx, brokerage.OrderRequest{
		AccountID: accountID, ContractID: it.ContractID, Side: it.Side,
		Quantity: it.Quantity, OrderType: "limit", LimitPrice: &steppedPrice, Tag: it.PositionID + ":stepped",
	})
	if err != nil {
		r.log.Warn().Err(err).Str("position_id", it.PositionID).Msg("retry stepped order failed")
		return
	}

	fallbackPrice := it.FallbackPrice
	fallback, err := r.adapter.PlaceOrder(ctx, brokerage.OrderRequest{
		AccountID: accountID, ContractID: it.ContractID, Side: it.Side,
		Quantity: it.Quantity, OrderType: "limit", LimitPrice: &fallbackPrice, Tag: it.PositionID + ":fallback",
	})
	if err != nil {
		r.log.Warn().Err(err).Str("position_id", it.PositionID).Msg("retry fallback order failed")
		_ = r.adapter.CancelOrder(ctx, accountID, stepped.OrderID)
		return
	}

	r.retryCoord.RegisterPair(it.PositionID, it.Symbol, accountID, stepped.OrderID, fallback.OrderID)
	if r.metrics != nil {
		r.metrics.RetriesStarted.WithLabelValues(it.Symbol).Inc()
	}
	r.writeQueue.Submit(machine.OnRetryOrderPlaced(it.Symbol, stepped.OrderID, time.Now()))
}

// reconcile implements spec.md §4.9: cross-check the core's position map
// against the brokerage's reported open positions, once per account.
func (r *Runner) reconcile(ctx context.Context) {
	for _, acct := range r.router.Accounts() {
		machine, ok := r.router.Machine(acct.ID)
		if !ok {
			continue
		}

		openAtBroker, err := r.adapter.ListPositions(ctx, acct.ID)
		if err != nil {
			r.log.Warn().Err(err).Str("account_id", acct.ID).Msg("reconciliation: list positions failed, skipping cycle")
			continue
		}
		brokerContracts := make(map[string]bool, len(openAtBroker))
		for _, p := range openAtBroker {
			brokerContracts[p.ContractID] = true
		}

		for _, local := range machine.Positions() {
			if !brokerContracts[local.ContractID] {
				exitPrice := local.LastPrice
				if exitPrice == 0 {
					exitPrice = local.CurrentSL
				}
				intents := machine.OnClose(local.Symbol, exitPrice, "eod_liquidation", time.Now())
				r.writeQueue.Submit(intents)
			}
		}

		localByContract := make(map[string]bool)
		for _, local := range machine.Positions() {
			localByContract[local.ContractID] = true
		}
		for _, p := range openAtBroker {
			if !localByContract[p.ContractID] {
				r.log.Warn().Str("account_id", acct.ID).Str("contract_id", p.ContractID).
					Msg("reconciliation: broker position has no local tracking, not adopting")
				if r.metrics != nil {
					r.metrics.ReconcileOrphans.WithLabelValues(acct.ID).Inc()
				}
			}
		}
	}
}
