// Package router implements the Multi-Account Router (spec.md §4.6 —
// Component F): it decides which account's Position State Machine an alert
// is forwarded to, resolves the account-specific contract ID for a symbol,
// and broadcasts quote ticks to every account's State Machine since market
// data is global while state-machine state is per-account.
package router

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/alert"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/logging"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/position"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/symboltable"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/vpvr"
)

// Account is one brokerage account this engine trades through: an optional
// symbol filter (empty accepts every known symbol, spec.md §4.6), an
// optional signal-name filter, and that account's contract-ID mapping,
// resolved either from a pre-seeded map or dynamically on first sight of a
// new symbol.
type Account struct {
	ID           string
	SymbolFilter map[string]bool // empty/nil means "accept all known symbols"
	AlertName    string          // optional signal-name filter; empty accepts all
	ContractIDs  map[string]string // symbol -> account-specific contract ID
	MaxContracts int
}

// accepts reports whether acct is responsible for symbol/alertName
// (spec.md §4.6: "selects every account whose symbol filter either is
// empty or includes the alert symbol").
func (a *Account) accepts(symbol, alertName string) bool {
	if len(a.SymbolFilter) > 0 && !a.SymbolFilter[symbol] {
		return false
	}
	if a.AlertName != "" && alertName != "" && a.AlertName != alertName {
		return false
	}
	return true
}

// RouteResult is one account's outcome for a single alert or tick.
type RouteResult struct {
	AccountID string
	Intents   []position.Intent
}

// Router owns the set of configured accounts and dispatches to each
// account's Machine. An alert or a quote can reach more than one account at
// once (spec.md §4.6) — routing is not a single symbol->account assignment.
type Router struct {
	mu           sync.RWMutex
	accounts     []*Account
	machines     map[string]*position.Machine
	knownSymbols map[string]bool // symbols resolved (pre-seeded or dynamic) for at least one account
	log          zerolog.Logger
}

// New builds an empty Router.
func New(log zerolog.Logger) *Router {
	return &Router{
		machines:     make(map[string]*position.Machine),
		knownSymbols: make(map[string]bool),
		log:          logging.Component(log, "router"),
	}
}

// AddAccount registers acct and the Machine that manages its positions.
func (r *Router) AddAccount(acct *Account, machine *position.Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acct.ContractIDs == nil {
		acct.ContractIDs = make(map[string]string)
	}
	r.accounts = append(r.accounts, acct)
	r.machines[acct.ID] = machine
	for symbol := range acct.ContractIDs {
		r.knownSymbols[symbol] = true
	}
}

// ResolveContract returns the contract ID for symbol on accountID,
// dynamically resolving it against the static symbol table and caching the
// result on first sight if it isn't already pre-seeded (spec.md §4.6
// "dynamic symbol resolution"). ok is false for an unknown symbol.
func (r *Router) ResolveContract(accountID, symbol string) (contractID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, acct := range r.accounts {
		if acct.ID != accountID {
			continue
		}
		if id, known := acct.ContractIDs[symbol]; known {
			return id, true
		}
		if !symboltable.Known(symbol) {
			return "", false
		}
		acct.ContractIDs[symbol] = symbol
		r.knownSymbols[symbol] = true
		return symbol, true
	}
	return "", false
}

// Known reports whether symbol has been resolved to a contract ID for at
// least one account, or is in the static symbol table at all (spec.md
// §4.6: "skip alert if the symbol is unknown").
func (r *Router) Known(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.knownSymbols[symbol] {
		return true
	}
	return symboltable.Known(symbol)
}

// Route delivers an alert to every account whose filter accepts it
// (spec.md §4.6), resolving each account's contract ID independently.
// Accounts for which the symbol cannot be resolved are skipped with a
// warning rather than failing the whole route.
func (r *Router) Route(a alert.Alert, v vpvr.Summary) []RouteResult {
	r.mu.RLock()
	var targets []*Account
	for _, acct := range r.accounts {
		if acct.accepts(a.Symbol, a.StrategyTag) {
			targets = append(targets, acct)
		}
	}
	r.mu.RUnlock()

	var results []RouteResult
	for _, acct := range targets {
		contractID, ok := r.ResolveContract(acct.ID, a.Symbol)
		if !ok {
			r.log.Warn().Str("account_id", acct.ID).Str("symbol", a.Symbol).
				Msg("alert symbol unresolvable for account, skipping")
			continue
		}
		machine, ok := r.Machine(acct.ID)
		if !ok {
			continue
		}
		results = append(results, RouteResult{AccountID: acct.ID, Intents: machine.OnAlert(a, v, contractID)})
	}
	return results
}

// BroadcastQuote delivers a tick to every account's Machine (spec.md §4.6:
// "quote streams are shared... state-machine state is per-account").
func (r *Router) BroadcastQuote(symbol string, price float64, at time.Time) []RouteResult {
	r.mu.RLock()
	accounts := make([]*Account, len(r.accounts))
	copy(accounts, r.accounts)
	r.mu.RUnlock()

	var results []RouteResult
	for _, acct := range accounts {
		machine, ok := r.Machine(acct.ID)
		if !ok {
			continue
		}
		if intents := machine.OnTick(symbol, price, at); len(intents) > 0 {
			results = append(results, RouteResult{AccountID: acct.ID, Intents: intents})
		}
	}
	return results
}

// Machine returns the Machine for accountID.
func (r *Router) Machine(accountID string) (*position.Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[accountID]
	return m, ok
}

// Accounts returns every registered account.
func (r *Router) Accounts() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// AccountFor returns the first registered account whose filter accepts
// symbol, for callers (e.g. a user-event position-sync) that need a single
// "owning" account rather than the full fan-out Route performs.
func (r *Router) AccountFor(symbol string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, acct := range r.accounts {
		if acct.accepts(symbol, "") {
			return acct.ID, true
		}
	}
	return "", false
}
