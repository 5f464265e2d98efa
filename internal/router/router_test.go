package router

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/alert"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/capacity"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/position"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/vpvr"
)

func newMachine(accountID string) *position.Machine {
	return position.NewMachine(accountID, capacity.NewAccountant(10), 2, 0, zerolog.Nop())
}

func sampleVPVR() vpvr.Summary {
	return vpvr.Summary{POC: 5050, VAH: 5080, VAL: 5020, RangeHigh: 5100, RangeLow: 5000, BarCount: 10, TotalVol: 100}
}

// TestRouteFansOutToEveryMatchingAccount matches spec.md §4.6: an alert on a
// symbol accepted by more than one account's filter must reach every one of
// them, not just the first.
func TestRouteFansOutToEveryMatchingAccount(t *testing.T) {
	r := New(zerolog.Nop())
	r.AddAccount(&Account{ID: "acct-a", SymbolFilter: map[string]bool{"ES": true}}, newMachine("acct-a"))
	r.AddAccount(&Account{ID: "acct-b", SymbolFilter: map[string]bool{"ES": true}}, newMachine("acct-b"))
	r.AddAccount(&Account{ID: "acct-c", SymbolFilter: map[string]bool{"NQ": true}}, newMachine("acct-c"))

	results := r.Route(alert.Alert{ID: "a1", Symbol: "ES", Action: alert.ActionBuy, Timestamp: time.Now()}, sampleVPVR())

	seen := map[string]bool{}
	for _, res := range results {
		seen[res.AccountID] = true
	}
	if !seen["acct-a"] || !seen["acct-b"] {
		t.Fatalf("expected both acct-a and acct-b to receive the ES alert, got %v", results)
	}
	if seen["acct-c"] {
		t.Errorf("acct-c's filter excludes ES, it should not have been routed to")
	}
}

// TestEmptyFilterAcceptsAllKnownSymbols matches spec.md §4.6: an account with
// no symbol filter accepts every known symbol.
func TestEmptyFilterAcceptsAllKnownSymbols(t *testing.T) {
	r := New(zerolog.Nop())
	r.AddAccount(&Account{ID: "acct-a"}, newMachine("acct-a"))

	results := r.Route(alert.Alert{ID: "a1", Symbol: "NQ", Action: alert.ActionBuy, Timestamp: time.Now()}, sampleVPVR())
	if len(results) != 1 || results[0].AccountID != "acct-a" {
		t.Fatalf("expected acct-a to accept the unfiltered NQ alert, got %v", results)
	}
}

func TestRouteResolvesContractDynamically(t *testing.T) {
	r := New(zerolog.Nop())
	r.AddAccount(&Account{ID: "acct-a"}, newMachine("acct-a"))

	if !r.Known("ES") {
		t.Fatal("ES should be known via the static symbol table before any resolution")
	}
	contractID, ok := r.ResolveContract("acct-a", "ES")
	if !ok || contractID != "ES" {
		t.Fatalf("ResolveContract = %q, %v, want ES, true", contractID, ok)
	}
}

func TestRouteSkipsUnknownSymbol(t *testing.T) {
	r := New(zerolog.Nop())
	r.AddAccount(&Account{ID: "acct-a"}, newMachine("acct-a"))

	results := r.Route(alert.Alert{ID: "a1", Symbol: "ZZZZ", Action: alert.ActionBuy, Timestamp: time.Now()}, sampleVPVR())
	if len(results) != 0 {
		t.Errorf("expected no routes for an unknown symbol, got %v", results)
	}
}

func TestBroadcastQuoteReachesEveryAccount(t *testing.T) {
	r := New(zerolog.Nop())
	machineA := newMachine("acct-a")
	machineB := newMachine("acct-b")
	r.AddAccount(&Account{ID: "acct-a"}, machineA)
	r.AddAccount(&Account{ID: "acct-b"}, machineB)

	// Open a position on acct-a only, so its Machine has something to react to.
	machineA.OnAlert(alert.Alert{ID: "a1", Symbol: "ES", Action: alert.ActionBuy, Timestamp: time.Now()}, sampleVPVR(), "ES")
	machineA.SetEntryOrderID("ES", "order-1")
	machineA.OnOrderFill("order-1", 5020, time.Now())

	results := r.BroadcastQuote("ES", 5050, time.Now())
	if len(results) != 1 || results[0].AccountID != "acct-a" {
		t.Fatalf("expected only acct-a to produce intents from the ES tick, got %v", results)
	}
}

func TestAlertNameFilterScopesAccount(t *testing.T) {
	r := New(zerolog.Nop())
	r.AddAccount(&Account{ID: "acct-a", AlertName: "strategy-1"}, newMachine("acct-a"))

	matching := r.Route(alert.Alert{ID: "a1", Symbol: "ES", Action: alert.ActionBuy, StrategyTag: "strategy-1", Timestamp: time.Now()}, sampleVPVR())
	if len(matching) != 1 {
		t.Fatalf("expected the matching strategy tag alert to route, got %v", matching)
	}

	nonMatching := r.Route(alert.Alert{ID: "a2", Symbol: "NQ", Action: alert.ActionBuy, StrategyTag: "strategy-2", Timestamp: time.Now()}, sampleVPVR())
	if len(nonMatching) != 0 {
		t.Errorf("expected a different strategy tag to be filtered out, got %v", nonMatching)
	}
}
