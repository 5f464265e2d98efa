package retry

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestCoordinator() *Coordinator {
	return NewCoordinator(zerolog.Nop())
}

func TestHandleFillSteppedCancelsFallback(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterPair("pos-1", "ES", "acct-1", "stepped-1", "fallback-1")

	result := c.HandleFill("stepped-1")
	if !result.Matched {
		t.Fatal("expected a matched retry pair")
	}
	if result.FilledLeg != LegStepped {
		t.Errorf("filled leg = %v, want LegStepped", result.FilledLeg)
	}
	if result.CancelOrderID != "fallback-1" {
		t.Errorf("cancel order id = %q, want fallback-1", result.CancelOrderID)
	}
	if result.PositionID != "pos-1" || result.Symbol != "ES" || result.AccountID != "acct-1" {
		t.Errorf("unexpected result metadata: %+v", result)
	}
	if c.Pending() != 0 {
		t.Errorf("pair should be retired after a fill, pending = %d", c.Pending())
	}
}

func TestHandleFillFallbackCancelsStepped(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterPair("pos-1", "ES", "acct-1", "stepped-1", "fallback-1")

	result := c.HandleFill("fallback-1")
	if result.FilledLeg != LegFallback {
		t.Errorf("filled leg = %v, want LegFallback", result.FilledLeg)
	}
	if result.CancelOrderID != "stepped-1" {
		t.Errorf("cancel order id = %q, want stepped-1", result.CancelOrderID)
	}
}

func TestHandleFillUnknownOrderIsNoop(t *testing.T) {
	c := newTestCoordinator()
	result := c.HandleFill("not-registered")
	if result.Matched {
		t.Errorf("expected no match for an unregistered order id, got %+v", result)
	}
}

func TestHandleFillIsRetiredOnce(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterPair("pos-1", "ES", "acct-1", "stepped-1", "fallback-1")
	c.HandleFill("stepped-1")

	// A second fill notification for the already-cancelled fallback (a race
	// at the broker) must be a no-op, not a second cancellation.
	result := c.HandleFill("fallback-1")
	if result.Matched {
		t.Errorf("expected the sibling fill to be a no-op once the pair is retired, got %+v", result)
	}
}

func TestCancelPairReturnsBothLegs(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterPair("pos-1", "ES", "acct-1", "stepped-1", "fallback-1")

	stepped, fallback, ok := c.CancelPair("pos-1")
	if !ok || stepped != "stepped-1" || fallback != "fallback-1" {
		t.Fatalf("CancelPair = %q, %q, %v, want stepped-1, fallback-1, true", stepped, fallback, ok)
	}
	if c.Pending() != 0 {
		t.Errorf("pending should be 0 after CancelPair, got %d", c.Pending())
	}
}

func TestCancelPairUnknownPosition(t *testing.T) {
	c := newTestCoordinator()
	if _, _, ok := c.CancelPair("no-such-position"); ok {
		t.Error("expected ok=false for an untracked position")
	}
}

func TestPendingCountsPairsNotLegs(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterPair("pos-1", "ES", "acct-1", "s1", "f1")
	c.RegisterPair("pos-2", "NQ", "acct-1", "s2", "f2")
	if c.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", c.Pending())
	}
}
