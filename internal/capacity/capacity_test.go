package capacity

import "testing"

func TestReserveWithinBudget(t *testing.T) {
	a := NewAccountant(3)
	// MES, MNQ, MYM are all micro contracts: 1 micro-equivalent unit each.
	for _, sym := range []string{"MES", "MNQ", "MYM"} {
		ok, current, required, max := a.Reserve(sym, 1)
		if !ok {
			t.Fatalf("reserve %s failed: current=%d required=%d max=%d", sym, current, required, max)
		}
	}
	if got := a.Total(); got != 3 {
		t.Errorf("total reserved = %d, want 3", got)
	}
}

// TestCapacityGuardS5 matches spec.md §8 scenario S5: maxContracts=3 with
// MES/MNQ/MYM already reserved, a fresh MGC reservation must be rejected.
func TestCapacityGuardS5(t *testing.T) {
	a := NewAccountant(3)
	for _, sym := range []string{"MES", "MNQ", "MYM"} {
		if ok, _, _, _ := a.Reserve(sym, 1); !ok {
			t.Fatalf("setup reserve %s failed", sym)
		}
	}

	ok, current, required, max := a.Reserve("MGC", 1)
	if ok {
		t.Fatal("expected MGC reservation to be rejected at full capacity")
	}
	if current != 3 || required != 1 || max != 3 {
		t.Errorf("rejection details = current=%d required=%d max=%d, want 3/1/3", current, required, max)
	}
}

// TestReleaseFreesSlotS6 matches spec.md §8 scenario S6: releasing MES frees
// its unit so a fresh MES reservation succeeds again.
func TestReleaseFreesSlotS6(t *testing.T) {
	a := NewAccountant(3)
	for _, sym := range []string{"MES", "MNQ", "MYM"} {
		a.Reserve(sym, 1)
	}

	a.Release("MES")
	ok, current, required, max := a.Reserve("MES", 1)
	if !ok {
		t.Fatalf("expected MES reservation to succeed after release: current=%d required=%d max=%d", current, required, max)
	}
	if got := a.Total(); got != 3 {
		t.Errorf("total after release+reserve = %d, want 3", got)
	}
}

func TestReleaseUnreservedSymbolIsNoop(t *testing.T) {
	a := NewAccountant(3)
	a.Release("MES") // never reserved
	if got := a.Total(); got != 0 {
		t.Errorf("total = %d, want 0", got)
	}
}

// TestMiniContractsCountTenUnits matches spec.md §4.4's mini/micro distinction:
// one ES (mini) contract consumes 10 micro-equivalent units.
func TestMiniContractsCountTenUnits(t *testing.T) {
	a := NewAccountant(10)
	ok, _, required, _ := a.Reserve("ES", 1)
	if !ok || required != 10 {
		t.Fatalf("ES reservation = ok=%v required=%d, want ok=true required=10", ok, required)
	}

	ok, current, required, max := a.Reserve("NQ", 1)
	if ok {
		t.Errorf("a second mini-contract reservation should exceed the budget, got ok=true (current=%d required=%d max=%d)", current, required, max)
	}
}

func TestMaxReturnsConfiguredBudget(t *testing.T) {
	a := NewAccountant(7)
	if a.Max() != 7 {
		t.Errorf("Max() = %d, want 7", a.Max())
	}
}
