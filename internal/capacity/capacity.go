// Package capacity implements the Capacity Accountant (spec.md §4.4): a
// process-wide-per-account budget in micro-equivalent units across a single
// account's non-terminal positions.
package capacity

import (
	"sync"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/symboltable"
)

// Accountant enforces Σ microEquivalent(symbol, quantity) <= maxContracts
// for one account's set of non-terminal positions (spec.md §4.4, §8).
type Accountant struct {
	mu           sync.Mutex
	maxContracts int
	bySymbol     map[string]int // symbol -> reserved micro-equivalent units
}

// NewAccountant creates an Accountant with the given budget.
func NewAccountant(maxContracts int) *Accountant {
	return &Accountant{
		maxContracts: maxContracts,
		bySymbol:     make(map[string]int),
	}
}

// Reserve attempts to admit quantity contracts of symbol. It returns whether
// the reservation was admitted along with the totals the caller needs to
// build a capacityExceeded intent on rejection: the total already in use
// before this reservation, the units this reservation would require, and the
// configured max.
func (a *Accountant) Reserve(symbol string, quantity int) (ok bool, current, required, max int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	required = symboltable.MicroEquivalent(symbol, quantity)
	current = a.totalLocked()
	max = a.maxContracts
	if current+required > max {
		return false, current, required, max
	}
	a.bySymbol[symbol] = required
	return true, current, required, max
}

// Release frees whatever units were reserved for symbol. Releasing a symbol
// with no reservation is a no-op, matching "the capacity accountant treats
// the about-to-be-freed slot as already free" (spec.md §4.3).
func (a *Accountant) Release(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.bySymbol, symbol)
}

// Total returns the currently reserved micro-equivalent units across all
// symbols.
func (a *Accountant) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalLocked()
}

// Max returns the configured budget.
func (a *Accountant) Max() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxContracts
}

func (a *Accountant) totalLocked() int {
	total := 0
	for _, v := range a.bySymbol {
		total += v
	}
	return total
}
