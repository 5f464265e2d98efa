package vpvr

import (
	"context"
	"sync"
)

// MemoryProvider is the bundled Provider: an external VPVR computation
// process (out of scope per spec.md §1) pushes fresh Summaries in with Set,
// and the Runner reads the latest one per symbol at alert time. Production
// deployments swap this for whatever wire format that process actually
// speaks; this is the in-process shape dry-run and tests need.
type MemoryProvider struct {
	mu   sync.RWMutex
	data map[string]Summary
}

// NewMemoryProvider builds an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]Summary)}
}

// Set records the latest Summary for symbol.
func (p *MemoryProvider) Set(symbol string, s Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[symbol] = s
}

// Summary implements Provider.
func (p *MemoryProvider) Summary(ctx context.Context, symbol string) (Summary, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.data[symbol]
	return s, ok, nil
}
