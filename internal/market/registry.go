package market

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the market instances served by one process.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

func (r *Registry) Add(m *Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[m.ID()]; ok {
		return fmt.Errorf("market %s already registered", m.ID())
	}
	r.markets[m.ID()] = m
	return nil
}

func (r *Registry) Get(id string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return nil, &OpError{Op: "lookup", Market: id, Err: ErrUnknownMarket}
	}
	return m, nil
}

// All returns the markets sorted by id.
func (r *Registry) All() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
