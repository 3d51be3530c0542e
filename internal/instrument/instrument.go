package instrument

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Info holds the trading constraints for one instrument.
type Info struct {
	Symbol      string
	QtyStep     float64 // quantity is floored to a multiple of this
	MinOrderQty float64
	MinNotional float64
	TickSize    float64
	MaxLeverage int
}

// DefaultInfo is the constraint set used for symbols with no fetched info,
// patterned after Bybit linear-perpetual defaults.
func DefaultInfo(symbol string) Info {
	return Info{
		Symbol:      symbol,
		QtyStep:     0.001,
		MinOrderQty: 0.001,
		MinNotional: 5.0,
		TickSize:    0.1,
		MaxLeverage: 125,
	}
}

// RoundQty floors a quantity to the instrument's step size.
func (i Info) RoundQty(qty float64) float64 {
	if i.QtyStep <= 0 {
		return qty
	}
	steps := math.Floor(qty/i.QtyStep + 1e-9)
	return steps * i.QtyStep
}

// RoundPrice snaps a price to the instrument's tick size.
func (i Info) RoundPrice(price float64) float64 {
	if i.TickSize <= 0 {
		return price
	}
	ticks := math.Round(price / i.TickSize)
	return ticks * i.TickSize
}

// FetchFunc retrieves instrument info from an external source.
type FetchFunc func(ctx context.Context, symbol string) (Info, error)

// Manager caches instrument info with a refresh interval so order validation
// does not hit the source on every entry.
type Manager struct {
	fetch           FetchFunc
	mu              sync.RWMutex
	instruments     map[string]Info
	fetchedAt       map[string]time.Time
	refreshInterval time.Duration
}

// NewManager creates a manager. A nil fetch func serves defaults for every
// symbol, which is what the simulator uses unless wired to a live exchange.
func NewManager(fetch FetchFunc) *Manager {
	return &Manager{
		fetch:           fetch,
		instruments:     make(map[string]Info),
		fetchedAt:       make(map[string]time.Time),
		refreshInterval: time.Hour,
	}
}

// Get returns the cached info for a symbol, fetching when stale or missing.
func (m *Manager) Get(ctx context.Context, symbol string) (Info, error) {
	m.mu.RLock()
	info, ok := m.instruments[symbol]
	at := m.fetchedAt[symbol]
	m.mu.RUnlock()

	if ok && time.Since(at) < m.refreshInterval {
		return info, nil
	}

	if m.fetch == nil {
		info = DefaultInfo(symbol)
	} else {
		fetched, err := m.fetch(ctx, symbol)
		if err != nil {
			if ok {
				// Stale info beats no info when the source is down.
				return info, nil
			}
			return Info{}, fmt.Errorf("failed to fetch instrument info for %s: %w", symbol, err)
		}
		info = fetched
	}

	m.mu.Lock()
	m.instruments[symbol] = info
	m.fetchedAt[symbol] = time.Now()
	m.mu.Unlock()
	return info, nil
}

// Put seeds the cache directly. Used by tests and static configurations.
func (m *Manager) Put(info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments[info.Symbol] = info
	m.fetchedAt[info.Symbol] = time.Now()
}
