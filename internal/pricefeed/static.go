package pricefeed

import (
	"context"
	"fmt"
	"sync"

	engerr "github.com/ducminhle1904/futures-sim-engine/internal/errors"
	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

// Static is an in-memory feed fed by the caller, used when prices arrive
// through update_prices pushes instead of being pulled from an exchange.
type Static struct {
	mu      sync.RWMutex
	prices  map[string]float64
	candles map[string][]types.OHLCV
}

// NewStatic creates an empty static feed.
func NewStatic() *Static {
	return &Static{
		prices:  make(map[string]float64),
		candles: make(map[string][]types.OHLCV),
	}
}

// SetPrice stores the latest price for a symbol.
func (s *Static) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// SetCandles replaces the candle history for a symbol, oldest first.
func (s *Static) SetCandles(symbol string, candles []types.OHLCV) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[symbol] = candles
}

// CurrentPrice implements Feed.
func (s *Static) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[symbol]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: %s", engerr.ErrPriceUnavailable, symbol)
	}
	return price, nil
}

// RecentOHLC implements Feed.
func (s *Static) RecentOHLC(_ context.Context, symbol string, _ string, lookback int) ([]types.OHLCV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candles := s.candles[symbol]
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", engerr.ErrPriceUnavailable, symbol)
	}
	if lookback > 0 && len(candles) > lookback {
		candles = candles[len(candles)-lookback:]
	}
	out := make([]types.OHLCV, len(candles))
	copy(out, candles)
	return out, nil
}
