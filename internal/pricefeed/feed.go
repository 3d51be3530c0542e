package pricefeed

import (
	"context"

	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

// Feed supplies mark prices and candle history for the engine. Both calls may
// fail with ErrPriceUnavailable, in which case the caller skips the symbol for
// this cycle and retries on the next.
type Feed interface {
	// CurrentPrice returns the latest mark price for a symbol.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)

	// RecentOHLC returns up to lookback candles for the symbol at the given
	// interval, ordered oldest first.
	RecentOHLC(ctx context.Context, symbol string, interval string, lookback int) ([]types.OHLCV, error)
}
