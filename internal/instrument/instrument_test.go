package instrument

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundQty(t *testing.T) {
	info := Info{QtyStep: 0.001}

	assert.InDelta(t, 0.123, info.RoundQty(0.1234), 1e-9)
	assert.InDelta(t, 0.1, info.RoundQty(0.1), 1e-9)
	assert.InDelta(t, 0, info.RoundQty(0.0009), 1e-9)

	// Step sizes that don't divide cleanly in binary still floor correctly.
	lot := Info{QtyStep: 0.1}
	assert.InDelta(t, 0.3, lot.RoundQty(0.3), 1e-9)
}

func TestRoundPrice(t *testing.T) {
	info := Info{TickSize: 0.5}
	assert.InDelta(t, 50000.5, info.RoundPrice(50000.49), 1e-9)
	assert.InDelta(t, 50000.0, info.RoundPrice(50000.24), 1e-9)
}

func TestManager_DefaultsWithoutFetcher(t *testing.T) {
	m := NewManager(nil)

	info, err := m.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", info.Symbol)
	assert.Equal(t, 125, info.MaxLeverage)
	assert.InDelta(t, 5.0, info.MinNotional, 1e-9)
}

func TestManager_CachesFetchedInfo(t *testing.T) {
	calls := 0
	m := NewManager(func(ctx context.Context, symbol string) (Info, error) {
		calls++
		return Info{Symbol: symbol, QtyStep: 0.01, MinNotional: 10, MaxLeverage: 50}, nil
	})

	for i := 0; i < 3; i++ {
		info, err := m.Get(context.Background(), "ETHUSDT")
		require.NoError(t, err)
		assert.Equal(t, 50, info.MaxLeverage)
	}
	assert.Equal(t, 1, calls)
}

func TestManager_ServesStaleOnFetchFailure(t *testing.T) {
	failing := false
	m := NewManager(func(ctx context.Context, symbol string) (Info, error) {
		if failing {
			return Info{}, errors.New("source down")
		}
		return Info{Symbol: symbol, MaxLeverage: 75}, nil
	})

	_, err := m.Get(context.Background(), "SOLUSDT")
	require.NoError(t, err)

	// Force a refresh attempt against a broken source.
	m.refreshInterval = 0
	failing = true

	info, err := m.Get(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 75, info.MaxLeverage)

	// A symbol never fetched surfaces the failure.
	_, err = m.Get(context.Background(), "XRPUSDT")
	assert.Error(t, err)
}
