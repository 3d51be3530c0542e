package protect

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-sim-engine/internal/position"
	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

// candleWindow builds n hourly candles with the given up/down excursion
// percentages around a base price.
func candleWindow(n int, upPct, downPct float64) []types.OHLCV {
	base := 100.0
	candles := make([]types.OHLCV, n)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = types.OHLCV{
			Open:      base,
			High:      base * (1 + upPct/100),
			Low:       base * (1 - downPct/100),
			Close:     base,
			Volume:    10,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
		}
	}
	return candles
}

func TestCompute_FallbackOnThinHistory(t *testing.T) {
	s := NewSizer(DefaultConfig())

	levels := s.Compute("BTCUSDT", position.SideLong, candleWindow(5, 1, 1), 0.5)
	assert.InDelta(t, 3.0, levels.StopLossPct, 1e-9)
	assert.InDelta(t, 6.0, levels.TakeProfitPct, 1e-9)
	assert.Contains(t, levels.CalcReason, "fallback")
}

func TestCompute_BoundsAlwaysHold(t *testing.T) {
	cfg := DefaultConfig()
	s := NewSizer(cfg)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		up := rng.Float64() * 20
		down := rng.Float64() * 20
		quality := rng.Float64()
		side := position.SideLong
		if i%2 == 1 {
			side = position.SideShort
		}

		s.InvalidateCache()
		levels := s.Compute("FUZZUSDT", side, candleWindow(48, up, down), quality)

		assert.GreaterOrEqual(t, levels.StopLossPct, cfg.StopLossFloor-1e-9)
		assert.LessOrEqual(t, levels.StopLossPct, cfg.StopLossCeil+1e-9)
		assert.GreaterOrEqual(t, levels.TakeProfitPct, cfg.TakeProfitFloor-1e-9)
		assert.LessOrEqual(t, levels.TakeProfitPct, cfg.TakeProfitCeil+1e-9)
		assert.GreaterOrEqual(t, levels.TakeProfitPct/levels.StopLossPct, cfg.MinRewardRisk-1e-9,
			"reward:risk below configured minimum")
	}
}

func TestCompute_SidesSwapExcursions(t *testing.T) {
	s := NewSizer(DefaultConfig())

	// Heavy upside, quiet downside: a SHORT fights the dominant excursion
	// while its target comes from the thin one, so its stop collapses to the
	// floor under the reward:risk rule. The LONG keeps its volatility stop.
	window := candleWindow(48, 8, 2)
	long := s.Compute("BTCUSDT", position.SideLong, window, 0.5)
	short := s.Compute("BTCUSDT", position.SideShort, window, 0.5)

	assert.Greater(t, long.StopLossPct, short.StopLossPct)
	assert.Greater(t, long.TakeProfitPct, short.TakeProfitPct)
}

func TestCompute_QualityWidensAndTightensStop(t *testing.T) {
	s := NewSizer(DefaultConfig())
	window := candleWindow(48, 10, 2)

	lowQ := s.Compute("BTCUSDT", position.SideLong, window, 0.0)
	highQ := s.Compute("BTCUSDT", position.SideLong, window, 1.0)

	assert.Greater(t, lowQ.StopLossPct, highQ.StopLossPct)
}

func TestCompute_CacheRespectsTTL(t *testing.T) {
	cfg := DefaultConfig()
	s := NewSizer(cfg)

	current := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	quiet := candleWindow(48, 1, 1)
	wild := candleWindow(48, 9, 9)

	first := s.Compute("BTCUSDT", position.SideLong, quiet, 0.5)

	// Within the TTL the cached statistics win even with new candles.
	current = current.Add(30 * time.Minute)
	second := s.Compute("BTCUSDT", position.SideLong, wild, 0.5)
	assert.InDelta(t, first.StopLossPct, second.StopLossPct, 1e-9)

	// Past the TTL the window is recomputed.
	current = current.Add(2 * time.Hour)
	third := s.Compute("BTCUSDT", position.SideLong, wild, 0.5)
	assert.Greater(t, third.StopLossPct, first.StopLossPct)
}

func TestApplyTo_DerivesPricesPerSide(t *testing.T) {
	levels := Levels{StopLossPct: 4, TakeProfitPct: 8}

	long := levels.ApplyTo(position.SideLong, 50000)
	assert.InDelta(t, 48000, long.StopLossPrice, 1e-6)
	assert.InDelta(t, 54000, long.TakeProfitPrice, 1e-6)

	short := levels.ApplyTo(position.SideShort, 50000)
	assert.InDelta(t, 52000, short.StopLossPrice, 1e-6)
	assert.InDelta(t, 46000, short.TakeProfitPrice, 1e-6)
}

func TestPercentile75(t *testing.T) {
	require.InDelta(t, 3, percentile75([]float64{1, 2, 3, 4}), 1e-9)
	require.InDelta(t, 1, percentile75([]float64{1}), 1e-9)
	require.Zero(t, percentile75(nil))
}
