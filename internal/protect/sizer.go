package protect

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/futures-sim-engine/internal/position"
	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

// Config holds the bounds and knobs for volatility-based protective sizing.
// All percentages are in percent units (3.0 = 3%).
type Config struct {
	StopLossFloor   float64 // minimum stop-loss distance
	StopLossCeil    float64 // maximum stop-loss distance
	TakeProfitFloor float64
	TakeProfitCeil  float64
	MinRewardRisk   float64 // minimum take-profit / stop-loss ratio

	// Multipliers over the excursion statistics.
	StopP75Mult float64
	StopAvgMult float64
	TPP75Mult   float64
	TPAvgMult   float64

	// Entry-quality adjustment: quality 0 widens the stop by MaxWiden,
	// quality 1 tightens it to MinTighten.
	QualityMaxWiden   float64
	QualityMinTighten float64

	// Fallback when fewer than MinCandles exist.
	FallbackStopLoss   float64
	FallbackTakeProfit float64
	MinCandles         int

	CacheTTL time.Duration
}

// DefaultConfig returns the sizing defaults.
func DefaultConfig() Config {
	return Config{
		StopLossFloor:      2.0,
		StopLossCeil:       15.0,
		TakeProfitFloor:    1.0,
		TakeProfitCeil:     10.0,
		MinRewardRisk:      1.2,
		StopP75Mult:        1.3,
		StopAvgMult:        1.5,
		TPP75Mult:          0.8,
		TPAvgMult:          2.0,
		QualityMaxWiden:    1.3,
		QualityMinTighten:  0.8,
		FallbackStopLoss:   3.0,
		FallbackTakeProfit: 6.0,
		MinCandles:         24,
		CacheTTL:           time.Hour,
	}
}

// Levels is the computed protective sizing for one entry, in percent of the
// entry price.
type Levels struct {
	StopLossPct   float64
	TakeProfitPct float64
	CalcReason    string
}

// ApplyTo derives concrete protective prices for an entry.
func (l Levels) ApplyTo(side position.Side, entryPrice float64) position.ProtectiveLevels {
	pl := position.ProtectiveLevels{
		StopLossPct:   l.StopLossPct,
		TakeProfitPct: l.TakeProfitPct,
		CalcReason:    l.CalcReason,
	}
	if side == position.SideLong {
		pl.StopLossPrice = entryPrice * (1 - l.StopLossPct/100)
		pl.TakeProfitPrice = entryPrice * (1 + l.TakeProfitPct/100)
	} else {
		pl.StopLossPrice = entryPrice * (1 + l.StopLossPct/100)
		pl.TakeProfitPrice = entryPrice * (1 - l.TakeProfitPct/100)
	}
	return pl
}

// excursionStats are the direction-aware dispersion statistics of one symbol's
// recent candles, cached so repeated entries don't recompute them.
type excursionStats struct {
	avgUp   float64
	avgDown float64
	p75Up   float64
	p75Down float64
	candles int
}

type cacheEntry struct {
	stats excursionStats
	at    time.Time
}

// Sizer computes protective levels from historical price ranges. It is a pure
// function over its inputs apart from the per-symbol statistics cache.
type Sizer struct {
	cfg   Config
	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewSizer creates a sizer with the given config.
func NewSizer(cfg Config) *Sizer {
	return &Sizer{
		cfg:   cfg,
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

// Compute returns the protective levels for an entry on symbol/side given a
// recent OHLC window and an entry quality in [0, 1]. Quality below 0.5 widens
// the stop, above tightens it.
func (s *Sizer) Compute(symbol string, side position.Side, candles []types.OHLCV, entryQuality float64) Levels {
	if len(candles) < s.cfg.MinCandles {
		return Levels{
			StopLossPct:   s.cfg.FallbackStopLoss,
			TakeProfitPct: s.cfg.FallbackTakeProfit,
			CalcReason:    fmt.Sprintf("fallback: %d candles, need %d", len(candles), s.cfg.MinCandles),
		}
	}

	stats := s.statsFor(symbol, candles)

	// The stop derives from the adverse excursion for the side, the target
	// from the favorable one. For a SHORT the roles swap.
	var stopPct, tpPct float64
	if side == position.SideLong {
		stopPct = math.Max(stats.p75Down*s.cfg.StopP75Mult, stats.avgDown*s.cfg.StopAvgMult)
		tpPct = math.Min(stats.p75Up*s.cfg.TPP75Mult, stats.avgUp*s.cfg.TPAvgMult)
	} else {
		stopPct = math.Max(stats.p75Up*s.cfg.StopP75Mult, stats.avgUp*s.cfg.StopAvgMult)
		tpPct = math.Min(stats.p75Down*s.cfg.TPP75Mult, stats.avgDown*s.cfg.TPAvgMult)
	}

	stopPct *= s.qualityMultiplier(entryQuality)

	stopPct = clamp(stopPct, s.cfg.StopLossFloor, s.cfg.StopLossCeil)
	tpPct = clamp(tpPct, s.cfg.TakeProfitFloor, s.cfg.TakeProfitCeil)

	// Enforce the minimum reward:risk ratio by tightening the stop, never by
	// widening it. Only when the stop floor binds does the target move up.
	if s.cfg.MinRewardRisk > 0 && tpPct/stopPct < s.cfg.MinRewardRisk {
		stopPct = tpPct / s.cfg.MinRewardRisk
		if stopPct < s.cfg.StopLossFloor {
			stopPct = s.cfg.StopLossFloor
			tpPct = stopPct * s.cfg.MinRewardRisk
		}
	}

	return Levels{
		StopLossPct:   stopPct,
		TakeProfitPct: tpPct,
		CalcReason: fmt.Sprintf("%s %s: avg_up=%.2f%% p75_up=%.2f%% avg_down=%.2f%% p75_down=%.2f%% quality=%.2f over %d candles",
			symbol, side, stats.avgUp, stats.p75Up, stats.avgDown, stats.p75Down, entryQuality, stats.candles),
	}
}

// statsFor returns cached excursion statistics for the symbol, recomputing
// after the TTL expires.
func (s *Sizer) statsFor(symbol string, candles []types.OHLCV) excursionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.cache[symbol]; ok && s.now().Sub(entry.at) < s.cfg.CacheTTL {
		return entry.stats
	}

	stats := computeExcursions(candles)
	s.cache[symbol] = cacheEntry{stats: stats, at: s.now()}
	return stats
}

// InvalidateCache drops every cached statistic. Used when a symbol's history
// is reloaded out of band.
func (s *Sizer) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cacheEntry)
}

// qualityMultiplier maps entry quality in [0, 1] onto the stop-width scale.
func (s *Sizer) qualityMultiplier(quality float64) float64 {
	q := clamp(quality, 0, 1)
	return s.cfg.QualityMaxWiden - (s.cfg.QualityMaxWiden-s.cfg.QualityMinTighten)*q
}

// computeExcursions measures upside (high-open) and downside (open-low)
// excursions as percentages of the open.
func computeExcursions(candles []types.OHLCV) excursionStats {
	ups := make([]float64, 0, len(candles))
	downs := make([]float64, 0, len(candles))
	for _, c := range candles {
		if c.Open <= 0 {
			continue
		}
		ups = append(ups, (c.High-c.Open)/c.Open*100)
		downs = append(downs, (c.Open-c.Low)/c.Open*100)
	}

	return excursionStats{
		avgUp:   mean(ups),
		avgDown: mean(downs),
		p75Up:   percentile75(ups),
		p75Down: percentile75(downs),
		candles: len(ups),
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// percentile75 uses the nearest-rank method.
func percentile75(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(0.75*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
