package monitor

import (
	"go.uber.org/zap"

	"github.com/ducminhle1904/futures-sim-engine/internal/ledger"
	"github.com/ducminhle1904/futures-sim-engine/internal/order"
	"github.com/ducminhle1904/futures-sim-engine/internal/position"
	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

// Trigger is one protective close fired by a price tick.
type Trigger struct {
	Position *position.Position
	Reason   position.CloseReason
	Price    float64 // the level that fired, used as the exit price
	Result   *order.CloseResult
}

// Monitor scans one account's open positions on every price update and fires
// liquidations and protective orders. Checks are wick-aware: a tick's High/Low
// range triggers a level even when the last price has already moved back.
//
// Within a single tick liquidation outranks stop-loss outranks take-profit,
// and a position fires at most one of them.
type Monitor struct {
	proc *order.Processor
	book *position.Book
	led  *ledger.Ledger
	log  *zap.Logger

	// lastPrice keeps the most recent mark per symbol so mark-to-market
	// covers positions whose symbol is absent from the current tick batch.
	lastPrice map[string]float64
}

// New creates a monitor over one account's book and ledger.
func New(proc *order.Processor, book *position.Book, led *ledger.Ledger, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		proc:      proc,
		book:      book,
		led:       led,
		log:       log.Named("monitor"),
		lastPrice: make(map[string]float64),
	}
}

// OnTicks applies a batch of price updates: fires any crossed protective
// levels, then re-marks the remaining open positions. A close whose journal
// write fails is logged and left open; the level is still crossed on the next
// tick, so it retries naturally.
func (m *Monitor) OnTicks(ticks []types.PriceTick) []Trigger {
	var fired []Trigger
	for _, tick := range ticks {
		if tick.Last <= 0 {
			continue
		}
		m.lastPrice[tick.Symbol] = tick.Last

		for _, pos := range m.book.OpenBySymbol(tick.Symbol) {
			reason, price, hit := triggerFor(pos, tick)
			if !hit {
				continue
			}
			res, err := m.proc.Close(pos, price, reason)
			if err != nil {
				m.log.Warn("protective close failed, will retry next tick",
					zap.String("position_id", pos.ID),
					zap.String("reason", string(reason)),
					zap.Error(err),
				)
				continue
			}
			if res.AlreadyClosed {
				continue
			}
			fired = append(fired, Trigger{Position: pos, Reason: reason, Price: price, Result: res})
			m.log.Info("protective level fired",
				zap.String("position_id", pos.ID),
				zap.String("symbol", pos.Symbol),
				zap.String("reason", string(reason)),
				zap.Float64("price", price),
				zap.Float64("realized_pnl", res.RealizedPnL),
			)
		}
	}
	m.markToMarket()
	return fired
}

// LastPrice returns the most recent mark for a symbol, or 0 when no tick has
// been seen for it.
func (m *Monitor) LastPrice(symbol string) float64 {
	return m.lastPrice[symbol]
}

// markToMarket recomputes total unrealized PnL across all open positions
// using the freshest known price per symbol.
func (m *Monitor) markToMarket() {
	var total float64
	for _, pos := range m.book.Open() {
		mark, ok := m.lastPrice[pos.Symbol]
		if !ok {
			continue
		}
		total += pos.UnrealizedPnL(mark)
	}
	m.led.MarkToMarket(total)
}

// triggerFor returns the highest-priority level a tick's range crossed.
func triggerFor(pos *position.Position, tick types.PriceTick) (position.CloseReason, float64, bool) {
	low, high := tick.Low, tick.High
	if low <= 0 {
		low = tick.Last
	}
	if high <= 0 {
		high = tick.Last
	}

	if pos.Side == position.SideLong {
		switch {
		case pos.LiquidationPrice > 0 && low <= pos.LiquidationPrice:
			return position.ReasonLiquidation, pos.LiquidationPrice, true
		case pos.StopLossPrice > 0 && low <= pos.StopLossPrice:
			return position.ReasonStopLoss, pos.StopLossPrice, true
		case pos.TakeProfitPrice > 0 && high >= pos.TakeProfitPrice:
			return position.ReasonTakeProfit, pos.TakeProfitPrice, true
		}
		return "", 0, false
	}

	switch {
	case pos.LiquidationPrice > 0 && high >= pos.LiquidationPrice:
		return position.ReasonLiquidation, pos.LiquidationPrice, true
	case pos.StopLossPrice > 0 && high >= pos.StopLossPrice:
		return position.ReasonStopLoss, pos.StopLossPrice, true
	case pos.TakeProfitPrice > 0 && low <= pos.TakeProfitPrice:
		return position.ReasonTakeProfit, pos.TakeProfitPrice, true
	}
	return "", 0, false
}
