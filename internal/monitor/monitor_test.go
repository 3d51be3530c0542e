package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ducminhle1904/futures-sim-engine/internal/instrument"
	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/ledger"
	"github.com/ducminhle1904/futures-sim-engine/internal/order"
	"github.com/ducminhle1904/futures-sim-engine/internal/position"
	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

type fixture struct {
	led  *ledger.Ledger
	book *position.Book
	proc *order.Processor
	rec  *journal.Memory
	mon  *Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	led, err := ledger.New(100000)
	require.NoError(t, err)

	book := position.NewBook()
	rec := journal.NewMemory()
	proc := order.NewProcessor(order.DefaultConfig(), "acct", led, book, instrument.NewManager(nil), rec, zap.NewNop())
	return &fixture{
		led:  led,
		book: book,
		proc: proc,
		rec:  rec,
		mon:  New(proc, book, led, zap.NewNop()),
	}
}

func (f *fixture) openLong(t *testing.T, symbol string, entry, sl, tp float64) *position.Position {
	t.Helper()
	ord := order.New("acct", symbol, position.SideLong, order.TypeMarket, 0.1, 10)
	pos, err := f.proc.Fill(context.Background(), ord, entry)
	require.NoError(t, err)
	pos.StopLossPrice = sl
	pos.TakeProfitPrice = tp
	return pos
}

func (f *fixture) openShort(t *testing.T, symbol string, entry, sl, tp float64) *position.Position {
	t.Helper()
	ord := order.New("acct", symbol, position.SideShort, order.TypeMarket, 0.1, 10)
	pos, err := f.proc.Fill(context.Background(), ord, entry)
	require.NoError(t, err)
	pos.StopLossPrice = sl
	pos.TakeProfitPrice = tp
	return pos
}

func tick(symbol string, last, high, low float64) types.PriceTick {
	return types.PriceTick{Symbol: symbol, Last: last, High: high, Low: low, Timestamp: time.Now()}
}

func TestOnTicks_TakeProfitFiresOnWick(t *testing.T) {
	f := newFixture(t)
	pos := f.openLong(t, "BTCUSDT", 50000, 48000, 52000)

	// High touched the target even though the last price pulled back.
	fired := f.mon.OnTicks([]types.PriceTick{tick("BTCUSDT", 51500, 52100, 51000)})
	require.Len(t, fired, 1)
	assert.Equal(t, position.ReasonTakeProfit, fired[0].Reason)
	assert.InDelta(t, 52000, fired[0].Price, 1e-9)
	assert.Equal(t, position.StatusClosed, pos.Status)

	// Fills at the level, not at the wick extreme.
	assert.InDelta(t, 52000, pos.ExitPrice, 1e-9)
}

func TestOnTicks_OneTickBeforeLevelDoesNotFire(t *testing.T) {
	f := newFixture(t)
	pos := f.openLong(t, "BTCUSDT", 50000, 48000, 52000)

	fired := f.mon.OnTicks([]types.PriceTick{tick("BTCUSDT", 48100, 48500, 48000.01)})
	assert.Empty(t, fired)
	assert.True(t, pos.IsOpen())
}

func TestOnTicks_StopLossOnLongLow(t *testing.T) {
	f := newFixture(t)
	pos := f.openLong(t, "BTCUSDT", 50000, 48000, 52000)

	fired := f.mon.OnTicks([]types.PriceTick{tick("BTCUSDT", 48200, 48900, 47950)})
	require.Len(t, fired, 1)
	assert.Equal(t, position.ReasonStopLoss, fired[0].Reason)
	assert.InDelta(t, 48000, pos.ExitPrice, 1e-9)
	assert.Negative(t, pos.RealizedPnL)
}

func TestOnTicks_ShortSideMirrors(t *testing.T) {
	f := newFixture(t)
	pos := f.openShort(t, "BTCUSDT", 50000, 52000, 47000)

	// A spike through the short's stop fires on the high.
	fired := f.mon.OnTicks([]types.PriceTick{tick("BTCUSDT", 51800, 52050, 51500)})
	require.Len(t, fired, 1)
	assert.Equal(t, position.ReasonStopLoss, fired[0].Reason)
	assert.Equal(t, position.StatusClosed, pos.Status)
}

func TestOnTicks_LiquidationOutranksProtectiveLevels(t *testing.T) {
	f := newFixture(t)
	pos := f.openLong(t, "BTCUSDT", 50000, 46000, 52000)
	require.InDelta(t, 45250, pos.LiquidationPrice, 1e-6)

	// One violent tick spans liquidation, stop and target. Exactly one close
	// fires and it is the liquidation.
	fired := f.mon.OnTicks([]types.PriceTick{tick("BTCUSDT", 50000, 53000, 45000)})
	require.Len(t, fired, 1)
	assert.Equal(t, position.ReasonLiquidation, fired[0].Reason)
	assert.Equal(t, position.StatusLiquidated, pos.Status)
	assert.InDelta(t, pos.LiquidationPrice, pos.ExitPrice, 1e-9)
}

func TestOnTicks_TerminalPositionNeverRefires(t *testing.T) {
	f := newFixture(t)
	f.openLong(t, "BTCUSDT", 50000, 48000, 52000)

	fired := f.mon.OnTicks([]types.PriceTick{tick("BTCUSDT", 52500, 52500, 52000)})
	require.Len(t, fired, 1)
	balance := f.led.AvailableBalance()

	fired = f.mon.OnTicks([]types.PriceTick{tick("BTCUSDT", 53000, 53000, 52500)})
	assert.Empty(t, fired)
	assert.InDelta(t, balance, f.led.AvailableBalance(), 1e-9)
}

func TestOnTicks_MarkToMarketSpansSymbols(t *testing.T) {
	f := newFixture(t)
	f.openLong(t, "BTCUSDT", 50000, 0, 0)
	f.openLong(t, "ETHUSDT", 3000, 0, 0)

	f.mon.OnTicks([]types.PriceTick{tick("BTCUSDT", 51000, 51000, 51000)})
	// BTC +100, ETH unknown so far.
	assert.InDelta(t, 100, f.led.Snapshot().UnrealizedPnL, 1e-9)

	// An ETH-only batch still re-marks BTC from the remembered price.
	f.mon.OnTicks([]types.PriceTick{tick("ETHUSDT", 3100, 3100, 3100)})
	// BTC +100 plus ETH +10.
	assert.InDelta(t, 110, f.led.Snapshot().UnrealizedPnL, 1e-9)
	assert.InDelta(t, 51000, f.mon.LastPrice("BTCUSDT"), 1e-9)
}

func TestOnTicks_JournalFailureRetriesNextTick(t *testing.T) {
	f := newFixture(t)
	pos := f.openLong(t, "BTCUSDT", 50000, 48000, 52000)

	f.rec.FailWrites = errors.New("disk full")
	fired := f.mon.OnTicks([]types.PriceTick{tick("BTCUSDT", 52100, 52100, 52000)})
	assert.Empty(t, fired)
	assert.True(t, pos.IsOpen())

	f.rec.FailWrites = nil
	fired = f.mon.OnTicks([]types.PriceTick{tick("BTCUSDT", 52100, 52100, 52000)})
	require.Len(t, fired, 1)
	assert.Equal(t, position.ReasonTakeProfit, fired[0].Reason)
}
