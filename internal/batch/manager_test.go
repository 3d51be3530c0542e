package batch

import (
	"context"
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
	"github.com/ducminhle1904/futures-sim-engine/internal/protect"
)

type fixture struct {
	led  *ledger.Ledger
	book *position.Book
	jrnl *journal.Memory
	mgr  *Manager
}

func newFixture(t *testing.T, balance float64) *fixture {
	t.Helper()
	led, err := ledger.New(balance)
	require.NoError(t, err)

	book := position.NewBook()
	jrnl := journal.NewMemory()
	proc := order.NewProcessor(order.DefaultConfig(), "acct", led, book, instrument.NewManager(nil), jrnl, zap.NewNop())
	sizer := protect.NewSizer(protect.DefaultConfig())
	return &fixture{
		led:  led,
		book: book,
		jrnl: jrnl,
		mgr:  NewManager(DefaultConfig(), proc, sizer, jrnl, zap.NewNop()),
	}
}

func decision(qty float64) Decision {
	return Decision{
		Symbol:       "BTCUSDT",
		Side:         position.SideLong,
		Quantity:     qty,
		Leverage:     10,
		EntryQuality: 0.5,
	}
}

func TestExecute_SplitsIntoIndependentPositions(t *testing.T) {
	f := newFixture(t, 100000)

	res, err := f.mgr.Execute(context.Background(), "acct", decision(1.0), 50000, nil)
	require.NoError(t, err)
	require.Len(t, res.Legs, 3)

	// 30/30/40 of 1.0 BTC, each leg its own position row.
	assert.Equal(t, 3, f.book.OpenCount())
	assert.InDelta(t, 0.3, res.Legs[0].Quantity, 1e-9)
	assert.InDelta(t, 0.3, res.Legs[1].Quantity, 1e-9)
	assert.InDelta(t, 0.4, res.Legs[2].Quantity, 1e-9)
	assert.InDelta(t, 1.0, res.FilledQuantity(), 1e-9)

	// Shared plan ID and one shared protective computation.
	for i, leg := range res.Legs {
		require.NotNil(t, leg.Position)
		assert.Equal(t, res.PlanID, leg.Position.BatchID)
		assert.Equal(t, i, leg.Position.BatchIndex)
		require.NotNil(t, leg.Position.Protect)
		assert.InDelta(t, res.Levels.StopLossPct, leg.Position.Protect.StopLossPct, 1e-9)
		assert.InDelta(t, res.Levels.TakeProfitPct, leg.Position.Protect.TakeProfitPct, 1e-9)
	}

	// No candle history: the sizer fell back to conservative defaults.
	assert.InDelta(t, 3.0, res.Levels.StopLossPct, 1e-9)
	assert.InDelta(t, 6.0, res.Levels.TakeProfitPct, 1e-9)

	// Margin for the full size: 1.0 * 50000 / 10.
	assert.InDelta(t, 5000, f.led.FrozenMargin(), 1e-9)
}

func TestExecute_RecordsPlanAndFills(t *testing.T) {
	f := newFixture(t, 100000)

	res, err := f.mgr.Execute(context.Background(), "acct", decision(1.0), 50000, nil)
	require.NoError(t, err)

	plans := f.jrnl.Plans()
	require.Len(t, plans, 1)
	assert.Equal(t, res.PlanID, plans[0].ID)
	assert.Equal(t, []float64{0.3, 0.3, 0.4}, plans[0].Ratios)
	assert.InDelta(t, 1.0, plans[0].TotalQuantity, 1e-9)

	fills := f.jrnl.Fills()
	require.Len(t, fills, 3)
	for i, fill := range fills {
		assert.Equal(t, res.PlanID, fill.PlanID)
		assert.Equal(t, i, fill.Index)
		assert.False(t, fill.Failed)
		assert.NotEmpty(t, fill.PositionID)
	}
}

func TestExecute_LegFailureDoesNotRollBackEarlierFills(t *testing.T) {
	// Enough balance for the first two legs (1500 + 1500) but not the 40% leg.
	f := newFixture(t, 3400)

	res, err := f.mgr.Execute(context.Background(), "acct", decision(1.0), 50000, nil)
	require.NoError(t, err)
	require.Len(t, res.Legs, 3)

	assert.NoError(t, res.Legs[0].Err)
	assert.NoError(t, res.Legs[1].Err)
	assert.Error(t, res.Legs[2].Err)

	// The first two fills stand; exposure is just smaller than intended.
	assert.Equal(t, 2, f.book.OpenCount())
	assert.InDelta(t, 0.6, res.FilledQuantity(), 1e-9)
	assert.InDelta(t, 3000, f.led.FrozenMargin(), 1e-9)

	fills := f.jrnl.Fills()
	require.Len(t, fills, 3)
	assert.True(t, fills[2].Failed)
	assert.NotEmpty(t, fills[2].Error)
	assert.Zero(t, fills[2].Quantity)
}

func TestExecute_RejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t, 100000)

	_, err := f.mgr.Execute(context.Background(), "acct", decision(0), 50000, nil)
	require.Error(t, err)
	assert.Zero(t, f.book.OpenCount())
	assert.Empty(t, f.jrnl.Plans())
}

func TestExpireLegs_ClosesPastDeadline(t *testing.T) {
	f := newFixture(t, 100000)

	start := time.Now()
	f.mgr.now = func() time.Time { return start }

	res, err := f.mgr.Execute(context.Background(), "acct", decision(1.0), 50000, nil)
	require.NoError(t, err)
	require.Equal(t, 3, f.book.OpenCount())

	markFor := func(string) float64 { return 50500.0 }

	// Inside the window nothing expires.
	f.mgr.now = func() time.Time { return start.Add(4 * time.Minute) }
	assert.Empty(t, f.mgr.ExpireLegs(f.book.Open(), markFor))

	// Past the deadline every leg force-closes with reason timeout.
	f.mgr.now = func() time.Time { return start.Add(6 * time.Minute) }
	closed := f.mgr.ExpireLegs(f.book.Open(), markFor)
	require.Len(t, closed, 3)
	for _, pos := range closed {
		assert.Equal(t, position.ReasonTimeout, pos.CloseReason)
		assert.Equal(t, res.PlanID, pos.BatchID)
	}
	assert.Zero(t, f.book.OpenCount())
	assert.Zero(t, f.led.FrozenMargin())
}

func TestExpireLegs_PrunesElapsedDeadlines(t *testing.T) {
	f := newFixture(t, 100000)

	start := time.Now()
	f.mgr.now = func() time.Time { return start }

	res, err := f.mgr.Execute(context.Background(), "acct", decision(1.0), 50000, nil)
	require.NoError(t, err)
	require.Contains(t, f.mgr.deadlines, res.PlanID)

	f.mgr.now = func() time.Time { return start.Add(6 * time.Minute) }

	// No mark for the symbol: the legs stay open and the deadline is kept
	// so the next pass can retry them.
	assert.Empty(t, f.mgr.ExpireLegs(f.book.Open(), func(string) float64 { return 0 }))
	assert.Contains(t, f.mgr.deadlines, res.PlanID)

	closed := f.mgr.ExpireLegs(f.book.Open(), func(string) float64 { return 50500 })
	require.Len(t, closed, 3)
	assert.Empty(t, f.mgr.deadlines)
}
