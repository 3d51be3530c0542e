package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	engerr "github.com/ducminhle1904/futures-sim-engine/internal/errors"
	"github.com/ducminhle1904/futures-sim-engine/internal/instrument"
	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/ledger"
	"github.com/ducminhle1904/futures-sim-engine/internal/order"
	"github.com/ducminhle1904/futures-sim-engine/internal/position"
)

type fakeScheduler struct {
	paused  []string
	resumed []string
}

func (s *fakeScheduler) PauseAll(accountID string)  { s.paused = append(s.paused, accountID) }
func (s *fakeScheduler) ResumeAll(accountID string) { s.resumed = append(s.resumed, accountID) }

type fixture struct {
	led   *ledger.Ledger
	book  *position.Book
	jrnl  *journal.Memory
	proc  *order.Processor
	sched *fakeScheduler
	brk   *Breaker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	led, err := ledger.New(100000)
	require.NoError(t, err)

	book := position.NewBook()
	jrnl := journal.NewMemory()
	proc := order.NewProcessor(order.DefaultConfig(), "acct", led, book, instrument.NewManager(nil), jrnl, zap.NewNop())
	sched := &fakeScheduler{}
	return &fixture{
		led:   led,
		book:  book,
		jrnl:  jrnl,
		proc:  proc,
		sched: sched,
		brk:   NewBreaker(DefaultConfig(), "acct", jrnl, sched, proc, book, zap.NewNop()),
	}
}

// recordTrade appends a closed trade with the given loss fraction of margin.
func (f *fixture) recordTrade(t *testing.T, lossFraction float64) {
	t.Helper()
	trade := journal.ClosedTrade{
		PositionID:  "p",
		AccountID:   "acct",
		Symbol:      "BTCUSDT",
		Side:        "LONG",
		Quantity:    0.1,
		EntryPrice:  50000,
		Leverage:    5,
		Margin:      1000,
		RealizedPnL: -lossFraction * 1000,
		Reason:      "stop_loss",
		ClosedAt:    time.Now(),
	}
	if lossFraction == 0 {
		trade.RealizedPnL = 50
	}
	require.NoError(t, f.jrnl.RecordClose(trade))
}

func (f *fixture) openLong(t *testing.T, entry float64) *position.Position {
	t.Helper()
	ord := order.New("acct", "BTCUSDT", position.SideLong, order.TypeMarket, 0.1, 10)
	pos, err := f.proc.Fill(context.Background(), ord, entry)
	require.NoError(t, err)
	return pos
}

func markAt(price float64) func(string) float64 {
	return func(string) float64 { return price }
}

func TestCheckAndTrip_BelowThresholdStaysArmed(t *testing.T) {
	f := newFixture(t)

	// hard_stop_threshold - 1 qualifying losses in the lookback window.
	f.recordTrade(t, 0.20)
	f.recordTrade(t, 0.15)
	f.recordTrade(t, 0)
	f.recordTrade(t, 0.05)
	f.recordTrade(t, 0)

	report, err := f.brk.CheckAndTrip(markAt(50000))
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.True(t, f.brk.Allowed())
	assert.Equal(t, "ARMED", f.brk.Status().State)
	assert.Empty(t, f.sched.paused)
}

func TestCheckAndTrip_ThresholdTripsAndFlattens(t *testing.T) {
	f := newFixture(t)

	pos1 := f.openLong(t, 50000)
	pos2 := f.openLong(t, 50000)

	// 3 of the last 5 lose at least 12.5% of margin.
	f.recordTrade(t, 0.20)
	f.recordTrade(t, 0.125)
	f.recordTrade(t, 0)
	f.recordTrade(t, 0.30)
	f.recordTrade(t, 0.05)

	report, err := f.brk.CheckAndTrip(markAt(49000))
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, []string{"acct"}, f.sched.paused)
	assert.Len(t, report.Closed, 2)
	assert.Empty(t, report.Failed)
	assert.Equal(t, position.StatusClosed, pos1.Status)
	assert.Equal(t, position.ReasonEmergencyStop, pos1.CloseReason)
	assert.Equal(t, position.ReasonEmergencyStop, pos2.CloseReason)
	assert.Zero(t, f.led.FrozenMargin())

	st := f.brk.Status()
	assert.Equal(t, "COOLDOWN", st.State)
	require.NotNil(t, st.ActivatedAt)
	assert.Greater(t, st.Remaining, 3*time.Hour)
	assert.False(t, f.brk.Allowed())
}

func TestCheckAndTrip_OlderLossesOutsideLookbackIgnored(t *testing.T) {
	f := newFixture(t)

	// Three severe losses, then five recent benign trades push them out of
	// the lookback window.
	f.recordTrade(t, 0.30)
	f.recordTrade(t, 0.30)
	f.recordTrade(t, 0.30)
	for i := 0; i < 5; i++ {
		f.recordTrade(t, 0)
	}

	report, err := f.brk.CheckAndTrip(markAt(50000))
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.True(t, f.brk.Allowed())
}

func TestCheckAndTrip_FlattenContinuesThroughFailures(t *testing.T) {
	f := newFixture(t)

	f.openLong(t, 50000)
	pos2 := f.openLong(t, 50000)
	pos2.Symbol = "NOQUOTE" // no mark available for this one

	for i := 0; i < 3; i++ {
		f.recordTrade(t, 0.20)
	}

	markFor := func(symbol string) float64 {
		if symbol == "NOQUOTE" {
			return 0
		}
		return 50000
	}
	report, err := f.brk.CheckAndTrip(markFor)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Len(t, report.Closed, 1)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, pos2.ID, report.Failed[0].PositionID)

	// The failed position stays open for the monitor to retry.
	assert.True(t, pos2.IsOpen())
	assert.Equal(t, "COOLDOWN", f.brk.Status().State)
}

func TestResume_RefusedDuringCooldown(t *testing.T) {
	f := newFixture(t)
	start := time.Now()
	f.brk.now = func() time.Time { return start }

	for i := 0; i < 3; i++ {
		f.recordTrade(t, 0.20)
	}
	_, err := f.brk.CheckAndTrip(markAt(50000))
	require.NoError(t, err)

	// One minute before the cooldown ends.
	f.brk.now = func() time.Time { return start.Add(4*time.Hour - time.Minute) }
	err = f.brk.Resume()
	require.Error(t, err)
	assert.True(t, errors.Is(err, engerr.ErrCooldownActive))
	assert.Empty(t, f.sched.resumed)

	// After the cooldown elapses the breaker re-arms and resumes strategies.
	f.brk.now = func() time.Time { return start.Add(4*time.Hour + time.Second) }
	require.NoError(t, f.brk.Resume())
	assert.True(t, f.brk.Allowed())
	assert.Equal(t, "ARMED", f.brk.Status().State)
	assert.Equal(t, []string{"acct"}, f.sched.resumed)
}

func TestResume_NoOpWhenArmed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.brk.Resume())
	assert.Empty(t, f.sched.resumed)
}

func TestCheckAndTrip_NoOpWhileCoolingDown(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		f.recordTrade(t, 0.20)
	}
	report, err := f.brk.CheckAndTrip(markAt(50000))
	require.NoError(t, err)
	require.NotNil(t, report)

	// Still three severe losses on record, but the breaker already tripped.
	report, err = f.brk.CheckAndTrip(markAt(50000))
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestResume_RefusedMidFlatten(t *testing.T) {
	f := newFixture(t)

	// TRIGGERED is the transient window inside a trip: activatedAt has not
	// been stamped yet, so the cooldown arithmetic must not run.
	f.brk.state = StateTriggered

	err := f.brk.Resume()
	require.ErrorIs(t, err, engerr.ErrCooldownActive)
	assert.Equal(t, StateTriggered, f.brk.state)
	assert.Empty(t, f.sched.resumed)
}
