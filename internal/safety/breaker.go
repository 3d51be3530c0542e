package safety

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	engerr "github.com/ducminhle1904/futures-sim-engine/internal/errors"
	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/order"
	"github.com/ducminhle1904/futures-sim-engine/internal/position"
)

// State represents the state of the account circuit breaker
type State int

const (
	StateArmed State = iota
	StateTriggered
	StateCooldown
)

// String returns the string representation of the breaker state
func (s State) String() string {
	switch s {
	case StateArmed:
		return "ARMED"
	case StateTriggered:
		return "TRIGGERED"
	case StateCooldown:
		return "COOLDOWN"
	default:
		return "UNKNOWN"
	}
}

// Config holds configuration for the circuit breaker
type Config struct {
	LookbackTrades    int           // closed trades inspected per check
	HardStopThreshold int           // qualifying losses that trip the breaker
	HardLossFraction  float64       // loss as fraction of margin that qualifies
	Cooldown          time.Duration // halt duration after a trip
}

// DefaultConfig returns the account-wide kill-switch defaults: three losses of
// at least 12.5% of margin within the last five trades halt the account for
// four hours. 12.5% of margin corresponds to roughly a 2.5% adverse move at
// 5x leverage.
func DefaultConfig() Config {
	return Config{
		LookbackTrades:    5,
		HardStopThreshold: 3,
		HardLossFraction:  0.125,
		Cooldown:          4 * time.Hour,
	}
}

// Scheduler pauses and resumes the external strategy layer for an account.
// Both calls are fire-and-forget: the breaker's own flatten sequence does not
// depend on their success.
type Scheduler interface {
	PauseAll(accountID string)
	ResumeAll(accountID string)
}

// TradeSource provides the recent closed-trade history the trigger check
// inspects. Satisfied by journal.Journal.
type TradeSource interface {
	Recent(accountID string, limit int) ([]journal.ClosedTrade, error)
}

// FlattenResult is the outcome of one position's emergency close.
type FlattenResult struct {
	PositionID  string  `json:"position_id"`
	Symbol      string  `json:"symbol"`
	RealizedPnL float64 `json:"realized_pnl,omitempty"`
	Err         string  `json:"error,omitempty"`
}

// FlattenReport aggregates a mass-flatten. Failures are collected, not fatal;
// a position that failed to close stays OPEN and the monitor retries it as an
// ordinary liquidation/protective candidate on the next tick.
type FlattenReport struct {
	TriggeredAt time.Time       `json:"triggered_at"`
	Closed      []FlattenResult `json:"closed"`
	Failed      []FlattenResult `json:"failed"`
}

// Status is the queryable view of the breaker.
type Status struct {
	State       string         `json:"state"`
	ActivatedAt *time.Time     `json:"activated_at,omitempty"`
	Remaining   time.Duration  `json:"remaining,omitempty"`
	LastReport  *FlattenReport `json:"last_report,omitempty"`
}

// Breaker is a per-account kill-switch: when the recent trade history shows a
// cluster of severe losses it pauses the strategy layer, flattens every open
// position and refuses new trades until the cooldown elapses. Deliberately
// account-wide, not per-symbol.
type Breaker struct {
	cfg       Config
	accountID string
	trades    TradeSource
	scheduler Scheduler
	proc      *order.Processor
	book      *position.Book
	log       *zap.Logger

	mutex       sync.RWMutex
	state       State
	activatedAt time.Time
	lastReport  *FlattenReport

	now func() time.Time
}

// NewBreaker creates an armed breaker for one account
func NewBreaker(cfg Config, accountID string, trades TradeSource, scheduler Scheduler, proc *order.Processor, book *position.Book, log *zap.Logger) *Breaker {
	if cfg.LookbackTrades == 0 {
		cfg.LookbackTrades = 5
	}
	if cfg.HardStopThreshold == 0 {
		cfg.HardStopThreshold = 3
	}
	if cfg.HardLossFraction == 0 {
		cfg.HardLossFraction = 0.125
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 4 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Breaker{
		cfg:       cfg,
		accountID: accountID,
		trades:    trades,
		scheduler: scheduler,
		proc:      proc,
		book:      book,
		log:       log.Named("breaker"),
		state:     StateArmed,
		now:       time.Now,
	}
}

// Allowed reports whether new trades may be opened.
func (b *Breaker) Allowed() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.state == StateArmed
}

// CheckAndTrip evaluates the trigger condition and, when met, runs the full
// trip sequence: pause the scheduler, flatten every open position, start the
// cooldown. Called after every closed trade; a no-op unless ARMED.
//
// The caller holds the account session lock, so the flatten cannot interleave
// with an open or a monitor scan.
func (b *Breaker) CheckAndTrip(markFor func(symbol string) float64) (*FlattenReport, error) {
	b.mutex.Lock()
	if b.state != StateArmed {
		b.mutex.Unlock()
		return nil, nil
	}
	b.mutex.Unlock()

	recent, err := b.trades.Recent(b.accountID, b.cfg.LookbackTrades)
	if err != nil {
		return nil, engerr.NewStorageError("breaker", "check", err)
	}

	severe := 0
	for _, t := range recent {
		if t.LossFractionOfMargin() >= b.cfg.HardLossFraction {
			severe++
		}
	}
	if severe < b.cfg.HardStopThreshold {
		return nil, nil
	}

	b.mutex.Lock()
	if b.state != StateArmed {
		b.mutex.Unlock()
		return nil, nil
	}
	b.state = StateTriggered
	b.mutex.Unlock()

	b.log.Warn("circuit breaker triggered",
		zap.String("account_id", b.accountID),
		zap.Int("severe_losses", severe),
		zap.Int("lookback", b.cfg.LookbackTrades),
	)

	if b.scheduler != nil {
		b.scheduler.PauseAll(b.accountID)
	}

	report := b.flatten(markFor)

	b.mutex.Lock()
	b.activatedAt = b.now()
	b.state = StateCooldown
	b.lastReport = report
	b.mutex.Unlock()

	return report, nil
}

// flatten closes every open position with reason emergency_stop, continuing
// through individual failures.
func (b *Breaker) flatten(markFor func(symbol string) float64) *FlattenReport {
	report := &FlattenReport{TriggeredAt: b.now()}
	for _, pos := range b.book.Open() {
		mark := markFor(pos.Symbol)
		if mark <= 0 {
			report.Failed = append(report.Failed, FlattenResult{
				PositionID: pos.ID,
				Symbol:     pos.Symbol,
				Err:        engerr.ErrPriceUnavailable.Error(),
			})
			continue
		}
		res, err := b.proc.Close(pos, mark, position.ReasonEmergencyStop)
		if err != nil {
			report.Failed = append(report.Failed, FlattenResult{
				PositionID: pos.ID,
				Symbol:     pos.Symbol,
				Err:        err.Error(),
			})
			continue
		}
		if res.AlreadyClosed {
			continue
		}
		report.Closed = append(report.Closed, FlattenResult{
			PositionID:  pos.ID,
			Symbol:      pos.Symbol,
			RealizedPnL: res.RealizedPnL,
		})
	}
	b.log.Info("emergency flatten complete",
		zap.String("account_id", b.accountID),
		zap.Int("closed", len(report.Closed)),
		zap.Int("failed", len(report.Failed)),
	)
	return report
}

// Status returns the current state, including time remaining before resume is
// accepted.
func (b *Breaker) Status() Status {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	st := Status{State: b.state.String(), LastReport: b.lastReport}
	if b.state == StateCooldown {
		at := b.activatedAt
		st.ActivatedAt = &at
		if remaining := b.cfg.Cooldown - b.now().Sub(b.activatedAt); remaining > 0 {
			st.Remaining = remaining
		}
	}
	return st
}

// Resume re-arms the breaker once the cooldown has elapsed and re-enables the
// strategy layer. Refused with ErrCooldownActive while the cooldown is still
// running; there is no override path.
func (b *Breaker) Resume() error {
	b.mutex.Lock()
	if b.state == StateArmed {
		b.mutex.Unlock()
		return nil
	}
	// Only COOLDOWN re-arms. TRIGGERED means a flatten is in flight and has
	// not yet stamped activatedAt.
	if b.state != StateCooldown {
		b.mutex.Unlock()
		return fmt.Errorf("%w: flatten in progress", engerr.ErrCooldownActive)
	}
	remaining := b.cfg.Cooldown - b.now().Sub(b.activatedAt)
	if remaining > 0 {
		b.mutex.Unlock()
		return fmt.Errorf("%w: %s remaining", engerr.ErrCooldownActive, remaining.Round(time.Second))
	}
	b.state = StateArmed
	b.activatedAt = time.Time{}
	b.mutex.Unlock()

	if b.scheduler != nil {
		b.scheduler.ResumeAll(b.accountID)
	}
	b.log.Info("circuit breaker re-armed", zap.String("account_id", b.accountID))
	return nil
}
