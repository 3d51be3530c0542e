package ledger

import (
	"fmt"
	"math"
	"sync"
	"time"

	engerr "github.com/ducminhle1904/futures-sim-engine/internal/errors"
)

// balanceEpsilon absorbs float drift when releasing margin that was reserved
// in several rounded pieces.
const balanceEpsilon = 1e-9

// Ledger is the single balance ledger owned by one trading account. Available
// balance and frozen margin move strictly against each other; equity is always
// recomputed, never stored independently.
type Ledger struct {
	mu sync.Mutex

	available  float64
	frozen     float64
	realized   float64
	unrealized float64

	totalTrades   int
	winningTrades int

	createdAt time.Time
}

// Snapshot is a read-only view of the ledger at one instant.
type Snapshot struct {
	AvailableBalance float64 `json:"available_balance"`
	FrozenMargin     float64 `json:"frozen_margin"`
	RealizedPnL      float64 `json:"realized_pnl"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	Equity           float64 `json:"equity"`
	TotalTrades      int     `json:"total_trades"`
	WinningTrades    int     `json:"winning_trades"`
	WinRate          float64 `json:"win_rate"`
}

// New creates a ledger funded with an initial balance.
func New(initialBalance float64) (*Ledger, error) {
	if initialBalance <= 0 {
		return nil, engerr.NewValidationError("ledger", "new", fmt.Sprintf("initial balance must be positive, got %.8f", initialBalance))
	}
	return &Ledger{
		available: initialBalance,
		createdAt: time.Now(),
	}, nil
}

// ReserveMargin moves amount from available balance into frozen margin.
func (l *Ledger) ReserveMargin(amount float64) error {
	if amount <= 0 {
		return engerr.NewValidationError("ledger", "reserve_margin", fmt.Sprintf("margin amount must be positive, got %.8f", amount))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.available < amount-balanceEpsilon {
		return fmt.Errorf("%w: required %.8f, available %.8f", engerr.ErrInsufficientBalance, amount, l.available)
	}

	l.available -= amount
	l.frozen += amount
	if l.available < 0 {
		l.available = 0
	}
	return nil
}

// ReleaseMargin moves amount from frozen margin back to available balance.
// Driving frozen margin negative is a bookkeeping bug upstream and is fatal.
func (l *Ledger) ReleaseMargin(amount float64) error {
	if amount <= 0 {
		return engerr.NewValidationError("ledger", "release_margin", fmt.Sprintf("margin amount must be positive, got %.8f", amount))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.frozen < amount-balanceEpsilon {
		return engerr.NewInvariantError("ledger", "release_margin",
			fmt.Errorf("%w: release %.8f exceeds frozen margin %.8f", engerr.ErrInvariantViolation, amount, l.frozen))
	}

	l.frozen -= amount
	l.available += amount
	if math.Abs(l.frozen) < balanceEpsilon {
		l.frozen = 0
	}
	return nil
}

// ApplyRealizedPnL adds signed PnL to the available balance and updates trade
// counters. Losses larger than the balance clamp at zero; liquidation fires
// before that point for any single position.
func (l *Ledger) ApplyRealizedPnL(pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.available += pnl
	l.realized += pnl
	l.totalTrades++
	if pnl > 0 {
		l.winningTrades++
	}
	if l.available < 0 {
		l.available = 0
	}
}

// MarkToMarket replaces the unrealized PnL total. Called once per price tick
// with the sum across all of the account's open positions.
func (l *Ledger) MarkToMarket(unrealizedTotal float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unrealized = unrealizedTotal
}

// AvailableBalance returns the spendable balance.
func (l *Ledger) AvailableBalance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// FrozenMargin returns the margin currently reserved against open positions.
func (l *Ledger) FrozenMargin() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozen
}

// Equity returns available + frozen + unrealized.
func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available + l.frozen + l.unrealized
}

// Snapshot returns a consistent view of the ledger.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	winRate := 0.0
	if l.totalTrades > 0 {
		winRate = float64(l.winningTrades) / float64(l.totalTrades) * 100
	}
	return Snapshot{
		AvailableBalance: l.available,
		FrozenMargin:     l.frozen,
		RealizedPnL:      l.realized,
		UnrealizedPnL:    l.unrealized,
		Equity:           l.available + l.frozen + l.unrealized,
		TotalTrades:      l.totalTrades,
		WinningTrades:    l.winningTrades,
		WinRate:          winRate,
	}
}

// Reset restores the ledger to a fresh state with the given balance. Accounts
// are never deleted, only reset.
func (l *Ledger) Reset(balance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.available = balance
	l.frozen = 0
	l.realized = 0
	l.unrealized = 0
	l.totalTrades = 0
	l.winningTrades = 0
}
