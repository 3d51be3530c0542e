package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/futures-sim-engine/internal/batch"
	engerr "github.com/ducminhle1904/futures-sim-engine/internal/errors"
	"github.com/ducminhle1904/futures-sim-engine/internal/instrument"
	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/ledger"
	"github.com/ducminhle1904/futures-sim-engine/internal/monitor"
	"github.com/ducminhle1904/futures-sim-engine/internal/order"
	"github.com/ducminhle1904/futures-sim-engine/internal/position"
	"github.com/ducminhle1904/futures-sim-engine/internal/pricefeed"
	"github.com/ducminhle1904/futures-sim-engine/internal/protect"
	"github.com/ducminhle1904/futures-sim-engine/internal/safety"
	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

// Config aggregates the per-component configuration.
type Config struct {
	Order   order.Config
	Protect protect.Config
	Batch   batch.Config
	Breaker safety.Config

	// Candle window consumed by the protective sizer.
	CandleInterval string // Bybit interval code, "60" = hourly
	CandleLookback int

	// DefaultEntryQuality scales stops for entries with no explicit quality.
	DefaultEntryQuality float64

	// LimitOrderTTL cancels resting limit orders that never cross. Zero
	// means they rest until filled.
	LimitOrderTTL time.Duration
}

// DefaultConfig returns the simulator defaults: hourly candles over a week,
// mid-confidence entries and a 30 minute resting-order lifetime.
func DefaultConfig() Config {
	return Config{
		Order:               order.DefaultConfig(),
		Protect:             protect.DefaultConfig(),
		Batch:               batch.DefaultConfig(),
		Breaker:             safety.DefaultConfig(),
		CandleInterval:      "60",
		CandleLookback:      168,
		DefaultEntryQuality: 0.5,
		LimitOrderTTL:       30 * time.Minute,
	}
}

// PlaceOrderRequest is the caller-facing shape of a new order.
type PlaceOrderRequest struct {
	Symbol     string
	Side       position.Side
	Type       order.Type
	Quantity   float64
	LimitPrice float64
	Leverage   int
	StopLoss   float64
	TakeProfit float64
	TTL        time.Duration
}

// UpdateResult is the outcome of one update_prices call.
type UpdateResult struct {
	Account    ledger.Snapshot
	Liquidated []*position.Position
	Triggered  []monitor.Trigger
	TimedOut   []*position.Position
	Filled     []*order.Order
	Cancelled  []*order.Order
	Flatten    *safety.FlattenReport
}

// Statistics is the read-only aggregate view of one account.
type Statistics struct {
	Account ledger.Snapshot `json:"account"`
	Trades  journal.Stats   `json:"trades"`
	Breaker safety.Status   `json:"breaker"`
}

// Engine is the facade the transport layer talks to. It owns one session per
// account; all cross-account state (instrument cache, sizer cache, journal)
// is safe for concurrent use.
type Engine struct {
	cfg         Config
	feed        pricefeed.Feed
	instruments *instrument.Manager
	jrnl        journal.Journal
	sizer       *protect.Sizer
	scheduler   safety.Scheduler
	log         *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an engine. scheduler may be nil when no external strategy layer
// is attached.
func New(cfg Config, feed pricefeed.Feed, instruments *instrument.Manager, jrnl journal.Journal, scheduler safety.Scheduler, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:         cfg,
		feed:        feed,
		instruments: instruments,
		jrnl:        jrnl,
		sizer:       protect.NewSizer(cfg.Protect),
		scheduler:   scheduler,
		log:         log.Named("engine"),
		sessions:    make(map[string]*Session),
	}
}

// InitAccount creates a fresh account with the given starting balance.
func (e *Engine) InitAccount(accountID string, initialBalance float64) (ledger.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.sessions[accountID]; exists {
		return ledger.Snapshot{}, engerr.ErrAccountExists
	}
	s, err := newSession(accountID, initialBalance, e.cfg, e.feed, e.instruments, e.jrnl, e.sizer, e.scheduler, e.log)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	e.sessions[accountID] = s
	e.log.Info("account initialized",
		zap.String("account_id", accountID),
		zap.Float64("balance", initialBalance),
	)
	return s.ledger.Snapshot(), nil
}

func (e *Engine) session(accountID string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[accountID]
	if !ok {
		return nil, engerr.ErrAccountNotFound
	}
	return s, nil
}

// PlaceOrder registers a new order for the account. The order is not filled
// until ExecuteOrder or, for resting limits, a price cross in UpdatePrices.
func (e *Engine) PlaceOrder(accountID string, req PlaceOrderRequest) (*order.Order, error) {
	s, err := e.session(accountID)
	if err != nil {
		return nil, err
	}
	return s.placeOrder(req)
}

// ExecuteOrder fills a pending order at currentPrice; zero means "ask the
// feed".
func (e *Engine) ExecuteOrder(ctx context.Context, accountID, orderID string, currentPrice float64) (*position.Position, error) {
	s, err := e.session(accountID)
	if err != nil {
		return nil, err
	}
	return s.executeOrder(ctx, orderID, currentPrice)
}

// ExecuteDecision splits a sized decision into batch entries.
func (e *Engine) ExecuteDecision(ctx context.Context, accountID string, dec batch.Decision) (*batch.Result, error) {
	s, err := e.session(accountID)
	if err != nil {
		return nil, err
	}
	return s.executeDecision(ctx, dec)
}

// ClosePosition closes one position by ID, or the oldest open position on the
// symbol when given a symbol.
func (e *Engine) ClosePosition(ctx context.Context, accountID, idOrSymbol string, currentPrice float64) (*order.CloseResult, error) {
	s, err := e.session(accountID)
	if err != nil {
		return nil, err
	}
	return s.closePosition(ctx, idOrSymbol, currentPrice)
}

// UpdatePrices feeds a batch of ticks through the monitor pipeline and
// returns what closed as a result.
func (e *Engine) UpdatePrices(ctx context.Context, accountID string, ticks []types.PriceTick) (*UpdateResult, error) {
	s, err := e.session(accountID)
	if err != nil {
		return nil, err
	}
	return s.updatePrices(ctx, ticks)
}

// GetPositions returns the account's open positions.
func (e *Engine) GetPositions(accountID string) ([]*position.Position, error) {
	s, err := e.session(accountID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Open(), nil
}

// GetTrades returns up to limit closed trades, newest first.
func (e *Engine) GetTrades(accountID string, limit int) ([]journal.ClosedTrade, error) {
	if _, err := e.session(accountID); err != nil {
		return nil, err
	}
	return e.jrnl.Recent(accountID, limit)
}

// GetStatistics returns the account, trade-history and breaker views in one
// consistent read.
func (e *Engine) GetStatistics(accountID string) (Statistics, error) {
	s, err := e.session(accountID)
	if err != nil {
		return Statistics{}, err
	}

	tradeStats, err := e.jrnl.Stats(accountID)
	if err != nil {
		return Statistics{}, engerr.NewStorageError("engine", "get_statistics", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistics{
		Account: s.ledger.Snapshot(),
		Trades:  tradeStats,
		Breaker: s.breaker.Status(),
	}, nil
}

// BreakerStatus returns the circuit breaker view, including time remaining
// before a resume is accepted.
func (e *Engine) BreakerStatus(accountID string) (safety.Status, error) {
	s, err := e.session(accountID)
	if err != nil {
		return safety.Status{}, err
	}
	return s.breaker.Status(), nil
}

// ResumeBreaker re-arms the breaker once its cooldown has elapsed.
func (e *Engine) ResumeBreaker(accountID string) error {
	s, err := e.session(accountID)
	if err != nil {
		return err
	}
	return s.breaker.Resume()
}

// Accounts lists the initialized account IDs.
func (e *Engine) Accounts() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		out = append(out, id)
	}
	return out
}
