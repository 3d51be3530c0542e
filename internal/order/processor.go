package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	engerr "github.com/ducminhle1904/futures-sim-engine/internal/errors"
	"github.com/ducminhle1904/futures-sim-engine/internal/instrument"
	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/ledger"
	"github.com/ducminhle1904/futures-sim-engine/internal/position"
)

// Config holds the processor's fill and liquidation parameters.
type Config struct {
	// MaintenanceMarginRate keeps a buffer so liquidation fires strictly
	// before the loss consumes 100% of margin. Flat by default; real
	// exchanges tier this by notional.
	MaintenanceMarginRate float64
	MinLeverage           int
	MaxLeverage           int
	TakerFeeRate          float64 // fraction of notional per fill
}

// DefaultConfig returns Bybit-style linear-perpetual defaults.
func DefaultConfig() Config {
	return Config{
		MaintenanceMarginRate: 0.005,
		MinLeverage:           1,
		MaxLeverage:           125,
		TakerFeeRate:          0.0004,
	}
}

// TradeRecorder persists a closed trade. The processor treats the write as
// part of the close: a trade that cannot be recorded is not applied in memory
// either.
type TradeRecorder interface {
	RecordClose(trade journal.ClosedTrade) error
}

// CloseResult reports the outcome of a close operation.
type CloseResult struct {
	Position      *position.Position
	RealizedPnL   float64
	Fee           float64
	AlreadyClosed bool
}

// Processor turns orders into filled or rejected outcomes and owns every
// mutation of one account's position book and ledger. Callers serialize
// through the account session lock.
type Processor struct {
	cfg         Config
	accountID   string
	ledger      *ledger.Ledger
	book        *position.Book
	instruments *instrument.Manager
	recorder    TradeRecorder
	log         *zap.Logger
}

// NewProcessor creates a processor bound to one account's ledger and book.
func NewProcessor(cfg Config, accountID string, led *ledger.Ledger, book *position.Book, instruments *instrument.Manager, recorder TradeRecorder, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		cfg:         cfg,
		accountID:   accountID,
		ledger:      led,
		book:        book,
		instruments: instruments,
		recorder:    recorder,
		log:         log.Named("order"),
	}
}

// Fill validates an order and opens a new position at the given mark price.
// Limit orders fill at their limit price. On rejection the order carries the
// reason and no state is mutated.
func (p *Processor) Fill(ctx context.Context, ord *Order, markPrice float64) (*position.Position, error) {
	fillPrice := markPrice
	if ord.Type == TypeLimit && ord.LimitPrice > 0 {
		fillPrice = ord.LimitPrice
	}
	if fillPrice <= 0 {
		return nil, p.reject(ord, fmt.Errorf("%w: no fill price", engerr.ErrPriceUnavailable))
	}

	info, err := p.instruments.Get(ctx, ord.Symbol)
	if err != nil {
		return nil, engerr.Wrap(err, engerr.ErrorCategoryPrice, "order", "fill")
	}

	// Validation chain, first failure wins.
	qty := info.RoundQty(ord.Quantity)
	if qty <= 0 || qty < info.MinOrderQty {
		return nil, p.reject(ord, fmt.Errorf("%w: %.8f rounds to %.8f (step %.8f, min %.8f)",
			engerr.ErrQuantityTooSmall, ord.Quantity, qty, info.QtyStep, info.MinOrderQty))
	}

	notional := qty * fillPrice
	if notional < info.MinNotional {
		return nil, p.reject(ord, fmt.Errorf("%w: notional %.4f below minimum %.4f",
			engerr.ErrBelowMinNotional, notional, info.MinNotional))
	}

	maxLev := p.cfg.MaxLeverage
	if info.MaxLeverage > 0 && info.MaxLeverage < maxLev {
		maxLev = info.MaxLeverage
	}
	if ord.Leverage < p.cfg.MinLeverage || ord.Leverage > maxLev {
		return nil, p.reject(ord, fmt.Errorf("%w: %dx not in [%d, %d]",
			engerr.ErrLeverageOutOfRange, ord.Leverage, p.cfg.MinLeverage, maxLev))
	}

	margin := notional / float64(ord.Leverage)
	if err := p.ledger.ReserveMargin(margin); err != nil {
		return nil, p.reject(ord, err)
	}

	pos := position.New(p.accountID, ord.Symbol, ord.Side, qty, fillPrice, ord.Leverage, margin)
	pos.LiquidationPrice = liquidationPrice(fillPrice, ord.Side, ord.Leverage, p.cfg.MaintenanceMarginRate)
	pos.StopLossPrice = ord.StopLossPrice
	pos.TakeProfitPrice = ord.TakeProfitPrice
	p.book.Add(pos)

	ord.Status = StatusFilled
	ord.PositionID = pos.ID

	p.log.Info("order filled",
		zap.String("symbol", ord.Symbol),
		zap.String("side", string(ord.Side)),
		zap.Float64("qty", qty),
		zap.Float64("price", fillPrice),
		zap.Int("leverage", ord.Leverage),
		zap.Float64("margin", margin),
		zap.Float64("liquidation_price", pos.LiquidationPrice),
	)
	return pos, nil
}

// Extend adds quantity to an existing open position at a new fill price,
// recomputing the volume-weighted entry and the liquidation boundary.
func (p *Processor) Extend(ctx context.Context, positionID string, qty, fillPrice float64) (*position.Position, error) {
	pos := p.book.Get(positionID)
	if pos == nil {
		return nil, engerr.ErrPositionNotFound
	}
	if !pos.IsOpen() {
		return nil, engerr.ErrPositionClosed
	}

	info, err := p.instruments.Get(ctx, pos.Symbol)
	if err != nil {
		return nil, engerr.Wrap(err, engerr.ErrorCategoryPrice, "order", "extend")
	}
	qty = info.RoundQty(qty)
	if qty <= 0 {
		return nil, fmt.Errorf("%w: extend quantity", engerr.ErrQuantityTooSmall)
	}

	addMargin := qty * fillPrice / float64(pos.Leverage)
	if err := p.ledger.ReserveMargin(addMargin); err != nil {
		return nil, err
	}

	totalQty := pos.Quantity + qty
	pos.EntryPrice = (pos.EntryPrice*pos.Quantity + fillPrice*qty) / totalQty
	pos.Quantity = totalQty
	pos.Margin += addMargin
	pos.LiquidationPrice = liquidationPrice(pos.EntryPrice, pos.Side, pos.Leverage, p.cfg.MaintenanceMarginRate)

	p.log.Info("position extended",
		zap.String("position_id", pos.ID),
		zap.Float64("added_qty", qty),
		zap.Float64("vwap_entry", pos.EntryPrice),
	)
	return pos, nil
}

// AttachProtection freezes the protective levels onto a position.
func (p *Processor) AttachProtection(pos *position.Position, levels position.ProtectiveLevels) {
	pos.Protect = &levels
	pos.StopLossPrice = levels.StopLossPrice
	pos.TakeProfitPrice = levels.TakeProfitPrice
}

// Close realizes PnL at the exit price, releases the position's margin and
// transitions it to a terminal status. Closing an already-terminal position
// is a successful no-op so that the monitor and the circuit breaker may race
// on the same position.
func (p *Processor) Close(pos *position.Position, exitPrice float64, reason position.CloseReason) (*CloseResult, error) {
	if !pos.IsOpen() {
		return &CloseResult{Position: pos, AlreadyClosed: true}, nil
	}

	gross := (exitPrice - pos.EntryPrice) * pos.Quantity * pos.Side.Direction()
	fee := (pos.EntryPrice + exitPrice) * pos.Quantity * p.cfg.TakerFeeRate
	net := gross - fee

	now := time.Now()
	trade := journal.ClosedTrade{
		PositionID:  pos.ID,
		AccountID:   p.accountID,
		Symbol:      pos.Symbol,
		Side:        string(pos.Side),
		Quantity:    pos.Quantity,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Leverage:    pos.Leverage,
		Margin:      pos.Margin,
		RealizedPnL: net,
		Fee:         fee,
		Reason:      string(reason),
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    now,
	}

	// Write-then-acknowledge: a close that cannot be journaled is not
	// applied in memory. The position stays OPEN and is retried next tick.
	if p.recorder != nil {
		if err := p.recorder.RecordClose(trade); err != nil {
			return nil, engerr.NewStorageError("order", "close", err)
		}
	}

	if err := p.ledger.ReleaseMargin(pos.Margin); err != nil {
		return nil, err
	}
	p.ledger.ApplyRealizedPnL(net)

	pos.Status = position.StatusClosed
	if reason == position.ReasonLiquidation {
		pos.Status = position.StatusLiquidated
	}
	pos.CloseReason = reason
	pos.ExitPrice = exitPrice
	pos.RealizedPnL = net
	pos.ClosedAt = &now

	p.log.Info("position closed",
		zap.String("position_id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("realized_pnl", net),
		zap.Float64("fee", fee),
	)
	return &CloseResult{Position: pos, RealizedPnL: net, Fee: fee}, nil
}

// reject stamps the order rejected with a typed reason.
func (p *Processor) reject(ord *Order, err error) error {
	ord.Status = StatusRejected
	ord.RejectReason = err.Error()
	p.log.Warn("order rejected",
		zap.String("symbol", ord.Symbol),
		zap.String("reason", err.Error()),
	)
	return err
}

// liquidationPrice computes the mark price at which the position's loss
// consumes its margin minus the maintenance buffer. Always strictly on the
// loss side of the entry for leverage >= 1.
func liquidationPrice(entry float64, side position.Side, leverage int, maintenanceRate float64) float64 {
	lev := float64(leverage)
	if side == position.SideLong {
		return entry * (1 - 1/lev + maintenanceRate)
	}
	return entry * (1 + 1/lev - maintenanceRate)
}
