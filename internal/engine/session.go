package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/futures-sim-engine/internal/batch"
	engerr "github.com/ducminhle1904/futures-sim-engine/internal/errors"
	"github.com/ducminhle1904/futures-sim-engine/internal/instrument"
	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/ledger"
	"github.com/ducminhle1904/futures-sim-engine/internal/monitor"
	"github.com/ducminhle1904/futures-sim-engine/internal/monitoring"
	"github.com/ducminhle1904/futures-sim-engine/internal/order"
	"github.com/ducminhle1904/futures-sim-engine/internal/position"
	"github.com/ducminhle1904/futures-sim-engine/internal/pricefeed"
	"github.com/ducminhle1904/futures-sim-engine/internal/protect"
	"github.com/ducminhle1904/futures-sim-engine/internal/safety"
	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

// Session owns one account's mutable state. Every operation takes the session
// lock for the full read-modify-write sequence on ledger and book; sessions
// for different accounts run fully in parallel.
type Session struct {
	mu        sync.Mutex
	accountID string

	ledger  *ledger.Ledger
	book    *position.Book
	proc    *order.Processor
	mon     *monitor.Monitor
	batches *batch.Manager
	breaker *safety.Breaker

	// orders keeps every order by ID; pending tracks the subset of resting
	// LIMIT orders awaiting a price cross.
	orders  map[string]*order.Order
	pending map[string]*order.Order

	cfg   Config
	feed  pricefeed.Feed
	sizer *protect.Sizer
	log   *zap.Logger
}

func newSession(accountID string, balance float64, cfg Config, feed pricefeed.Feed, instruments *instrument.Manager, jrnl journal.Journal, sizer *protect.Sizer, scheduler safety.Scheduler, log *zap.Logger) (*Session, error) {
	led, err := ledger.New(balance)
	if err != nil {
		return nil, err
	}

	book := position.NewBook()
	proc := order.NewProcessor(cfg.Order, accountID, led, book, instruments, jrnl, log)
	s := &Session{
		accountID: accountID,
		ledger:    led,
		book:      book,
		proc:      proc,
		mon:       monitor.New(proc, book, led, log),
		batches:   batch.NewManager(cfg.Batch, proc, sizer, jrnl, log),
		breaker:   safety.NewBreaker(cfg.Breaker, accountID, jrnl, scheduler, proc, book, log),
		orders:    make(map[string]*order.Order),
		pending:   make(map[string]*order.Order),
		cfg:       cfg,
		feed:      feed,
		sizer:     sizer,
		log:       log.Named("session").With(zap.String("account_id", accountID)),
	}
	return s, nil
}

// placeOrder validates the request shape and registers a pending order. LIMIT
// orders rest until a price cross or expiry; MARKET orders wait for an
// explicit execute call.
func (s *Session) placeOrder(req PlaceOrderRequest) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.breaker.Allowed() {
		return nil, engerr.ErrTradingHalted
	}
	if req.Quantity <= 0 {
		return nil, engerr.NewValidationError("engine", "place_order", "quantity must be positive")
	}
	if req.Type == order.TypeLimit && req.LimitPrice <= 0 {
		return nil, engerr.NewValidationError("engine", "place_order", "limit order requires a limit price")
	}

	ord := order.New(s.accountID, req.Symbol, req.Side, req.Type, req.Quantity, req.Leverage)
	ord.LimitPrice = req.LimitPrice
	ord.StopLossPrice = req.StopLoss
	ord.TakeProfitPrice = req.TakeProfit
	if req.TTL > 0 {
		ord.ExpiresAt = ord.CreatedAt.Add(req.TTL)
	} else if req.Type == order.TypeLimit && s.cfg.LimitOrderTTL > 0 {
		ord.ExpiresAt = ord.CreatedAt.Add(s.cfg.LimitOrderTTL)
	}

	s.orders[ord.ID] = ord
	if ord.Type == order.TypeLimit {
		s.pending[ord.ID] = ord
	}
	s.log.Info("order placed",
		zap.String("order_id", ord.ID),
		zap.String("symbol", ord.Symbol),
		zap.String("side", string(ord.Side)),
		zap.String("type", string(ord.Type)),
		zap.Float64("qty", ord.Quantity),
	)
	return ord, nil
}

// executeOrder fills a pending order at the given price, falling back to the
// feed when the caller passes zero.
func (s *Session) executeOrder(ctx context.Context, orderID string, currentPrice float64) (*position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.breaker.Allowed() {
		return nil, engerr.ErrTradingHalted
	}

	ord, ok := s.orders[orderID]
	if !ok {
		return nil, engerr.ErrOrderNotFound
	}
	if ord.Status != order.StatusPending {
		return nil, engerr.NewValidationError("engine", "execute_order", fmt.Sprintf("order is %s, not PENDING", ord.Status))
	}
	if ord.Expired(time.Now()) {
		ord.Status = order.StatusCancelled
		delete(s.pending, ord.ID)
		return nil, engerr.NewValidationError("engine", "execute_order", "order expired")
	}

	if currentPrice <= 0 {
		var err error
		currentPrice, err = s.feed.CurrentPrice(ctx, ord.Symbol)
		if err != nil {
			return nil, err
		}
	}

	pos, err := s.fillLocked(ctx, ord, currentPrice)
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// fillLocked fills one order, extending an existing same-side position when
// one is open, and attaches protective levels, computing them from recent
// candles when the order does not carry explicit prices. Caller holds the
// session lock.
func (s *Session) fillLocked(ctx context.Context, ord *order.Order, price float64) (*position.Position, error) {
	if existing := s.extendTargetLocked(ord); existing != nil {
		return s.extendLocked(ctx, ord, existing, price)
	}

	pos, err := s.proc.Fill(ctx, ord, price)
	delete(s.pending, ord.ID)
	if err != nil {
		monitoring.RecordRejection(ord.Symbol)
		return nil, err
	}
	monitoring.RecordFill(ord.Symbol, string(ord.Side))

	if ord.StopLossPrice == 0 && ord.TakeProfitPrice == 0 {
		// Feed trouble here is not fatal: the sizer falls back to its
		// conservative defaults on an empty window.
		candles, ferr := s.feed.RecentOHLC(ctx, pos.Symbol, s.cfg.CandleInterval, s.cfg.CandleLookback)
		if ferr != nil {
			s.log.Debug("no candle history for protective sizing", zap.String("symbol", pos.Symbol), zap.Error(ferr))
		}
		levels := s.sizer.Compute(pos.Symbol, pos.Side, candles, s.cfg.DefaultEntryQuality)
		s.proc.AttachProtection(pos, levels.ApplyTo(pos.Side, pos.EntryPrice))
	}
	return pos, nil
}

// extendTargetLocked finds an open position the order can add to: same symbol,
// side and leverage. Batch legs stay independent and are never extended.
func (s *Session) extendTargetLocked(ord *order.Order) *position.Position {
	for _, pos := range s.book.OpenBySymbol(ord.Symbol) {
		if pos.Side == ord.Side && pos.Leverage == ord.Leverage && pos.BatchID == "" {
			return pos
		}
	}
	return nil
}

// extendLocked folds the order's quantity into an existing position at the
// volume-weighted entry. Explicit protective prices on the order replace the
// position's; absent those the old levels stand.
func (s *Session) extendLocked(ctx context.Context, ord *order.Order, target *position.Position, price float64) (*position.Position, error) {
	fillPrice := price
	if ord.Type == order.TypeLimit && ord.LimitPrice > 0 {
		fillPrice = ord.LimitPrice
	}

	pos, err := s.proc.Extend(ctx, target.ID, ord.Quantity, fillPrice)
	delete(s.pending, ord.ID)
	if err != nil {
		ord.Status = order.StatusRejected
		ord.RejectReason = err.Error()
		monitoring.RecordRejection(ord.Symbol)
		return nil, err
	}
	ord.Status = order.StatusFilled
	ord.PositionID = pos.ID
	monitoring.RecordFill(ord.Symbol, string(ord.Side))

	if ord.StopLossPrice > 0 {
		pos.StopLossPrice = ord.StopLossPrice
	}
	if ord.TakeProfitPrice > 0 {
		pos.TakeProfitPrice = ord.TakeProfitPrice
	}
	return pos, nil
}

// executeDecision runs a batch entry for one sized decision.
func (s *Session) executeDecision(ctx context.Context, dec batch.Decision) (*batch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.breaker.Allowed() {
		return nil, engerr.ErrTradingHalted
	}

	price, err := s.feed.CurrentPrice(ctx, dec.Symbol)
	if err != nil {
		return nil, err
	}
	candles, ferr := s.feed.RecentOHLC(ctx, dec.Symbol, s.cfg.CandleInterval, s.cfg.CandleLookback)
	if ferr != nil {
		s.log.Debug("no candle history for batch sizing", zap.String("symbol", dec.Symbol), zap.Error(ferr))
	}

	res, err := s.batches.Execute(ctx, s.accountID, dec, price, candles)
	if err != nil {
		return nil, err
	}
	for range res.Filled() {
		monitoring.RecordFill(dec.Symbol, string(dec.Side))
	}
	return res, nil
}

// closePosition closes by position ID or, failing that, the oldest open
// position on the symbol.
func (s *Session) closePosition(ctx context.Context, idOrSymbol string, currentPrice float64) (*order.CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.book.Get(idOrSymbol)
	if pos == nil {
		pos = s.book.FirstOpen(idOrSymbol)
	}
	if pos == nil {
		return nil, engerr.ErrPositionNotFound
	}

	if currentPrice <= 0 {
		currentPrice = s.mon.LastPrice(pos.Symbol)
	}
	if currentPrice <= 0 {
		var err error
		currentPrice, err = s.feed.CurrentPrice(ctx, pos.Symbol)
		if err != nil {
			return nil, err
		}
	}

	res, err := s.proc.Close(pos, currentPrice, position.ReasonManual)
	if err != nil {
		return nil, err
	}
	if !res.AlreadyClosed {
		monitoring.RecordClose(pos.Symbol, string(pos.CloseReason), res.RealizedPnL)
		s.checkBreakerLocked()
	}
	return res, nil
}

// updatePrices runs the tick pipeline: fill or expire resting limit orders,
// fire protective levels, expire batch legs, then re-check the breaker.
func (s *Session) updatePrices(ctx context.Context, ticks []types.PriceTick) (*UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &UpdateResult{}

	for _, tick := range ticks {
		monitoring.UpdateMarkPrice(tick.Symbol, tick.Last)
	}

	s.sweepPendingLocked(ctx, ticks, res)

	for _, trig := range s.mon.OnTicks(ticks) {
		monitoring.RecordClose(trig.Position.Symbol, string(trig.Reason), trig.Result.RealizedPnL)
		if trig.Reason == position.ReasonLiquidation {
			res.Liquidated = append(res.Liquidated, trig.Position)
		} else {
			res.Triggered = append(res.Triggered, trig)
		}
	}

	for _, pos := range s.batches.ExpireLegs(s.book.Open(), s.mon.LastPrice) {
		monitoring.RecordClose(pos.Symbol, string(pos.CloseReason), pos.RealizedPnL)
		res.TimedOut = append(res.TimedOut, pos)
	}

	if len(res.Liquidated) > 0 || len(res.Triggered) > 0 || len(res.TimedOut) > 0 {
		res.Flatten = s.checkBreakerLocked()
	}

	res.Account = s.ledger.Snapshot()
	monitoring.UpdateAccount(s.accountID, res.Account.Equity, res.Account.FrozenMargin, s.book.OpenCount())
	return res, nil
}

// sweepPendingLocked fills crossed limit orders and cancels expired ones.
// Wick-aware: a LONG limit fills when the tick's low reaches the price, a
// SHORT when the high does.
func (s *Session) sweepPendingLocked(ctx context.Context, ticks []types.PriceTick, res *UpdateResult) {
	now := time.Now()
	for _, tick := range ticks {
		for id, ord := range s.pending {
			if ord.Symbol != tick.Symbol {
				continue
			}
			if ord.Expired(now) {
				ord.Status = order.StatusCancelled
				delete(s.pending, id)
				res.Cancelled = append(res.Cancelled, ord)
				s.log.Info("limit order expired", zap.String("order_id", ord.ID))
				continue
			}

			// A feed that only knows the last trade leaves High/Low unset;
			// treat the tick as a single print, same as the monitor does.
			extreme := tick.Low
			if ord.Side == position.SideShort {
				extreme = tick.High
			}
			if extreme <= 0 {
				extreme = tick.Last
			}
			if !ord.Crossed(extreme) {
				continue
			}
			if !s.breaker.Allowed() {
				continue
			}
			if _, err := s.fillLocked(ctx, ord, ord.LimitPrice); err != nil {
				s.log.Warn("resting limit fill rejected", zap.String("order_id", ord.ID), zap.Error(err))
				continue
			}
			res.Filled = append(res.Filled, ord)
		}
	}
}

// checkBreakerLocked evaluates the kill-switch after closes. Caller holds the
// session lock, which is what serializes the flatten against opens.
func (s *Session) checkBreakerLocked() *safety.FlattenReport {
	report, err := s.breaker.CheckAndTrip(s.mon.LastPrice)
	if err != nil {
		s.log.Error("breaker check failed", zap.Error(err))
		monitoring.RecordError(string(engerr.ErrorCategoryStorage))
		return nil
	}
	if report != nil {
		monitoring.RecordBreakerTrip(s.accountID)
		for _, closed := range report.Closed {
			monitoring.RecordClose(closed.Symbol, string(position.ReasonEmergencyStop), closed.RealizedPnL)
		}
	}
	monitoring.UpdateBreakerState(s.accountID, breakerStateCode(s.breaker.Status().State))
	return report
}

func breakerStateCode(state string) int {
	switch state {
	case "TRIGGERED":
		return 1
	case "COOLDOWN":
		return 2
	default:
		return 0
	}
}
