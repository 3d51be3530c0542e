package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	engerr "github.com/ducminhle1904/futures-sim-engine/internal/errors"
	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/order"
	"github.com/ducminhle1904/futures-sim-engine/internal/position"
	"github.com/ducminhle1904/futures-sim-engine/internal/protect"
	"github.com/ducminhle1904/futures-sim-engine/pkg/types"
)

// Config controls how one decision is split into partial entries.
type Config struct {
	// Ratios split the decision's quantity across legs. Must sum to 1.
	Ratios []float64
	// LegTimeout bounds how long a leg's position may stay open before the
	// engine force-closes it with reason timeout. Zero disables the check.
	LegTimeout time.Duration
}

// DefaultConfig splits an entry 30/30/40 with a five minute per-leg timeout.
func DefaultConfig() Config {
	return Config{
		Ratios:     []float64{0.3, 0.3, 0.4},
		LegTimeout: 5 * time.Minute,
	}
}

// Decision is one sized trading intent from the external signal layer.
type Decision struct {
	Symbol       string
	Side         position.Side
	Quantity     float64 // total intended size across all legs
	Leverage     int
	EntryQuality float64 // [0, 1], scales the protective stop
}

// LegResult is the outcome of one partial entry. Legs fail independently; a
// failed leg never rolls back an earlier fill.
type LegResult struct {
	Index    int
	Quantity float64
	Position *position.Position
	Err      error
}

// Result is the full outcome of a batch execution.
type Result struct {
	PlanID string
	Levels protect.Levels
	Legs   []LegResult
}

// Filled returns the legs that opened a position.
func (r *Result) Filled() []LegResult {
	var out []LegResult
	for _, leg := range r.Legs {
		if leg.Err == nil {
			out = append(out, leg)
		}
	}
	return out
}

// FilledQuantity sums the quantity that actually executed.
func (r *Result) FilledQuantity() float64 {
	var total float64
	for _, leg := range r.Filled() {
		total += leg.Quantity
	}
	return total
}

// Manager splits one trading decision into independent partial entries that
// share a single protective-level computation. Each leg becomes its own
// position, visible and closable on its own; there is no cross-leg atomicity.
type Manager struct {
	cfg   Config
	proc  *order.Processor
	sizer *protect.Sizer
	jrnl  journal.Journal
	log   *zap.Logger
	now   func() time.Time

	// deadlines maps plan ID to the moment its legs expire.
	deadlines map[string]time.Time
}

// NewManager creates a batch manager over one account's order processor.
func NewManager(cfg Config, proc *order.Processor, sizer *protect.Sizer, jrnl journal.Journal, log *zap.Logger) *Manager {
	if len(cfg.Ratios) == 0 {
		cfg.Ratios = DefaultConfig().Ratios
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		proc:      proc,
		sizer:     sizer,
		jrnl:      jrnl,
		log:       log.Named("batch"),
		now:       time.Now,
		deadlines: make(map[string]time.Time),
	}
}

// Execute runs a decision: sizes protective levels once for the whole intended
// quantity, persists the plan, then opens each leg at the current mark price.
// A leg that fails validation is recorded and skipped; the remainder simply
// ends up as smaller exposure than intended.
func (m *Manager) Execute(ctx context.Context, accountID string, dec Decision, markPrice float64, candles []types.OHLCV) (*Result, error) {
	if dec.Quantity <= 0 {
		return nil, engerr.NewValidationError("batch", "execute", "decision quantity must be positive")
	}
	if markPrice <= 0 {
		return nil, engerr.ErrPriceUnavailable
	}

	levels := m.sizer.Compute(dec.Symbol, dec.Side, candles, dec.EntryQuality)

	now := m.now()
	plan := journal.BatchPlan{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		Symbol:        dec.Symbol,
		Side:          string(dec.Side),
		TotalQuantity: dec.Quantity,
		Leverage:      dec.Leverage,
		Ratios:        m.cfg.Ratios,
		StopLossPct:   levels.StopLossPct,
		TakeProfitPct: levels.TakeProfitPct,
		CreatedAt:     now,
		Deadline:      now.Add(m.cfg.LegTimeout),
	}
	if m.jrnl != nil {
		if err := m.jrnl.RecordBatchPlan(plan); err != nil {
			return nil, engerr.NewStorageError("batch", "record_plan", err)
		}
	}

	if m.cfg.LegTimeout > 0 {
		m.deadlines[plan.ID] = plan.Deadline
	}

	res := &Result{PlanID: plan.ID, Levels: levels}
	for i, ratio := range m.cfg.Ratios {
		legQty := dec.Quantity * ratio

		ord := order.New(accountID, dec.Symbol, dec.Side, order.TypeMarket, legQty, dec.Leverage)
		pos, err := m.proc.Fill(ctx, ord, markPrice)
		leg := LegResult{Index: i, Quantity: legQty, Position: pos, Err: err}
		if err == nil {
			pos.BatchID = plan.ID
			pos.BatchIndex = i
			m.proc.AttachProtection(pos, levels.ApplyTo(dec.Side, pos.EntryPrice))
			leg.Quantity = pos.Quantity
		} else {
			m.log.Warn("batch leg rejected",
				zap.String("plan_id", plan.ID),
				zap.Int("leg", i),
				zap.Float64("qty", legQty),
				zap.Error(err),
			)
		}
		res.Legs = append(res.Legs, leg)

		if m.jrnl != nil {
			fill := journal.BatchFill{
				PlanID:   plan.ID,
				Index:    i,
				Quantity: leg.Quantity,
				Price:    markPrice,
				FilledAt: m.now(),
			}
			if err != nil {
				fill.Failed = true
				fill.Error = err.Error()
				fill.Quantity = 0
			} else {
				fill.PositionID = pos.ID
				fill.Price = pos.EntryPrice
			}
			if jerr := m.jrnl.RecordBatchFill(fill); jerr != nil {
				// The position is already open and tracked in memory; a
				// failed fill record loses audit detail, not money.
				m.log.Warn("batch fill record failed",
					zap.String("plan_id", plan.ID),
					zap.Int("leg", i),
					zap.Error(jerr),
				)
			}
		}
	}

	m.log.Info("batch executed",
		zap.String("plan_id", plan.ID),
		zap.String("symbol", dec.Symbol),
		zap.String("side", string(dec.Side)),
		zap.Float64("intended_qty", dec.Quantity),
		zap.Float64("filled_qty", res.FilledQuantity()),
		zap.Int("legs", len(res.Legs)),
	)
	return res, nil
}

// ExpireLegs force-closes open batch positions whose plan deadline has passed.
// Returns the positions it closed.
func (m *Manager) ExpireLegs(open []*position.Position, markFor func(symbol string) float64) []*position.Position {
	if m.cfg.LegTimeout <= 0 {
		return nil
	}
	now := m.now()
	var closed []*position.Position
	retry := make(map[string]bool)
	for _, pos := range open {
		if pos.BatchID == "" {
			continue
		}
		deadline, ok := m.deadlines[pos.BatchID]
		if !ok || now.Before(deadline) {
			continue
		}
		mark := markFor(pos.Symbol)
		if mark <= 0 {
			retry[pos.BatchID] = true
			continue
		}
		res, err := m.proc.Close(pos, mark, position.ReasonTimeout)
		if err != nil {
			m.log.Warn("timeout close failed",
				zap.String("position_id", pos.ID),
				zap.Error(err),
			)
			retry[pos.BatchID] = true
			continue
		}
		if !res.AlreadyClosed {
			closed = append(closed, pos)
		}
	}

	// Drop elapsed deadlines once no leg needs another pass, so the map does
	// not grow for the life of the process.
	for planID, deadline := range m.deadlines {
		if !now.Before(deadline) && !retry[planID] {
			delete(m.deadlines, planID)
		}
	}
	return closed
}
