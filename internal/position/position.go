package position

import (
	"time"

	"github.com/google/uuid"
)

// Side is the direction of a position or order intent.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the mirrored side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Direction returns +1 for LONG and -1 for SHORT, the sign applied to
// (exit - entry) when computing PnL.
func (s Side) Direction() float64 {
	if s == SideLong {
		return 1
	}
	return -1
}

// Status is the lifecycle state of a position.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusClosed     Status = "CLOSED"
	StatusLiquidated Status = "LIQUIDATED"
)

// CloseReason records why a position left the OPEN state.
type CloseReason string

const (
	ReasonManual        CloseReason = "manual"
	ReasonStopLoss      CloseReason = "stop_loss"
	ReasonTakeProfit    CloseReason = "take_profit"
	ReasonLiquidation   CloseReason = "liquidation"
	ReasonEmergencyStop CloseReason = "emergency_stop"
	ReasonTimeout       CloseReason = "timeout"
)

// ProtectiveLevels is the stop-loss/take-profit sizing attached to a position
// at entry time. It is computed once and frozen for the position's lifetime;
// the market moving afterwards does not recompute it.
type ProtectiveLevels struct {
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	StopLossPrice   float64 `json:"stop_loss_price"`
	TakeProfitPrice float64 `json:"take_profit_price"`
	CalcReason      string  `json:"calc_reason"`
}

// Position is the durable unit of risk: one leveraged exposure with one
// reserved margin amount in the account ledger. Terminal positions are kept
// as historical records, never removed.
type Position struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Side      Side   `json:"side"`

	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"` // volume-weighted across fills
	Leverage   int     `json:"leverage"`
	Margin     float64 `json:"margin"` // notional / leverage, reserved in the ledger

	LiquidationPrice float64 `json:"liquidation_price"`
	StopLossPrice    float64 `json:"stop_loss_price,omitempty"`
	TakeProfitPrice  float64 `json:"take_profit_price,omitempty"`
	Protect          *ProtectiveLevels `json:"protect,omitempty"`

	Status      Status      `json:"status"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	ExitPrice   float64     `json:"exit_price,omitempty"`
	RealizedPnL float64     `json:"realized_pnl,omitempty"` // net of fees, set at close

	// Batch entries share a plan ID; standalone entries leave it empty.
	BatchID    string `json:"batch_id,omitempty"`
	BatchIndex int    `json:"batch_index,omitempty"`

	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// New creates an open position with a fresh ID.
func New(accountID, symbol string, side Side, qty, entryPrice float64, leverage int, margin float64) *Position {
	return &Position{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: entryPrice,
		Leverage:   leverage,
		Margin:     margin,
		Status:     StatusOpen,
		OpenedAt:   time.Now(),
	}
}

// IsOpen reports whether the position still carries risk.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Notional returns the controlled exposure at the entry price.
func (p *Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}

// UnrealizedPnL computes the mark-to-market PnL at the given price.
func (p *Position) UnrealizedPnL(markPrice float64) float64 {
	return (markPrice - p.EntryPrice) * p.Quantity * p.Side.Direction()
}

// LossFractionOfMargin expresses a realized loss as a fraction of the margin
// that was reserved for the position. Profits return 0.
func (p *Position) LossFractionOfMargin() float64 {
	if p.RealizedPnL >= 0 || p.Margin <= 0 {
		return 0
	}
	return -p.RealizedPnL / p.Margin
}
