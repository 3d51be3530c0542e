package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/futures-sim-engine/internal/position"
)

// Type distinguishes immediate fills from resting orders.
type Type string

const (
	TypeMarket Type = "MARKET"
	TypeLimit  Type = "LIMIT"
)

// Status is the lifecycle of an order request. Orders are transient: they are
// consumed by the processor and keep only their terminal state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusFilled    Status = "FILLED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// Order is a request to open exposure. LimitPrice is only meaningful for
// LIMIT orders; a zero ExpiresAt means the order never times out.
type Order struct {
	ID        string        `json:"id"`
	AccountID string        `json:"account_id"`
	Symbol    string        `json:"symbol"`
	Side      position.Side `json:"side"`
	Type      Type          `json:"type"`

	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	Leverage   int     `json:"leverage"`

	StopLossPrice   float64 `json:"stop_loss_price,omitempty"`
	TakeProfitPrice float64 `json:"take_profit_price,omitempty"`

	Status       Status `json:"status"`
	RejectReason string `json:"reject_reason,omitempty"`
	PositionID   string `json:"position_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// New creates a pending order.
func New(accountID, symbol string, side position.Side, typ Type, qty float64, leverage int) *Order {
	return &Order{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Quantity:  qty,
		Leverage:  leverage,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// Expired reports whether the order's timeout has elapsed.
func (o *Order) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// Crossed reports whether a limit order is fillable at the given mark price.
func (o *Order) Crossed(markPrice float64) bool {
	if o.Type != TypeLimit {
		return true
	}
	if o.Side == position.SideLong {
		return markPrice <= o.LimitPrice
	}
	return markPrice >= o.LimitPrice
}
