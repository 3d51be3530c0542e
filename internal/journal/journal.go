// Package journal is the append-only closed-trade history. The circuit
// breaker reads its recent window from here, and reporting reads aggregates.
package journal

import (
	"time"
)

// ClosedTrade is one terminal position, recorded at close time.
type ClosedTrade struct {
	ID          int64     `json:"id"`
	PositionID  string    `json:"position_id"`
	AccountID   string    `json:"account_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Leverage    int       `json:"leverage"`
	Margin      float64   `json:"margin"`
	RealizedPnL float64   `json:"realized_pnl"`
	Fee         float64   `json:"fee"`
	Reason      string    `json:"reason"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
}

// LossFractionOfMargin expresses the trade's loss as a fraction of its
// reserved margin; profitable trades return 0.
func (t ClosedTrade) LossFractionOfMargin() float64 {
	if t.RealizedPnL >= 0 || t.Margin <= 0 {
		return 0
	}
	return -t.RealizedPnL / t.Margin
}

// BatchPlan records how a trading decision was split into partial entries.
type BatchPlan struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	TotalQuantity float64   `json:"total_quantity"`
	Leverage      int       `json:"leverage"`
	Ratios        []float64 `json:"ratios"`
	StopLossPct   float64   `json:"stop_loss_pct"`
	TakeProfitPct float64   `json:"take_profit_pct"`
	CreatedAt     time.Time `json:"created_at"`
	Deadline      time.Time `json:"deadline"`
}

// BatchFill records what one leg of a plan actually executed.
type BatchFill struct {
	PlanID     string    `json:"plan_id"`
	Index      int       `json:"index"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	PositionID string    `json:"position_id,omitempty"`
	Failed     bool      `json:"failed"`
	Error      string    `json:"error,omitempty"`
	FilledAt   time.Time `json:"filled_at"`
}

// Stats aggregates an account's closed-trade history.
type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalFees     float64 `json:"total_fees"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	Liquidations  int     `json:"liquidations"`
}

// Journal is the persistence contract for trade history.
type Journal interface {
	RecordClose(trade ClosedTrade) error
	RecordBatchPlan(plan BatchPlan) error
	RecordBatchFill(fill BatchFill) error

	// Recent returns up to limit trades for the account, newest first.
	Recent(accountID string, limit int) ([]ClosedTrade, error)
	Stats(accountID string) (Stats, error)

	Close() error
}

// computeStats folds trades into aggregate statistics.
func computeStats(trades []ClosedTrade) Stats {
	var s Stats
	var grossWin, grossLoss float64
	for _, t := range trades {
		s.TotalTrades++
		s.TotalPnL += t.RealizedPnL
		s.TotalFees += t.Fee
		if t.RealizedPnL > 0 {
			s.WinningTrades++
			grossWin += t.RealizedPnL
		} else if t.RealizedPnL < 0 {
			s.LosingTrades++
			grossLoss += -t.RealizedPnL
		}
		if t.Reason == "liquidation" {
			s.Liquidations++
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if s.WinningTrades > 0 {
		s.AvgWin = grossWin / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = grossLoss / float64(s.LosingTrades)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	}
	return s
}
