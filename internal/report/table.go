package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/ledger"
	"github.com/ducminhle1904/futures-sim-engine/internal/position"
)

// RenderAccount prints the account ledger snapshot.
func RenderAccount(w io.Writer, accountID string, snap ledger.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("ACCOUNT %s", accountID))
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Available", fmt.Sprintf("%.2f USDT", snap.AvailableBalance)},
		{"Frozen Margin", fmt.Sprintf("%.2f USDT", snap.FrozenMargin)},
		{"Unrealized PnL", fmt.Sprintf("%+.2f USDT", snap.UnrealizedPnL)},
		{"Realized PnL", fmt.Sprintf("%+.2f USDT", snap.RealizedPnL)},
		{"Equity", fmt.Sprintf("%.2f USDT", snap.Equity)},
		{"Trades", fmt.Sprintf("%d (%.1f%% win)", snap.TotalTrades, snap.WinRate)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 16, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, Align: text.AlignRight},
	})
	t.Render()
}

// RenderPositions prints the open position table.
func RenderPositions(w io.Writer, positions []*position.Position) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("OPEN POSITIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Liq", "SL", "TP", "Margin", "Opened"})

	for _, pos := range positions {
		t.AppendRow(table.Row{
			pos.Symbol,
			string(pos.Side),
			fmt.Sprintf("%.4f", pos.Quantity),
			fmt.Sprintf("%.2f", pos.EntryPrice),
			fmt.Sprintf("%.2f", pos.LiquidationPrice),
			fmt.Sprintf("%.2f", pos.StopLossPrice),
			fmt.Sprintf("%.2f", pos.TakeProfitPrice),
			fmt.Sprintf("%.2f", pos.Margin),
			pos.OpenedAt.Format(time.RFC3339),
		})
	}
	t.Render()
}

// RenderTrades prints the closed-trade history, newest first.
func RenderTrades(w io.Writer, trades []journal.ClosedTrade) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("CLOSED TRADES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Exit", "PnL", "Fee", "Reason", "Closed"})

	for _, trade := range trades {
		t.AppendRow(table.Row{
			trade.Symbol,
			trade.Side,
			fmt.Sprintf("%.4f", trade.Quantity),
			fmt.Sprintf("%.2f", trade.EntryPrice),
			fmt.Sprintf("%.2f", trade.ExitPrice),
			fmt.Sprintf("%+.2f", trade.RealizedPnL),
			fmt.Sprintf("%.2f", trade.Fee),
			trade.Reason,
			trade.ClosedAt.Format("2006-01-02 15:04"),
		})
	}
	t.Render()
}

// RenderStats prints the aggregate trade statistics.
func RenderStats(w io.Writer, stats journal.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("TRADE STATISTICS")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Total Trades", stats.TotalTrades},
		{"Winning", stats.WinningTrades},
		{"Losing", stats.LosingTrades},
		{"Win Rate", fmt.Sprintf("%.1f%%", stats.WinRate)},
		{"Total PnL", fmt.Sprintf("%+.2f USDT", stats.TotalPnL)},
		{"Total Fees", fmt.Sprintf("%.2f USDT", stats.TotalFees)},
		{"Avg Win", fmt.Sprintf("%.2f USDT", stats.AvgWin)},
		{"Avg Loss", fmt.Sprintf("%.2f USDT", stats.AvgLoss)},
		{"Profit Factor", fmt.Sprintf("%.2f", stats.ProfitFactor)},
		{"Liquidations", stats.Liquidations},
	})
	t.Render()
}
