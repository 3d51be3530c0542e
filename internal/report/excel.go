package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
)

const tradesSheet = "Trades"

// WriteTradesExcel exports a closed-trade history to an .xlsx workbook with a
// summary block on top and one row per trade below.
func WriteTradesExcel(path string, accountID string, trades []journal.ClosedTrade, stats journal.Stats) error {
	fx := excelize.NewFile()
	fx.SetSheetName("Sheet1", tradesSheet)

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	// Summary block.
	summary := [][]interface{}{
		{"Account", accountID},
		{"Total Trades", stats.TotalTrades},
		{"Win Rate", fmt.Sprintf("%.1f%%", stats.WinRate)},
		{"Total PnL", stats.TotalPnL},
		{"Total Fees", stats.TotalFees},
		{"Profit Factor", stats.ProfitFactor},
		{"Liquidations", stats.Liquidations},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := fx.SetSheetRow(tradesSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}

	// Trade table below the summary.
	headerRow := len(summary) + 2
	headers := []interface{}{"Symbol", "Side", "Quantity", "Entry", "Exit", "Leverage", "Margin", "PnL", "Fee", "Reason", "Opened", "Closed"}
	cell, _ := excelize.CoordinatesToCellName(1, headerRow)
	if err := fx.SetSheetRow(tradesSheet, cell, &headers); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}
	startCell, _ := excelize.CoordinatesToCellName(1, headerRow)
	endCell, _ := excelize.CoordinatesToCellName(len(headers), headerRow)
	if err := fx.SetCellStyle(tradesSheet, startCell, endCell, headerStyle); err != nil {
		return fmt.Errorf("failed to style header row: %w", err)
	}

	for i, trade := range trades {
		row := []interface{}{
			trade.Symbol,
			trade.Side,
			trade.Quantity,
			trade.EntryPrice,
			trade.ExitPrice,
			trade.Leverage,
			trade.Margin,
			trade.RealizedPnL,
			trade.Fee,
			trade.Reason,
			trade.OpenedAt.Format("2006-01-02 15:04:05"),
			trade.ClosedAt.Format("2006-01-02 15:04:05"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, headerRow+1+i)
		if err := fx.SetSheetRow(tradesSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write trade row: %w", err)
		}
	}

	return fx.SaveAs(path)
}
