package report

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/ledger"
)

func sampleTrades() []journal.ClosedTrade {
	now := time.Now()
	return []journal.ClosedTrade{
		{
			Symbol: "BTCUSDT", Side: "LONG", Quantity: 0.1,
			EntryPrice: 50000, ExitPrice: 52000, Leverage: 10,
			Margin: 500, RealizedPnL: 195.92, Fee: 4.08,
			Reason: "take_profit", OpenedAt: now.Add(-time.Hour), ClosedAt: now,
		},
		{
			Symbol: "ETHUSDT", Side: "SHORT", Quantity: 1,
			EntryPrice: 3000, ExitPrice: 3100, Leverage: 5,
			Margin: 600, RealizedPnL: -102.44, Fee: 2.44,
			Reason: "stop_loss", OpenedAt: now.Add(-2 * time.Hour), ClosedAt: now,
		},
	}
}

func TestRenderTables(t *testing.T) {
	var buf bytes.Buffer
	led, err := ledger.New(10000)
	require.NoError(t, err)

	RenderAccount(&buf, "acct", led.Snapshot())
	RenderTrades(&buf, sampleTrades())
	RenderStats(&buf, journal.Stats{TotalTrades: 2, WinningTrades: 1, WinRate: 50})

	out := buf.String()
	assert.Contains(t, out, "ACCOUNT acct")
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "take_profit")
	assert.Contains(t, out, "50.0%")
}

func TestWriteTradesExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.xlsx")
	trades := sampleTrades()

	err := WriteTradesExcel(path, "acct", trades, journal.Stats{TotalTrades: 2, WinRate: 50, TotalPnL: 93.48})
	require.NoError(t, err)

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	rows, err := fx.GetRows(tradesSheet)
	require.NoError(t, err)
	// 7 summary rows, 1 blank, header, 2 trades.
	require.GreaterOrEqual(t, len(rows), 11)
	assert.Equal(t, "Account", rows[0][0])
	assert.Equal(t, "Symbol", rows[8][0])
	assert.Equal(t, "BTCUSDT", rows[9][0])
}
