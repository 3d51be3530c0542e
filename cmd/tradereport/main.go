package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ducminhle1904/futures-sim-engine/internal/journal"
	"github.com/ducminhle1904/futures-sim-engine/internal/report"
)

func main() {
	dbPath := flag.String("db", "trades.db", "Path to the trade journal database")
	accountID := flag.String("account", "default", "Account to report on")
	limit := flag.Int("limit", 50, "Maximum number of trades to show")
	outPath := flag.String("out", "", "Optional Excel output path (e.g. trades.xlsx)")
	flag.Parse()

	if err := run(*dbPath, *accountID, *limit, *outPath); err != nil {
		log.Fatalf("Report failed: %v", err)
	}
}

func run(dbPath, accountID string, limit int, outPath string) error {
	jrnl, err := journal.OpenSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open journal %s: %w", dbPath, err)
	}
	defer jrnl.Close()

	trades, err := jrnl.Recent(accountID, limit)
	if err != nil {
		return fmt.Errorf("failed to load trades: %w", err)
	}
	stats, err := jrnl.Stats(accountID)
	if err != nil {
		return fmt.Errorf("failed to load statistics: %w", err)
	}

	report.RenderStats(os.Stdout, stats)
	report.RenderTrades(os.Stdout, trades)

	if outPath != "" {
		if err := report.WriteTradesExcel(outPath, accountID, trades, stats); err != nil {
			return fmt.Errorf("failed to write Excel report: %w", err)
		}
		fmt.Printf("\nExcel report written to %s\n", outPath)
	}
	return nil
}
