package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS closed_trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	leverage INTEGER NOT NULL,
	margin REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	fee REAL NOT NULL,
	reason TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_closed_trades_account ON closed_trades(account_id, closed_at);

CREATE TABLE IF NOT EXISTS batch_plans (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	total_quantity REAL NOT NULL,
	leverage INTEGER NOT NULL,
	ratios TEXT NOT NULL,
	stop_loss_pct REAL NOT NULL,
	take_profit_pct REAL NOT NULL,
	created_at DATETIME NOT NULL,
	deadline DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_fills (
	plan_id TEXT NOT NULL,
	leg_index INTEGER NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	position_id TEXT,
	failed INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	filled_at DATETIME NOT NULL,
	PRIMARY KEY (plan_id, leg_index)
);
`

const (
	writeAttempts = 3
	writeBackoff  = 50 * time.Millisecond
)

// SQLiteJournal persists trade history in a local SQLite database. Writes
// retry a bounded number of times with backoff; the retry policy lives here,
// at the persistence boundary, not in the engine's business logic.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the journal database at path.
func OpenSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// RecordClose appends one closed trade.
func (j *SQLiteJournal) RecordClose(t ClosedTrade) error {
	return withRetry(func() error {
		_, err := j.db.Exec(`
			INSERT INTO closed_trades
			(position_id, account_id, symbol, side, quantity, entry_price, exit_price,
			 leverage, margin, realized_pnl, fee, reason, opened_at, closed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.PositionID, t.AccountID, t.Symbol, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice,
			t.Leverage, t.Margin, t.RealizedPnL, t.Fee, t.Reason, t.OpenedAt, t.ClosedAt,
		)
		return err
	})
}

// RecordBatchPlan stores the intended split of one trading decision.
func (j *SQLiteJournal) RecordBatchPlan(p BatchPlan) error {
	ratios, err := json.Marshal(p.Ratios)
	if err != nil {
		return fmt.Errorf("failed to encode batch ratios: %w", err)
	}
	return withRetry(func() error {
		_, err := j.db.Exec(`
			INSERT INTO batch_plans
			(id, account_id, symbol, side, total_quantity, leverage, ratios,
			 stop_loss_pct, take_profit_pct, created_at, deadline)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.AccountID, p.Symbol, p.Side, p.TotalQuantity, p.Leverage, string(ratios),
			p.StopLossPct, p.TakeProfitPct, p.CreatedAt, p.Deadline,
		)
		return err
	})
}

// RecordBatchFill stores what one leg actually executed.
func (j *SQLiteJournal) RecordBatchFill(f BatchFill) error {
	return withRetry(func() error {
		_, err := j.db.Exec(`
			INSERT INTO batch_fills
			(plan_id, leg_index, quantity, price, position_id, failed, error, filled_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.PlanID, f.Index, f.Quantity, f.Price, f.PositionID, f.Failed, f.Error, f.FilledAt,
		)
		return err
	})
}

// Recent returns up to limit closed trades for the account, newest first.
func (j *SQLiteJournal) Recent(accountID string, limit int) ([]ClosedTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT id, position_id, account_id, symbol, side, quantity, entry_price, exit_price,
		       leverage, margin, realized_pnl, fee, reason, opened_at, closed_at
		FROM closed_trades
		WHERE account_id = ?
		ORDER BY closed_at DESC, id DESC
		LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	var trades []ClosedTrade
	for rows.Next() {
		var t ClosedTrade
		if err := rows.Scan(&t.ID, &t.PositionID, &t.AccountID, &t.Symbol, &t.Side,
			&t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.Leverage, &t.Margin,
			&t.RealizedPnL, &t.Fee, &t.Reason, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Stats aggregates the account's full closed-trade history.
func (j *SQLiteJournal) Stats(accountID string) (Stats, error) {
	trades, err := j.Recent(accountID, 1<<30)
	if err != nil {
		return Stats{}, err
	}
	return computeStats(trades), nil
}

// Close releases the database handle.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// withRetry runs fn with bounded attempts and linear backoff.
func withRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < writeAttempts {
			time.Sleep(writeBackoff * time.Duration(attempt))
		}
	}
	return fmt.Errorf("journal write failed after %d attempts: %w", writeAttempts, err)
}
