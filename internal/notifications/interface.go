package notifications

import (
	"context"
	"fmt"
)

// Alert levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Notifier defines the interface for notification services
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(ctx context.Context, level, message string) error
}

// Noop discards every alert. Used when no notification channel is configured.
type Noop struct{}

func (Noop) SendAlert(context.Context, string, string) error { return nil }

// BreakerTripped formats the circuit-breaker alert body.
func BreakerTripped(accountID string, closed, failed int) string {
	return fmt.Sprintf("Circuit breaker tripped for account `%s`: %d positions flattened, %d failed. Trading halted for the cooldown window.", accountID, closed, failed)
}

// LiquidationOccurred formats the liquidation alert body.
func LiquidationOccurred(accountID, symbol string, pnl float64) string {
	return fmt.Sprintf("Position on `%s` (account `%s`) was liquidated, realized PnL %+.2f USDT.", symbol, accountID, pnl)
}
