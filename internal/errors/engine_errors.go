package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents different types of errors the engine reports
type ErrorCategory string

const (
	// Fatal errors that halt the affected account's pipeline
	ErrorCategoryFatal     ErrorCategory = "FATAL"
	ErrorCategoryInvariant ErrorCategory = "INVARIANT"

	// Synchronous rejections, no state mutated
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategoryOrder      ErrorCategory = "ORDER"
	ErrorCategoryPosition   ErrorCategory = "POSITION"

	// Recoverable external I/O failures, retried next cycle
	ErrorCategoryPrice   ErrorCategory = "PRICE"
	ErrorCategoryStorage ErrorCategory = "STORAGE"
)

// Sentinel errors for the engine's typed rejection reasons.
var (
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrInvariantViolation  = errors.New("ledger invariant violation")
	ErrLeverageOutOfRange  = errors.New("leverage out of range")
	ErrBelowMinNotional    = errors.New("order notional below instrument minimum")
	ErrQuantityTooSmall    = errors.New("quantity rounds to zero at instrument step size")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrPositionNotFound    = errors.New("position not found")
	ErrPositionClosed      = errors.New("position already closed")
	ErrOrderNotFound       = errors.New("order not found")
	ErrTradingHalted       = errors.New("trading halted by circuit breaker")
	ErrCooldownActive      = errors.New("circuit breaker cooldown has not elapsed")
	ErrAccountExists       = errors.New("account already initialized")
	ErrAccountNotFound     = errors.New("account not found")
)

// EngineError is a categorized error with component context.
type EngineError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *EngineError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should halt the account's pipeline.
// Invariant violations signal a bookkeeping bug, not a runtime condition.
func (e *EngineError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal || e.Category == ErrorCategoryInvariant
}

// New creates a new categorized engine error
func New(category ErrorCategory, component, operation, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: isRetryableCategory(category),
	}
}

// Wrap wraps an existing error with engine error context
func Wrap(err error, category ErrorCategory, component, operation string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  isRetryableCategory(category),
	}
}

// WithRetryable sets the retryable flag
func (e *EngineError) WithRetryable(retryable bool) *EngineError {
	e.Retryable = retryable
	return e
}

// isRetryableCategory determines if an error category is generally retryable
func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryPrice, ErrorCategoryStorage:
		return true
	case ErrorCategoryFatal, ErrorCategoryInvariant, ErrorCategoryValidation:
		return false
	default:
		return false
	}
}

// NewValidationError builds a non-retryable rejection with a reason string
func NewValidationError(component, operation, message string) *EngineError {
	return New(ErrorCategoryValidation, component, operation, message)
}

// NewInvariantError marks a bookkeeping bug. Never swallowed, never retried.
func NewInvariantError(component, operation string, err error) *EngineError {
	return Wrap(err, ErrorCategoryInvariant, component, operation)
}

// NewPriceError wraps a price-feed failure; the caller skips the tick and retries
func NewPriceError(component, operation string, err error) *EngineError {
	return Wrap(err, ErrorCategoryPrice, component, operation)
}

// NewStorageError wraps a persistence failure
func NewStorageError(component, operation string, err error) *EngineError {
	return Wrap(err, ErrorCategoryStorage, component, operation)
}

// IsValidation reports whether err is a synchronous rejection rather than a fault.
func IsValidation(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Category == ErrorCategoryValidation || ee.Category == ErrorCategoryOrder
	}
	switch {
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrLeverageOutOfRange),
		errors.Is(err, ErrBelowMinNotional),
		errors.Is(err, ErrQuantityTooSmall),
		errors.Is(err, ErrTradingHalted):
		return true
	}
	return false
}
