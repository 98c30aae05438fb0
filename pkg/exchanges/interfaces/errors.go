package interfaces

import (
	"errors"
	"fmt"
)

// Common error variables that exchange connectors may return
var (
	// ErrNotConnected is returned when an operation is attempted on a
	// connection that hasn't been established yet or was lost
	ErrNotConnected = errors.New("exchange connector not connected")

	// ErrInvalidSymbol is returned when an invalid trading pair symbol is provided
	ErrInvalidSymbol = errors.New("invalid trading pair symbol")

	// ErrUnsupportedExchange is returned when an unknown exchange key is
	// looked up in the registry
	ErrUnsupportedExchange = errors.New("unsupported exchange")

	// ErrSubscriptionNotFound is returned when trying to unsubscribe a
	// callback that is not registered
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrExchangeUnavailable is returned when the exchange API is unavailable
	ErrExchangeUnavailable = errors.New("exchange API unavailable")

	// ErrNoAggregationSources is returned when no source produced usable
	// data for an aggregated fetch
	ErrNoAggregationSources = errors.New("no source produced usable data")

	// ErrEmptyResponse is returned when an exchange answers a historical
	// request with zero candles
	ErrEmptyResponse = errors.New("empty candle response")
)

// TransportError represents a socket or REST failure against one
// exchange. It wraps the underlying error and satisfies
// errors.Is(err, ErrExchangeUnavailable).
type TransportError struct {
	Exchange string
	Op       string
	Err      error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error during %s: %v", e.Exchange, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrExchangeUnavailable so callers can branch on the broad
// category without knowing the concrete type.
func (e *TransportError) Is(target error) bool {
	return target == ErrExchangeUnavailable
}

// NewTransportError creates a transport error for one exchange operation.
func NewTransportError(exchange, op string, err error) error {
	return &TransportError{Exchange: exchange, Op: op, Err: err}
}

// ValidationError represents a malformed or unexpectedly shaped payload
// from an exchange.
type ValidationError struct {
	Exchange string
	Reason   string
	Err      error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid payload: %s: %v", e.Exchange, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: invalid payload: %s", e.Exchange, e.Reason)
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error for one exchange payload.
func NewValidationError(exchange, reason string, err error) error {
	return &ValidationError{Exchange: exchange, Reason: reason, Err: err}
}
