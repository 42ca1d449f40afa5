package utils

import "fmt"

// InsufficientDataError indicates a symbol does not yet have enough candle
// history for analysis. It is expected during warm-up and logged at debug.
type InsufficientDataError struct {
	Symbol   string
	Interval string
	Have     int
	Need     int
}

// Error returns the error message string.
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s %s: have %d candles, need %d",
		e.Symbol, e.Interval, e.Have, e.Need)
}

// ConfigError indicates invalid automation settings or configuration values.
type ConfigError struct {
	Field   string
	Message string
}

// Error returns the error message string.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid config %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// NewConfigError creates a new ConfigError for a specific field.
func NewConfigError(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// GatewayError wraps a failure from the exchange gateway. Fatal errors
// (revoked credentials, permission failures) trigger an emergency stop;
// transient errors only fail the current operation.
type GatewayError struct {
	Op    string
	Fatal bool
	Err   error
}

// Error returns the error message string.
func (e *GatewayError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("gateway %s error in %s: %v", kind, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewTransientGatewayError wraps a retriable gateway failure.
func NewTransientGatewayError(op string, err error) error {
	return &GatewayError{Op: op, Fatal: false, Err: err}
}

// NewFatalGatewayError wraps a non-retriable gateway failure.
func NewFatalGatewayError(op string, err error) error {
	return &GatewayError{Op: op, Fatal: true, Err: err}
}

// CriticalUnprotectedPositionError indicates a market order filled but every
// attempt to place its protective stop failed. The position has been flattened
// (or a flatten was attempted) and a CRITICAL alert raised.
type CriticalUnprotectedPositionError struct {
	Symbol       string
	OrderID      string
	FlattenError error
}

// Error returns the error message string.
func (e *CriticalUnprotectedPositionError) Error() string {
	if e.FlattenError != nil {
		return fmt.Sprintf("unprotected position on %s (order %s): stop placement exhausted, flatten failed: %v",
			e.Symbol, e.OrderID, e.FlattenError)
	}
	return fmt.Sprintf("unprotected position on %s (order %s): stop placement exhausted, position flattened",
		e.Symbol, e.OrderID)
}

// PersistenceError indicates a snapshot could not be written or loaded.
// The owner falls back to the most recent backup and, failing that,
// continues in memory with the degraded flag set.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

// Error returns the error message string.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed for %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}
