// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard sentinel errors
var (
	ErrRateLimited         = errors.New("rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrSymbolNotFound      = errors.New("symbol not found")
	ErrDataNotFound        = errors.New("data not found")
	ErrMalformedCandle     = errors.New("malformed candle")
	ErrUnsortedSeries      = errors.New("series is not strictly time-ascending")
	ErrInvalidTimeframe    = errors.New("invalid timeframe")
	ErrInvalidWeekday      = errors.New("invalid weekday")
	ErrCacheMiss           = errors.New("cache miss")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrDatabaseError       = errors.New("database error")
	ErrInputValidation     = errors.New("input validation failed")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
	ErrTimeout             = errors.New("operation timed out")
)

// Bybit retCodes that signal throttling.
const (
	CodeRateLimit       = "10006"
	CodeRateLimitLegacy = "10004"
)

// ProviderError represents an error returned by an exchange data provider.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error [%s]: %s: %v", e.Provider, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error [%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimit reports whether the provider rejected the call for throttling.
func (e *ProviderError) IsRateLimit() bool {
	if e.Code == CodeRateLimit || e.Code == CodeRateLimitLegacy {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "rate limit")
}

// NewProviderError creates a new ProviderError. Rate limit codes wrap
// ErrRateLimited so callers can test with Is.
func NewProviderError(provider, code, message string, err error) *ProviderError {
	pe := &ProviderError{
		Provider: provider,
		Code:     code,
		Message:  message,
		Err:      err,
	}
	if pe.Err == nil && pe.IsRateLimit() {
		pe.Err = ErrRateLimited
	}
	return pe
}

// IsRateLimit reports whether err is a throttling failure from any provider.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRateLimit()
	}
	return false
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// CandleError describes a candle rejected at the ingestion boundary.
type CandleError struct {
	Symbol    string
	Timestamp time.Time
	Message   string
	Err       error
}

func (e *CandleError) Error() string {
	return fmt.Sprintf("candle error [%s %s]: %s", e.Symbol, e.Timestamp.UTC().Format(time.RFC3339), e.Message)
}

func (e *CandleError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrMalformedCandle
}

// NewCandleError creates a new CandleError.
func NewCandleError(symbol string, ts time.Time, message string) *CandleError {
	return &CandleError{
		Symbol:    symbol,
		Timestamp: ts,
		Message:   message,
		Err:       ErrMalformedCandle,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
