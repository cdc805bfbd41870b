// Package errors defines the scanner's sentinel errors and the typed errors
// returned by the source, store and scan layers.
package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoDataAvailable  = errors.New("no data available")
	ErrSymbolSuspended  = errors.New("symbol suspended")
	ErrSymbolNotFound   = errors.New("symbol not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrNotAuthenticated = errors.New("not authenticated")

	ErrSeriesNotFound = errors.New("series not found")
	ErrStorageCorrupt = errors.New("stored series is corrupt")
	ErrStorageWrite   = errors.New("writing series failed")

	ErrEmptyWatchlist = errors.New("watch-list is empty")
)

const dateLayout = "2006-01-02"

// FetchError is a failed history request for one symbol and date window.
type FetchError struct {
	Source   string
	Symbol   string
	From, To time.Time
	Err      error
}

func NewFetchError(source, symbol string, from, to time.Time, err error) *FetchError {
	return &FetchError{Source: source, Symbol: symbol, From: from, To: to, Err: err}
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetching %s %s..%s: %v",
		e.Source, e.Symbol, e.From.Format(dateLayout), e.To.Format(dateLayout), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is a source row field that could not be decoded. The row is
// dropped; the rest of the batch is kept.
type ParseError struct {
	Symbol string
	Field  string
	Value  string
	Err    error
}

func NewParseError(symbol, field, value string, err error) *ParseError {
	return &ParseError{Symbol: symbol, Field: field, Value: value, Err: err}
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s: bad %s %q", e.Symbol, e.Field, e.Value)
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError is a series file that could not be read back.
type StorageError struct {
	Symbol string
	Reason string
	Err    error
}

func NewStorageError(symbol, reason string, err error) *StorageError {
	return &StorageError{Symbol: symbol, Reason: reason, Err: err}
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("series %s: %s", e.Symbol, e.Reason)
	}
	return fmt.Sprintf("series %s: %s: %v", e.Symbol, e.Reason, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError rejects a parameter value.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

// Is and As re-export the standard library helpers so callers need only
// this package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }
