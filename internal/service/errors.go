package service

import (
	"errors"
	"fmt"
)

// Failure causes carried by InitiateResult.Failure.
var (
	ErrReservationFailed = errors.New("reservation failed")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrRailTimeout       = errors.New("rail timeout")
	ErrRailUnavailable   = errors.New("rail unavailable")
	ErrRailRejected      = errors.New("rail rejected transfer")
)

var ErrInvalidTransition = errors.New("invalid transfer state transition")

// ValidationError reports a request that can never succeed as sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
