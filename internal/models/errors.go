package models

import "errors"

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountNotFound     = errors.New("account not found")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrTransferNotFound    = errors.New("transfer not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationState    = errors.New("reservation is not in a valid state for this operation")
)
