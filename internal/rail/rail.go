// Package rail dispatches money movements to the settlement rails.
package rail

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrUnknownRail      = errors.New("unknown rail")
	ErrUnavailable      = errors.New("rail unavailable")
	ErrUnknownReference = errors.New("unknown rail reference")
)

// Status is the outcome a rail reports for a movement.
type Status string

const (
	StatusAccepted  Status = "ACCEPTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusAccepted, StatusCompleted, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown rail status %q", raw)
}

// Details is everything a rail needs to move the funds.
type Details struct {
	TransferID             uuid.UUID
	Reference              string
	SenderAccountID        uuid.UUID
	RecipientAccountID     *uuid.UUID
	RecipientAccountNumber string
	RecipientBankCode      string
	Amount                 domain.Money
	Description            string
}

// Result is the rail's answer to Initiate or CheckStatus.
type Result struct {
	Status            Status
	ExternalReference string
	Reason            string
}

// Adapter is one settlement rail.
type Adapter interface {
	Initiate(ctx context.Context, d Details) (Result, error)
	CheckStatus(ctx context.Context, externalRef string) (Result, error)
}

// Registry maps each rail to its adapter.
type Registry map[domain.Rail]Adapter

func (r Registry) Lookup(rail domain.Rail) (Adapter, error) {
	adapter, ok := r[rail]
	if !ok || adapter == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRail, rail)
	}
	return adapter, nil
}
