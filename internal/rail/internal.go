package rail

import (
	"context"
	"errors"

	"github.com/ayo6706/transfer-orchestrator/internal/ledger"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
)

const internalRefPrefix = "INT-"

// InternalAdapter settles transfers between accounts of the same ledger.
// It credits the recipient synchronously.
type InternalAdapter struct {
	ledger ledger.Port
}

func NewInternalAdapter(l ledger.Port) *InternalAdapter {
	return &InternalAdapter{ledger: l}
}

func (a *InternalAdapter) Initiate(ctx context.Context, d Details) (Result, error) {
	if d.RecipientAccountID == nil {
		return Result{Status: StatusFailed, Reason: "recipient account required"}, nil
	}

	err := a.ledger.Credit(ctx, *d.RecipientAccountID, creditRef(d), d.Amount)
	switch {
	case err == nil:
		return Result{Status: StatusCompleted, ExternalReference: internalRefPrefix + d.Reference}, nil
	case errors.Is(err, models.ErrAccountNotFound):
		return Result{Status: StatusFailed, Reason: "recipient account not found"}, nil
	case errors.Is(err, models.ErrCurrencyMismatch):
		return Result{Status: StatusFailed, Reason: "recipient currency mismatch"}, nil
	default:
		return Result{}, err
	}
}

// CheckStatus always reports completion: internal transfers never stay
// accepted.
func (a *InternalAdapter) CheckStatus(_ context.Context, externalRef string) (Result, error) {
	return Result{Status: StatusCompleted, ExternalReference: externalRef}, nil
}

func creditRef(d Details) string {
	return "credit:" + d.TransferID.String()
}
