// Package ledger holds and settles funds on behalf of transfers.
package ledger

import (
	"context"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/google/uuid"
)

// Port is the ledger contract used by the orchestrator. Every operation is
// idempotent per ref id. A returned error means the ledger could not answer;
// business rejections are reported through the reservation status.
type Port interface {
	Reserve(ctx context.Context, accountID uuid.UUID, amount domain.Money, refID string) (models.Reservation, error)
	Commit(ctx context.Context, accountID uuid.UUID, refID string, amount domain.Money) error
	Release(ctx context.Context, accountID uuid.UUID, refID string, amount domain.Money) error
	Credit(ctx context.Context, accountID uuid.UUID, refID string, amount domain.Money) error
}
