package service

import (
	"context"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/idempotency"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/shard"
	"github.com/google/uuid"
)

// TransferStore defines the data access contract required by the orchestrator.
type TransferStore interface {
	idempotency.Recorder
	GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	GetTransferByReference(ctx context.Context, reference string) (*models.Transfer, error)
	ListBySender(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.Transfer, error)
	ListByRecipient(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.Transfer, error)
	ListByStatus(ctx context.Context, statuses []domain.TransferStatus, updatedBefore time.Time, limit int) ([]models.Transfer, error)
	ListArchivedBySender(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.ArchivedTransfer, error)
	Transition(ctx context.Context, change models.TransferStatusChange, action string) error
	Touch(ctx context.Context, t *models.Transfer, at time.Time) error
}

// ArchiveStore defines the data access contract required by the archival job.
type ArchiveStore interface {
	Tables() []shard.Table
	SelectArchivable(ctx context.Context, table shard.Table, completedBefore time.Time, limit int) ([]uuid.UUID, error)
	NextArchiveBatchID(ctx context.Context) (int64, error)
	CopyToArchive(ctx context.Context, table shard.Table, ids []uuid.UUID, batchID int64) (int64, error)
	DeleteArchived(ctx context.Context, table shard.Table, ids []uuid.UUID) (int64, error)
}
