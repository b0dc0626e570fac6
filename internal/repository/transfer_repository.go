package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/shard"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrStaleTransition is returned when a transfer left the expected status
// before the update landed.
var ErrStaleTransition = errors.New("transfer status changed concurrently")

var errKeyTaken = errors.New("idempotency key already claimed")

const auditEntityTransfer = "transfer"

// TransferRepository stores transfers in the partitioned hot store and the
// archive. Point writes go to the sender's partition; reads without a sender
// fan out through the router.
type TransferRepository struct {
	store  *Store
	router *shard.Router
}

func NewTransferRepository(store *Store, router *shard.Router) *TransferRepository {
	return &TransferRepository{store: store, router: router}
}

// CreateTransfer persists t. When t carries an idempotency key the key is
// claimed in the same transaction; if another transfer owns it nothing is
// written and the owning key record is returned with created=false.
func (r *TransferRepository) CreateTransfer(ctx context.Context, t *models.Transfer, fingerprint string) (IdempotencyKey, bool, error) {
	table := r.router.TableFor(t.SenderAccountID)

	err := r.store.RunInTx(ctx, func(qtx *Queries) error {
		if t.IdempotencyKey != nil {
			claimed, err := qtx.InsertIdempotencyKey(ctx, InsertIdempotencyKeyParams{
				IdempotencyKey:  *t.IdempotencyKey,
				TransferID:      t.ID,
				SenderAccountID: t.SenderAccountID,
				RequestHash:     fingerprint,
			})
			if err != nil {
				return fmt.Errorf("claim idempotency key: %w", err)
			}
			if !claimed {
				return errKeyTaken
			}
		}

		if err := qtx.InsertTransfer(ctx, table, t); err != nil {
			return fmt.Errorf("insert transfer into %s: %w", table, err)
		}

		metadata, err := json.Marshal(map[string]any{
			"partition": table.Name,
			"rail":      t.Rail,
			"origin":    t.Origin,
		})
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		return writeAudit(ctx, qtx, t.ID, "created", "", string(t.Status), metadata)
	})
	if errors.Is(err, errKeyTaken) {
		owner, err := r.store.Queries().GetIdempotencyKey(ctx, *t.IdempotencyKey)
		if err != nil {
			return IdempotencyKey{}, false, fmt.Errorf("load idempotency key owner: %w", err)
		}
		return owner, false, nil
	}
	if err != nil {
		return IdempotencyKey{}, false, err
	}

	var key IdempotencyKey
	if t.IdempotencyKey != nil {
		key = IdempotencyKey{
			IdempotencyKey:  *t.IdempotencyKey,
			TransferID:      t.ID,
			SenderAccountID: t.SenderAccountID,
			RequestHash:     fingerprint,
			CreatedAt:       t.CreatedAt,
		}
	}
	return key, true, nil
}

// GetIdempotencyKey returns the key record or models.ErrTransferNotFound.
func (r *TransferRepository) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	row, err := r.store.Queries().GetIdempotencyKey(ctx, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyKey{}, models.ErrTransferNotFound
	}
	if err != nil {
		return IdempotencyKey{}, fmt.Errorf("get idempotency key: %w", err)
	}
	return row, nil
}

// FindTransfer loads a transfer from the sender's partition, falling back
// to the archive.
func (r *TransferRepository) FindTransfer(ctx context.Context, senderID, id uuid.UUID) (*models.Transfer, error) {
	table := r.router.TableFor(senderID)
	t, err := r.store.Queries().GetTransfer(ctx, table, id)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get transfer from %s: %w", table, err)
	}
	return r.getArchived(ctx, id)
}

// GetTransfer looks a transfer up by id across every partition and the archive.
func (r *TransferRepository) GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	queries := r.store.Queries()
	t, err := shard.FanOutFirst(ctx, r.router, "get_transfer", func(ctx context.Context, table shard.Table) (*models.Transfer, error) {
		row, err := queries.GetTransfer(ctx, table, id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &row, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	if t != nil {
		return t, nil
	}
	return r.getArchived(ctx, id)
}

// GetTransferByReference looks a transfer up by reference number across every
// partition and the archive.
func (r *TransferRepository) GetTransferByReference(ctx context.Context, reference string) (*models.Transfer, error) {
	queries := r.store.Queries()
	t, err := shard.FanOutFirst(ctx, r.router, "get_transfer_by_reference", func(ctx context.Context, table shard.Table) (*models.Transfer, error) {
		row, err := queries.GetTransferByReference(ctx, table, reference)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &row, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get transfer by reference: %w", err)
	}
	if t != nil {
		return t, nil
	}

	archived, err := queries.GetArchivedTransferByReference(ctx, reference)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get archived transfer by reference: %w", err)
	}
	return &archived.Transfer, nil
}

func (r *TransferRepository) getArchived(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	archived, err := r.store.Queries().GetArchivedTransfer(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get archived transfer: %w", err)
	}
	return &archived.Transfer, nil
}

// ListBySender pages the sender's transfers. It touches a single partition.
func (r *TransferRepository) ListBySender(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.Transfer, error) {
	table := r.router.TableFor(accountID)
	rows, err := r.store.Queries().ListTransfersBySender(ctx, table, ListTransfersParams{
		AccountID: accountID,
		Limit:     int32(limit),
		Offset:    int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("list transfers by sender: %w", err)
	}
	return rows, nil
}

// ListByRecipient pages the transfers received by an account. Received
// transfers live in their senders' partitions, so every partition is read
// and the results are merged newest first.
func (r *TransferRepository) ListByRecipient(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.Transfer, error) {
	queries := r.store.Queries()
	window := int32(limit + offset)
	rows, err := shard.FanOut(ctx, r.router, "list_transfers_by_recipient", func(ctx context.Context, table shard.Table) ([]models.Transfer, error) {
		return queries.ListTransfersByRecipient(ctx, table, ListTransfersParams{
			AccountID: accountID,
			Limit:     window,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list transfers by recipient: %w", err)
	}
	return shard.MergeNewestFirst(rows, transferCreatedAt, transferKey, offset, limit), nil
}

// ListByStatus returns up to limit transfers in one of the statuses whose
// last update is older than updatedBefore, oldest first.
func (r *TransferRepository) ListByStatus(ctx context.Context, statuses []domain.TransferStatus, updatedBefore time.Time, limit int) ([]models.Transfer, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	queries := r.store.Queries()
	rows, err := shard.FanOut(ctx, r.router, "list_transfers_by_status", func(ctx context.Context, table shard.Table) ([]models.Transfer, error) {
		return queries.ListTransfersByStatus(ctx, table, ListTransfersByStatusParams{
			Statuses:      names,
			UpdatedBefore: updatedBefore,
			Limit:         int32(limit),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list transfers by status: %w", err)
	}
	return shard.MergeOldestFirst(rows, transferUpdatedAt, transferKey, 0, limit), nil
}

// ListArchivedBySender pages the archived transfers of a sender.
func (r *TransferRepository) ListArchivedBySender(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.ArchivedTransfer, error) {
	rows, err := r.store.Queries().ListArchivedTransfersBySender(ctx, ListTransfersParams{
		AccountID: accountID,
		Limit:     int32(limit),
		Offset:    int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("list archived transfers: %w", err)
	}
	return rows, nil
}

// Transition applies a status change guarded on the current status and
// writes the audit record in the same transaction.
func (r *TransferRepository) Transition(ctx context.Context, change models.TransferStatusChange, action string) error {
	table := r.router.TableFor(change.SenderAccountID)
	var completedAt *time.Time
	if change.To.IsTerminal() {
		at := change.At
		completedAt = &at
	}

	return r.store.RunInTx(ctx, func(qtx *Queries) error {
		rows, err := qtx.UpdateTransferStatus(ctx, table, UpdateTransferStatusParams{
			ID:                change.TransferID,
			FromStatus:        string(change.From),
			ToStatus:          string(change.To),
			FailureReason:     change.FailureReason,
			ExternalReference: change.ExternalReference,
			UpdatedAt:         change.At,
			CompletedAt:       completedAt,
		})
		if err != nil {
			return fmt.Errorf("update transfer status: %w", err)
		}
		if rows != 1 {
			return fmt.Errorf("%w: %s %s -> %s", ErrStaleTransition, change.TransferID, change.From, change.To)
		}

		meta := map[string]any{}
		if change.FailureReason != nil {
			meta["reason"] = *change.FailureReason
		}
		if change.ExternalReference != nil {
			meta["external_reference"] = *change.ExternalReference
		}
		metadata, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		return writeAudit(ctx, qtx, change.TransferID, action, string(change.From), string(change.To), metadata)
	})
}

// Touch bumps updated_at without changing the status so pollers rotate
// through transfers that are still waiting on a rail.
func (r *TransferRepository) Touch(ctx context.Context, t *models.Transfer, at time.Time) error {
	table := r.router.TableFor(t.SenderAccountID)
	rows, err := r.store.Queries().UpdateTransferStatus(ctx, table, UpdateTransferStatusParams{
		ID:         t.ID,
		FromStatus: string(t.Status),
		ToStatus:   string(t.Status),
		UpdatedAt:  at,
	})
	if err != nil {
		return fmt.Errorf("touch transfer: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("%w: %s", ErrStaleTransition, t.ID)
	}
	return nil
}

// Tables lists the partitions scanned by the archival job.
func (r *TransferRepository) Tables() []shard.Table {
	return r.router.Tables()
}

func (r *TransferRepository) SelectArchivable(ctx context.Context, table shard.Table, completedBefore time.Time, limit int) ([]uuid.UUID, error) {
	return r.store.Queries().SelectArchivableTransferIDs(ctx, table, SelectArchivableParams{
		CompletedBefore: completedBefore,
		Limit:           int32(limit),
	})
}

func (r *TransferRepository) NextArchiveBatchID(ctx context.Context) (int64, error) {
	return r.store.Queries().NextArchiveBatchID(ctx)
}

// CopyToArchive copies the rows in one transaction.
func (r *TransferRepository) CopyToArchive(ctx context.Context, table shard.Table, ids []uuid.UUID, batchID int64) (int64, error) {
	var copied int64
	err := r.store.RunInTx(ctx, func(qtx *Queries) error {
		var err error
		copied, err = qtx.CopyTransfersToArchive(ctx, table, ids, batchID)
		return err
	})
	return copied, err
}

// DeleteArchived removes archived originals in one transaction.
func (r *TransferRepository) DeleteArchived(ctx context.Context, table shard.Table, ids []uuid.UUID) (int64, error) {
	var deleted int64
	err := r.store.RunInTx(ctx, func(qtx *Queries) error {
		var err error
		deleted, err = qtx.DeleteArchivedTransfers(ctx, table, ids)
		return err
	})
	return deleted, err
}

func writeAudit(ctx context.Context, qtx *Queries, transferID uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	if _, err := qtx.InsertAuditLog(ctx, InsertAuditLogParams{
		EntityType: auditEntityTransfer,
		EntityID:   transferID,
		ActorID:    pgtype.UUID{},
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func transferCreatedAt(t models.Transfer) time.Time { return t.CreatedAt }

func transferUpdatedAt(t models.Transfer) time.Time { return t.UpdatedAt }

func transferKey(t models.Transfer) string { return t.ID.String() }
