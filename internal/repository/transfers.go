package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/shard"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const transferColumns = `id, reference_number, sender_account_id, recipient_account_id,
	recipient_account_number, recipient_bank_code, rail, amount_micros, currency,
	description, idempotency_key, status, failure_reason, external_reference,
	origin, origin_id, created_at, updated_at, completed_at`

func scanTransfer(row pgx.Row) (models.Transfer, error) {
	var (
		t         models.Transfer
		recipient pgtype.UUID
		rail      string
		status    string
	)
	err := row.Scan(
		&t.ID,
		&t.ReferenceNumber,
		&t.SenderAccountID,
		&recipient,
		&t.RecipientAccountNumber,
		&t.RecipientBankCode,
		&rail,
		&t.AmountMicros,
		&t.Currency,
		&t.Description,
		&t.IdempotencyKey,
		&status,
		&t.FailureReason,
		&t.ExternalReference,
		&t.Origin,
		&t.OriginID,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	)
	if err != nil {
		return models.Transfer{}, err
	}
	t.RecipientAccountID = nullableUUID(recipient)
	t.Rail = domain.Rail(rail)
	t.Status = domain.TransferStatus(status)
	return t, nil
}

func collectTransfers(rows pgx.Rows) ([]models.Transfer, error) {
	defer rows.Close()
	var transfers []models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transfers, nil
}

func (q *Queries) InsertTransfer(ctx context.Context, table shard.Table, t *models.Transfer) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		table.Identifier(), transferColumns)
	_, err := q.db.Exec(ctx, query,
		ToPgUUID(t.ID),
		t.ReferenceNumber,
		ToPgUUID(t.SenderAccountID),
		uuidParam(t.RecipientAccountID),
		t.RecipientAccountNumber,
		t.RecipientBankCode,
		string(t.Rail),
		t.AmountMicros,
		t.Currency,
		t.Description,
		t.IdempotencyKey,
		string(t.Status),
		t.FailureReason,
		t.ExternalReference,
		t.Origin,
		t.OriginID,
		t.CreatedAt,
		t.UpdatedAt,
		t.CompletedAt,
	)
	return err
}

func (q *Queries) GetTransfer(ctx context.Context, table shard.Table, id uuid.UUID) (models.Transfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, transferColumns, table.Identifier())
	return scanTransfer(q.db.QueryRow(ctx, query, ToPgUUID(id)))
}

func (q *Queries) GetTransferByReference(ctx context.Context, table shard.Table, reference string) (models.Transfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE reference_number = $1`, transferColumns, table.Identifier())
	return scanTransfer(q.db.QueryRow(ctx, query, reference))
}

type ListTransfersParams struct {
	AccountID uuid.UUID
	Limit     int32
	Offset    int32
}

func (q *Queries) ListTransfersBySender(ctx context.Context, table shard.Table, arg ListTransfersParams) ([]models.Transfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE sender_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, transferColumns, table.Identifier())
	rows, err := q.db.Query(ctx, query, ToPgUUID(arg.AccountID), arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

func (q *Queries) ListTransfersByRecipient(ctx context.Context, table shard.Table, arg ListTransfersParams) ([]models.Transfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE recipient_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, transferColumns, table.Identifier())
	rows, err := q.db.Query(ctx, query, ToPgUUID(arg.AccountID), arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

type ListTransfersByStatusParams struct {
	Statuses      []string
	UpdatedBefore time.Time
	Limit         int32
}

func (q *Queries) ListTransfersByStatus(ctx context.Context, table shard.Table, arg ListTransfersByStatusParams) ([]models.Transfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE status = ANY($1::text[]) AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`, transferColumns, table.Identifier())
	rows, err := q.db.Query(ctx, query, arg.Statuses, arg.UpdatedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}

type UpdateTransferStatusParams struct {
	ID                uuid.UUID
	FromStatus        string
	ToStatus          string
	FailureReason     *string
	ExternalReference *string
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// UpdateTransferStatus moves a transfer only if it is still in FromStatus.
func (q *Queries) UpdateTransferStatus(ctx context.Context, table shard.Table, arg UpdateTransferStatusParams) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s
		SET status = $1,
			failure_reason = COALESCE($2, failure_reason),
			external_reference = COALESCE($3, external_reference),
			updated_at = $4,
			completed_at = COALESCE($5, completed_at)
		WHERE id = $6 AND status = $7`, table.Identifier())
	tag, err := q.db.Exec(ctx, query,
		arg.ToStatus,
		arg.FailureReason,
		arg.ExternalReference,
		arg.UpdatedAt,
		arg.CompletedAt,
		ToPgUUID(arg.ID),
		arg.FromStatus,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
