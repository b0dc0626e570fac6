package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/shard"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const archiveTable = "transfers_archive"

func scanArchivedTransfer(row pgx.Row) (models.ArchivedTransfer, error) {
	var (
		a       models.ArchivedTransfer
		batchID int64
		at      time.Time
	)
	t, err := scanTransfer(scanTail{row: row, tail: []any{&batchID, &at}})
	if err != nil {
		return models.ArchivedTransfer{}, err
	}
	a.Transfer = t
	a.ArchivedBatchID = batchID
	a.ArchivedAt = at
	return a, nil
}

// scanTail appends extra destinations after the transfer columns.
type scanTail struct {
	row  pgx.Row
	tail []any
}

func (s scanTail) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.tail...)...)
}

type SelectArchivableParams struct {
	CompletedBefore time.Time
	Limit           int32
}

// SelectArchivableTransferIDs returns terminal transfers older than the cutoff.
func (q *Queries) SelectArchivableTransferIDs(ctx context.Context, table shard.Table, arg SelectArchivableParams) ([]uuid.UUID, error) {
	query := fmt.Sprintf(`SELECT id FROM %s
		WHERE status IN ('COMPLETED', 'FAILED')
			AND completed_at IS NOT NULL
			AND completed_at < $1
		ORDER BY completed_at ASC
		LIMIT $2`, table.Identifier())
	rows, err := q.db.Query(ctx, query, arg.CompletedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan archivable id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *Queries) NextArchiveBatchID(ctx context.Context) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `SELECT nextval('transfer_archive_batch_seq')`).Scan(&id)
	return id, err
}

// CopyTransfersToArchive copies the given rows. Rows already archived are
// left untouched so a repeated batch never duplicates.
func (q *Queries) CopyTransfersToArchive(ctx context.Context, table shard.Table, ids []uuid.UUID, batchID int64) (int64, error) {
	query := fmt.Sprintf(`INSERT INTO %s (%s, archived_batch_id, archived_at)
		SELECT %s, $2, NOW() FROM %s
		WHERE id = ANY($1::uuid[])
		ON CONFLICT (id) DO NOTHING`, archiveTable, transferColumns, transferColumns, table.Identifier())
	tag, err := q.db.Exec(ctx, query, uuidStrings(ids), batchID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteArchivedTransfers removes originals only when their archive copy exists.
func (q *Queries) DeleteArchivedTransfers(ctx context.Context, table shard.Table, ids []uuid.UUID) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s t
		WHERE t.id = ANY($1::uuid[])
			AND EXISTS (SELECT 1 FROM %s a WHERE a.id = t.id)`, table.Identifier(), archiveTable)
	tag, err := q.db.Exec(ctx, query, uuidStrings(ids))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) GetArchivedTransfer(ctx context.Context, id uuid.UUID) (models.ArchivedTransfer, error) {
	query := fmt.Sprintf(`SELECT %s, archived_batch_id, archived_at FROM %s WHERE id = $1`, transferColumns, archiveTable)
	return scanArchivedTransfer(q.db.QueryRow(ctx, query, ToPgUUID(id)))
}

func (q *Queries) GetArchivedTransferByReference(ctx context.Context, reference string) (models.ArchivedTransfer, error) {
	query := fmt.Sprintf(`SELECT %s, archived_batch_id, archived_at FROM %s WHERE reference_number = $1`, transferColumns, archiveTable)
	return scanArchivedTransfer(q.db.QueryRow(ctx, query, reference))
}

func (q *Queries) ListArchivedTransfersBySender(ctx context.Context, arg ListTransfersParams) ([]models.ArchivedTransfer, error) {
	query := fmt.Sprintf(`SELECT %s, archived_batch_id, archived_at FROM %s
		WHERE sender_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, transferColumns, archiveTable)
	rows, err := q.db.Query(ctx, query, ToPgUUID(arg.AccountID), arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ArchivedTransfer
	for rows.Next() {
		a, err := scanArchivedTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archived transfer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
