package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type IdempotencyKey struct {
	IdempotencyKey  string
	TransferID      uuid.UUID
	SenderAccountID uuid.UUID
	RequestHash     string
	CreatedAt       time.Time
}

type InsertIdempotencyKeyParams struct {
	IdempotencyKey  string
	TransferID      uuid.UUID
	SenderAccountID uuid.UUID
	RequestHash     string
}

// InsertIdempotencyKey claims the key. It reports false when another
// transfer already owns it.
func (q *Queries) InsertIdempotencyKey(ctx context.Context, arg InsertIdempotencyKeyParams) (bool, error) {
	const query = `INSERT INTO transfer_idempotency_keys (idempotency_key, transfer_id, sender_account_id, request_hash, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key`
	var claimed string
	err := q.db.QueryRow(ctx, query,
		arg.IdempotencyKey,
		ToPgUUID(arg.TransferID),
		ToPgUUID(arg.SenderAccountID),
		arg.RequestHash,
	).Scan(&claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	const query = `SELECT idempotency_key, transfer_id, sender_account_id, request_hash, created_at
		FROM transfer_idempotency_keys
		WHERE idempotency_key = $1`
	var (
		row              IdempotencyKey
		transferID, send pgtype.UUID
	)
	err := q.db.QueryRow(ctx, query, key).Scan(&row.IdempotencyKey, &transferID, &send, &row.RequestHash, &row.CreatedAt)
	if err != nil {
		return IdempotencyKey{}, err
	}
	row.TransferID = FromPgUUID(transferID)
	row.SenderAccountID = FromPgUUID(send)
	return row, nil
}
