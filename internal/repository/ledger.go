package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (q *Queries) CreateAccount(ctx context.Context, account *models.Account) error {
	const query = `INSERT INTO accounts (id, currency, balance, locked_micros, created_at)
		VALUES ($1, $2, $3, 0, NOW())
		RETURNING created_at`
	if err := q.db.QueryRow(ctx, query, ToPgUUID(account.ID), account.Currency, account.Balance).Scan(&account.CreatedAt); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	const query = `SELECT id, currency, balance, locked_micros, created_at FROM accounts WHERE id = $1`
	var a models.Account
	err := q.db.QueryRow(ctx, query, ToPgUUID(id)).Scan(&a.ID, &a.Currency, &a.Balance, &a.LockedMicros, &a.CreatedAt)
	return a, err
}

func (q *Queries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (models.Account, error) {
	const query = `SELECT id, currency, balance, locked_micros, created_at FROM accounts WHERE id = $1 FOR UPDATE`
	var a models.Account
	err := q.db.QueryRow(ctx, query, ToPgUUID(id)).Scan(&a.ID, &a.Currency, &a.Balance, &a.LockedMicros, &a.CreatedAt)
	return a, err
}

func (q *Queries) LockAccountFunds(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	const query = `UPDATE accounts SET locked_micros = locked_micros + $1
		WHERE id = $2 AND balance - locked_micros >= $1`
	tag, err := q.db.Exec(ctx, query, amount, ToPgUUID(id))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ReleaseAccountFunds(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	const query = `UPDATE accounts SET locked_micros = locked_micros - $1
		WHERE id = $2 AND locked_micros >= $1`
	tag, err := q.db.Exec(ctx, query, amount, ToPgUUID(id))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeductLockedFunds settles a hold: the amount leaves both balance and locked.
func (q *Queries) DeductLockedFunds(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	const query = `UPDATE accounts SET balance = balance - $1, locked_micros = locked_micros - $1
		WHERE id = $2 AND locked_micros >= $1`
	tag, err := q.db.Exec(ctx, query, amount, ToPgUUID(id))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) CreditAccountBalance(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	const query = `UPDATE accounts SET balance = balance + $1 WHERE id = $2`
	tag, err := q.db.Exec(ctx, query, amount, ToPgUUID(id))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const reservationColumns = `id, account_id, ref_id, amount_micros, currency, status, created_at, updated_at`

func scanReservation(row pgx.Row) (models.Reservation, error) {
	var r models.Reservation
	err := row.Scan(&r.ID, &r.AccountID, &r.RefID, &r.Amount, &r.Currency, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (q *Queries) GetReservationForUpdate(ctx context.Context, refID string) (models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM ledger_reservations WHERE ref_id = $1 FOR UPDATE`
	return scanReservation(q.db.QueryRow(ctx, query, refID))
}

func (q *Queries) InsertReservation(ctx context.Context, r *models.Reservation) error {
	query := `INSERT INTO ledger_reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`
	return q.db.QueryRow(ctx, query,
		ToPgUUID(r.ID),
		ToPgUUID(r.AccountID),
		r.RefID,
		r.Amount,
		r.Currency,
		r.Status,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
}

func (q *Queries) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to string) (int64, error) {
	const query = `UPDATE ledger_reservations SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	tag, err := q.db.Exec(ctx, query, to, ToPgUUID(id), from)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type InsertCreditParams struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	RefID     string
	Amount    int64
	Currency  string
}

// InsertCredit records a credit once per ref id. It reports false when the
// ref id was already credited.
func (q *Queries) InsertCredit(ctx context.Context, arg InsertCreditParams) (bool, error) {
	const query = `INSERT INTO ledger_credits (id, account_id, ref_id, amount_micros, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (ref_id) DO NOTHING
		RETURNING id`
	var id uuid.UUID
	err := q.db.QueryRow(ctx, query, ToPgUUID(arg.ID), ToPgUUID(arg.AccountID), arg.RefID, arg.Amount, arg.Currency).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (q *Queries) CountReservations(ctx context.Context, refID, status string) (int64, error) {
	const query = `SELECT COUNT(*) FROM ledger_reservations WHERE ref_id = $1 AND status = $2`
	var n int64
	err := q.db.QueryRow(ctx, query, refID, status).Scan(&n)
	return n, err
}

// LockedFundsDrift is an account whose locked funds disagree with the sum of
// its active reservations.
type LockedFundsDrift struct {
	AccountID    uuid.UUID
	LockedMicros int64
	Reserved     int64
}

func (q *Queries) ListLockedFundsDrift(ctx context.Context) ([]LockedFundsDrift, error) {
	const query = `SELECT a.id, a.locked_micros, COALESCE(SUM(r.amount_micros), 0)::BIGINT AS reserved
		FROM accounts a
		LEFT JOIN ledger_reservations r ON r.account_id = a.id AND r.status = 'RESERVED'
		GROUP BY a.id, a.locked_micros
		HAVING a.locked_micros <> COALESCE(SUM(r.amount_micros), 0)`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LockedFundsDrift
	for rows.Next() {
		var d LockedFundsDrift
		if err := rows.Scan(&d.AccountID, &d.LockedMicros, &d.Reserved); err != nil {
			return nil, fmt.Errorf("scan locked drift: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
