package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// QueryStore defines the minimal data access contract required by the ledger.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

// PostgresLedger keeps balances and holds in the accounts table. A hold is
// a row in ledger_reservations plus the matching amount in locked_micros.
type PostgresLedger struct {
	store QueryStore
}

func NewPostgresLedger(store QueryStore) *PostgresLedger {
	return &PostgresLedger{store: store}
}

// Reserve places a hold for refID. A second call with the same ref id
// returns the existing reservation unchanged.
func (l *PostgresLedger) Reserve(ctx context.Context, accountID uuid.UUID, amount domain.Money, refID string) (models.Reservation, error) {
	var res models.Reservation
	err := l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		account, err := qtx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				res = rejected(accountID, refID, amount, models.ErrAccountNotFound)
				return nil
			}
			return fmt.Errorf("lock account: %w", err)
		}

		existing, err := qtx.GetReservationForUpdate(ctx, refID)
		if err == nil {
			res = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("load reservation: %w", err)
		}

		if account.Currency != amount.Currency {
			res = rejected(accountID, refID, amount, models.ErrCurrencyMismatch)
			return nil
		}
		if account.Available() < amount.Amount {
			res = rejected(accountID, refID, amount, models.ErrInsufficientFunds)
			return nil
		}

		rows, err := qtx.LockAccountFunds(ctx, accountID, amount.Amount)
		if err != nil {
			return fmt.Errorf("lock funds: %w", err)
		}
		if err := requireExactlyOne(rows, "lock account funds"); err != nil {
			return err
		}

		res = models.Reservation{
			ID:        uuid.New(),
			AccountID: accountID,
			RefID:     refID,
			Amount:    amount.Amount,
			Currency:  amount.Currency,
			Status:    domain.ReservationStatusReserved,
		}
		if err := qtx.InsertReservation(ctx, &res); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Reservation{}, err
	}
	if res.Status == domain.ReservationStatusRejected {
		zap.L().Info("reservation rejected",
			zap.String("account_id", accountID.String()),
			zap.String("ref_id", refID),
			zap.String("reason", res.Reason),
		)
	}
	return res, nil
}

// Commit settles the hold for refID. Committing twice is a no-op.
func (l *PostgresLedger) Commit(ctx context.Context, accountID uuid.UUID, refID string, amount domain.Money) error {
	return l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		res, err := qtx.GetReservationForUpdate(ctx, refID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("commit %s: %w", refID, models.ErrReservationNotFound)
			}
			return fmt.Errorf("load reservation: %w", err)
		}
		switch res.Status {
		case domain.ReservationStatusCommitted:
			return nil
		case domain.ReservationStatusReserved:
		default:
			return fmt.Errorf("commit %s in status %s: %w", refID, res.Status, models.ErrReservationState)
		}
		if err := matchHold(res, accountID, amount); err != nil {
			return err
		}

		rows, err := qtx.DeductLockedFunds(ctx, accountID, res.Amount)
		if err != nil {
			return fmt.Errorf("deduct locked funds: %w", err)
		}
		if err := requireExactlyOne(rows, "deduct locked funds"); err != nil {
			return err
		}

		rows, err = qtx.UpdateReservationStatus(ctx, res.ID, domain.ReservationStatusReserved, domain.ReservationStatusCommitted)
		if err != nil {
			return fmt.Errorf("mark reservation committed: %w", err)
		}
		return requireExactlyOne(rows, "mark reservation committed")
	})
}

// Release returns the hold for refID to the available balance. It is a
// no-op when no active reservation exists.
func (l *PostgresLedger) Release(ctx context.Context, accountID uuid.UUID, refID string, amount domain.Money) error {
	return l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		res, err := qtx.GetReservationForUpdate(ctx, refID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("load reservation: %w", err)
		}
		switch res.Status {
		case domain.ReservationStatusReleased:
			return nil
		case domain.ReservationStatusReserved:
		default:
			return fmt.Errorf("release %s in status %s: %w", refID, res.Status, models.ErrReservationState)
		}
		if err := matchHold(res, accountID, amount); err != nil {
			return err
		}

		rows, err := qtx.ReleaseAccountFunds(ctx, accountID, res.Amount)
		if err != nil {
			return fmt.Errorf("release locked funds: %w", err)
		}
		if err := requireExactlyOne(rows, "release locked funds"); err != nil {
			return err
		}

		rows, err = qtx.UpdateReservationStatus(ctx, res.ID, domain.ReservationStatusReserved, domain.ReservationStatusReleased)
		if err != nil {
			return fmt.Errorf("mark reservation released: %w", err)
		}
		return requireExactlyOne(rows, "mark reservation released")
	})
}

// Credit adds amount to the account once per ref id.
func (l *PostgresLedger) Credit(ctx context.Context, accountID uuid.UUID, refID string, amount domain.Money) error {
	return l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		account, err := qtx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrAccountNotFound
			}
			return fmt.Errorf("lock account: %w", err)
		}
		if account.Currency != amount.Currency {
			return fmt.Errorf("credit %s to %s account: %w", amount.Currency, account.Currency, models.ErrCurrencyMismatch)
		}

		inserted, err := qtx.InsertCredit(ctx, repository.InsertCreditParams{
			ID:        uuid.New(),
			AccountID: accountID,
			RefID:     refID,
			Amount:    amount.Amount,
			Currency:  amount.Currency,
		})
		if err != nil {
			return fmt.Errorf("record credit: %w", err)
		}
		if !inserted {
			return nil
		}

		rows, err := qtx.CreditAccountBalance(ctx, accountID, amount.Amount)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		return requireExactlyOne(rows, "credit balance")
	})
}

func rejected(accountID uuid.UUID, refID string, amount domain.Money, reason error) models.Reservation {
	return models.Reservation{
		AccountID: accountID,
		RefID:     refID,
		Amount:    amount.Amount,
		Currency:  amount.Currency,
		Status:    domain.ReservationStatusRejected,
		Reason:    reason.Error(),
	}
}

func matchHold(res models.Reservation, accountID uuid.UUID, amount domain.Money) error {
	if res.AccountID != accountID || res.Amount != amount.Amount || res.Currency != amount.Currency {
		return fmt.Errorf("reservation %s does not match %s on %s: %w", res.RefID, amount, accountID, models.ErrReservationState)
	}
	return nil
}

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}
