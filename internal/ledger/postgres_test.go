package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/ayo6706/transfer-orchestrator/internal/testutil/pgtest"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLedger(t *testing.T) (*PostgresLedger, *pgxpool.Pool) {
	t.Helper()
	pool := pgtest.Setup(t, pgtest.Router(t, 4))
	return NewPostgresLedger(repository.NewStore(pool)), pool
}

func accountState(t *testing.T, pool *pgxpool.Pool, id uuid.UUID) models.Account {
	t.Helper()
	acct, err := repository.New(pool).GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct
}

func TestReserveCommit(t *testing.T) {
	l, pool := setupLedger(t)
	ctx := context.Background()
	account := pgtest.SeedAccount(t, pool, "USD", 100_000_000)
	amount := domain.NewMoney(40_000_000, "USD")

	res, err := l.Reserve(ctx, account, amount, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusReserved, res.Status)

	again, err := l.Reserve(ctx, account, amount, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, res.ID, again.ID)

	acct := accountState(t, pool, account)
	assert.Equal(t, int64(40_000_000), acct.LockedMicros)
	assert.Equal(t, int64(60_000_000), acct.Available())

	require.NoError(t, l.Commit(ctx, account, "ref-1", amount))
	require.NoError(t, l.Commit(ctx, account, "ref-1", amount))

	acct = accountState(t, pool, account)
	assert.Equal(t, int64(60_000_000), acct.Balance)
	assert.Equal(t, int64(0), acct.LockedMicros)

	err = l.Release(ctx, account, "ref-1", amount)
	assert.ErrorIs(t, err, models.ErrReservationState)
}

func TestReserveRelease(t *testing.T) {
	l, pool := setupLedger(t)
	ctx := context.Background()
	account := pgtest.SeedAccount(t, pool, "USD", 10_000_000)
	amount := domain.NewMoney(10_000_000, "USD")

	_, err := l.Reserve(ctx, account, amount, "ref-2")
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, account, "ref-2", amount))
	require.NoError(t, l.Release(ctx, account, "ref-2", amount))

	acct := accountState(t, pool, account)
	assert.Equal(t, int64(10_000_000), acct.Balance)
	assert.Equal(t, int64(0), acct.LockedMicros)

	err = l.Commit(ctx, account, "ref-2", amount)
	assert.ErrorIs(t, err, models.ErrReservationState)
}

func TestReleaseWithoutReservationIsNoop(t *testing.T) {
	l, pool := setupLedger(t)
	account := pgtest.SeedAccount(t, pool, "USD", 1_000_000)

	require.NoError(t, l.Release(context.Background(), account, "missing", domain.NewMoney(1, "USD")))
}

func TestReserveRejections(t *testing.T) {
	l, pool := setupLedger(t)
	ctx := context.Background()
	account := pgtest.SeedAccount(t, pool, "USD", 5_000_000)

	tests := []struct {
		name    string
		account uuid.UUID
		amount  domain.Money
		reason  error
	}{
		{"insufficient funds", account, domain.NewMoney(5_000_001, "USD"), models.ErrInsufficientFunds},
		{"currency mismatch", account, domain.NewMoney(1_000_000, "EUR"), models.ErrCurrencyMismatch},
		{"unknown account", uuid.New(), domain.NewMoney(1_000_000, "USD"), models.ErrAccountNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := l.Reserve(ctx, tc.account, tc.amount, "ref-"+tc.name)
			require.NoError(t, err)
			assert.Equal(t, domain.ReservationStatusRejected, res.Status)
			assert.Equal(t, tc.reason.Error(), res.Reason)
		})
	}

	acct := accountState(t, pool, account)
	assert.Equal(t, int64(0), acct.LockedMicros)
}

func TestConcurrentReservationsNeverOverdraw(t *testing.T) {
	l, pool := setupLedger(t)
	ctx := context.Background()
	account := pgtest.SeedAccount(t, pool, "USD", 50_000_000)
	amount := domain.NewMoney(10_000_000, "USD")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.Reserve(ctx, account, amount, uuid.NewString())
			if err == nil && res.Status == domain.ReservationStatusReserved {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, reserved)
	acct := accountState(t, pool, account)
	assert.Equal(t, int64(50_000_000), acct.LockedMicros)
}

func TestCreditIsIdempotent(t *testing.T) {
	l, pool := setupLedger(t)
	ctx := context.Background()
	account := pgtest.SeedAccount(t, pool, "NGN", 0)
	amount := domain.NewMoney(7_500_000, "NGN")

	require.NoError(t, l.Credit(ctx, account, "credit-1", amount))
	require.NoError(t, l.Credit(ctx, account, "credit-1", amount))

	acct := accountState(t, pool, account)
	assert.Equal(t, int64(7_500_000), acct.Balance)

	err := l.Credit(ctx, uuid.New(), "credit-2", amount)
	assert.ErrorIs(t, err, models.ErrAccountNotFound)

	err = l.Credit(ctx, account, "credit-3", domain.NewMoney(1, "USD"))
	assert.ErrorIs(t, err, models.ErrCurrencyMismatch)
}
