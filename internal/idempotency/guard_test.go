package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRecorder struct {
	mu        sync.Mutex
	keys      map[string]repository.IdempotencyKey
	transfers map[uuid.UUID]models.Transfer
	creates   int
	finds     int
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{
		keys:      map[string]repository.IdempotencyKey{},
		transfers: map[uuid.UUID]models.Transfer{},
	}
}

func (m *memoryRecorder) CreateTransfer(_ context.Context, t *models.Transfer, fingerprint string) (repository.IdempotencyKey, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if t.IdempotencyKey == nil {
		m.transfers[t.ID] = *t
		return repository.IdempotencyKey{}, true, nil
	}
	if owner, ok := m.keys[*t.IdempotencyKey]; ok {
		return owner, false, nil
	}
	owner := repository.IdempotencyKey{
		IdempotencyKey:  *t.IdempotencyKey,
		TransferID:      t.ID,
		SenderAccountID: t.SenderAccountID,
		RequestHash:     fingerprint,
	}
	m.keys[*t.IdempotencyKey] = owner
	m.transfers[t.ID] = *t
	return owner, true, nil
}

func (m *memoryRecorder) FindTransfer(_ context.Context, _ uuid.UUID, id uuid.UUID) (*models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	t, ok := m.transfers[id]
	if !ok {
		return nil, models.ErrTransferNotFound
	}
	return &t, nil
}

func newCandidate(key *string) *models.Transfer {
	return &models.Transfer{
		ID:              uuid.New(),
		ReferenceNumber: "TRF" + uuid.NewString()[:10],
		SenderAccountID: uuid.MustParse("9b2f3c1e-0000-4000-8000-000000000001"),
		AmountMicros:    1_000_000,
		Currency:        "USD",
		IdempotencyKey:  key,
	}
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client, time.Hour), mr
}

func TestAdmitWithoutKeyAlwaysCreates(t *testing.T) {
	rec := newMemoryRecorder()
	g := NewGuard(rec, nil)

	for i := 0; i < 2; i++ {
		adm, err := g.Admit(context.Background(), newCandidate(nil), "same")
		require.NoError(t, err)
		assert.True(t, adm.IsNew)
	}
	assert.Len(t, rec.transfers, 2)
}

func TestAdmitReplaysExistingKey(t *testing.T) {
	rec := newMemoryRecorder()
	cache, mr := newTestCache(t)
	g := NewGuard(rec, cache)
	key := "k1"

	first, err := g.Admit(context.Background(), newCandidate(&key), "fp")
	require.NoError(t, err)
	require.True(t, first.IsNew)
	assert.True(t, mr.Exists("idempotency:transfer:k1"))

	second, err := g.Admit(context.Background(), newCandidate(&key), "fp")
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Transfer.ID, second.Transfer.ID)
	assert.Equal(t, first.Transfer.ReferenceNumber, second.Transfer.ReferenceNumber)
	assert.Equal(t, 1, rec.creates, "cache hit must not touch the store")
}

func TestAdmitRejectsFingerprintMismatch(t *testing.T) {
	for _, withCache := range []bool{true, false} {
		rec := newMemoryRecorder()
		var cache *Cache
		if withCache {
			cache, _ = newTestCache(t)
		}
		g := NewGuard(rec, cache)
		key := "k2"

		_, err := g.Admit(context.Background(), newCandidate(&key), "fp-1")
		require.NoError(t, err)

		_, err = g.Admit(context.Background(), newCandidate(&key), "fp-2")
		assert.ErrorIs(t, err, ErrFingerprintMismatch)
	}
}

func TestAdmitSurvivesRedisOutage(t *testing.T) {
	rec := newMemoryRecorder()
	cache, mr := newTestCache(t)
	g := NewGuard(rec, cache)
	key := "k3"

	first, err := g.Admit(context.Background(), newCandidate(&key), "fp")
	require.NoError(t, err)

	mr.Close()
	second, err := g.Admit(context.Background(), newCandidate(&key), "fp")
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Transfer.ID, second.Transfer.ID)
}

func TestAdmitFallsThroughStaleCacheEntry(t *testing.T) {
	rec := newMemoryRecorder()
	cache, _ := newTestCache(t)
	g := NewGuard(rec, cache)
	key := "k4"

	cache.Store(context.Background(), Record{
		Key:             key,
		TransferID:      uuid.New(),
		SenderAccountID: uuid.New(),
		Fingerprint:     "fp",
	})

	adm, err := g.Admit(context.Background(), newCandidate(&key), "fp")
	require.NoError(t, err)
	assert.True(t, adm.IsNew)
}

func TestConcurrentAdmitsCreateOneTransfer(t *testing.T) {
	rec := newMemoryRecorder()
	cache, _ := newTestCache(t)
	g := NewGuard(rec, cache)
	key := "k5"

	const callers = 16
	results := make([]Admission, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adm, err := g.Admit(context.Background(), newCandidate(&key), "fp")
			assert.NoError(t, err)
			results[i] = adm
		}(i)
	}
	wg.Wait()

	var created int
	require.NotNil(t, results[0].Transfer)
	for _, r := range results {
		if r.IsNew {
			created++
		}
		assert.Equal(t, results[0].Transfer.ReferenceNumber, r.Transfer.ReferenceNumber)
	}
	assert.Equal(t, 1, created)
	assert.Len(t, rec.transfers, 1)
}

func TestFingerprintIsStable(t *testing.T) {
	a := Fingerprint{SenderAccountID: "s", Rail: "INTERNAL", AmountMicros: 10, Currency: "USD"}
	b := a
	assert.Equal(t, a.Hash(), b.Hash())

	b.AmountMicros = 11
	assert.NotEqual(t, a.Hash(), b.Hash())
}
