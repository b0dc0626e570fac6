package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/events"
	"github.com/ayo6706/transfer-orchestrator/internal/idempotency"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/rail"
	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// memoryStore is an in-process TransferStore with the same guarded
// transition semantics as the Postgres repository.
type memoryStore struct {
	mu          sync.Mutex
	transfers   map[uuid.UUID]models.Transfer
	keys        map[string]repository.IdempotencyKey
	archived    map[uuid.UUID]models.ArchivedTransfer
	transitions []models.TransferStatusChange
	failOn      map[domain.TransferStatus]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		transfers: map[uuid.UUID]models.Transfer{},
		keys:      map[string]repository.IdempotencyKey{},
		archived:  map[uuid.UUID]models.ArchivedTransfer{},
		failOn:    map[domain.TransferStatus]error{},
	}
}

func (m *memoryStore) CreateTransfer(_ context.Context, t *models.Transfer, fingerprint string) (repository.IdempotencyKey, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
		CreatedAt:       t.CreatedAt,
	}
	m.keys[*t.IdempotencyKey] = owner
	m.transfers[t.ID] = *t
	return owner, true, nil
}

func (m *memoryStore) FindTransfer(ctx context.Context, _ uuid.UUID, id uuid.UUID) (*models.Transfer, error) {
	return m.GetTransfer(ctx, id)
}

func (m *memoryStore) GetTransfer(_ context.Context, id uuid.UUID) (*models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transfers[id]; ok {
		return &t, nil
	}
	if a, ok := m.archived[id]; ok {
		t := a.Transfer
		return &t, nil
	}
	return nil, models.ErrTransferNotFound
}

func (m *memoryStore) GetTransferByReference(_ context.Context, reference string) (*models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transfers {
		if t.ReferenceNumber == reference {
			return &t, nil
		}
	}
	return nil, models.ErrTransferNotFound
}

func (m *memoryStore) list(match func(models.Transfer) bool, limit, offset int) []models.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transfer
	for _, t := range m.transfers {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memoryStore) ListBySender(_ context.Context, accountID uuid.UUID, limit, offset int) ([]models.Transfer, error) {
	return m.list(func(t models.Transfer) bool { return t.SenderAccountID == accountID }, limit, offset), nil
}

func (m *memoryStore) ListByRecipient(_ context.Context, accountID uuid.UUID, limit, offset int) ([]models.Transfer, error) {
	return m.list(func(t models.Transfer) bool {
		return t.RecipientAccountID != nil && *t.RecipientAccountID == accountID
	}, limit, offset), nil
}

func (m *memoryStore) ListByStatus(_ context.Context, statuses []domain.TransferStatus, updatedBefore time.Time, limit int) ([]models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transfer
	for _, t := range m.transfers {
		if !t.UpdatedAt.Before(updatedBefore) && !t.UpdatedAt.Equal(updatedBefore) {
			continue
		}
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) ListArchivedBySender(_ context.Context, accountID uuid.UUID, limit, offset int) ([]models.ArchivedTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ArchivedTransfer
	for _, a := range m.archived {
		if a.SenderAccountID == accountID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryStore) Transition(_ context.Context, change models.TransferStatusChange, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[change.To]; err != nil {
		return err
	}
	t, ok := m.transfers[change.TransferID]
	if !ok || t.Status != change.From {
		return repository.ErrStaleTransition
	}
	t.Status = change.To
	t.UpdatedAt = change.At
	if change.FailureReason != nil {
		t.FailureReason = change.FailureReason
	}
	if change.ExternalReference != nil {
		t.ExternalReference = change.ExternalReference
	}
	if change.To.IsTerminal() {
		at := change.At
		t.CompletedAt = &at
	}
	m.transfers[t.ID] = t
	m.transitions = append(m.transitions, change)
	return nil
}

func (m *memoryStore) Touch(_ context.Context, t *models.Transfer, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.transfers[t.ID]
	if !ok || stored.Status != t.Status {
		return repository.ErrStaleTransition
	}
	stored.UpdatedAt = at
	m.transfers[t.ID] = stored
	return nil
}

func (m *memoryStore) put(t models.Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[t.ID] = t
}

func (m *memoryStore) get(id uuid.UUID) models.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers[id]
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Reserve(ctx context.Context, accountID uuid.UUID, amount domain.Money, refID string) (models.Reservation, error) {
	args := m.Called(ctx, accountID, amount, refID)
	return args.Get(0).(models.Reservation), args.Error(1)
}

func (m *mockLedger) Commit(ctx context.Context, accountID uuid.UUID, refID string, amount domain.Money) error {
	return m.Called(ctx, accountID, refID, amount).Error(0)
}

func (m *mockLedger) Release(ctx context.Context, accountID uuid.UUID, refID string, amount domain.Money) error {
	return m.Called(ctx, accountID, refID, amount).Error(0)
}

func (m *mockLedger) Credit(ctx context.Context, accountID uuid.UUID, refID string, amount domain.Money) error {
	return m.Called(ctx, accountID, refID, amount).Error(0)
}

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Initiate(ctx context.Context, d rail.Details) (rail.Result, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(rail.Result), args.Error(1)
}

func (m *mockAdapter) CheckStatus(ctx context.Context, externalRef string) (rail.Result, error) {
	args := m.Called(ctx, externalRef)
	return args.Get(0).(rail.Result), args.Error(1)
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type harness struct {
	svc       *TransferService
	store     *memoryStore
	ledger    *mockLedger
	rails     map[domain.Rail]*mockAdapter
	publisher *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     newMemoryStore(),
		ledger:    new(mockLedger),
		rails:     map[domain.Rail]*mockAdapter{},
		publisher: &recordingPublisher{},
	}
	registry := rail.Registry{}
	for _, r := range domain.Rails {
		a := new(mockAdapter)
		h.rails[r] = a
		registry[r] = a
	}
	guard := idempotency.NewGuard(h.store, idempotency.NewCache(nil, time.Minute))
	h.svc = NewTransferService(h.store, guard, h.ledger, registry, h.publisher, TransferConfig{
		MinAmountMicros: 1,
		MaxAmountMicros: 1_000_000_000_000,
		RailTimeout:     time.Second,
	})
	return h
}

var _ events.Publisher = (*recordingPublisher)(nil)

func reserved(refID string, amount domain.Money) models.Reservation {
	return models.Reservation{
		ID:       uuid.New(),
		RefID:    refID,
		Amount:   amount.Amount,
		Currency: amount.Currency,
		Status:   domain.ReservationStatusReserved,
	}
}

func externalRequest(sender uuid.UUID, micros int64) TransferRequest {
	return TransferRequest{
		SenderAccountID:        sender,
		RecipientAccountNumber: "0123456789",
		RecipientBankCode:      "058",
		Type:                   "RAIL_A",
		Amount:                 domain.NewMoney(micros, "USD"),
		Description:            "rent",
	}
}
