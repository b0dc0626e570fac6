package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/shard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryArchive struct {
	mu        sync.Mutex
	hot       map[string]map[uuid.UUID]models.Transfer
	archive   map[uuid.UUID]models.ArchivedTransfer
	nextBatch int64
	failCopy  map[string]error
}

func newMemoryArchive(tables ...string) *memoryArchive {
	m := &memoryArchive{
		hot:      map[string]map[uuid.UUID]models.Transfer{},
		archive:  map[uuid.UUID]models.ArchivedTransfer{},
		failCopy: map[string]error{},
	}
	for _, name := range tables {
		m.hot[name] = map[uuid.UUID]models.Transfer{}
	}
	return m
}

func (m *memoryArchive) Tables() []shard.Table {
	names := make([]string, 0, len(m.hot))
	for name := range m.hot {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]shard.Table, len(names))
	for i, name := range names {
		out[i] = shard.Table{Partition: i, Name: name}
	}
	return out
}

func (m *memoryArchive) SelectArchivable(_ context.Context, table shard.Table, completedBefore time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, t := range m.hot[table.Name] {
		if t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(completedBefore) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (m *memoryArchive) NextArchiveBatchID(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBatch++
	return m.nextBatch, nil
}

func (m *memoryArchive) CopyToArchive(_ context.Context, table shard.Table, ids []uuid.UUID, batchID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failCopy[table.Name]; err != nil {
		return 0, err
	}
	var copied int64
	for _, id := range ids {
		if _, exists := m.archive[id]; exists {
			continue
		}
		t, ok := m.hot[table.Name][id]
		if !ok {
			continue
		}
		m.archive[id] = models.ArchivedTransfer{Transfer: t, ArchivedBatchID: batchID, ArchivedAt: time.Now()}
		copied++
	}
	return copied, nil
}

func (m *memoryArchive) DeleteArchived(_ context.Context, table shard.Table, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, archived := m.archive[id]; !archived {
			continue
		}
		if _, ok := m.hot[table.Name][id]; ok {
			delete(m.hot[table.Name], id)
			deleted++
		}
	}
	return deleted, nil
}

func terminalTransfer(status domain.TransferStatus, completedAt time.Time) models.Transfer {
	return models.Transfer{
		ID:              uuid.New(),
		ReferenceNumber: NewReferenceNumber(completedAt),
		SenderAccountID: uuid.New(),
		Rail:            domain.RailA,
		AmountMicros:    1_000_000,
		Currency:        "USD",
		Status:          status,
		Origin:          domain.OriginDirect,
		CreatedAt:       completedAt.Add(-time.Minute),
		UpdatedAt:       completedAt,
		CompletedAt:     &completedAt,
	}
}

func TestArchivalMovesOldTerminalTransfers(t *testing.T) {
	store := newMemoryArchive("transfers_0", "transfers_1")
	old := time.Now().Add(-48 * time.Hour)

	completed := terminalTransfer(domain.TransferStatusCompleted, old)
	failed := terminalTransfer(domain.TransferStatusFailed, old)
	recent := terminalTransfer(domain.TransferStatusCompleted, time.Now())
	pending := terminalTransfer(domain.TransferStatusPending, old)
	pending.CompletedAt = nil

	store.hot["transfers_0"][completed.ID] = completed
	store.hot["transfers_0"][recent.ID] = recent
	store.hot["transfers_1"][failed.ID] = failed
	store.hot["transfers_1"][pending.ID] = pending

	svc := NewArchivalService(store, ArchivalConfig{After: 24 * time.Hour, BatchSize: 10})
	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Copied)
	assert.Equal(t, int64(2), report.Deleted)
	assert.Equal(t, 2, report.Batches)

	require.Contains(t, store.archive, completed.ID)
	assert.Equal(t, completed, store.archive[completed.ID].Transfer)
	assert.Contains(t, store.archive, failed.ID)
	assert.Contains(t, store.hot["transfers_0"], recent.ID)
	assert.Contains(t, store.hot["transfers_1"], pending.ID)
	assert.NotContains(t, store.hot["transfers_0"], completed.ID)
}

func TestArchivalRerunDoesNotDuplicate(t *testing.T) {
	store := newMemoryArchive("transfers")
	old := time.Now().Add(-48 * time.Hour)
	tr := terminalTransfer(domain.TransferStatusCompleted, old)
	store.hot["transfers"][tr.ID] = tr

	// a previous run copied the row but died before deleting it
	store.archive[tr.ID] = models.ArchivedTransfer{Transfer: tr, ArchivedBatchID: 99}

	svc := NewArchivalService(store, ArchivalConfig{After: time.Hour, BatchSize: 10})
	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Copied)
	assert.Equal(t, int64(1), report.Deleted)
	assert.Len(t, store.archive, 1)
	assert.Equal(t, int64(99), store.archive[tr.ID].ArchivedBatchID)
	assert.Empty(t, store.hot["transfers"])
}

func TestArchivalDrainsInBatches(t *testing.T) {
	store := newMemoryArchive("transfers")
	old := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 7; i++ {
		tr := terminalTransfer(domain.TransferStatusCompleted, old)
		store.hot["transfers"][tr.ID] = tr
	}

	svc := NewArchivalService(store, ArchivalConfig{After: time.Hour, BatchSize: 3})
	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), report.Copied)
	assert.Equal(t, 3, report.Batches)
	assert.Empty(t, store.hot["transfers"])
}

func TestArchivalFailureIsolatedToPartition(t *testing.T) {
	store := newMemoryArchive("transfers_0", "transfers_1")
	old := time.Now().Add(-48 * time.Hour)
	broken := terminalTransfer(domain.TransferStatusCompleted, old)
	healthy := terminalTransfer(domain.TransferStatusFailed, old)
	store.hot["transfers_0"][broken.ID] = broken
	store.hot["transfers_1"][healthy.ID] = healthy
	store.failCopy["transfers_0"] = errors.New("disk full")

	svc := NewArchivalService(store, ArchivalConfig{After: time.Hour, BatchSize: 10})
	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)
	assert.Contains(t, store.hot["transfers_0"], broken.ID)
	assert.Contains(t, store.archive, healthy.ID)
}
