package shard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, count, workers int) *Router {
	t.Helper()
	r, err := New(Config{Enabled: true, Count: count, TablePrefix: "transfers", Workers: workers})
	require.NoError(t, err)
	return r
}

func TestNewRejectsInvalidLayouts(t *testing.T) {
	for _, count := range []int{0, -2, 3, 6, 12} {
		_, err := New(Config{Enabled: true, Count: count, TablePrefix: "transfers", Workers: 2})
		require.ErrorIs(t, err, ErrInvalidPartitionCount, "count=%d", count)
	}

	_, err := New(Config{Enabled: true, Count: 8, TablePrefix: "transfers; drop table x", Workers: 2})
	require.ErrorIs(t, err, ErrInvalidTablePrefix)
}

func TestTableNames(t *testing.T) {
	r := newTestRouter(t, 4, 2)
	tables := r.Tables()
	require.Len(t, tables, 4)
	for i, table := range tables {
		assert.Equal(t, i, table.Partition)
	}
	assert.Equal(t, "transfers_0", tables[0].Name)
	assert.Equal(t, "transfers_3", tables[3].Name)
	assert.Equal(t, `"transfers_3"`, tables[3].Identifier())

	_, err := r.Table(4)
	require.ErrorIs(t, err, ErrUnknownPartition)
}

func TestDisabledShardingUsesSingleTable(t *testing.T) {
	r, err := New(Config{Enabled: false, Count: 6, TablePrefix: "transfers", Workers: 2})
	require.NoError(t, err)
	assert.False(t, r.Enabled())
	assert.Equal(t, 1, r.Count())

	for i := 0; i < 100; i++ {
		table := r.TableFor(uuid.New())
		assert.Equal(t, "transfers", table.Name)
		assert.Equal(t, 0, table.Partition)
	}
}

func TestPartitionIsDeterministic(t *testing.T) {
	r := newTestRouter(t, 8, 2)
	other := newTestRouter(t, 8, 4)

	for i := 0; i < 1000; i++ {
		id := uuid.New()
		p := r.Partition(id)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 8)
		assert.Equal(t, p, r.Partition(id))
		assert.Equal(t, p, other.Partition(id))
		assert.Equal(t, r.Tables()[p], r.TableFor(id))
	}
}

func TestPartitionDistributionIsUniform(t *testing.T) {
	const (
		partitions = 8
		samples    = 80_000
	)
	r := newTestRouter(t, partitions, 2)

	counts := make([]int, partitions)
	for i := 0; i < samples; i++ {
		counts[r.Partition(uuid.New())]++
	}

	expected := float64(samples) / partitions
	for p, c := range counts {
		deviation := (float64(c) - expected) / expected
		assert.InDelta(t, 0, deviation, 0.05, "partition %d got %d rows", p, c)
	}
}

func TestFanOutMergesAllPartitions(t *testing.T) {
	r := newTestRouter(t, 8, 3)

	rows, err := FanOut(context.Background(), r, "test", func(ctx context.Context, table Table) ([]int, error) {
		return []int{table.Partition, table.Partition}, nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 16)
	for p := 0; p < 8; p++ {
		assert.Equal(t, p, rows[2*p])
	}
}

func TestFanOutRespectsWorkerBudget(t *testing.T) {
	r := newTestRouter(t, 16, 2)

	var inFlight, peak int32
	_, err := FanOut(context.Background(), r, "test", func(ctx context.Context, table Table) ([]int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestFanOutPropagatesErrors(t *testing.T) {
	r := newTestRouter(t, 4, 4)
	boom := errors.New("boom")

	_, err := FanOut(context.Background(), r, "test", func(ctx context.Context, table Table) ([]int, error) {
		if table.Partition == 2 {
			return nil, boom
		}
		return []int{1}, nil
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "transfers_2")
}

func TestFanOutFirst(t *testing.T) {
	r := newTestRouter(t, 8, 8)

	hit, err := FanOutFirst(context.Background(), r, "test", func(ctx context.Context, table Table) (*string, error) {
		if table.Partition == 5 {
			v := table.Name
			return &v, nil
		}
		return nil, nil
	})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "transfers_5", *hit)

	miss, err := FanOutFirst(context.Background(), r, "test", func(ctx context.Context, table Table) (*string, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestMergeNewestFirst(t *testing.T) {
	type row struct {
		id string
		at time.Time
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []row{
		{"a", base.Add(1 * time.Minute)},
		{"b", base.Add(5 * time.Minute)},
		{"c", base.Add(3 * time.Minute)},
		{"d", base.Add(4 * time.Minute)},
		{"e", base.Add(2 * time.Minute)},
	}
	at := func(r row) time.Time { return r.at }
	key := func(r row) string { return r.id }

	page := MergeNewestFirst(rows, at, key, 1, 2)
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0].id)
	assert.Equal(t, "c", page[1].id)

	assert.Empty(t, MergeNewestFirst(rows, at, key, 10, 2))
	assert.Len(t, MergeNewestFirst(rows, at, key, 0, 0), 5)
}

func TestMergeOldestFirst(t *testing.T) {
	type row struct {
		id string
		at time.Time
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// partition 0 rows come first in fan-out order but are the newest
	rows := []row{
		{"p0-a", base.Add(10 * time.Minute)},
		{"p0-b", base.Add(11 * time.Minute)},
		{"p0-c", base.Add(12 * time.Minute)},
		{"p1-a", base.Add(1 * time.Minute)},
		{"p2-a", base.Add(2 * time.Minute)},
		{"p2-b", base.Add(2 * time.Minute)},
	}
	at := func(r row) time.Time { return r.at }
	key := func(r row) string { return r.id }

	batch := MergeOldestFirst(rows, at, key, 0, 3)
	require.Len(t, batch, 3)
	assert.Equal(t, "p1-a", batch[0].id)
	assert.Equal(t, "p2-a", batch[1].id)
	assert.Equal(t, "p2-b", batch[2].id)
}
