// Package shard maps transfers onto hash partitions of the hot store and
// runs cross-partition reads through a bounded worker budget.
package shard

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	ErrInvalidPartitionCount = errors.New("partition count must be a power of two")
	ErrInvalidTablePrefix    = errors.New("invalid partition table prefix")
	ErrUnknownPartition      = errors.New("unknown partition")
)

var prefixPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,40}$`)

// Config describes the partition layout. It is read once at startup.
type Config struct {
	Enabled     bool
	Count       int
	TablePrefix string
	Workers     int
}

// Table is one physical partition of the transfer store.
type Table struct {
	Partition int
	Name      string
}

// Identifier returns the quoted SQL identifier of the table.
func (t Table) Identifier() string {
	return pgx.Identifier{t.Name}.Sanitize()
}

func (t Table) String() string {
	return t.Name
}

// Router computes the partition of a transfer from its sender account.
type Router struct {
	enabled bool
	mask    uint64
	prefix  string
	tables  []Table
	workers int
	pool    *semaphore.Weighted
}

// New validates cfg and builds a router. Invalid layouts are not recoverable.
func New(cfg Config) (*Router, error) {
	if !prefixPattern.MatchString(cfg.TablePrefix) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTablePrefix, cfg.TablePrefix)
	}
	count := 1
	if cfg.Enabled {
		if cfg.Count <= 0 || cfg.Count&(cfg.Count-1) != 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPartitionCount, cfg.Count)
		}
		count = cfg.Count
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	r := &Router{
		enabled: cfg.Enabled,
		mask:    uint64(count - 1),
		prefix:  cfg.TablePrefix,
		tables:  make([]Table, count),
		workers: workers,
		pool:    semaphore.NewWeighted(int64(workers)),
	}
	for i := range r.tables {
		r.tables[i] = Table{Partition: i, Name: r.tableName(i)}
	}
	return r, nil
}

// tableName joins prefix and partition number with an underscore
// ("transfers_3") so a prefix ending in a digit stays unambiguous.
func (r *Router) tableName(partition int) string {
	if !r.enabled {
		return r.prefix
	}
	return fmt.Sprintf("%s_%d", r.prefix, partition)
}

// Enabled reports whether more than one logical partition is in use.
func (r *Router) Enabled() bool {
	return r.enabled
}

// Count returns the number of partitions.
func (r *Router) Count() int {
	return len(r.tables)
}

// Workers returns the size of the fan-out worker budget.
func (r *Router) Workers() int {
	return r.workers
}

// Partition returns the partition number owning transfers sent by accountID.
func (r *Router) Partition(accountID uuid.UUID) int {
	return r.PartitionKey(accountID.String())
}

// PartitionKey hashes an arbitrary partition key.
func (r *Router) PartitionKey(key string) int {
	return int(xxhash.Sum64String(key) & r.mask)
}

// TableFor returns the table holding transfers sent by accountID.
func (r *Router) TableFor(accountID uuid.UUID) Table {
	return r.tables[r.Partition(accountID)]
}

// Table returns the table of a partition number.
func (r *Router) Table(partition int) (Table, error) {
	if partition < 0 || partition >= len(r.tables) {
		return Table{}, fmt.Errorf("%w: %d", ErrUnknownPartition, partition)
	}
	return r.tables[partition], nil
}

// Tables returns every partition table in partition order.
func (r *Router) Tables() []Table {
	out := make([]Table, len(r.tables))
	copy(out, r.tables)
	return out
}

// FanOut runs fn against every partition and concatenates the results in
// partition order. Concurrency is bounded by the router's shared worker
// budget; the first error cancels the remaining partitions.
func FanOut[T any](ctx context.Context, r *Router, op string, fn func(ctx context.Context, t Table) ([]T, error)) ([]T, error) {
	start := time.Now()
	results := make([][]T, len(r.tables))

	g, gctx := errgroup.WithContext(ctx)
	for _, table := range r.tables {
		table := table
		g.Go(func() error {
			if err := r.pool.Acquire(gctx, 1); err != nil {
				return err
			}
			defer r.pool.Release(1)

			rows, err := fn(gctx, table)
			if err != nil {
				return fmt.Errorf("partition %s: %w", table.Name, err)
			}
			results[table.Partition] = rows
			return nil
		})
	}
	err := g.Wait()
	observability.ObserveFanOut(op, len(r.tables), time.Since(start))
	if err != nil {
		return nil, err
	}

	var total int
	for _, rows := range results {
		total += len(rows)
	}
	merged := make([]T, 0, total)
	for _, rows := range results {
		merged = append(merged, rows...)
	}
	return merged, nil
}

var errFound = errors.New("found")

// FanOutFirst probes every partition and returns the first non-nil hit.
// Remaining probes are cancelled once a hit is recorded. It returns nil, nil
// when no partition holds a match.
func FanOutFirst[T any](ctx context.Context, r *Router, op string, fn func(ctx context.Context, t Table) (*T, error)) (*T, error) {
	start := time.Now()
	hits := make([]*T, len(r.tables))

	g, gctx := errgroup.WithContext(ctx)
	for _, table := range r.tables {
		table := table
		g.Go(func() error {
			if err := r.pool.Acquire(gctx, 1); err != nil {
				return err
			}
			defer r.pool.Release(1)

			hit, err := fn(gctx, table)
			if err != nil {
				return fmt.Errorf("partition %s: %w", table.Name, err)
			}
			if hit != nil {
				hits[table.Partition] = hit
				return errFound
			}
			return nil
		})
	}
	err := g.Wait()
	observability.ObserveFanOut(op, len(r.tables), time.Since(start))

	for _, hit := range hits {
		if hit != nil {
			return hit, nil
		}
	}
	if err != nil && !errors.Is(err, errFound) {
		return nil, err
	}
	return nil, nil
}
