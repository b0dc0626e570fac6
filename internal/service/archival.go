package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/ayo6706/transfer-orchestrator/internal/shard"
	"go.uber.org/zap"
)

// ArchivalConfig controls which terminal transfers leave the hot partitions.
type ArchivalConfig struct {
	After        time.Duration
	BatchSize    int
	BatchTimeout time.Duration
}

// ArchiveReport summarises one archival run.
type ArchiveReport struct {
	Batches  int
	Copied   int64
	Deleted  int64
	Failures int
}

// ArchivalService moves old terminal transfers into the archive table.
type ArchivalService struct {
	store ArchiveStore
	cfg   ArchivalConfig
	now   func() time.Time
}

func NewArchivalService(store ArchiveStore, cfg ArchivalConfig) *ArchivalService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 30 * time.Second
	}
	return &ArchivalService{store: store, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Run drains every partition batch by batch. A failing batch stops work on
// its partition only; other partitions still run.
func (s *ArchivalService) Run(ctx context.Context) (ArchiveReport, error) {
	var report ArchiveReport
	cutoff := s.now().Add(-s.cfg.After)

	for _, table := range s.store.Tables() {
		for {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			moved, err := s.archiveBatch(ctx, table, cutoff, &report)
			if err != nil {
				report.Failures++
				zap.L().Error("archive batch failed", zap.String("partition", table.Name), zap.Error(err))
				if errors.Is(err, context.Canceled) {
					return report, err
				}
				break
			}
			if moved < s.cfg.BatchSize {
				break
			}
		}
	}

	if report.Copied > 0 {
		zap.L().Info("archival run finished",
			zap.Int("batches", report.Batches),
			zap.Int64("copied", report.Copied),
			zap.Int64("deleted", report.Deleted),
		)
	}
	return report, nil
}

func (s *ArchivalService) archiveBatch(ctx context.Context, table shard.Table, cutoff time.Time, report *ArchiveReport) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()

	ids, err := s.store.SelectArchivable(ctx, table, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("select archivable: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	batchID, err := s.store.NextArchiveBatchID(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate batch id: %w", err)
	}
	copied, err := s.store.CopyToArchive(ctx, table, ids, batchID)
	if err != nil {
		return 0, fmt.Errorf("copy batch %d: %w", batchID, err)
	}
	deleted, err := s.store.DeleteArchived(ctx, table, ids)
	if err != nil {
		return 0, fmt.Errorf("delete batch %d: %w", batchID, err)
	}

	report.Batches++
	report.Copied += copied
	report.Deleted += deleted
	observability.AddArchived(table.Name, int(deleted))
	zap.L().Debug("archived batch",
		zap.String("partition", table.Name),
		zap.Int64("batch_id", batchID),
		zap.Int("selected", len(ids)),
		zap.Int64("copied", copied),
		zap.Int64("deleted", deleted),
	)
	return len(ids), nil
}
