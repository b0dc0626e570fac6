package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/ayo6706/transfer-orchestrator/internal/service"
	"go.uber.org/zap"
)

// Archiver moves old terminal transfers out of the hot partitions.
type Archiver interface {
	Run(ctx context.Context) (service.ArchiveReport, error)
}

// ArchivalWorker runs the archival batcher on a fixed interval. A run in
// progress finishes its current batch before the worker exits.
type ArchivalWorker struct {
	archiver Archiver
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewArchivalWorker(archiver Archiver) *ArchivalWorker {
	return &ArchivalWorker{
		archiver: archiver,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
	}
}

func (w *ArchivalWorker) WithInterval(interval time.Duration) *ArchivalWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *ArchivalWorker) Start(ctx context.Context) {
	zap.L().Info("archival worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("archival worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("archival worker stop signal received")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *ArchivalWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ArchivalWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ArchivalWorker) RunOnce(ctx context.Context) {
	report, err := w.archiver.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("archival", "failed")
		zap.L().Error("archival run failed", zap.Error(err))
		return
	}
	result := "success"
	if report.Failures > 0 {
		result = "partial"
	}
	observability.IncrementWorkerRun("archival", result)
}
