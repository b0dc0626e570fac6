package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"go.uber.org/zap"
)

// StatusPoller settles PENDING transfers and recovers abandoned ones.
type StatusPoller interface {
	PollPending(ctx context.Context, limit int) (int, error)
	RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// StatusPollWorker polls rails for the outcome of PENDING transfers and
// fails transfers left mid-flight by a crashed process.
// Concurrent instances are safe: every transition is guarded by the
// expected current status.
type StatusPollWorker struct {
	poller       StatusPoller
	pollInterval time.Duration
	batchSize    int
	staleAfter   time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewStatusPollWorker(poller StatusPoller) *StatusPollWorker {
	return &StatusPollWorker{
		poller:       poller,
		pollInterval: 10 * time.Second,
		batchSize:    50,
		staleAfter:   5 * time.Minute,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *StatusPollWorker) WithPollInterval(interval time.Duration) *StatusPollWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the number of transfers handled per tick.
func (w *StatusPollWorker) WithBatchSize(size int) *StatusPollWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// WithStaleAfter sets how long INITIATED or PROCESSING transfers may sit
// untouched before they are recovered. It must exceed the longest rail
// timeout.
func (w *StatusPollWorker) WithStaleAfter(window time.Duration) *StatusPollWorker {
	if window > 0 {
		w.staleAfter = window
	}
	return w
}

// Start blocks until Stop is called or the context is canceled.
func (w *StatusPollWorker) Start(ctx context.Context) {
	zap.L().Info("status poll worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int("batch_size", w.batchSize),
		zap.Duration("stale_after", w.staleAfter),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("status poll worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("status poll worker stop signal received")
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

func (w *StatusPollWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *StatusPollWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce runs a single recovery and poll pass.
func (w *StatusPollWorker) ProcessOnce(ctx context.Context) {
	if _, err := w.poller.RecoverStale(ctx, w.staleAfter, w.batchSize); err != nil {
		observability.IncrementWorkerRun("stale_recovery", "failed")
		zap.L().Error("stale transfer recovery failed", zap.Error(err))
	} else {
		observability.IncrementWorkerRun("stale_recovery", "success")
	}

	settled, err := w.poller.PollPending(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("status_poll", "failed")
		zap.L().Error("pending transfer poll failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("status_poll", "success")
	if settled > 0 {
		zap.L().Info("pending transfers settled", zap.Int("count", settled))
	}
}

func (w *StatusPollWorker) String() string {
	return fmt.Sprintf("StatusPollWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
