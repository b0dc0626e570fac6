package rail

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
)

// SimulatedAdapter stands in for a rail that has no gateway configured.
// Asynchronous rails answer ACCEPTED and settle on a later status check;
// synchronous rails answer COMPLETED or FAILED right away.
type SimulatedAdapter struct {
	Rail        domain.Rail
	Async       bool
	FailureRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
	SettleAfter time.Duration

	seq     atomic.Uint64
	mu      sync.Mutex
	pending map[string]simulatedMovement
	now     func() time.Time
}

type simulatedMovement struct {
	outcome   Status
	settlesAt time.Time
}

// NewSimulatedAdapter returns a simulator with the latency profile of the
// given rail. RAIL_A and RAIL_B settle asynchronously.
func NewSimulatedAdapter(rail domain.Rail) *SimulatedAdapter {
	return &SimulatedAdapter{
		Rail:        rail,
		Async:       rail == domain.RailA || rail == domain.RailB,
		FailureRate: 0.05,
		MinLatency:  50 * time.Millisecond,
		MaxLatency:  300 * time.Millisecond,
		SettleAfter: 30 * time.Second,
		pending:     make(map[string]simulatedMovement),
		now:         time.Now,
	}
}

func (s *SimulatedAdapter) Initiate(ctx context.Context, d Details) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}

	outcome := StatusCompleted
	if rand.Float64() < s.FailureRate {
		outcome = StatusFailed
	}
	ref := fmt.Sprintf("SIM-%s-%s-%06d", s.Rail, s.now().Format("20060102-150405"), s.seq.Add(1))

	if !s.Async {
		return s.result(outcome, ref), nil
	}

	s.mu.Lock()
	s.pending[ref] = simulatedMovement{outcome: outcome, settlesAt: s.now().Add(s.SettleAfter)}
	s.mu.Unlock()
	return Result{Status: StatusAccepted, ExternalReference: ref}, nil
}

func (s *SimulatedAdapter) CheckStatus(ctx context.Context, externalRef string) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	movement, ok := s.pending[externalRef]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownReference, externalRef)
	}
	if s.now().Before(movement.settlesAt) {
		return Result{Status: StatusAccepted, ExternalReference: externalRef}, nil
	}
	delete(s.pending, externalRef)
	return s.result(movement.outcome, externalRef), nil
}

func (s *SimulatedAdapter) result(outcome Status, ref string) Result {
	r := Result{Status: outcome, ExternalReference: ref}
	if outcome == StatusFailed {
		r.Reason = "rejected by simulated rail"
	}
	return r
}

func (s *SimulatedAdapter) wait(ctx context.Context) error {
	delay := s.MinLatency
	if spread := s.MaxLatency - s.MinLatency; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("simulated rail call canceled: %w", ctx.Err())
	}
}
