// Package idempotency guarantees that a transfer request carrying an
// idempotency key executes at most once.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrFingerprintMismatch is returned when a key is reused with a different request.
var ErrFingerprintMismatch = errors.New("idempotency key reused with a different request")

// Recorder persists transfers together with their idempotency key.
type Recorder interface {
	CreateTransfer(ctx context.Context, t *models.Transfer, fingerprint string) (repository.IdempotencyKey, bool, error)
	FindTransfer(ctx context.Context, senderID, id uuid.UUID) (*models.Transfer, error)
}

// Admission is the guard's verdict on a candidate transfer.
type Admission struct {
	IsNew    bool
	Transfer *models.Transfer
}

// Guard admits a candidate transfer or resolves it to the transfer that
// already owns its idempotency key.
type Guard struct {
	recorder Recorder
	cache    *Cache
}

func NewGuard(recorder Recorder, cache *Cache) *Guard {
	return &Guard{recorder: recorder, cache: cache}
}

// Admit persists candidate unless its key is already owned, in which case
// the owning transfer is returned unchanged. Concurrent callers with the
// same key are serialized by the key's unique constraint.
func (g *Guard) Admit(ctx context.Context, candidate *models.Transfer, fingerprint string) (Admission, error) {
	if candidate.IdempotencyKey == nil {
		if _, _, err := g.recorder.CreateTransfer(ctx, candidate, fingerprint); err != nil {
			return Admission{}, fmt.Errorf("persist transfer: %w", err)
		}
		return Admission{IsNew: true, Transfer: candidate}, nil
	}
	key := *candidate.IdempotencyKey

	if rec, err := g.cache.Lookup(ctx, key); err == nil {
		admission, err := g.replay(ctx, *rec, fingerprint)
		if err == nil || errors.Is(err, ErrFingerprintMismatch) {
			return admission, err
		}
		if !errors.Is(err, models.ErrTransferNotFound) {
			return Admission{}, err
		}
		g.cache.Forget(ctx, key)
	}

	owner, created, err := g.recorder.CreateTransfer(ctx, candidate, fingerprint)
	if err != nil {
		return Admission{}, fmt.Errorf("persist transfer: %w", err)
	}
	rec := recordFromKey(owner, "postgres")
	if created {
		observability.IncrementIdempotencyEvent("admitted")
		g.cache.Store(ctx, rec)
		return Admission{IsNew: true, Transfer: candidate}, nil
	}

	admission, err := g.replay(ctx, rec, fingerprint)
	if err != nil {
		return Admission{}, err
	}
	g.cache.Store(ctx, rec)
	return admission, nil
}

func (g *Guard) replay(ctx context.Context, rec Record, fingerprint string) (Admission, error) {
	if rec.Fingerprint != fingerprint {
		observability.IncrementIdempotencyEvent("mismatch")
		return Admission{}, ErrFingerprintMismatch
	}
	existing, err := g.recorder.FindTransfer(ctx, rec.SenderAccountID, rec.TransferID)
	if err != nil {
		return Admission{}, fmt.Errorf("load idempotent transfer: %w", err)
	}
	observability.IncrementIdempotencyEvent("replayed_" + rec.ServedBy)
	zap.L().Info("idempotent transfer replayed",
		zap.String("idempotency_key", rec.Key),
		zap.String("transfer_id", existing.ID.String()),
		zap.String("served_by", rec.ServedBy),
	)
	return Admission{IsNew: false, Transfer: existing}, nil
}

// Fingerprint is the canonical SHA-256 of the fields that define a request.
// Two requests with the same key must agree on all of them.
type Fingerprint struct {
	SenderAccountID        string `json:"sender_account_id"`
	RecipientAccountID     string `json:"recipient_account_id"`
	RecipientAccountNumber string `json:"recipient_account_number"`
	RecipientBankCode      string `json:"recipient_bank_code"`
	Rail                   string `json:"rail"`
	AmountMicros           int64  `json:"amount_micros"`
	Currency               string `json:"currency"`
	Description            string `json:"description"`
}

func (f Fingerprint) Hash() string {
	payload, _ := json.Marshal(f)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
