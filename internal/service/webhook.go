package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrRailMismatch     = errors.New("callback rail does not match transfer rail")
)

// StatusRefresher settles a transfer against its rail.
type StatusRefresher interface {
	GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	GetByReference(ctx context.Context, reference string) (*models.Transfer, error)
	RefreshStatus(ctx context.Context, transferID uuid.UUID) (*models.Transfer, error)
}

// RailWebhookService turns signed rail callbacks into status refreshes. The
// callback only identifies the transfer; the outcome is always read back
// from the rail itself.
type RailWebhookService struct {
	transfers StatusRefresher
	hmacKey   []byte
	skipSig   bool
}

func NewRailWebhookService(transfers StatusRefresher, hmacKey string, skipSignature bool) *RailWebhookService {
	return &RailWebhookService{
		transfers: transfers,
		hmacKey:   []byte(hmacKey),
		skipSig:   skipSignature,
	}
}

// RailCallbackPayload is the body a rail posts when a movement settles.
type RailCallbackPayload struct {
	TransferID        string `json:"transfer_id"`
	Reference         string `json:"reference"`
	ExternalReference string `json:"external_reference"`
	Status            string `json:"status"`
}

// HandleRailCallback verifies the signature, resolves the transfer and
// refreshes its status.
func (s *RailWebhookService) HandleRailCallback(ctx context.Context, railName string, payload []byte, signature string) (*models.Transfer, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	railType, err := domain.ParseRail(railName)
	if err != nil {
		return nil, invalid("rail", "%v", err)
	}

	var cb RailCallbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, invalid("body", "invalid payload: %v", err)
	}

	t, err := s.resolve(ctx, cb)
	if err != nil {
		return nil, err
	}
	if t.Rail != railType {
		return nil, fmt.Errorf("%w: %s != %s", ErrRailMismatch, railType, t.Rail)
	}

	zap.L().Info("rail callback received",
		zap.String("transfer_id", t.ID.String()),
		zap.String("rail", string(railType)),
		zap.String("reported_status", cb.Status),
	)
	return s.transfers.RefreshStatus(ctx, t.ID)
}

func (s *RailWebhookService) resolve(ctx context.Context, cb RailCallbackPayload) (*models.Transfer, error) {
	if raw := strings.TrimSpace(cb.TransferID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, invalid("transfer_id", "must be a UUID")
		}
		return s.transfers.GetTransfer(ctx, id)
	}
	if ref := strings.TrimSpace(cb.Reference); ref != "" {
		return s.transfers.GetByReference(ctx, ref)
	}
	return nil, invalid("transfer_id", "transfer_id or reference is required")
}

func (s *RailWebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedSig))
}
