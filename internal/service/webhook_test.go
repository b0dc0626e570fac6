package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/rail"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sign(key string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func TestRailCallbackSettlesPendingTransfer(t *testing.T) {
	h := newHarness(t)
	sender := uuid.New()
	tr := pendingTransfer(sender, domain.RailB, "B-5", time.Now().Add(-time.Minute))
	h.store.put(tr)

	h.rails[domain.RailB].On("CheckStatus", mock.Anything, "B-5").
		Return(rail.Result{Status: rail.StatusCompleted, ExternalReference: "B-5"}, nil).Once()
	h.ledger.On("Commit", mock.Anything, sender, tr.ID.String(), tr.Amount()).Return(nil).Once()

	svc := NewRailWebhookService(h.svc, "secret", false)
	payload := []byte(fmt.Sprintf(`{"transfer_id":%q,"status":"COMPLETED"}`, tr.ID))

	got, err := svc.HandleRailCallback(context.Background(), "RAIL_B", payload, sign("secret", payload))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCompleted, got.Status)
	h.ledger.AssertExpectations(t)
}

func TestRailCallbackByReference(t *testing.T) {
	h := newHarness(t)
	tr := pendingTransfer(uuid.New(), domain.RailC, "C-1", time.Now().Add(-time.Minute))
	h.store.put(tr)
	h.rails[domain.RailC].On("CheckStatus", mock.Anything, "C-1").Return(rail.Result{Status: rail.StatusAccepted}, nil).Once()

	svc := NewRailWebhookService(h.svc, "", true)
	payload := []byte(fmt.Sprintf(`{"reference":%q}`, tr.ReferenceNumber))
	got, err := svc.HandleRailCallback(context.Background(), "QR", payload, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusPending, got.Status)
}

func TestRailCallbackRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	svc := NewRailWebhookService(h.svc, "secret", false)
	payload := []byte(`{"transfer_id":"x"}`)

	_, err := svc.HandleRailCallback(context.Background(), "RAIL_A", payload, sign("other", payload))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = NewRailWebhookService(h.svc, "", false).HandleRailCallback(context.Background(), "RAIL_A", payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestRailCallbackRejectsWrongRail(t *testing.T) {
	h := newHarness(t)
	tr := pendingTransfer(uuid.New(), domain.RailB, "B-6", time.Now())
	h.store.put(tr)

	svc := NewRailWebhookService(h.svc, "", true)
	payload := []byte(fmt.Sprintf(`{"transfer_id":%q}`, tr.ID))
	_, err := svc.HandleRailCallback(context.Background(), "RAIL_A", payload, "")
	assert.ErrorIs(t, err, ErrRailMismatch)
	h.rails[domain.RailB].AssertNotCalled(t, "CheckStatus", mock.Anything, mock.Anything)
}

func TestRailCallbackValidatesPayload(t *testing.T) {
	h := newHarness(t)
	svc := NewRailWebhookService(h.svc, "", true)

	for _, body := range []string{`not json`, `{}`, `{"transfer_id":"nope"}`} {
		_, err := svc.HandleRailCallback(context.Background(), "RAIL_A", []byte(body), "")
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, body)
	}
}
