package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// WebhookService processes signed rail callbacks.
type WebhookService interface {
	HandleRailCallback(ctx context.Context, railName string, payload []byte, signature string) (*models.Transfer, error)
}

// WebhookHandler handles status callbacks posted by the rails.
type WebhookHandler struct {
	webhookSvc WebhookService
}

func NewWebhookHandler(webhookSvc WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// HandleRailCallback handles POST /v1/webhooks/rails/{rail}.
func (h *WebhookHandler) HandleRailCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	t, err := h.webhookSvc.HandleRailCallback(r.Context(), chi.URLParam(r, "rail"), body, r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		writeServiceError(w, r, err, "process rail callback")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{
		"transfer_id": t.ID.String(),
		"status":      string(t.Status),
	})
}
