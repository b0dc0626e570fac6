package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TransferService is the orchestrator surface used by the HTTP layer.
type TransferService interface {
	InitiateTransfer(ctx context.Context, req service.TransferRequest) (*service.InitiateResult, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	GetByReference(ctx context.Context, reference string) (*models.Transfer, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, direction string, limit, offset int) ([]models.Transfer, error)
	ListArchivedBySender(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.ArchivedTransfer, error)
	RefreshStatus(ctx context.Context, transferID uuid.UUID) (*models.Transfer, error)
}

type TransferHandler struct {
	svc TransferService
}

func NewTransferHandler(svc TransferService) *TransferHandler {
	return &TransferHandler{svc: svc}
}

type createTransferRequest struct {
	SenderAccountID        string `json:"sender_account_id" validate:"required,uuid"`
	RecipientAccountID     string `json:"recipient_account_id" validate:"omitempty,uuid"`
	RecipientAccountNumber string `json:"recipient_account_number" validate:"omitempty,max=34"`
	RecipientBankCode      string `json:"recipient_bank_code" validate:"omitempty,max=16"`
	Type                   string `json:"type" validate:"required"`
	Amount                 string `json:"amount" validate:"required,numeric"`
	Currency               string `json:"currency" validate:"required,len=3"`
	Description            string `json:"description" validate:"max=140"`
	Origin                 string `json:"origin" validate:"omitempty,oneof=DIRECT SCHEDULED SPLIT_BILL"`
	OriginID               string `json:"origin_id" validate:"omitempty,max=64"`
}

// TransferResponse is a transfer plus the failure code of a FAILED outcome.
type TransferResponse struct {
	*models.Transfer
	FailureCode string `json:"failure_code,omitempty"`
}

// CreateTransfer handles POST /v1/transfers. A replayed Idempotency-Key
// answers 200 with the original transfer; a new transfer answers 201 in
// whatever state the orchestration reached.
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if !decodeBody(w, r, &req) {
		return
	}

	amount, err := domain.ParseMoney(req.Amount, req.Currency)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", err.Error())
		return
	}
	sender := uuid.MustParse(req.SenderAccountID)
	var recipient *uuid.UUID
	if req.RecipientAccountID != "" {
		id := uuid.MustParse(req.RecipientAccountID)
		recipient = &id
	}

	res, err := h.svc.InitiateTransfer(r.Context(), service.TransferRequest{
		SenderAccountID:        sender,
		RecipientAccountID:     recipient,
		RecipientAccountNumber: req.RecipientAccountNumber,
		RecipientBankCode:      req.RecipientBankCode,
		Type:                   req.Type,
		Amount:                 amount,
		Description:            req.Description,
		IdempotencyKey:         strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Origin:                 req.Origin,
		OriginID:               req.OriginID,
	})
	if err != nil {
		writeServiceError(w, r, err, "initiate transfer")
		return
	}

	body := TransferResponse{Transfer: res.Transfer, FailureCode: failureCode(res.Failure)}
	if res.Replayed {
		w.Header().Set("X-Idempotent-Replay", "true")
		RespondJSON(w, http.StatusOK, body)
		return
	}
	w.Header().Set("Location", "/v1/transfers/"+res.Transfer.ID.String())
	RespondJSON(w, http.StatusCreated, body)
}

func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	t, err := h.svc.GetTransfer(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "get transfer")
		return
	}
	RespondJSON(w, http.StatusOK, t)
}

func (h *TransferHandler) GetTransferByReference(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetByReference(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeServiceError(w, r, err, "get transfer by reference")
		return
	}
	RespondJSON(w, http.StatusOK, t)
}

// ListAccountTransfers handles GET /v1/accounts/{id}/transfers.
func (h *TransferHandler) ListAccountTransfers(w http.ResponseWriter, r *http.Request) {
	accountID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	transfers, err := h.svc.ListByAccount(r.Context(), accountID, r.URL.Query().Get("direction"), limit, offset)
	if err != nil {
		writeServiceError(w, r, err, "list transfers")
		return
	}
	if transfers == nil {
		transfers = []models.Transfer{}
	}
	RespondJSON(w, http.StatusOK, transfers)
}

func (h *TransferHandler) ListArchivedTransfers(w http.ResponseWriter, r *http.Request) {
	accountID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	transfers, err := h.svc.ListArchivedBySender(r.Context(), accountID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err, "list archived transfers")
		return
	}
	if transfers == nil {
		transfers = []models.ArchivedTransfer{}
	}
	RespondJSON(w, http.StatusOK, transfers)
}

// RefreshTransfer handles POST /v1/transfers/{id}/refresh.
func (h *TransferHandler) RefreshTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	t, err := h.svc.RefreshStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "refresh transfer")
		return
	}
	RespondJSON(w, http.StatusOK, t)
}

func failureCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, service.ErrReservationFailed):
		return "reservation_failed"
	case errors.Is(err, service.ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(err, service.ErrRailTimeout):
		return "rail_timeout"
	case errors.Is(err, service.ErrRailUnavailable):
		return "rail_unavailable"
	case errors.Is(err, service.ErrRailRejected):
		return "rail_rejected"
	default:
		return "failed"
	}
}
