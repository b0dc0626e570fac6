package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/google/uuid"
)

// AccountService opens and reads ledger accounts.
type AccountService interface {
	CreateAccount(ctx context.Context, opening domain.Money) (*models.Account, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
}

type AccountHandler struct {
	svc AccountService
}

func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

type balanceResponse struct {
	*models.Account
	Available int64 `json:"available_micros"`
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	account, err := h.svc.GetBalance(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, err, "get balance")
		return
	}
	RespondJSON(w, http.StatusOK, balanceResponse{Account: account, Available: account.Available()})
}

type createAccountRequest struct {
	Currency string `json:"currency" validate:"required,len=3"`
	Balance  string `json:"balance" validate:"omitempty,numeric"`
}

// CreateAccount handles POST /v1/accounts.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Balance == "" {
		req.Balance = "0"
	}
	opening, err := domain.ParseMoney(req.Balance, req.Currency)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", err.Error())
		return
	}

	account, err := h.svc.CreateAccount(r.Context(), opening)
	if err != nil {
		writeServiceError(w, r, err, "create account")
		return
	}
	RespondJSON(w, http.StatusCreated, account)
}
