package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountStore is the ledger account data the operator endpoints need.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error)
}

// AccountService opens ledger accounts and reports their balances.
type AccountService struct {
	store AccountStore
}

func NewAccountService(store AccountStore) *AccountService {
	return &AccountService{store: store}
}

func (s *AccountService) GetBalance(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &account, nil
}

// CreateAccount opens an account with an opening balance.
func (s *AccountService) CreateAccount(ctx context.Context, opening domain.Money) (*models.Account, error) {
	currency := strings.ToUpper(strings.TrimSpace(opening.Currency))
	if !currencyPattern.MatchString(currency) {
		return nil, invalid("currency", "must be an ISO-4217 alphabetic code")
	}
	if opening.Amount < 0 {
		return nil, invalid("balance", "must not be negative")
	}
	account := &models.Account{
		ID:       uuid.New(),
		Currency: currency,
		Balance:  opening.Amount,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}
