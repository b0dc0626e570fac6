package models

import (
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/google/uuid"
)

type Account struct {
	ID           uuid.UUID `json:"id"`
	Currency     string    `json:"currency"`
	Balance      int64     `json:"balance"`
	LockedMicros int64     `json:"locked_micros"`
	CreatedAt    time.Time `json:"created_at"`
}

// Available is the balance not held by active reservations.
func (a Account) Available() int64 {
	return a.Balance - a.LockedMicros
}

// Transfer is the aggregate root of a single money movement.
type Transfer struct {
	ID                     uuid.UUID             `json:"id"`
	ReferenceNumber        string                `json:"reference_number"`
	SenderAccountID        uuid.UUID             `json:"sender_account_id"`
	RecipientAccountID     *uuid.UUID            `json:"recipient_account_id,omitempty"`
	RecipientAccountNumber *string               `json:"recipient_account_number,omitempty"`
	RecipientBankCode      *string               `json:"recipient_bank_code,omitempty"`
	Rail                   domain.Rail           `json:"rail"`
	AmountMicros           int64                 `json:"amount_micros"`
	Currency               string                `json:"currency"`
	Description            string                `json:"description"`
	IdempotencyKey         *string               `json:"idempotency_key,omitempty"`
	Status                 domain.TransferStatus `json:"status"`
	FailureReason          *string               `json:"failure_reason,omitempty"`
	ExternalReference      *string               `json:"external_reference,omitempty"`
	Origin                 string                `json:"origin"`
	OriginID               *string               `json:"origin_id,omitempty"`
	CreatedAt              time.Time             `json:"created_at"`
	UpdatedAt              time.Time             `json:"updated_at"`
	CompletedAt            *time.Time            `json:"completed_at,omitempty"`
}

// Amount returns the transfer amount as Money.
func (t *Transfer) Amount() domain.Money {
	return domain.NewMoney(t.AmountMicros, t.Currency)
}

// ArchivedTransfer is a terminal transfer moved out of the hot partitions.
type ArchivedTransfer struct {
	Transfer
	ArchivedBatchID int64     `json:"archived_batch_id"`
	ArchivedAt      time.Time `json:"archived_at"`
}

// Reservation is a hold placed on a sender balance by the ledger.
type Reservation struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	RefID     string    `json:"ref_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransferStatusChange is one persisted lifecycle transition.
type TransferStatusChange struct {
	TransferID        uuid.UUID
	SenderAccountID   uuid.UUID
	From              domain.TransferStatus
	To                domain.TransferStatus
	FailureReason     *string
	ExternalReference *string
	At                time.Time
}
