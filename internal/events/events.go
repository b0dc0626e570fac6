// Package events publishes transfer lifecycle events to the message bus.
package events

import (
	"context"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
)

// Event is the envelope written to every bus.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Publisher writes events to a bus. Callers treat delivery as best effort.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
	Close() error
}

// TransferPayload is the data of every transaction.* and reservation.* event.
type TransferPayload struct {
	TransferID         string  `json:"transfer_id"`
	ReferenceNumber    string  `json:"reference_number"`
	SenderAccountID    string  `json:"sender_account_id"`
	RecipientAccountID *string `json:"recipient_account_id,omitempty"`
	Rail               string  `json:"rail"`
	Amount             string  `json:"amount"`
	AmountMicros       int64   `json:"amount_micros"`
	Currency           string  `json:"currency"`
	Status             string  `json:"status"`
	FailureReason      *string `json:"failure_reason,omitempty"`
	ExternalReference  *string `json:"external_reference,omitempty"`
	Origin             string  `json:"origin,omitempty"`
	OriginID           *string `json:"origin_id,omitempty"`
	Timestamp          string  `json:"timestamp"`
}

func NewTransferPayload(t *models.Transfer) TransferPayload {
	p := TransferPayload{
		TransferID:        t.ID.String(),
		ReferenceNumber:   t.ReferenceNumber,
		SenderAccountID:   t.SenderAccountID.String(),
		Rail:              string(t.Rail),
		Amount:            t.Amount().ToDecimal().StringFixed(2),
		AmountMicros:      t.AmountMicros,
		Currency:          t.Currency,
		Status:            string(t.Status),
		FailureReason:     t.FailureReason,
		ExternalReference: t.ExternalReference,
		Origin:            t.Origin,
		OriginID:          t.OriginID,
		Timestamp:         t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.RecipientAccountID != nil {
		id := t.RecipientAccountID.String()
		p.RecipientAccountID = &id
	}
	return p
}

// TypeForStatus maps a persisted status onto its transaction event.
func TypeForStatus(status domain.TransferStatus) string {
	switch status {
	case domain.TransferStatusPending:
		return domain.EventTransactionPending
	case domain.TransferStatusCompleted:
		return domain.EventTransactionCompleted
	case domain.TransferStatusFailed:
		return domain.EventTransactionFailed
	default:
		return domain.EventTransactionInitiated
	}
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

func (NopPublisher) Close() error { return nil }

func newEvent(eventType string, data any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
