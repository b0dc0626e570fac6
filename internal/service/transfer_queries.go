package service

import (
	"context"
	"strings"

	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/google/uuid"
)

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"

	defaultPageSize = 20
	maxPageSize     = 100
)

func (s *TransferService) GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	return s.store.GetTransfer(ctx, id)
}

func (s *TransferService) GetByReference(ctx context.Context, reference string) (*models.Transfer, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, invalid("reference", "is required")
	}
	return s.store.GetTransferByReference(ctx, reference)
}

// ListByAccount lists the hot transfers an account sent or received, newest
// first. Received listings span every partition.
func (s *TransferService) ListByAccount(ctx context.Context, accountID uuid.UUID, direction string, limit, offset int) ([]models.Transfer, error) {
	limit, offset = page(limit, offset)
	switch strings.ToLower(direction) {
	case "", DirectionSent:
		return s.store.ListBySender(ctx, accountID, limit, offset)
	case DirectionReceived:
		return s.store.ListByRecipient(ctx, accountID, limit, offset)
	default:
		return nil, invalid("direction", "must be %q or %q", DirectionSent, DirectionReceived)
	}
}

func (s *TransferService) ListArchivedBySender(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.ArchivedTransfer, error) {
	limit, offset = page(limit, offset)
	return s.store.ListArchivedBySender(ctx, accountID, limit, offset)
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
