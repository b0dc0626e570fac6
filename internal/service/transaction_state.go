package service

import (
	"github.com/ayo6706/transfer-orchestrator/internal/domain"
)

var transferTransitions = map[domain.TransferStatus]map[domain.TransferStatus]struct{}{
	domain.TransferStatusInitiated: {
		domain.TransferStatusProcessing: {},
		domain.TransferStatusFailed:     {},
	},
	domain.TransferStatusProcessing: {
		domain.TransferStatusPending:   {},
		domain.TransferStatusCompleted: {},
		domain.TransferStatusFailed:    {},
	},
	domain.TransferStatusPending: {
		domain.TransferStatusCompleted: {},
		domain.TransferStatusFailed:    {},
	},
	domain.TransferStatusCompleted: {},
	domain.TransferStatusFailed:    {},
}

func canTransition(current, next domain.TransferStatus) bool {
	nextStates, ok := transferTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}
