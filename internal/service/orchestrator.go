package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/events"
	"github.com/ayo6706/transfer-orchestrator/internal/idempotency"
	"github.com/ayo6706/transfer-orchestrator/internal/ledger"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/ayo6706/transfer-orchestrator/internal/rail"
	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxDescriptionLength = 140
	maxIdempotencyKey    = 128
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// TransferConfig bounds requests and rail calls.
type TransferConfig struct {
	MinAmountMicros int64
	MaxAmountMicros int64
	RailTimeout     time.Duration
	RailTimeouts    map[domain.Rail]time.Duration
}

// TransferRequest is a money movement asked for by a customer, a scheduled
// transfer or a split bill.
type TransferRequest struct {
	SenderAccountID        uuid.UUID
	RecipientAccountID     *uuid.UUID
	RecipientAccountNumber string
	RecipientBankCode      string
	Type                   string
	Amount                 domain.Money
	Description            string
	IdempotencyKey         string
	Origin                 string
	OriginID               string
}

// InitiateResult is the outcome of InitiateTransfer. Failure is set when the
// transfer ended FAILED and wraps one of the Err* failure causes.
type InitiateResult struct {
	Transfer *models.Transfer
	Replayed bool
	Failure  error
}

// TransferService drives a transfer from admission to a terminal state.
type TransferService struct {
	store     TransferStore
	guard     *idempotency.Guard
	ledger    ledger.Port
	rails     rail.Registry
	publisher events.Publisher
	cfg       TransferConfig
	now       func() time.Time
}

func NewTransferService(store TransferStore, guard *idempotency.Guard, l ledger.Port, rails rail.Registry, publisher events.Publisher, cfg TransferConfig) *TransferService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &TransferService{
		store:     store,
		guard:     guard,
		ledger:    l,
		rails:     rails,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitiateTransfer validates, admits and executes a transfer. A replayed
// idempotency key returns the stored transfer without side effects. The
// error return is reserved for invalid requests and infrastructure faults;
// business failures come back as a FAILED transfer with Failure set.
func (s *TransferService) InitiateTransfer(ctx context.Context, req TransferRequest) (*InitiateResult, error) {
	railType, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	candidate := &models.Transfer{
		ID:                     uuid.New(),
		ReferenceNumber:        NewReferenceNumber(now),
		SenderAccountID:        req.SenderAccountID,
		RecipientAccountID:     req.RecipientAccountID,
		RecipientAccountNumber: stringPtr(req.RecipientAccountNumber),
		RecipientBankCode:      stringPtr(req.RecipientBankCode),
		Rail:                   railType,
		AmountMicros:           req.Amount.Amount,
		Currency:               req.Amount.Currency,
		Description:            req.Description,
		IdempotencyKey:         stringPtr(req.IdempotencyKey),
		Status:                 domain.TransferStatusInitiated,
		Origin:                 req.Origin,
		OriginID:               stringPtr(req.OriginID),
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	admission, err := s.guard.Admit(ctx, candidate, fingerprint(req, railType))
	if err != nil {
		return nil, err
	}
	if !admission.IsNew {
		return &InitiateResult{Transfer: admission.Transfer, Replayed: true}, nil
	}

	t := admission.Transfer
	observability.IncrementTransferOutcome(string(t.Rail), string(t.Status))
	s.publish(ctx, domain.EventTransactionInitiated, t)

	// The request context may go away once the transfer is admitted; the
	// remaining steps must still reach a consistent state.
	return s.execute(context.WithoutCancel(ctx), t)
}

func (s *TransferService) execute(ctx context.Context, t *models.Transfer) (*InitiateResult, error) {
	log := transferLogger(t)

	log.Debug("transfer phase", zap.String("phase", string(domain.PhaseReserving)))
	res, err := s.ledger.Reserve(ctx, t.SenderAccountID, t.Amount(), t.ID.String())
	if err != nil {
		log.Error("ledger reserve failed", zap.Error(err))
		if ferr := s.fail(ctx, t, domain.FailureLedgerUnavailable, "ledger_unavailable"); ferr != nil {
			return nil, ferr
		}
		return &InitiateResult{Transfer: t, Failure: fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)}, nil
	}
	if res.Status != domain.ReservationStatusReserved {
		log.Info("reservation rejected", zap.String("reason", res.Reason))
		if ferr := s.fail(ctx, t, domain.FailureReservationFailed, "reservation_rejected"); ferr != nil {
			return nil, ferr
		}
		return &InitiateResult{Transfer: t, Failure: fmt.Errorf("%w: %s", ErrReservationFailed, res.Reason)}, nil
	}
	s.publish(ctx, domain.EventReservationCreated, t)

	log.Debug("transfer phase", zap.String("phase", string(domain.PhaseRouting)))
	if err := s.transition(ctx, t, domain.TransferStatusProcessing, nil, nil, "routing"); err != nil {
		if rerr := s.release(ctx, t); rerr != nil {
			log.Error("release after failed routing transition", zap.Error(rerr))
		}
		return nil, fmt.Errorf("mark transfer processing: %w", err)
	}

	result, callErr := s.dispatch(ctx, t)
	if callErr != nil {
		cause := ErrRailUnavailable
		if errors.Is(callErr, context.DeadlineExceeded) {
			cause = ErrRailTimeout
		}
		log.Warn("rail call failed", zap.Error(callErr))
		if err := s.releaseAndFail(ctx, t, domain.FailureGatewayTimeout, "rail_timeout"); err != nil {
			return nil, err
		}
		return &InitiateResult{Transfer: t, Failure: fmt.Errorf("%w: %v", cause, callErr)}, nil
	}

	switch result.Status {
	case rail.StatusCompleted:
		if err := s.complete(ctx, t, result.ExternalReference); err != nil {
			return nil, err
		}
		return &InitiateResult{Transfer: t}, nil
	case rail.StatusFailed:
		reason := result.Reason
		if reason == "" {
			reason = "rejected by rail"
		}
		if err := s.releaseAndFail(ctx, t, reason, "rail_rejected"); err != nil {
			return nil, err
		}
		return &InitiateResult{Transfer: t, Failure: fmt.Errorf("%w: %s", ErrRailRejected, reason)}, nil
	default:
		ref := result.ExternalReference
		if ref == "" {
			ref = t.ReferenceNumber
		}
		if err := s.transition(ctx, t, domain.TransferStatusPending, nil, &ref, "rail_accepted"); err != nil {
			return nil, fmt.Errorf("mark transfer pending: %w", err)
		}
		return &InitiateResult{Transfer: t}, nil
	}
}

func (s *TransferService) dispatch(ctx context.Context, t *models.Transfer) (rail.Result, error) {
	adapter, err := s.rails.Lookup(t.Rail)
	if err != nil {
		return rail.Result{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.railTimeout(t.Rail))
	defer cancel()

	start := time.Now()
	result, err := adapter.Initiate(callCtx, rail.Details{
		TransferID:             t.ID,
		Reference:              t.ReferenceNumber,
		SenderAccountID:        t.SenderAccountID,
		RecipientAccountID:     t.RecipientAccountID,
		RecipientAccountNumber: deref(t.RecipientAccountNumber),
		RecipientBankCode:      deref(t.RecipientBankCode),
		Amount:                 t.Amount(),
		Description:            t.Description,
	})
	// A late answer from an external rail counts as a timeout. The internal
	// rail has already credited the recipient, so its answer stands.
	if err == nil && callCtx.Err() != nil && t.Rail.IsExternal() {
		err = callCtx.Err()
	}
	transferLogger(t).Debug("rail dispatched",
		zap.Duration("elapsed", time.Since(start)),
		zap.String("rail_status", string(result.Status)),
		zap.Error(err),
	)
	return result, err
}

// complete commits the hold and marks the transfer COMPLETED. When the
// commit cannot be recorded the transfer is parked in PENDING with the
// external reference so the status poller retries the commit.
func (s *TransferService) complete(ctx context.Context, t *models.Transfer, externalRef string) error {
	log := transferLogger(t)
	log.Debug("transfer phase", zap.String("phase", string(domain.PhaseCompleting)))

	if externalRef == "" {
		externalRef = deref(t.ExternalReference)
	}
	if err := s.ledger.Commit(ctx, t.SenderAccountID, t.ID.String(), t.Amount()); err != nil {
		log.Error("rail completed but ledger commit failed", zap.Error(err), zap.String("external_reference", externalRef))
		if t.Status == domain.TransferStatusProcessing {
			ref := externalRef
			if ref == "" {
				ref = t.ReferenceNumber
			}
			if terr := s.transition(ctx, t, domain.TransferStatusPending, nil, &ref, "commit_deferred"); terr != nil {
				return fmt.Errorf("park transfer after commit failure: %w", terr)
			}
			return nil
		}
		return fmt.Errorf("commit reservation: %w", err)
	}

	var ref *string
	if externalRef != "" {
		ref = &externalRef
	}
	if err := s.transition(ctx, t, domain.TransferStatusCompleted, nil, ref, "completed"); err != nil {
		return fmt.Errorf("mark transfer completed: %w", err)
	}
	log.Info("transfer completed")
	return nil
}

func (s *TransferService) releaseAndFail(ctx context.Context, t *models.Transfer, reason, action string) error {
	transferLogger(t).Debug("transfer phase", zap.String("phase", string(domain.PhaseReleasing)))
	if err := s.release(ctx, t); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return s.fail(ctx, t, reason, action)
}

func (s *TransferService) release(ctx context.Context, t *models.Transfer) error {
	if err := s.ledger.Release(ctx, t.SenderAccountID, t.ID.String(), t.Amount()); err != nil {
		return err
	}
	s.publish(ctx, domain.EventReservationReleased, t)
	return nil
}

func (s *TransferService) fail(ctx context.Context, t *models.Transfer, reason, action string) error {
	if err := s.transition(ctx, t, domain.TransferStatusFailed, &reason, nil, action); err != nil {
		return fmt.Errorf("mark transfer failed: %w", err)
	}
	transferLogger(t).Info("transfer failed", zap.String("reason", reason))
	return nil
}

// transition persists a guarded status change and mirrors it onto t.
func (s *TransferService) transition(ctx context.Context, t *models.Transfer, next domain.TransferStatus, reason, externalRef *string, action string) error {
	if !canTransition(t.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	now := s.now()
	change := models.TransferStatusChange{
		TransferID:        t.ID,
		SenderAccountID:   t.SenderAccountID,
		From:              t.Status,
		To:                next,
		FailureReason:     reason,
		ExternalReference: externalRef,
		At:                now,
	}
	if err := s.store.Transition(ctx, change, action); err != nil {
		return err
	}

	t.Status = next
	t.UpdatedAt = now
	if reason != nil {
		t.FailureReason = reason
	}
	if externalRef != nil {
		t.ExternalReference = externalRef
	}
	if next.IsTerminal() {
		t.CompletedAt = &now
	}

	observability.IncrementTransferOutcome(string(t.Rail), string(next))
	if next != domain.TransferStatusProcessing {
		s.publish(ctx, events.TypeForStatus(next), t)
	}
	return nil
}

// RefreshStatus asks the rail about a PENDING transfer and settles it when
// the rail reports a final outcome. Transfers in any other status are
// returned unchanged.
func (s *TransferService) RefreshStatus(ctx context.Context, transferID uuid.UUID) (*models.Transfer, error) {
	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TransferStatusPending {
		return t, nil
	}
	if err := s.refresh(context.WithoutCancel(ctx), t); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			return s.store.GetTransfer(ctx, transferID)
		}
		return nil, err
	}
	return t, nil
}

func (s *TransferService) refresh(ctx context.Context, t *models.Transfer) error {
	log := transferLogger(t)
	adapter, err := s.rails.Lookup(t.Rail)
	if err != nil {
		return err
	}
	ref := deref(t.ExternalReference)
	if ref == "" {
		ref = t.ReferenceNumber
	}

	callCtx, cancel := context.WithTimeout(ctx, s.railTimeout(t.Rail))
	result, err := adapter.CheckStatus(callCtx, ref)
	cancel()
	if err != nil {
		log.Warn("rail status check failed; transfer stays pending", zap.Error(err))
		s.postpone(ctx, t)
		return nil
	}

	var settleErr error
	switch result.Status {
	case rail.StatusCompleted:
		settleErr = s.complete(ctx, t, ref)
	case rail.StatusFailed:
		reason := result.Reason
		if reason == "" {
			reason = "rejected by rail"
		}
		settleErr = s.releaseAndFail(ctx, t, reason, "rail_failed")
	default:
		return s.store.Touch(ctx, t, s.now())
	}
	if settleErr != nil && t.Status == domain.TransferStatusPending && !errors.Is(settleErr, repository.ErrStaleTransition) {
		s.postpone(ctx, t)
	}
	return settleErr
}

// postpone moves a PENDING transfer that could not be settled to the back
// of the poll queue.
func (s *TransferService) postpone(ctx context.Context, t *models.Transfer) {
	at := s.now()
	if err := s.store.Touch(ctx, t, at); err != nil {
		if !errors.Is(err, repository.ErrStaleTransition) {
			transferLogger(t).Warn("postpone pending transfer", zap.Error(err))
		}
		return
	}
	t.UpdatedAt = at
}

// PollPending refreshes up to limit PENDING transfers, least recently
// checked first. It returns the number of transfers that reached a
// terminal state.
func (s *TransferService) PollPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ListByStatus(ctx, []domain.TransferStatus{domain.TransferStatusPending}, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("load pending transfers: %w", err)
	}

	settled := 0
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		t := &pending[i]
		if err := s.refresh(ctx, t); err != nil {
			if errors.Is(err, repository.ErrStaleTransition) {
				continue
			}
			transferLogger(t).Error("refresh pending transfer", zap.Error(err))
			continue
		}
		if t.Status.IsTerminal() {
			settled++
		}
	}
	return settled, nil
}

// RecoverStale fails transfers abandoned mid-flight, for example by a
// process crash between admission and the rail answer. Transfers that
// never reached a rail are released and FAILED as interrupted; transfers
// that were routing are treated as a rail timeout.
func (s *TransferService) RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.store.ListByStatus(ctx, []domain.TransferStatus{domain.TransferStatusInitiated, domain.TransferStatusProcessing}, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("load stale transfers: %w", err)
	}

	recovered := 0
	for i := range stale {
		t := &stale[i]
		if t.ExternalReference != nil {
			continue
		}
		reason := domain.FailureInterrupted
		if t.Status == domain.TransferStatusProcessing {
			reason = domain.FailureGatewayTimeout
		}
		if err := s.releaseAndFail(ctx, t, reason, "recovered_stale"); err != nil {
			if !errors.Is(err, repository.ErrStaleTransition) {
				transferLogger(t).Error("recover stale transfer", zap.Error(err))
			}
			continue
		}
		recovered++
	}
	if recovered > 0 {
		zap.L().Warn("recovered stale transfers", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (s *TransferService) railTimeout(r domain.Rail) time.Duration {
	if d, ok := s.cfg.RailTimeouts[r]; ok && d > 0 {
		return d
	}
	if s.cfg.RailTimeout > 0 {
		return s.cfg.RailTimeout
	}
	return 10 * time.Second
}

func (s *TransferService) publish(ctx context.Context, eventType string, t *models.Transfer) {
	err := s.publisher.Publish(ctx, eventType, events.NewTransferPayload(t))
	if err != nil {
		observability.IncrementEventPublish(eventType, "error")
		transferLogger(t).Warn("event publish failed", zap.String("event", eventType), zap.Error(err))
		return
	}
	observability.IncrementEventPublish(eventType, "ok")
}

func (s *TransferService) validate(req *TransferRequest) (domain.Rail, error) {
	if req.SenderAccountID == uuid.Nil {
		return "", invalid("sender_account_id", "is required")
	}
	if req.Amount.Amount <= 0 {
		return "", invalid("amount", "must be greater than zero")
	}
	if req.Amount.Amount < s.cfg.MinAmountMicros {
		return "", invalid("amount", "must be at least %s", domain.NewMoney(s.cfg.MinAmountMicros, req.Amount.Currency))
	}
	if s.cfg.MaxAmountMicros > 0 && req.Amount.Amount > s.cfg.MaxAmountMicros {
		return "", invalid("amount", "must not exceed %s", domain.NewMoney(s.cfg.MaxAmountMicros, req.Amount.Currency))
	}
	req.Amount.Currency = strings.ToUpper(strings.TrimSpace(req.Amount.Currency))
	if !currencyPattern.MatchString(req.Amount.Currency) {
		return "", invalid("currency", "must be an ISO-4217 alphabetic code")
	}

	railType, err := domain.ParseRail(req.Type)
	if err != nil {
		return "", invalid("type", "%v", err)
	}
	if _, err := s.rails.Lookup(railType); err != nil {
		return "", invalid("type", "rail %s is not available", railType)
	}

	req.RecipientAccountNumber = strings.TrimSpace(req.RecipientAccountNumber)
	req.RecipientBankCode = strings.TrimSpace(req.RecipientBankCode)
	if railType == domain.RailInternal {
		if req.RecipientAccountID == nil || *req.RecipientAccountID == uuid.Nil {
			return "", invalid("recipient_account_id", "is required for internal transfers")
		}
		if *req.RecipientAccountID == req.SenderAccountID {
			return "", invalid("recipient_account_id", "must differ from the sender")
		}
	} else {
		if req.RecipientAccountNumber == "" {
			return "", invalid("recipient_account_number", "is required for %s", railType)
		}
		if req.RecipientBankCode == "" {
			return "", invalid("recipient_bank_code", "is required for %s", railType)
		}
	}

	if len(req.Description) > maxDescriptionLength {
		return "", invalid("description", "must be at most %d characters", maxDescriptionLength)
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if len(req.IdempotencyKey) > maxIdempotencyKey {
		return "", invalid("idempotency_key", "must be at most %d characters", maxIdempotencyKey)
	}

	switch req.Origin {
	case "":
		req.Origin = domain.OriginDirect
	case domain.OriginDirect, domain.OriginScheduled, domain.OriginSplitBill:
	default:
		return "", invalid("origin", "unsupported origin %q", req.Origin)
	}
	return railType, nil
}

func fingerprint(req TransferRequest, railType domain.Rail) string {
	f := idempotency.Fingerprint{
		SenderAccountID:        req.SenderAccountID.String(),
		RecipientAccountNumber: req.RecipientAccountNumber,
		RecipientBankCode:      req.RecipientBankCode,
		Rail:                   string(railType),
		AmountMicros:           req.Amount.Amount,
		Currency:               req.Amount.Currency,
		Description:            req.Description,
	}
	if req.RecipientAccountID != nil {
		f.RecipientAccountID = req.RecipientAccountID.String()
	}
	return f.Hash()
}

func transferLogger(t *models.Transfer) *zap.Logger {
	return zap.L().With(
		zap.String("transfer_id", t.ID.String()),
		zap.String("reference", t.ReferenceNumber),
		zap.String("rail", string(t.Rail)),
	)
}
