package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// BreakerConfig tunes the circuit breaker in front of an HTTP rail.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	MinRequests         uint32
	FailureRatio        float64
}

// DefaultBreakerConfig opens after five straight failures or half of at
// least twenty requests failing.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		MinRequests:         20,
		FailureRatio:        0.5,
	}
}

// HTTPAdapter talks JSON to an external rail gateway.
type HTTPAdapter struct {
	rail    domain.Rail
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPAdapter(rail domain.Rail, baseURL string, client *http.Client, cfg BreakerConfig) *HTTPAdapter {
	if client == nil {
		client = &http.Client{}
	}
	settings := gobreaker.Settings{
		Name:        "rail-" + string(rail),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures ||
				(counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnknownReference)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.SetBreakerState(string(rail), int(to))
			zap.L().Warn("rail circuit breaker state changed",
				zap.String("rail", string(rail)),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &HTTPAdapter{
		rail:    rail,
		baseURL: baseURL,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

type initiateRequest struct {
	TransferID             string `json:"transfer_id"`
	Reference              string `json:"reference"`
	Amount                 string `json:"amount"`
	Currency               string `json:"currency"`
	RecipientAccountNumber string `json:"recipient_account_number"`
	RecipientBankCode      string `json:"recipient_bank_code"`
	Description            string `json:"description,omitempty"`
}

type railResponse struct {
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	Reason            string `json:"reason"`
}

// rejection is a definitive answer from the rail; it does not count against
// the breaker.
type rejection struct {
	result Result
}

func (a *HTTPAdapter) Initiate(ctx context.Context, d Details) (Result, error) {
	payload, err := json.Marshal(initiateRequest{
		TransferID:             d.TransferID.String(),
		Reference:              d.Reference,
		Amount:                 d.Amount.ToDecimal().String(),
		Currency:               d.Amount.Currency,
		RecipientAccountNumber: d.RecipientAccountNumber,
		RecipientBankCode:      d.RecipientBankCode,
		Description:            d.Description,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode rail request: %w", err)
	}

	return a.call(ctx, "initiate", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/transfers", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", d.TransferID.String())
		return req, nil
	})
}

func (a *HTTPAdapter) CheckStatus(ctx context.Context, externalRef string) (Result, error) {
	return a.call(ctx, "check_status", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/transfers/"+url.PathEscape(externalRef), nil)
	})
}

func (a *HTTPAdapter) call(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error)) (Result, error) {
	start := time.Now()
	out, err := a.breaker.Execute(func() (interface{}, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read rail response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return rejection{}, ErrUnknownReference
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("rail responded %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return rejection{result: Result{Status: StatusFailed, Reason: rejectionReason(resp.StatusCode, body)}}, nil
		}

		var parsed railResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode rail response: %w", err)
		}
		status, err := ParseStatus(parsed.Status)
		if err != nil {
			return nil, err
		}
		return Result{Status: status, ExternalReference: parsed.ExternalReference, Reason: parsed.Reason}, nil
	})

	result := "ok"
	defer func() {
		observability.ObserveRailCall(string(a.rail), op, result, time.Since(start))
	}()

	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownReference):
			result = "not_found"
			return Result{}, err
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			result = "breaker_open"
			return Result{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, a.rail, err)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			result = "timeout"
			return Result{}, err
		default:
			result = "error"
			return Result{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, a.rail, err)
		}
	}

	switch v := out.(type) {
	case rejection:
		result = "rejected"
		return v.result, nil
	case Result:
		return v, nil
	default:
		result = "error"
		return Result{}, fmt.Errorf("%w: %s: unexpected response", ErrUnavailable, a.rail)
	}
}

func rejectionReason(status int, body []byte) string {
	var parsed railResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Reason != "" {
		return parsed.Reason
	}
	return fmt.Sprintf("rail rejected request with status %d", status)
}
