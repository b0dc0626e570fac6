package rail

import (
	"net/http"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/ledger"
	"go.uber.org/zap"
)

// Endpoint is the gateway location of an external rail. An empty BaseURL
// selects the in-process simulator.
type Endpoint struct {
	BaseURL string
	Timeout time.Duration
}

// NewRegistry wires the internal rail to the ledger and each external rail
// to its gateway or simulator.
func NewRegistry(l ledger.Port, endpoints map[domain.Rail]Endpoint) Registry {
	registry := Registry{
		domain.RailInternal: NewInternalAdapter(l),
	}
	for _, r := range domain.Rails {
		if !r.IsExternal() {
			continue
		}
		endpoint := endpoints[r]
		if endpoint.BaseURL == "" {
			zap.L().Warn("rail has no gateway configured, using simulator", zap.String("rail", string(r)))
			registry[r] = NewSimulatedAdapter(r)
			continue
		}
		client := &http.Client{Timeout: endpoint.Timeout}
		registry[r] = NewHTTPAdapter(r, endpoint.BaseURL, client, DefaultBreakerConfig())
	}
	return registry
}
