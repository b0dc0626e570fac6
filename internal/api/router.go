package api

import (
	"net/http"

	"github.com/ayo6706/transfer-orchestrator/internal/api/handler"
	"github.com/ayo6706/transfer-orchestrator/internal/api/middleware"
	"github.com/ayo6706/transfer-orchestrator/internal/api/spec"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	Logger        *zap.Logger
	Auth          *middleware.Authenticator
	Transfers     handler.TransferService
	Accounts      handler.AccountService
	Webhooks      handler.WebhookService
	Health        *handler.HealthHandler
	PublicRateRPS int
	AuthRateRPS   int
}

type Router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.PublicRateRPS <= 0 {
		deps.PublicRateRPS = 10
	}
	if deps.AuthRateRPS <= 0 {
		deps.AuthRateRPS = 100
	}
	return &Router{deps: deps}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.deps.Logger))
	r.Use(middleware.LoggingMiddleware(api.deps.Logger))
	r.Use(middleware.MetricsMiddleware)

	transferHandler := handler.NewTransferHandler(api.deps.Transfers)
	accountHandler := handler.NewAccountHandler(api.deps.Accounts)
	webhookHandler := handler.NewWebhookHandler(api.deps.Webhooks)

	// Public Routes
	if api.deps.Health != nil {
		r.Get("/health/live", api.deps.Health.Live)
		r.Get("/health/ready", api.deps.Health.Ready)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.deps.PublicRateRPS))
		r.Post("/v1/webhooks/rails/{rail}", webhookHandler.HandleRailCallback)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(api.deps.Auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.deps.AuthRateRPS))

		r.Post("/v1/transfers", transferHandler.CreateTransfer)
		r.Get("/v1/transfers/{id}", transferHandler.GetTransfer)
		r.Get("/v1/transfers/reference/{reference}", transferHandler.GetTransferByReference)
		r.Get("/v1/accounts/{id}/transfers", transferHandler.ListAccountTransfers)
		r.Get("/v1/accounts/{id}/transfers/archived", transferHandler.ListArchivedTransfers)
		r.Get("/v1/accounts/{id}/balance", accountHandler.GetBalance)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Post("/v1/accounts", accountHandler.CreateAccount)
			r.Post("/v1/transfers/{id}/refresh", transferHandler.RefreshTransfer)
		})
	})

	return r
}
