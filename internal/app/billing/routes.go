package billing

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/escrow-billing/internal/http/handlers/health"
	plancreate "github.com/magabrotheeeer/escrow-billing/internal/http/handlers/plan/create"
	"github.com/magabrotheeeer/escrow-billing/internal/http/handlers/plan/deactivate"
	planread "github.com/magabrotheeeer/escrow-billing/internal/http/handlers/plan/read"
	registryread "github.com/magabrotheeeer/escrow-billing/internal/http/handlers/registry/read"
	"github.com/magabrotheeeer/escrow-billing/internal/http/handlers/subscription/cancel"
	subcreate "github.com/magabrotheeeer/escrow-billing/internal/http/handlers/subscription/create"
	"github.com/magabrotheeeer/escrow-billing/internal/http/handlers/subscription/list"
	subread "github.com/magabrotheeeer/escrow-billing/internal/http/handlers/subscription/read"
	"github.com/magabrotheeeer/escrow-billing/internal/http/handlers/vault/deposit"
	"github.com/magabrotheeeer/escrow-billing/internal/http/handlers/vault/fund"
	vaultread "github.com/magabrotheeeer/escrow-billing/internal/http/handlers/vault/read"
	"github.com/magabrotheeeer/escrow-billing/internal/http/handlers/vault/remove"
	"github.com/magabrotheeeer/escrow-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/escrow-billing/internal/metrics"
	billingservice "github.com/magabrotheeeer/escrow-billing/internal/services/billing"
)

// Deps зависимости HTTP-маршрутов.
type Deps struct {
	Logger  *slog.Logger
	Engine  *billingservice.Engine
	Tokens  middlewarectx.TokenParser
	Limiter *middlewarectx.RateLimiter
	Metrics *metrics.Metrics
	Checks  map[string]health.Check
	// Faucet включает пополнение кошельков из воздуха (только local).
	Faucet bool
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, d Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		d.Metrics.Middleware,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/registry", registryread.New(d.Logger, d.Engine).ServeHTTP)
		r.Get("/plans/{address}", planread.New(d.Logger, d.Engine).ServeHTTP)
		r.Get("/subscriptions/{address}", subread.New(d.Logger, d.Engine).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Tokens, d.Logger))
			r.Use(middlewarectx.RateLimitMiddleware(d.Limiter, d.Logger))

			r.Post("/plans", plancreate.New(d.Logger, d.Engine).ServeHTTP)
			r.Post("/plans/{address}/deactivate", deactivate.New(d.Logger, d.Engine).ServeHTTP)

			r.Post("/subscriptions", subcreate.New(d.Logger, d.Engine).ServeHTTP)
			r.Get("/subscriptions", list.New(d.Logger, d.Engine).ServeHTTP)
			r.Delete("/subscriptions/{address}", cancel.New(d.Logger, d.Engine).ServeHTTP)

			r.Post("/vault/deposit", deposit.New(d.Logger, d.Engine).ServeHTTP)
			r.Get("/vault", vaultread.New(d.Logger, d.Engine).ServeHTTP)
			r.Delete("/vault/{address}", remove.New(d.Logger, d.Engine).ServeHTTP)

			if d.Faucet {
				r.Post("/wallet/fund", fund.New(d.Logger, d.Engine).ServeHTTP)
			}
		})
	})

	r.Get("/health", health.New(d.Logger, d.Checks).ServeHTTP)
	r.Handle("/metrics", d.Metrics.Handler())
}
