package routes

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/activity-sync/app"
	"github.com/upb/activity-sync/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if timeout := deps.Config.Server.RequestTimeout; timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(ledgerPool(deps), deps.Logger).
		WithStatus(deps.Config.Environment, deps.Metrics, deps.Subscriptions)
	webhooks := handlers.NewWebhookHandler(deps.Activity, deps.Logger)
	subscriptions := handlers.NewSubscriptionHandler(deps.Subscriptions, deps.Offers, deps.Catalog, deps.Logger)
	marketing := handlers.NewMarketingHandler(deps.Activity, deps.Leads, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	r.Get("/status", health.HandleStatus)

	// Identity webhooks and lead capture are unauthenticated
	r.Route("/marketing", func(r chi.Router) {
		r.Post("/webhook", webhooks.HandleWebhook)
		r.Post("/pictalk-webhook", webhooks.HandlePictalkWebhook)
		r.Post("/create-lead", marketing.HandleCreateLead)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/activity", marketing.HandleActivity)
		})
	})

	r.Route("/subscription", func(r chi.Router) {
		r.Get("/prices", subscriptions.HandlePrices)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireEmail)
			r.Get("/", subscriptions.HandleGetSubscription)
			r.Post("/plus", subscriptions.HandlePlusOffer)
		})
	})

	return r
}

// ledgerPool returns the ledger connection pool, or nil when deduplication is off
func ledgerPool(deps *app.Dependencies) *sql.DB {
	if deps.DB == nil {
		return nil
	}
	return deps.DB.DB
}
