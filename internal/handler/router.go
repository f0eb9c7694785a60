package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/subscription-engine/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware движка подписок.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.RequestLogger(h.logger, h.observer))

	r.Get("/healthz", h.Health)
	if h.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", h.CreateUser)

		r.Group(func(r chi.Router) {
			r.Use(h.identity.Middleware)

			r.Delete("/users/{id}", h.DeleteUser)
			r.Put("/users/me/payout", h.SetPayoutAccount)

			r.Get("/wallet", h.GetWallet)
			r.Get("/wallet/reconcile", h.Reconcile)
			r.Post("/wallet/purchases", h.Purchase)
			r.Post("/wallet/withdrawals", h.Withdraw)

			r.Get("/tiers/{creatorID}", h.ListTiers)
			r.Post("/tiers", h.CreateTier)
			r.Delete("/tiers/{id}", h.DeleteTier)

			r.Post("/subscriptions", h.Subscribe)
			r.Get("/subscriptions", h.ListSubscriptions)
			r.Get("/subscriptions/{id}", h.GetSubscription)
			r.Post("/subscriptions/{id}/extend", h.Extend)
			r.Post("/subscriptions/{id}/cancel", h.Cancel)

			r.Get("/ledger", h.GetLedger)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
