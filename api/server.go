/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/groups/{groupID}/*   Expenses, settlements, balances, audit, activity
  /api/expenses/{id}        Expense records
  /api/settlements/{id}     Settlement records
  /api/users/{userID}/*     Cross-group summaries
  /api/admin/reconciliation Background audit replay (optional)
  /api/scenarios            Demo seed data (optional)
  /metrics                  Prometheus (when a Gatherer is configured)
  /healthz                  Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAllowedOrigins is used when NewRouter gets no origins.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/groups/{groupID}", func(r chi.Router) {
			r.Post("/expenses", h.CreateExpense)
			r.Post("/settlements", h.CreateSettlement)
			r.Get("/balances", h.GetGroupBalances)
			r.Get("/balances/{a}/{b}", h.GetPairBalance)
			r.Get("/suggestions", h.GetSuggestions)
			r.Get("/audit", h.GetAuditTrail)
			r.Get("/activity", h.GetActivity)
			r.Get("/reconcile", h.Reconcile)
			if h.Scenarios != nil {
				r.Post("/scenarios/{name}", h.LoadScenario)
			}
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/{id}", h.GetExpense)
			r.Put("/{id}", h.UpdateExpense)
			r.Delete("/{id}", h.DeleteExpense)
		})

		r.Route("/settlements", func(r chi.Router) {
			r.Get("/{id}", h.GetSettlement)
			r.Delete("/{id}", h.DeleteSettlement)
		})

		r.Get("/users/{userID}/summary", h.GetUserSummary)

		if h.Scheduler != nil {
			r.Get("/admin/reconciliation", h.ListReconciliationRuns)
			r.Post("/admin/reconciliation", h.TriggerReconciliation)
		}
		if h.Scenarios != nil {
			r.Get("/scenarios", h.ListScenarios)
		}
	})

	return r
}
