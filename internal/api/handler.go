// Package api provides HTTP handlers for the guardrail engine REST API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"opsgate/internal/dispatch"
	"opsgate/internal/domain"
	"opsgate/internal/middleware"
	"opsgate/internal/service"
)

// Handler exposes the command, ledger, policy, principal, and design
// endpoints.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	ledger     *service.LedgerService
	identity   *service.IdentityService
	policies   *service.PolicyAdminService
	designs    *service.DesignService
	logger     *slog.Logger
}

func NewHandler(
	dispatcher *dispatch.Dispatcher,
	ledger *service.LedgerService,
	identity *service.IdentityService,
	policies *service.PolicyAdminService,
	designs *service.DesignService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		ledger:     ledger,
		identity:   identity,
		policies:   policies,
		designs:    designs,
		logger:     logger.With("component", "api"),
	}
}

// RouterConfig carries the HTTP-surface settings the router needs.
type RouterConfig struct {
	JWTSecret      []byte
	Principals     domain.PrincipalRepository
	AllowedOrigins []string
	RateLimit      middleware.RateLimitConfig
}

// Router assembles the chi router: request id and rate limiting on
// everything, JWT auth on the API surface, health probe left open.
func (h *Handler) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.RateLimit.RequestsPerSecond > 0 {
		r.Use(middleware.RateLimiter(cfg.RateLimit))
	}

	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, cfg.Principals))

		r.Post("/commands", h.submitCommand)
		r.Get("/commands/{id}", h.getCommand)
		r.Post("/commands/{id}/approvals", h.approveCommand)
		r.Post("/commands/{id}/override", h.overrideCommand)

		r.Get("/ledger", h.listLedger)

		r.Put("/policies", h.replacePolicies)
		r.Get("/policies", h.getPolicies)

		r.Post("/designs/validate", h.validateDesign)

		r.Post("/principals", h.createPrincipal)
		r.Get("/principals", h.listPrincipals)
		r.Delete("/principals/{id}", h.deletePrincipal)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
