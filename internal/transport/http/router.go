// Package httptransport exposes the services over JSON/HTTP. Handlers parse
// requests, scope callers and delegate; the services own every rule.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"capstack/internal/platform/middleware"
	"capstack/pkg/requestcontext"
)

// Services are the domain services behind the API.
type Services struct {
	Identities    IdentityService
	Invitations   InvitationService
	SPVs          SPVService
	Subscriptions SubscriptionService
	CapTable      CapTableService
	Reviews       ReviewHistory
}

type Handler struct {
	svc    Services
	logger *slog.Logger
}

func NewHandler(svc Services, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// NewRouter wires every endpoint. Webhooks and invitation lookups are
// public; everything else needs a bearer token.
func NewRouter(h *Handler, validator middleware.TokenValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/webhooks/verification", h.handleVerificationWebhook)
	r.Get("/invitations/{token}", h.handleResolveInvitation)
	r.Post("/invitations/{token}/validate", h.handleValidateInvitation)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, h.logger))

		r.Post("/invitations/{token}/accept", h.handleAcceptInvitation)

		r.Route("/identities", func(r chi.Router) {
			r.With(middleware.RequireRole(requestcontext.RoleInvestor, requestcontext.RoleManager)).
				Post("/", h.handleRegisterIdentity)
			r.Get("/{id}", h.handleGetIdentity)
			r.Put("/{id}/wallet", h.handleSetWallet)
			r.Post("/{id}/kyc/initiate", h.handleInitiateKYC)
			r.Get("/{id}/kyc/status", h.handleKYCStatus)
			r.Post("/{id}/kyc/form", h.handleSubmitKYCForm)
		})

		r.Route("/spvs", func(r chi.Router) {
			manager := middleware.RequireRole(requestcontext.RoleManager)
			r.With(manager).Post("/", h.handleCreateSPV)
			r.With(manager).Get("/", h.handleListSPVs)
			r.Get("/{id}", h.handleGetSPV)
			r.With(manager).Patch("/{id}", h.handleUpdateSPV)
			r.With(manager).Post("/{id}/liquidation", h.handleInitiateLiquidation)
			r.With(manager).Post("/{id}/invitations", h.handleCreateInvitations)
			r.With(manager).Get("/{id}/invitations", h.handleListInvitations)
			r.With(middleware.RequireRole(requestcontext.RoleManager, requestcontext.RoleAdmin)).
				Get("/{id}/cap-table", h.handleGetCapTable)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			investor := middleware.RequireRole(requestcontext.RoleInvestor)
			r.With(investor).Post("/", h.handleCreateSubscription)
			r.With(investor).Get("/", h.handleListMySubscriptions)
			r.Get("/{id}", h.handleGetSubscription)
			r.With(investor).Post("/{id}/funding", h.handleSubmitFunding)
			r.With(investor).Post("/{id}/cancel", h.handleCancelSubscription)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(requestcontext.RoleAdmin))
			r.Post("/identities/{id}/review", h.handleAdminKYCReview)
			r.Post("/identities/{id}/override", h.handleAdminKYCOverride)
			r.Post("/spvs/{id}/review", h.handleReviewSPV)
			r.Post("/spvs/{id}/token-contract", h.handleDeployTokenContract)
			r.Post("/spvs/{id}/close-fundraising", h.handleCloseFundraising)
			r.Post("/spvs/{id}/liquidation/complete", h.handleCompleteLiquidation)
			r.Get("/spvs/{id}/subscriptions", h.handleListSPVSubscriptions)
			r.Post("/spvs/{id}/mint", h.handleMintTokens)
			r.Post("/spvs/{id}/burn", h.handleBurnTokens)
			r.Post("/spvs/{id}/distributions", h.handleRecordDistribution)
			r.Post("/subscriptions/{id}/complete", h.handleCompleteSubscription)
			r.Post("/subscriptions/{id}/mint-confirmation", h.handleConfirmMint)
			r.Get("/reviews", h.handleReviewHistory)
		})
	})
	return r
}
