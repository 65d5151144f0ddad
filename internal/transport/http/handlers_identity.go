package httptransport

import (
	"context"
	"io"
	"net/http"

	identitymodels "capstack/internal/identity/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/platform/httputil"
	"capstack/pkg/requestcontext"
)

const (
	signatureHeader = "X-Payload-Digest"
	maxWebhookBytes = 1 << 20
)

type IdentityService interface {
	Register(ctx context.Context, userID id.UserID, role identitymodels.Role, email, jurisdiction string) (*identitymodels.Identity, error)
	Get(ctx context.Context, userID id.UserID) (*identitymodels.Identity, error)
	SetWallet(ctx context.Context, userID id.UserID, address string) (*identitymodels.Identity, error)
	Initiate(ctx context.Context, userID id.UserID, email string) (*identitymodels.InitiateResult, error)
	RefreshStatus(ctx context.Context, userID id.UserID) (*identitymodels.VerificationStatus, error)
	ApplyWebhook(ctx context.Context, body []byte, signature string) (*identitymodels.WebhookResult, error)
	AdminDecide(ctx context.Context, userID, adminID id.UserID, action identitymodels.AdminAction, notes string) (identitymodels.AdminKYCStatus, error)
	Override(ctx context.Context, userID, adminID id.UserID, action identitymodels.AdminAction, notes string) (*identitymodels.Identity, error)
	SubmitForm(ctx context.Context, userID id.UserID, form identitymodels.Form) (*identitymodels.VerificationStatus, error)
}

type registerRequest struct {
	Email        string `json:"email"`
	Jurisdiction string `json:"jurisdiction"`
}

type walletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type initiateRequest struct {
	Email string `json:"email"`
}

type kycDecisionRequest struct {
	Action identitymodels.AdminAction `json:"action"`
	Notes  string                     `json:"notes"`
}

type kycDecisionResponse struct {
	UserID         id.UserID                     `json:"user_id"`
	AdminKYCStatus identitymodels.AdminKYCStatus `json:"admin_kyc_status"`
}

// handleRegisterIdentity creates the caller's identity with the role from
// their token.
func (h *Handler) handleRegisterIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[registerRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	role := identitymodels.Role(requestcontext.CallerRole(ctx))
	identity, err := h.svc.Identities.Register(ctx, requestcontext.UserID(ctx), role, req.Email, req.Jurisdiction)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, identity)
}

func (h *Handler) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	userID, err := h.ownIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	identity, err := h.svc.Identities.Get(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleSetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := h.ownIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := httputil.DecodeJSON[walletRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	identity, err := h.svc.Identities.SetWallet(r.Context(), userID, req.WalletAddress)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

// handleInitiateKYC starts vendor verification. The email defaults to the
// one on the identity.
func (h *Handler) handleInitiateKYC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := h.ownIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := decodeOptional[initiateRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	email := req.Email
	if email == "" {
		identity, err := h.svc.Identities.Get(ctx, userID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		email = identity.Email
	}
	result, err := h.svc.Identities.Initiate(ctx, userID, email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleKYCStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := h.ownIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := h.svc.Identities.RefreshStatus(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) handleSubmitKYCForm(w http.ResponseWriter, r *http.Request) {
	userID, err := h.ownIdentity(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	form, err := httputil.DecodeJSON[identitymodels.Form](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := h.svc.Identities.SubmitForm(r.Context(), userID, form)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// handleVerificationWebhook always acknowledges so the vendor does not
// retry; failures are only logged.
func (h *Handler) handleVerificationWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read verification webhook",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteJSON(w, http.StatusOK, identitymodels.WebhookResult{})
		return
	}
	result, err := h.svc.Identities.ApplyWebhook(ctx, body, r.Header.Get(signatureHeader))
	if err != nil {
		h.logger.WarnContext(ctx, "verification webhook not applied",
			"code", dErrors.CodeOf(err),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteJSON(w, http.StatusOK, identitymodels.WebhookResult{})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAdminKYCReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, req, err := h.kycDecision(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := h.svc.Identities.AdminDecide(ctx, userID, requestcontext.UserID(ctx), req.Action, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, kycDecisionResponse{UserID: userID, AdminKYCStatus: status})
}

func (h *Handler) handleAdminKYCOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, req, err := h.kycDecision(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	identity, err := h.svc.Identities.Override(ctx, userID, requestcontext.UserID(ctx), req.Action, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) kycDecision(r *http.Request) (id.UserID, kycDecisionRequest, error) {
	userID, err := pathUserID(r)
	if err != nil {
		return userID, kycDecisionRequest{}, err
	}
	req, err := httputil.DecodeJSON[kycDecisionRequest](r)
	return userID, req, err
}

func (h *Handler) ownIdentity(r *http.Request) (id.UserID, error) {
	userID, err := pathUserID(r)
	if err != nil {
		return userID, err
	}
	return userID, selfOrAdmin(r, userID)
}
