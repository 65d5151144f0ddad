package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	invitationmodels "capstack/internal/invitation/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/httputil"
	"capstack/pkg/requestcontext"
)

type InvitationService interface {
	CreateBatch(ctx context.Context, spvID id.SPVID, emails []string, issuerID id.UserID, ttlDays int) ([]invitationmodels.Link, error)
	ListForSPV(ctx context.Context, spvID id.SPVID, issuerID id.UserID) ([]invitationmodels.Link, error)
	Resolve(ctx context.Context, token string) (*invitationmodels.View, error)
	Validate(ctx context.Context, token, email string) (*invitationmodels.Invitation, error)
	Accept(ctx context.Context, token string, userID id.UserID) (*invitationmodels.Invitation, error)
}

type createInvitationsRequest struct {
	Emails  []string `json:"emails"`
	TTLDays int      `json:"ttl_days"`
}

type validateInvitationRequest struct {
	Email string `json:"email"`
}

type invitationsResponse struct {
	Invitations []invitationmodels.Link `json:"invitations"`
}

func (h *Handler) handleCreateInvitations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := httputil.DecodeJSON[createInvitationsRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	links, err := h.svc.Invitations.CreateBatch(ctx, spvID, req.Emails, requestcontext.UserID(ctx), req.TTLDays)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, invitationsResponse{Invitations: links})
}

func (h *Handler) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	links, err := h.svc.Invitations.ListForSPV(ctx, spvID, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, invitationsResponse{Invitations: links})
}

func (h *Handler) handleResolveInvitation(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Invitations.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleValidateInvitation(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeJSON[validateInvitationRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.svc.Invitations.Validate(r.Context(), chi.URLParam(r, "token"), req.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.svc.Invitations.Accept(ctx, chi.URLParam(r, "token"), requestcontext.UserID(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}
