package httptransport

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"capstack/internal/subscription/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/httputil"
	"capstack/pkg/requestcontext"
)

type SubscriptionService interface {
	Create(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, wallet string) (*models.Subscription, error)
	SubmitFunding(ctx context.Context, subID id.SubscriptionID, investorID id.UserID, wireReference, bankName string) (*models.Subscription, error)
	Complete(ctx context.Context, subID id.SubscriptionID, adminID id.UserID) (*models.Subscription, error)
	ConfirmMint(ctx context.Context, subID id.SubscriptionID, adminID id.UserID, txRef string) (*models.Subscription, error)
	Cancel(ctx context.Context, subID id.SubscriptionID, investorID id.UserID) (*models.Subscription, error)
	GetWithSPVAndInvestor(ctx context.Context, subID id.SubscriptionID) (*models.Detail, error)
	GetForUser(ctx context.Context, subID id.SubscriptionID, userID id.UserID) (*models.Detail, error)
	ListBySPV(ctx context.Context, spvID id.SPVID) ([]*models.Subscription, error)
	ListByInvestor(ctx context.Context, investorID id.UserID) ([]*models.Subscription, error)
}

type createSubscriptionRequest struct {
	SPVID         id.SPVID        `json:"spv_id"`
	Amount        decimal.Decimal `json:"amount"`
	WalletAddress string          `json:"wallet_address"`
}

type fundingRequest struct {
	WireReference string `json:"wire_reference"`
	BankName      string `json:"bank_name"`
}

type subscriptionsResponse struct {
	Subscriptions []*models.Subscription `json:"subscriptions"`
}

func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[createSubscriptionRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.svc.Subscriptions.Create(ctx, req.SPVID, requestcontext.UserID(ctx), req.Amount, req.WalletAddress)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleListMySubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subs, err := h.svc.Subscriptions.ListByInvestor(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, subscriptionsResponse{Subscriptions: subs})
}

func (h *Handler) handleListSPVSubscriptions(w http.ResponseWriter, r *http.Request) {
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	subs, err := h.svc.Subscriptions.ListBySPV(r.Context(), spvID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, subscriptionsResponse{Subscriptions: subs})
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, err := pathSubscriptionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var detail *models.Detail
	if requestcontext.CallerRole(ctx) == requestcontext.RoleAdmin {
		detail, err = h.svc.Subscriptions.GetWithSPVAndInvestor(ctx, subID)
	} else {
		detail, err = h.svc.Subscriptions.GetForUser(ctx, subID, requestcontext.UserID(ctx))
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleSubmitFunding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, err := pathSubscriptionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := httputil.DecodeJSON[fundingRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.svc.Subscriptions.SubmitFunding(ctx, subID, requestcontext.UserID(ctx), req.WireReference, req.BankName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, err := pathSubscriptionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.svc.Subscriptions.Cancel(ctx, subID, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleCompleteSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, err := pathSubscriptionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.svc.Subscriptions.Complete(ctx, subID, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

type confirmMintRequest struct {
	MintTxRef string `json:"mint_tx_ref"`
}

func (h *Handler) handleConfirmMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subID, err := pathSubscriptionID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := httputil.DecodeJSON[confirmMintRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.svc.Subscriptions.ConfirmMint(ctx, subID, requestcontext.UserID(ctx), req.MintTxRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}
