package httptransport

import (
	"context"
	"net/http"

	spvmodels "capstack/internal/spv/models"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/httputil"
	"capstack/pkg/requestcontext"
)

type SPVService interface {
	Create(ctx context.Context, managerID id.UserID, params spvmodels.Params) (*spvmodels.SPV, error)
	Get(ctx context.Context, spvID id.SPVID) (*spvmodels.SPV, error)
	GetForManager(ctx context.Context, spvID id.SPVID, managerID id.UserID) (*spvmodels.SPV, error)
	ListByManager(ctx context.Context, managerID id.UserID) ([]*spvmodels.SPV, error)
	Update(ctx context.Context, spvID id.SPVID, managerID id.UserID, changes spvmodels.Changes) (*spvmodels.SPV, error)
	Review(ctx context.Context, spvID id.SPVID, adminID id.UserID, action spvmodels.ReviewAction, notes string) (*spvmodels.SPV, error)
	DeployTokenContract(ctx context.Context, spvID id.SPVID) (string, error)
	CloseFundraising(ctx context.Context, spvID id.SPVID) (*spvmodels.SPV, error)
	InitiateLiquidation(ctx context.Context, spvID id.SPVID, managerID id.UserID) (*spvmodels.SPV, error)
	CompleteLiquidation(ctx context.Context, spvID id.SPVID) (*spvmodels.SPV, error)
}

type spvReviewRequest struct {
	Action spvmodels.ReviewAction `json:"action"`
	Notes  string                 `json:"notes"`
}

type tokenContractResponse struct {
	SPVID                id.SPVID `json:"spv_id"`
	TokenContractAddress string   `json:"token_contract_address"`
}

type spvsResponse struct {
	SPVs []*spvmodels.SPV `json:"spvs"`
}

func (h *Handler) handleCreateSPV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params, err := httputil.DecodeJSON[spvmodels.Params](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	spv, err := h.svc.SPVs.Create(ctx, requestcontext.UserID(ctx), params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, spv)
}

func (h *Handler) handleListSPVs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spvs, err := h.svc.SPVs.ListByManager(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, spvsResponse{SPVs: spvs})
}

// handleGetSPV scopes managers to their own SPVs.
func (h *Handler) handleGetSPV(w http.ResponseWriter, r *http.Request) {
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	spv, err := h.visibleSPV(r, spvID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, spv)
}

func (h *Handler) handleUpdateSPV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	changes, err := httputil.DecodeJSON[spvmodels.Changes](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	spv, err := h.svc.SPVs.Update(ctx, spvID, requestcontext.UserID(ctx), changes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, spv)
}

func (h *Handler) handleReviewSPV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := httputil.DecodeJSON[spvReviewRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	spv, err := h.svc.SPVs.Review(ctx, spvID, requestcontext.UserID(ctx), req.Action, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, spv)
}

func (h *Handler) handleDeployTokenContract(w http.ResponseWriter, r *http.Request) {
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	address, err := h.svc.SPVs.DeployTokenContract(r.Context(), spvID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenContractResponse{SPVID: spvID, TokenContractAddress: address})
}

func (h *Handler) handleCloseFundraising(w http.ResponseWriter, r *http.Request) {
	h.transitionSPV(w, r, h.svc.SPVs.CloseFundraising)
}

func (h *Handler) handleCompleteLiquidation(w http.ResponseWriter, r *http.Request) {
	h.transitionSPV(w, r, h.svc.SPVs.CompleteLiquidation)
}

func (h *Handler) handleInitiateLiquidation(w http.ResponseWriter, r *http.Request) {
	manager := requestcontext.UserID(r.Context())
	h.transitionSPV(w, r, func(ctx context.Context, spvID id.SPVID) (*spvmodels.SPV, error) {
		return h.svc.SPVs.InitiateLiquidation(ctx, spvID, manager)
	})
}

func (h *Handler) transitionSPV(w http.ResponseWriter, r *http.Request, fn func(context.Context, id.SPVID) (*spvmodels.SPV, error)) {
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	spv, err := fn(r.Context(), spvID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, spv)
}

func (h *Handler) visibleSPV(r *http.Request, spvID id.SPVID) (*spvmodels.SPV, error) {
	ctx := r.Context()
	if requestcontext.CallerRole(ctx) == requestcontext.RoleManager {
		return h.svc.SPVs.GetForManager(ctx, spvID, requestcontext.UserID(ctx))
	}
	return h.svc.SPVs.Get(ctx, spvID)
}
