package httptransport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	captablemodels "capstack/internal/captable/models"
	reviewmodels "capstack/internal/review/models"
	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/platform/httputil"
	"capstack/pkg/requestcontext"
)

type CapTableService interface {
	Entries(ctx context.Context, spvID id.SPVID) ([]*captablemodels.Entry, error)
	Distributions(ctx context.Context, spvID id.SPVID) ([]*captablemodels.Distribution, error)
	MintTokens(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, adminID id.UserID) (*captablemodels.Adjustment, error)
	BurnTokens(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, adminID id.UserID) (*captablemodels.Adjustment, error)
	RecordDistribution(ctx context.Context, spvID id.SPVID, totalAmount decimal.Decimal, kind captablemodels.DistributionType) (*captablemodels.Distribution, error)
}

type ReviewHistory interface {
	History(ctx context.Context, filter reviewmodels.HistoryFilter) ([]*reviewmodels.AdminReview, error)
}

type capTableResponse struct {
	SPVID         id.SPVID                       `json:"spv_id"`
	Entries       []*captablemodels.Entry        `json:"entries"`
	Distributions []*captablemodels.Distribution `json:"distributions"`
}

type adjustmentRequest struct {
	InvestorID id.UserID       `json:"investor_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type distributionRequest struct {
	Amount decimal.Decimal                 `json:"amount"`
	Type   captablemodels.DistributionType `json:"type"`
}

type reviewsResponse struct {
	Reviews []*reviewmodels.AdminReview `json:"reviews"`
}

// handleGetCapTable returns balances and distributions. Managers only see
// their own SPVs.
func (h *Handler) handleGetCapTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.visibleSPV(r, spvID); err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.svc.CapTable.Entries(ctx, spvID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dists, err := h.svc.CapTable.Distributions(ctx, spvID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, capTableResponse{SPVID: spvID, Entries: entries, Distributions: dists})
}

func (h *Handler) handleMintTokens(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.svc.CapTable.MintTokens)
}

func (h *Handler) handleBurnTokens(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.svc.CapTable.BurnTokens)
}

type adjustFunc func(ctx context.Context, spvID id.SPVID, investorID id.UserID, amount decimal.Decimal, adminID id.UserID) (*captablemodels.Adjustment, error)

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request, fn adjustFunc) {
	ctx := r.Context()
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := httputil.DecodeJSON[adjustmentRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.InvestorID.IsNil() {
		h.fail(w, r, dErrors.New(dErrors.CodeValidation, "investor_id is required"))
		return
	}
	adj, err := fn(ctx, spvID, req.InvestorID, req.Amount, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, adj)
}

func (h *Handler) handleRecordDistribution(w http.ResponseWriter, r *http.Request) {
	spvID, err := pathSPVID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := httputil.DecodeJSON[distributionRequest](r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dist, err := h.svc.CapTable.RecordDistribution(r.Context(), spvID, req.Amount, req.Type)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, dist)
}

// handleReviewHistory lists admin reviews, newest first. Query parameters:
// type, decision, entity_id and limit.
func (h *Handler) handleReviewHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := reviewmodels.HistoryFilter{
		Type:     reviewmodels.ReviewType(q.Get("type")),
		Decision: reviewmodels.Decision(q.Get("decision")),
	}
	if raw := q.Get("entity_id"); raw != "" {
		entityID, err := uuid.Parse(raw)
		if err != nil {
			h.fail(w, r, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid entity_id"))
			return
		}
		filter.EntityID = entityID
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid limit"))
			return
		}
		filter.Limit = limit
	}
	reviews, err := h.svc.Reviews.History(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reviewsResponse{Reviews: reviews})
}
