package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	id "capstack/pkg/domain"
	dErrors "capstack/pkg/domain-errors"
	"capstack/pkg/platform/httputil"
	"capstack/pkg/requestcontext"
)

// fail writes err and logs it. Internal failures are logged as errors since
// their cause is not returned to the caller.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	} else {
		h.logger.DebugContext(ctx, "request rejected",
			"path", r.URL.Path,
			"code", dErrors.CodeOf(err),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

func pathUserID(r *http.Request) (id.UserID, error) {
	userID, err := id.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		return userID, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid user id")
	}
	return userID, nil
}

func pathSPVID(r *http.Request) (id.SPVID, error) {
	spvID, err := id.ParseSPVID(chi.URLParam(r, "id"))
	if err != nil {
		return spvID, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid spv id")
	}
	return spvID, nil
}

func pathSubscriptionID(r *http.Request) (id.SubscriptionID, error) {
	subID, err := id.ParseSubscriptionID(chi.URLParam(r, "id"))
	if err != nil {
		return subID, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid subscription id")
	}
	return subID, nil
}

// selfOrAdmin admits the identity's owner and admins.
func selfOrAdmin(r *http.Request, userID id.UserID) error {
	ctx := r.Context()
	if requestcontext.CallerRole(ctx) == requestcontext.RoleAdmin || requestcontext.UserID(ctx) == userID {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "cannot act on another user's identity")
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional[T any](r *http.Request) (T, error) {
	var zero T
	if r.Body == nil || r.ContentLength == 0 {
		return zero, nil
	}
	return httputil.DecodeJSON[T](r)
}
