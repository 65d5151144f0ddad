package testutil

import (
	"net/http"

	id "capstack/pkg/domain"
	"capstack/pkg/requestcontext"
)

// WithCaller adds an authenticated caller to the request context, as the
// auth middleware would.
func WithCaller(req *http.Request, userID id.UserID, role requestcontext.Role) *http.Request {
	ctx := requestcontext.WithUserID(req.Context(), userID)
	ctx = requestcontext.WithRole(ctx, role)
	return req.WithContext(ctx)
}
