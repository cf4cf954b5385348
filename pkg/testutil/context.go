package testutil

import (
	"net/http"
	"time"

	id "coinledger/pkg/domain"
	"coinledger/pkg/requestcontext"
)

// WithPrincipal marks the request as authenticated for principal, as
// RequireAuth would.
func WithPrincipal(req *http.Request, principal id.PrincipalID) *http.Request {
	ctx := requestcontext.WithPrincipalID(req.Context(), principal)
	ctx = requestcontext.WithTokenID(ctx, "test-token")
	return req.WithContext(ctx)
}

// WithTime pins the request clock.
func WithTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}
