/*
identity.go - Per-request claims resolution

PURPOSE:
  The identity provider fronting this service authenticates callers and
  forwards their identity as headers:

    X-User-Id         account id
    X-User-Groups     comma-separated group names
    X-User-Buildings  comma-separated building scopes (managers)

  This middleware parses the headers into authz.Claims and stashes them on
  the request context. Requests without an id are rejected up front; every
  finer-grained decision belongs to the capability predicates.

SEE ALSO:
  - authz: FromGroups and the capability table
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/billing-engine/authz"
)

type claimsKey struct{}

// Identity resolves authz.Claims from the identity headers.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-Id")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Missing identity", nil)
			return
		}
		claims := authz.FromGroups(
			userID,
			splitHeader(r.Header.Get("X-User-Groups")),
			splitHeader(r.Header.Get("X-User-Buildings")),
		)
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) authz.Claims {
	claims, _ := r.Context().Value(claimsKey{}).(authz.Claims)
	return claims
}

func splitHeader(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
