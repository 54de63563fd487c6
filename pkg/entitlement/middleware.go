package entitlement

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// UserIDResolver extracts the authenticated user from the request context.
type UserIDResolver func(ctx context.Context) (uuid.UUID, bool)

// ActiveChecker answers whether the user holds an active subscription; used
// as the authoritative fallback when the cache has no answer.
type ActiveChecker func(ctx context.Context, userID uuid.UUID) (bool, error)

// RequireActive guards premium chat routes: cached entitlement first, then
// the authoritative checker. Inactive users get 402 so clients can route them
// to the paywall.
func (u *Updater) RequireActive(resolve UserIDResolver, check ActiveChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			userID, ok := resolve(ctx)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if active, hit := u.CachedActive(ctx, userID); hit {
				if !active {
					writeJSONError(w, http.StatusPaymentRequired, "Active subscription required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			active, err := check(ctx, userID)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "Failed to verify subscription")
				return
			}
			if !active {
				writeJSONError(w, http.StatusPaymentRequired, "Active subscription required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
