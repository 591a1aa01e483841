package syncserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/beepshq/beeps/internal/storage"
)

type contextKey string

const accountContextKey contextKey = "beeps:account"

// requireAuth resolves the Authorization: Bearer <token> header to an
// account via s.auth.WhoAmI, rejecting the request with 401 otherwise
// (§7 Auth).
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.metrics.AuthFailures.Inc()
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		acct, err := s.auth.WhoAmI(r.Context(), token)
		if err != nil {
			s.metrics.AuthFailures.Inc()
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), accountContextKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func accountFromContext(ctx context.Context) (storage.Account, bool) {
	acct, ok := ctx.Value(accountContextKey).(storage.Account)
	return acct, ok
}
