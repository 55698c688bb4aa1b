package oauthd

import (
	"net/http"
	"strings"

	"github.com/dpup/oauthd/errors"
	"github.com/dpup/oauthd/logging"
)

// Authenticate guards a protected route. It extracts the bearer token,
// verifies it, and attaches the resolved Identity to the request context for
// downstream handlers. Requests without a valid bearer get a 401 whose body
// names only the error code.
//
// When a server-wide required scope is configured, it is enforced here too.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := s.bearerToken(r)
		id, err := s.Verify(r.Context(), bearer)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if s.requiredScope != "" && !id.HasScope(s.requiredScope) {
			WriteError(w, r, errors.Mark(ErrInsufficientScope, 0).
				WithPublicMessage("token lacks the required scope"))
			return
		}

		ctx := WithIdentity(r.Context(), id)
		ctx = logging.With(ctx, logging.FromContext(ctx).
			With("oauth.user_id", id.User.ID).
			With("oauth.client_id", id.Client.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope returns middleware enforcing a named scope on an already
// authenticated route. Compose after Authenticate.
func (s *Server) RequireScope(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				WriteError(w, r, errors.Mark(ErrInvalidToken, 0))
				return
			}
			if !id.HasScope(required) {
				WriteError(w, r, errors.Mark(ErrInsufficientScope, 0).
					WithPublicMessage("token is missing the '"+required+"' scope"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken pulls the bearer from the Authorization header, falling back
// to the access_token query parameter when enabled.
func (s *Server) bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if s.allowBearerInQuery {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
