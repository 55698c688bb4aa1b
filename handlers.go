package oauthd

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dpup/oauthd/errors"
	"github.com/dpup/oauthd/store"
)

// OwnerFunc establishes the resource owner behind an authorization request.
// It returns the owner's id and whether they approved the request. How the
// owner authenticates (session cookie, login form, SSO) is entirely the
// caller's concern.
type OwnerFunc func(r *http.Request) (ownerID string, approved bool, err error)

// Handler returns a router exposing the token endpoint, the authorization
// endpoint, and server metadata. The authorization endpoint uses owner to
// resolve the already-authenticated resource owner.
func (s *Server) Handler(owner OwnerFunc) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/oauth/token", s.TokenHandler())
	r.Method(http.MethodGet, "/oauth/authorize", s.AuthorizeHandler(owner))
	r.Method(http.MethodPost, "/oauth/authorize", s.AuthorizeHandler(owner))
	r.Method(http.MethodGet, "/.well-known/oauth-authorization-server", s.MetadataHandler())
	return r
}

// TokenHandler serves POST /oauth/token. Client credentials are accepted via
// HTTP basic auth or the client_id/client_secret form fields.
func (s *Server) TokenHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, r, errors.Mark(ErrInvalidRequest, 0).
				WithPublicMessage("token requests must use POST"))
			return
		}
		if err := r.ParseForm(); err != nil {
			WriteError(w, r, errors.Mark(ErrInvalidRequest, 0).
				WithPublicMessage("malformed request body"))
			return
		}

		req := &TokenRequest{
			GrantType:    store.GrantType(r.PostFormValue("grant_type")),
			Scope:        r.PostFormValue("scope"),
			Username:     r.PostFormValue("username"),
			Password:     r.PostFormValue("password"),
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			RefreshToken: r.PostFormValue("refresh_token"),
		}
		req.ClientID, req.ClientSecret = clientCredentials(r)

		grant, err := s.IssueToken(r.Context(), req)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		s.WriteToken(w, grant)
	})
}

// clientCredentials extracts client id and secret, preferring basic auth
// over form fields.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

// AuthorizeHandler serves the authorization endpoint. On approval the
// browser is redirected back to the client with code and state; protocol
// errors that occur after the redirect URI has been validated are likewise
// delivered by redirect, per RFC 6749 §4.1.2.1.
func (s *Server) AuthorizeHandler(owner OwnerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			WriteError(w, r, errors.Mark(ErrInvalidRequest, 0).
				WithPublicMessage("malformed request"))
			return
		}
		req := &AuthorizeRequest{
			ResponseType: r.FormValue("response_type"),
			ClientID:     r.FormValue("client_id"),
			RedirectURI:  r.FormValue("redirect_uri"),
			Scope:        r.FormValue("scope"),
			State:        r.FormValue("state"),
		}

		ownerID, approved, err := owner(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if !approved {
			redirectURI, err := s.DenyAuthorization(r.Context(), req)
			if redirectURI != "" {
				redirectError(w, r, redirectURI, req.State, err)
				return
			}
			WriteError(w, r, err)
			return
		}

		auth, err := s.Authorize(r.Context(), req, ownerID)
		if err != nil {
			// Errors before the redirect URI is trusted go straight to the
			// user agent; anything after can be bounced to the client.
			if redirectable(err) {
				if uri, rerr := s.redirectTarget(r, req); rerr == nil {
					redirectError(w, r, uri, req.State, err)
					return
				}
			}
			WriteError(w, r, err)
			return
		}

		target, err := url.Parse(auth.RedirectURI)
		if err != nil {
			WriteError(w, r, errors.WrapPrefix(err, "stored redirect URI is unparseable", 0))
			return
		}
		q := target.Query()
		q.Set("code", auth.Code.Code)
		if auth.State != "" {
			q.Set("state", auth.State)
		}
		target.RawQuery = q.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
	})
}

// redirectable reports whether an authorization error may be delivered to
// the client's redirect URI. Client and redirect validation failures must
// not be, since the URI itself is untrusted at that point.
func redirectable(err error) bool {
	return errors.Is(err, ErrInvalidScope) ||
		errors.Is(err, ErrUnauthorizedClient) ||
		errors.Is(err, ErrAccessDenied)
}

func (s *Server) redirectTarget(r *http.Request, req *AuthorizeRequest) (string, error) {
	client, err := s.store.FindClient(r.Context(), req.ClientID)
	if err != nil {
		return "", err
	}
	return resolveRedirectURI(client, req.RedirectURI)
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, err error) {
	_, code, description := WireError(err)
	target, perr := url.Parse(redirectURI)
	if perr != nil {
		WriteError(w, r, err)
		return
	}
	q := target.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// MetadataHandler serves RFC 8414 style server metadata.
func (s *Server) MetadataHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := map[string]any{
			"issuer":                 s.issuer,
			"token_endpoint":         "/oauth/token",
			"authorization_endpoint": "/oauth/authorize",
			"response_types_supported": []string{
				"code",
			},
			"grant_types_supported": []string{
				string(store.GrantAuthorizationCode),
				string(store.GrantClientCredentials),
				string(store.GrantPassword),
				string(store.GrantRefreshToken),
			},
			"token_endpoint_auth_methods_supported": []string{
				"client_secret_basic",
				"client_secret_post",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, http.StatusOK, meta)
	})
}
