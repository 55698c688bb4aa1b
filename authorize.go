package oauthd

import (
	"context"

	"github.com/dpup/oauthd/errors"
	"github.com/dpup/oauthd/logging"
	"github.com/dpup/oauthd/store"
	"github.com/dpup/oauthd/tokens"
)

// AuthorizeRequest carries the parameters of an authorization request. The
// resource owner's identity is established by the caller; this engine never
// sees credentials.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string

	// Opaque passthrough returned to the client unmodified.
	State string
}

// Authorization is the outcome of a successful authorization request.
type Authorization struct {
	Code        *store.AuthorizationCode
	Client      *store.Client
	RedirectURI string
	State       string
}

// Authorize validates an authorization request on behalf of an authenticated
// resource owner and issues a short-lived, one-time-use authorization code.
// ownerID must identify an already-authenticated user; pass the owner's
// decision separately by not calling Authorize at all when consent is
// withheld (see DenyAuthorization).
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest, ownerID string) (*Authorization, error) {
	if req.ResponseType != "code" {
		return nil, errors.Mark(ErrInvalidRequest, 0).
			WithPublicMessage("response_type must be 'code'")
	}
	if ownerID == "" {
		return nil, errors.Mark(ErrAccessDenied, 0).
			WithPublicMessage("resource owner is not authenticated")
	}

	client, err := s.store.FindClient(ctx, req.ClientID)
	if err != nil {
		return nil, clientLookupError(err)
	}
	if !client.AllowsGrant(store.GrantAuthorizationCode) {
		return nil, errors.Mark(ErrUnauthorizedClient, 0).
			WithPublicMessage("client is not permitted to use the authorization code flow")
	}

	redirectURI, err := resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		return nil, err
	}

	scope, err := s.requestScope(client, req.Scope)
	if err != nil {
		return nil, err
	}

	now := s.now()
	codeStr, err := s.source.AuthorizationCode(ctx, &tokens.Request{
		Client:   client,
		UserID:   ownerID,
		Scope:    scope,
		IssuedAt: now,
	})
	if err != nil {
		return nil, errors.WrapPrefix(err, "code generation failed", 0)
	}

	code := &store.AuthorizationCode{
		Code:        codeStr,
		ExpiresAt:   now.Add(s.authCodeLifetime),
		UserID:      ownerID,
		ClientID:    client.ID,
		RedirectURI: redirectURI,
		Scope:       scope,
	}
	if err := s.store.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, errors.WrapPrefix(err, "failed to persist authorization code", 0)
	}

	logging.Infow(ctx, "authorization code issued",
		"client_id", client.ID,
		"user_id", ownerID,
		"scope", scope)
	return &Authorization{
		Code:        code,
		Client:      client,
		RedirectURI: redirectURI,
		State:       req.State,
	}, nil
}

// DenyAuthorization records an owner's refusal and returns the access_denied
// error plus the redirect target the client should receive it on. The
// redirect URI is still validated so the error can't be bounced to an
// attacker-chosen location.
func (s *Server) DenyAuthorization(ctx context.Context, req *AuthorizeRequest) (string, error) {
	client, err := s.store.FindClient(ctx, req.ClientID)
	if err != nil {
		return "", clientLookupError(err)
	}
	if !client.AllowsGrant(store.GrantAuthorizationCode) {
		return "", errors.Mark(ErrUnauthorizedClient, 0).
			WithPublicMessage("client is not permitted to use the authorization code flow")
	}
	redirectURI, err := resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		return "", err
	}
	logging.Infow(ctx, "authorization denied", "client_id", client.ID)
	return redirectURI, errors.Mark(ErrAccessDenied, 0).
		WithPublicMessage("the resource owner denied the request")
}

// resolveRedirectURI checks the requested URI against the client's
// registered set. A missing URI is allowed only when exactly one is
// registered.
func resolveRedirectURI(client *store.Client, requested string) (string, error) {
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", errors.Mark(ErrInvalidRequest, 0).
			WithPublicMessage("redirect_uri is required")
	}
	if !client.AllowsRedirectURI(requested) {
		return "", errors.Mark(ErrInvalidRequest, 0).
			WithPublicMessage("redirect_uri is not registered for this client")
	}
	return requested, nil
}
