package oauthd

import (
	"context"

	"github.com/dpup/oauthd/errors"
	"github.com/dpup/oauthd/logging"
	"github.com/dpup/oauthd/store"
	"github.com/dpup/oauthd/tokens"
)

// TokenRequest carries the parameters of a token grant. Only the fields for
// the named grant type are consulted.
type TokenRequest struct {
	GrantType store.GrantType

	ClientID     string
	ClientSecret string

	// Requested scope, space-delimited. Ignored for authorization_code
	// grants, which carry the scope agreed at authorization time.
	Scope string

	// Password grant.
	Username string
	Password string

	// Authorization code grant.
	Code        string
	RedirectURI string

	// Refresh grant.
	RefreshToken string
}

// Grant is the outcome of a successful token request.
type Grant struct {
	AccessToken  *store.AccessToken
	RefreshToken *store.RefreshToken
	Client       *store.Client
	User         *store.User
}

// IssueToken validates a grant request and mints an access token, plus a
// refresh token where the grant type calls for one. All validation happens
// before any store mutation; a failed request leaves no trace.
func (s *Server) IssueToken(ctx context.Context, req *TokenRequest) (*Grant, error) {
	switch req.GrantType {
	case store.GrantClientCredentials, store.GrantPassword,
		store.GrantAuthorizationCode, store.GrantRefreshToken:
	case "":
		return nil, errors.Mark(ErrInvalidRequest, 0).
			WithPublicMessage("grant_type is required")
	default:
		return nil, errors.Mark(ErrUnsupportedGrantType, 0).
			WithPublicMessage("unrecognized grant type: " + string(req.GrantType))
	}

	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(req.GrantType) {
		return nil, errors.Mark(ErrUnsupportedGrantType, 0).
			WithPublicMessage("client is not permitted to use the " + string(req.GrantType) + " grant")
	}

	var grant *Grant
	switch req.GrantType {
	case store.GrantClientCredentials:
		grant, err = s.clientCredentialsGrant(ctx, client, req)
	case store.GrantPassword:
		grant, err = s.passwordGrant(ctx, client, req)
	case store.GrantAuthorizationCode:
		grant, err = s.authorizationCodeGrant(ctx, client, req)
	case store.GrantRefreshToken:
		grant, err = s.refreshGrant(ctx, client, req)
	}
	if err != nil {
		return nil, err
	}

	logging.Infow(ctx, "token issued",
		"grant_type", req.GrantType,
		"client_id", client.ID,
		"user_id", grant.User.ID,
		"scope", grant.AccessToken.Scope)
	return grant, nil
}

// authenticateClient resolves and authenticates the requesting client.
// Public clients may omit the secret, but only for the authorization code
// exchange where possession of the code stands in for it.
func (s *Server) authenticateClient(ctx context.Context, req *TokenRequest) (*store.Client, error) {
	if req.ClientID == "" {
		return nil, errors.Mark(ErrInvalidClient, 0).
			WithPublicMessage("client authentication is required")
	}

	if req.ClientSecret == "" && req.GrantType == store.GrantAuthorizationCode {
		client, err := s.store.FindClient(ctx, req.ClientID)
		if err != nil {
			return nil, clientLookupError(err)
		}
		if !client.Public {
			return nil, errors.Mark(ErrInvalidClient, 0).
				WithPublicMessage("client authentication is required")
		}
		return client, nil
	}

	client, err := s.store.FindClientWithSecret(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, clientLookupError(err)
	}
	return client, nil
}

func clientLookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errors.Mark(ErrInvalidClient, 1).
			WithPublicMessage("client authentication failed")
	}
	return errors.WrapPrefix(err, "client lookup failed", 1)
}

func (s *Server) clientCredentialsGrant(ctx context.Context, client *store.Client, req *TokenRequest) (*Grant, error) {
	scope, err := s.requestScope(client, req.Scope)
	if err != nil {
		return nil, err
	}
	user, err := s.store.DeriveUserFromClient(ctx, client)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed to derive user from client", 0)
	}
	return s.mint(ctx, client, user, scope, s.ccRefresh)
}

func (s *Server) passwordGrant(ctx context.Context, client *store.Client, req *TokenRequest) (*Grant, error) {
	if req.Username == "" || req.Password == "" {
		return nil, errors.Mark(ErrInvalidRequest, 0).
			WithPublicMessage("username and password are required")
	}
	scope, err := s.requestScope(client, req.Scope)
	if err != nil {
		return nil, err
	}
	user, err := s.store.FindUser(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Mark(ErrInvalidGrant, 0).
				WithPublicMessage("invalid resource owner credentials")
		}
		return nil, errors.WrapPrefix(err, "user lookup failed", 0)
	}
	return s.mint(ctx, client, user, scope, true)
}

func (s *Server) authorizationCodeGrant(ctx context.Context, client *store.Client, req *TokenRequest) (*Grant, error) {
	if req.Code == "" {
		return nil, errors.Mark(ErrInvalidRequest, 0).
			WithPublicMessage("code is required")
	}

	code, err := s.store.FindAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Mark(ErrInvalidGrant, 0).
				WithPublicMessage("authorization code is invalid")
		}
		return nil, errors.WrapPrefix(err, "authorization code lookup failed", 0)
	}
	if code.Expired(s.now()) {
		return nil, errors.Mark(ErrInvalidGrant, 0).
			WithPublicMessage("authorization code has expired")
	}
	if code.ClientID != client.ID {
		return nil, errors.Mark(ErrInvalidGrant, 0).
			WithPublicMessage("authorization code was issued to a different client")
	}
	if code.RedirectURI != "" && code.RedirectURI != req.RedirectURI {
		return nil, errors.Mark(ErrInvalidGrant, 0).
			WithPublicMessage("redirect_uri does not match the authorization request")
	}

	user, err := s.store.FindUserByID(ctx, code.UserID)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed to resolve code owner", 0)
	}

	// One-time use. The invalidate is the linearization point for concurrent
	// redemptions: whoever deletes the row wins, everyone else sees not-found.
	if err := s.store.InvalidateAuthorizationCode(ctx, code.Code); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Mark(ErrInvalidGrant, 0).
				WithPublicMessage("authorization code is invalid")
		}
		return nil, errors.WrapPrefix(err, "failed to consume authorization code", 0)
	}

	return s.mint(ctx, client, user, code.Scope, true)
}

func (s *Server) refreshGrant(ctx context.Context, client *store.Client, req *TokenRequest) (*Grant, error) {
	if req.RefreshToken == "" {
		return nil, errors.Mark(ErrInvalidRequest, 0).
			WithPublicMessage("refresh_token is required")
	}

	rt, err := s.store.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Mark(ErrInvalidGrant, 0).
				WithPublicMessage("refresh token is invalid")
		}
		return nil, errors.WrapPrefix(err, "refresh token lookup failed", 0)
	}
	if rt.Expired(s.now()) {
		return nil, errors.Mark(ErrInvalidGrant, 0).
			WithPublicMessage("refresh token has expired")
	}
	if rt.ClientID != client.ID {
		return nil, errors.Mark(ErrInvalidGrant, 0).
			WithPublicMessage("refresh token was issued to a different client")
	}

	// Scope may only narrow across a refresh, never widen.
	scope, err := NarrowScope(rt.Scope, req.Scope)
	if err != nil {
		return nil, err
	}

	user, err := s.store.FindUserByID(ctx, rt.UserID)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed to resolve token owner", 0)
	}

	if err := s.store.InvalidateRefreshToken(ctx, rt.Token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Mark(ErrInvalidGrant, 0).
				WithPublicMessage("refresh token is invalid")
		}
		return nil, errors.WrapPrefix(err, "failed to consume refresh token", 0)
	}

	return s.mint(ctx, client, user, scope, true)
}

// requestScope applies the request-time scope policy.
func (s *Server) requestScope(client *store.Client, requested string) (string, error) {
	if s.scopeRequired && requested == "" {
		return "", errors.Mark(ErrInvalidScope, 0).
			WithPublicMessage("scope is required")
	}
	return ValidateScope(client.Scopes, requested)
}

// mint generates and persists a token pair.
func (s *Server) mint(ctx context.Context, client *store.Client, user *store.User, scope string, withRefresh bool) (*Grant, error) {
	now := s.now()
	treq := &tokens.Request{
		Client:              client,
		UserID:              user.ID,
		Scope:               scope,
		IssuedAt:            now,
		AccessTokenLifetime: s.accessLifetime(client),
	}
	accessStr, refreshStr, err := s.source.AccessToken(ctx, treq, withRefresh)
	if err != nil {
		return nil, errors.WrapPrefix(err, "token generation failed", 0)
	}

	access := &store.AccessToken{
		Token:     accessStr,
		ExpiresAt: now.Add(s.accessLifetime(client)),
		UserID:    user.ID,
		ClientID:  client.ID,
		Scope:     scope,
	}
	var refresh *store.RefreshToken
	if withRefresh && refreshStr != "" {
		refresh = &store.RefreshToken{
			Token:     refreshStr,
			ExpiresAt: now.Add(s.refreshLifetime(client)),
			UserID:    user.ID,
			ClientID:  client.ID,
			Scope:     scope,
		}
	}

	if err := s.store.SaveToken(ctx, access, refresh); err != nil {
		return nil, errors.WrapPrefix(err, "failed to persist tokens", 0)
	}
	return &Grant{
		AccessToken:  access,
		RefreshToken: refresh,
		Client:       client,
		User:         user,
	}, nil
}
