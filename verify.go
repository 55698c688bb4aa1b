package oauthd

import (
	"context"

	"github.com/dpup/oauthd/errors"
	"github.com/dpup/oauthd/store"
)

// Identity is the resolved result of a successful bearer verification.
type Identity struct {
	User   *store.User
	Client *store.Client
	Scope  string
	Token  *store.AccessToken
}

// HasScope reports whether the identity's granted scope contains the
// required token.
func (id *Identity) HasScope(required string) bool {
	return HasScope(id.Scope, required)
}

type identityKey struct{}

// WithIdentity returns a context carrying a verified identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the verified identity attached by the
// Authenticate middleware, or nil if the request was not authenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// Verify validates a bearer token and resolves the user and client it was
// issued to. Expiry is checked against the stored timestamp at call time;
// expired rows may remain in the store indefinitely without affecting the
// outcome. Verify never mutates state.
func (s *Server) Verify(ctx context.Context, bearer string) (*Identity, error) {
	if bearer == "" {
		return nil, errors.Mark(ErrInvalidToken, 0)
	}

	token, err := s.store.FindAccessToken(ctx, bearer)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Mark(ErrInvalidToken, 0)
		}
		return nil, errors.WrapPrefix(err, "access token lookup failed", 0)
	}
	if token.Expired(s.now()) {
		return nil, errors.Mark(ErrInvalidToken, 0)
	}

	// A token referencing a missing user or client means the store lost an
	// invariant, not that the caller presented a bad credential.
	user, err := s.store.FindUserByID(ctx, token.UserID)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed to resolve token user", 0)
	}
	client, err := s.store.FindClient(ctx, token.ClientID)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed to resolve token client", 0)
	}

	return &Identity{
		User:   user,
		Client: client,
		Scope:  token.Scope,
		Token:  token,
	}, nil
}
