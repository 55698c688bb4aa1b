// Package store defines the credential-store contract the OAuth engines
// depend on, along with the entities it owns: clients, users, access and
// refresh tokens, and authorization codes.
//
// The engines never cache these entities beyond a single request; all durable
// state lives behind a Store implementation. Three implementations ship with
// oauthd: memstore (in-memory), sqlite, and postgres.
package store

import (
	"context"
	"time"

	"github.com/dpup/oauthd/errors"
	"google.golang.org/grpc/codes"
)

// Errors returned by Store implementations.
var (
	// ErrNotFound indicates the requested entity does not exist. For the
	// Invalidate operations it is also how the loser of a concurrent
	// redemption learns the token was already consumed.
	ErrNotFound = errors.NewC("not found", codes.NotFound)

	// ErrAlreadyExists indicates a unique key collision on create.
	ErrAlreadyExists = errors.NewC("already exists", codes.AlreadyExists)
)

// GrantType enumerates the supported OAuth2 grant flows.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Client represents a registered OAuth2 client application. Clients are
// immutable during a grant.
type Client struct {
	// ID is the unique client identifier.
	ID string
	// Secret is the client secret for confidential clients. Leave empty for
	// public clients.
	Secret string
	// Name is a human-readable name for the client.
	Name string
	// RedirectURIs is the list of allowed redirect URIs for the
	// authorization code flow.
	RedirectURIs []string
	// Grants is the set of grant types the client may use.
	Grants []GrantType
	// Scopes is the list of allowed scopes for this client.
	Scopes []string
	// AccessTokenLifetime overrides the server default when non-zero.
	AccessTokenLifetime time.Duration
	// RefreshTokenLifetime overrides the server default when non-zero.
	RefreshTokenLifetime time.Duration
	// Public indicates a client without a secret (e.g. mobile/SPA apps).
	Public bool
	// CreatedAt is when the client was registered.
	CreatedAt time.Time
}

// AllowsGrant reports whether the client may use the given grant type.
func (c *Client) AllowsGrant(g GrantType) bool {
	for _, allowed := range c.Grants {
		if allowed == g {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether the URI exactly matches a registered
// redirect URI.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, allowed := range c.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

// User is a resource owner. For client-credentials grants a synthetic user is
// derived from the client, flagged with IsClient.
type User struct {
	ID       string
	Username string
	Name     string
	IsClient bool
}

// AccessToken is a bearer credential for protected-resource access. Created
// atomically with its paired RefreshToken and immutable once issued.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
	ClientID  string
	Scope     string
}

// Expired reports whether the token's expiry is in the past. Expiry is
// compared at verification time; stores may retain expired rows.
func (t *AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// RefreshToken is a one-time-use credential for minting a fresh token pair.
type RefreshToken struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
	ClientID  string
	Scope     string
}

// Expired reports whether the token's expiry is in the past.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// AuthorizationCode is a short-lived, one-time-use credential exchanged for a
// token pair in the authorization-code flow.
type AuthorizationCode struct {
	Code        string
	ExpiresAt   time.Time
	UserID      string
	ClientID    string
	RedirectURI string
	Scope       string
}

// Expired reports whether the code's expiry is in the past.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// Store is the credential-store adapter consumed by the OAuth engines.
//
// Find methods return ErrNotFound when the entity is absent; credential-taking
// variants (FindClientWithSecret, FindUser) return ErrNotFound for a
// credential mismatch too, so callers cannot distinguish a bad secret from a
// missing record.
//
// The Invalidate methods are the linearization points for one-time-use
// credentials: they must atomically remove the record, and exactly one of any
// number of concurrent calls for the same token may succeed. Losers receive
// ErrNotFound.
type Store interface {
	// FindClient looks up a client by ID without authenticating it. Used for
	// the authorization endpoint and for public-client token exchanges.
	FindClient(ctx context.Context, clientID string) (*Client, error)

	// FindClientWithSecret looks up a client and verifies its secret.
	FindClientWithSecret(ctx context.Context, clientID, secret string) (*Client, error)

	// FindUser authenticates a resource owner by username and password. The
	// store owns credential verification; the engines never see hashes.
	FindUser(ctx context.Context, username, password string) (*User, error)

	// FindUserByID resolves a user reference stored on a token.
	FindUserByID(ctx context.Context, id string) (*User, error)

	// DeriveUserFromClient returns the synthetic user that represents a
	// client in the client-credentials flow. The derived user must be
	// resolvable through FindUserByID afterwards.
	DeriveUserFromClient(ctx context.Context, client *Client) (*User, error)

	// FindAccessToken looks up an access token by its string.
	FindAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// FindRefreshToken looks up a refresh token by its string.
	FindRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// FindAuthorizationCode looks up an authorization code by its string.
	FindAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// SaveToken persists a new access token and, when non-nil, its paired
	// refresh token. Implementations must write the refresh token last so a
	// crash can only leave an access token without its pair, never the
	// reverse.
	SaveToken(ctx context.Context, access *AccessToken, refresh *RefreshToken) error

	// InvalidateRefreshToken atomically consumes a refresh token.
	InvalidateRefreshToken(ctx context.Context, token string) error

	// SaveAuthorizationCode persists a new authorization code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// InvalidateAuthorizationCode atomically consumes an authorization code.
	InvalidateAuthorizationCode(ctx context.Context, code string) error
}
