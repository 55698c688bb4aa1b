// Package oauthd implements an OAuth2 authorization server core: grant
// validation, token issuance, bearer verification, and scope enforcement for
// the four standard grant types. Persistence is delegated to a store.Store;
// HTTP glue is provided by TokenHandler, AuthorizeHandler, and the
// Authenticate middleware, but the protocol engines are plain methods usable
// from any transport.
//
// Basic usage:
//
//	db := memstore.New()
//	srv := oauthd.New(oauthd.WithStore(db))
//	mux.Handle("/oauth/", srv.Handler())
//	mux.Handle("/api/", srv.Authenticate(apiHandler))
package oauthd

import (
	"time"

	"google.golang.org/grpc/codes"

	"github.com/dpup/oauthd/errors"
	"github.com/dpup/oauthd/internal/config"
	"github.com/dpup/oauthd/store"
	"github.com/dpup/oauthd/tokens"
)

// The closed error taxonomy. Error() yields the wire code; descriptions are
// attached per-site with WithPublicMessage. HTTP statuses follow the OAuth2
// convention: 400 for request-class failures, 401 for bearer failures, 403
// for scope failures.
var (
	ErrInvalidRequest       = errors.NewC("invalid_request", codes.InvalidArgument)
	ErrInvalidClient        = errors.NewC("invalid_client", codes.Unauthenticated).WithHTTPStatusCode(400)
	ErrInvalidGrant         = errors.NewC("invalid_grant", codes.InvalidArgument)
	ErrInvalidScope         = errors.NewC("invalid_scope", codes.InvalidArgument)
	ErrUnsupportedGrantType = errors.NewC("unsupported_grant_type", codes.InvalidArgument)
	ErrUnauthorizedClient   = errors.NewC("unauthorized_client", codes.InvalidArgument)
	ErrAccessDenied         = errors.NewC("access_denied", codes.PermissionDenied)
	ErrInvalidToken         = errors.NewC("invalid_token", codes.Unauthenticated)
	ErrInsufficientScope    = errors.NewC("insufficient_scope", codes.PermissionDenied)
	ErrServerError          = errors.NewC("server_error", codes.Internal)
)

// Option customizes a Server, overriding the config-derived defaults.
type Option func(*Server)

// WithStore sets the credential store. Required.
func WithStore(db store.Store) Option {
	return func(s *Server) {
		s.store = db
	}
}

// WithTokenSource overrides the token generator selected by
// oauth.tokenFormat.
func WithTokenSource(src tokens.Source) Option {
	return func(s *Server) {
		s.source = src
	}
}

// WithIssuer sets the issuer identifier used in metadata and JWT claims.
func WithIssuer(issuer string) Option {
	return func(s *Server) {
		s.issuer = issuer
	}
}

// WithAccessTokenLifetime sets the default access token lifetime, used when a
// client does not carry its own.
func WithAccessTokenLifetime(d time.Duration) Option {
	return func(s *Server) {
		s.accessTokenLifetime = d
	}
}

// WithRefreshTokenLifetime sets the default refresh token lifetime.
func WithRefreshTokenLifetime(d time.Duration) Option {
	return func(s *Server) {
		s.refreshTokenLifetime = d
	}
}

// WithAuthCodeLifetime sets the authorization code lifetime. Codes are
// short-lived; minutes, not hours.
func WithAuthCodeLifetime(d time.Duration) Option {
	return func(s *Server) {
		s.authCodeLifetime = d
	}
}

// WithScopeRequired makes scope mandatory on token requests.
func WithScopeRequired(required bool) Option {
	return func(s *Server) {
		s.scopeRequired = required
	}
}

// WithRequiredScope sets a scope token that every bearer must carry to pass
// the Authenticate middleware.
func WithRequiredScope(scope string) Option {
	return func(s *Server) {
		s.requiredScope = scope
	}
}

// WithBearerInQueryString allows bearers to be passed via the access_token
// query parameter. Off by default; query strings end up in logs.
func WithBearerInQueryString(allow bool) Option {
	return func(s *Server) {
		s.allowBearerInQuery = allow
	}
}

// WithClientCredentialsRefresh issues refresh tokens on client_credentials
// grants. Most deployments leave this off; the client can always re-auth.
func WithClientCredentialsRefresh(allow bool) Option {
	return func(s *Server) {
		s.ccRefresh = allow
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// Server holds the immutable configuration for the protocol engines. It keeps
// no per-request state; concurrency safety is inherited from the store.
type Server struct {
	store  store.Store
	source tokens.Source
	issuer string

	accessTokenLifetime  time.Duration
	refreshTokenLifetime time.Duration
	authCodeLifetime     time.Duration

	scopeRequired      bool
	requiredScope      string
	allowBearerInQuery bool
	ccRefresh          bool

	now func() time.Time
}

// New constructs a Server. Defaults come from the global Config (see the
// oauth.* keys); options override. Panics if no store is provided or the
// configured token format is unknown, since the server cannot function.
func New(opts ...Option) *Server {
	config.EnsureDefaultsLoaded(Config)

	s := &Server{
		issuer:               Config.String("oauth.issuer"),
		accessTokenLifetime:  Config.Duration("oauth.accessTokenLifetime"),
		refreshTokenLifetime: Config.Duration("oauth.refreshTokenLifetime"),
		authCodeLifetime:     Config.Duration("oauth.authCodeLifetime"),
		scopeRequired:        Config.Bool("oauth.scopeRequired"),
		requiredScope:        Config.String("oauth.requiredScope"),
		allowBearerInQuery:   Config.Bool("oauth.allowBearerInQueryString"),
		ccRefresh:            Config.Bool("oauth.clientCredentialsRefresh"),
		now:                  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		panic("oauthd: a store is required, use WithStore")
	}
	if s.source == nil {
		switch format := Config.String("oauth.tokenFormat"); format {
		case "", "opaque":
			s.source = tokens.NewOpaqueSource()
		case "jwt":
			key := Config.Bytes("oauth.jwt.signingKey")
			if len(key) == 0 {
				panic("oauthd: oauth.jwt.signingKey is required for the jwt token format")
			}
			s.source = tokens.NewJWTSource(s.issuer, key)
		default:
			panic("oauthd: unknown token format: " + format)
		}
	}
	return s
}

// accessLifetime returns the access token lifetime for a client, preferring
// the client's own setting.
func (s *Server) accessLifetime(c *store.Client) time.Duration {
	if c.AccessTokenLifetime > 0 {
		return c.AccessTokenLifetime
	}
	return s.accessTokenLifetime
}

func (s *Server) refreshLifetime(c *store.Client) time.Duration {
	if c.RefreshTokenLifetime > 0 {
		return c.RefreshTokenLifetime
	}
	return s.refreshTokenLifetime
}
