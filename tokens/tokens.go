// Package tokens generates the credential strings handed out by the
// authorization server. Two sources are provided: opaque random tokens, and
// signed JWT access tokens for resource servers that validate locally.
//
// A Source only mints strings. Persistence, expiry, and revocation are the
// caller's responsibility; even JWT access tokens are stored so they can be
// revoked.
package tokens

import (
	"context"
	"time"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/go-oauth2/oauth2/v4/generates"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dpup/oauthd/errors"
	"github.com/dpup/oauthd/store"
)

// Request carries the inputs a generator may draw on when minting tokens.
type Request struct {
	Client   *store.Client
	UserID   string
	Scope    string
	IssuedAt time.Time

	// Lifetime of the access token, used for the exp claim of JWTs.
	AccessTokenLifetime time.Duration
}

// Source mints credential strings.
type Source interface {
	// AccessToken returns a new access token and, when withRefresh is set, a
	// paired refresh token.
	AccessToken(ctx context.Context, req *Request, withRefresh bool) (access, refresh string, err error)

	// AuthorizationCode returns a new authorization code.
	AuthorizationCode(ctx context.Context, req *Request) (string, error)
}

// clientInfo bridges store.Client to the interface the generators expect.
type clientInfo struct {
	c *store.Client
}

func (ci clientInfo) GetID() string     { return ci.c.ID }
func (ci clientInfo) GetSecret() string { return ci.c.Secret }
func (ci clientInfo) GetDomain() string {
	if len(ci.c.RedirectURIs) > 0 {
		return ci.c.RedirectURIs[0]
	}
	return ""
}
func (ci clientInfo) IsPublic() bool    { return ci.c.Public }
func (ci clientInfo) GetUserID() string { return "" }

// NewOpaqueSource returns a Source producing unstructured random tokens.
// Bearers carry no claims; all meaning lives in the store.
func NewOpaqueSource() Source {
	return &opaqueSource{
		access:    generates.NewAccessGenerate(),
		authorize: generates.NewAuthorizeGenerate(),
	}
}

type opaqueSource struct {
	access    *generates.AccessGenerate
	authorize *generates.AuthorizeGenerate
}

func (s *opaqueSource) AccessToken(ctx context.Context, req *Request, withRefresh bool) (string, string, error) {
	access, refresh, err := s.access.Token(ctx, basic(req), withRefresh)
	if err != nil {
		return "", "", errors.Wrap(err, 0)
	}
	return access, refresh, nil
}

func (s *opaqueSource) AuthorizationCode(ctx context.Context, req *Request) (string, error) {
	code, err := s.authorize.Token(ctx, basic(req))
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	return code, nil
}

func basic(req *Request) *oauth2.GenerateBasic {
	return &oauth2.GenerateBasic{
		Client:   clientInfo{req.Client},
		UserID:   req.UserID,
		CreateAt: req.IssuedAt,
	}
}

// accessClaims is the claim set carried by JWT access tokens.
type accessClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"cid"`
	Scope    string `json:"scope,omitempty"`
}

// NewJWTSource returns a Source whose access tokens are HS256-signed JWTs.
// Refresh tokens and authorization codes stay opaque since only the server
// ever inspects them.
func NewJWTSource(issuer string, signingKey []byte) Source {
	return &jwtSource{
		issuer:    issuer,
		key:       signingKey,
		access:    generates.NewAccessGenerate(),
		authorize: generates.NewAuthorizeGenerate(),
	}
}

type jwtSource struct {
	issuer    string
	key       []byte
	access    *generates.AccessGenerate
	authorize *generates.AuthorizeGenerate
}

func (s *jwtSource) AccessToken(ctx context.Context, req *Request, withRefresh bool) (string, string, error) {
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   req.UserID,
			IssuedAt:  jwt.NewNumericDate(req.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(req.IssuedAt.Add(req.AccessTokenLifetime)),
		},
		ClientID: req.Client.ID,
		Scope:    req.Scope,
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", "", errors.Wrap(err, 0)
	}

	refresh := ""
	if withRefresh {
		_, refresh, err = s.access.Token(ctx, basic(req), true)
		if err != nil {
			return "", "", errors.Wrap(err, 0)
		}
	}
	return access, refresh, nil
}

func (s *jwtSource) AuthorizationCode(ctx context.Context, req *Request) (string, error) {
	code, err := s.authorize.Token(ctx, basic(req))
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	return code, nil
}

// ParseAccessClaims verifies signature and expiry of a JWT minted by a
// NewJWTSource and returns its claims. Useful for resource servers that want
// to skip the introspection round trip.
func ParseAccessClaims(tokenString string, signingKey []byte) (*jwt.RegisteredClaims, string, string, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return nil, "", "", errors.Wrap(err, 0)
	}
	return &claims.RegisteredClaims, claims.ClientID, claims.Scope, nil
}
