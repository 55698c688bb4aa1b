package oauthd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/oauthd/store"
)

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	s, _ := testServer(t)

	t.Run("IssuesCode", func(t *testing.T) {
		auth, err := s.Authorize(ctx, &AuthorizeRequest{
			ResponseType: "code",
			ClientID:     "c1",
			RedirectURI:  "https://app.example.com/callback",
			Scope:        "account edit",
			State:        "opaque-state",
		}, "u1")
		require.NoError(t, err)
		assert.NotEmpty(t, auth.Code.Code)
		assert.Equal(t, "u1", auth.Code.UserID)
		assert.Equal(t, "c1", auth.Code.ClientID)
		assert.Equal(t, "account edit", auth.Code.Scope)
		assert.Equal(t, "https://app.example.com/callback", auth.Code.RedirectURI)
		assert.Equal(t, "opaque-state", auth.State)
	})

	t.Run("CodeExpiryIsShort", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s2 := New(WithStore(s.store),
			WithClock(func() time.Time { return now }),
			WithAuthCodeLifetime(5*time.Minute))
		auth, err := s2.Authorize(ctx, &AuthorizeRequest{
			ResponseType: "code", ClientID: "c1",
			RedirectURI: "https://app.example.com/callback",
		}, "u1")
		require.NoError(t, err)
		assert.Equal(t, now.Add(5*time.Minute), auth.Code.ExpiresAt)
	})

	t.Run("SingleRegisteredURIMayBeOmitted", func(t *testing.T) {
		auth, err := s.Authorize(ctx, &AuthorizeRequest{
			ResponseType: "code", ClientID: "c1",
		}, "u1")
		require.NoError(t, err)
		assert.Equal(t, "https://app.example.com/callback", auth.RedirectURI)
	})

	t.Run("UnregisteredRedirectRejected", func(t *testing.T) {
		_, err := s.Authorize(ctx, &AuthorizeRequest{
			ResponseType: "code", ClientID: "c1",
			RedirectURI: "https://evil.example.com/cb",
		}, "u1")
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("UnknownClient", func(t *testing.T) {
		_, err := s.Authorize(ctx, &AuthorizeRequest{
			ResponseType: "code", ClientID: "nope",
		}, "u1")
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("ClientWithoutCodeGrant", func(t *testing.T) {
		_, db := testServer(t)
		require.NoError(t, db.AddClient(store.Client{
			ID: "machine", Secret: "s2", Name: "Machine",
			Grants: []store.GrantType{store.GrantClientCredentials},
			Scopes: []string{"account"},
		}))
		s2 := New(WithStore(db))
		_, err := s2.Authorize(ctx, &AuthorizeRequest{
			ResponseType: "code", ClientID: "machine",
		}, "u1")
		require.ErrorIs(t, err, ErrUnauthorizedClient)
	})

	t.Run("BadResponseType", func(t *testing.T) {
		_, err := s.Authorize(ctx, &AuthorizeRequest{
			ResponseType: "token", ClientID: "c1",
		}, "u1")
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("UnauthenticatedOwner", func(t *testing.T) {
		_, err := s.Authorize(ctx, &AuthorizeRequest{
			ResponseType: "code", ClientID: "c1",
		}, "")
		require.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("InvalidScope", func(t *testing.T) {
		_, err := s.Authorize(ctx, &AuthorizeRequest{
			ResponseType: "code", ClientID: "c1", Scope: "bogus",
		}, "u1")
		require.ErrorIs(t, err, ErrInvalidScope)
	})
}

func TestDenyAuthorization(t *testing.T) {
	ctx := context.Background()
	s, _ := testServer(t)

	uri, err := s.DenyAuthorization(ctx, &AuthorizeRequest{
		ClientID:    "c1",
		RedirectURI: "https://app.example.com/callback",
	})
	require.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, "https://app.example.com/callback", uri)

	// A denial still refuses to bless an unregistered redirect.
	uri, err = s.DenyAuthorization(ctx, &AuthorizeRequest{
		ClientID:    "c1",
		RedirectURI: "https://evil.example.com/cb",
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, uri)

	// A client barred from the code flow gets unauthorized_client, not a
	// redirect carrying access_denied.
	_, db := testServer(t)
	require.NoError(t, db.AddClient(store.Client{
		ID: "machine", Secret: "s2", Name: "Machine",
		RedirectURIs: []string{"https://machine.example.com/cb"},
		Grants:       []store.GrantType{store.GrantClientCredentials},
		Scopes:       []string{"account"},
	}))
	s2 := New(WithStore(db))
	uri, err = s2.DenyAuthorization(ctx, &AuthorizeRequest{
		ClientID:    "machine",
		RedirectURI: "https://machine.example.com/cb",
	})
	require.ErrorIs(t, err, ErrUnauthorizedClient)
	assert.Empty(t, uri)
}
