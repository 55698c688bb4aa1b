// Package storetests provides common acceptance tests for store.Store
// implementations. Each adapter package calls Run with a factory that yields
// a fresh, seeded-empty store.
package storetests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dpup/oauthd/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Seeder is implemented by stores that can be populated directly, outside the
// read-side Store contract.
type Seeder interface {
	AddClient(c store.Client) error
	AddUser(u store.User, password string) error
}

func testClient() store.Client {
	return store.Client{
		ID:     "someClient",
		Secret: "superSecret",
		Name:   "Sample client application",
		RedirectURIs: []string{
			"https://app.example.com/callback",
		},
		Grants: []store.GrantType{
			store.GrantClientCredentials,
			store.GrantRefreshToken,
			store.GrantAuthorizationCode,
			store.GrantPassword,
		},
		Scopes: []string{"account", "edit"},
	}
}

func testUser() store.User {
	return store.User{ID: "u1", Username: "foo@example.com", Name: "AzureDiamond"}
}

//nolint:funlen // This is a test helper.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	seeded := func(t *testing.T) store.Store {
		s := newStore(t)
		seeder, ok := s.(Seeder)
		require.True(t, ok, "store must support seeding for acceptance tests")
		require.NoError(t, seeder.AddClient(testClient()))
		require.NoError(t, seeder.AddUser(testUser(), "hunter2"))
		return s
	}

	t.Run("TestClientLookup", func(t *testing.T) {
		s := seeded(t)

		c, err := s.FindClient(ctx, "someClient")
		require.NoError(t, err)
		assert.Equal(t, "someClient", c.ID)
		assert.ElementsMatch(t, []string{"account", "edit"}, c.Scopes)

		_, err = s.FindClient(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)

		c, err = s.FindClientWithSecret(ctx, "someClient", "superSecret")
		require.NoError(t, err)
		assert.Equal(t, "someClient", c.ID)

		_, err = s.FindClientWithSecret(ctx, "someClient", "wrong")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("TestUsernameUniqueness", func(t *testing.T) {
		s := seeded(t)
		seeder := s.(Seeder)

		err := seeder.AddUser(store.User{ID: "u2", Username: "foo@example.com"}, "pw")
		assert.ErrorIs(t, err, store.ErrAlreadyExists)

		// The original owner of the username is untouched.
		u, err := s.FindUser(ctx, "foo@example.com", "hunter2")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
	})

	t.Run("TestUserLookup", func(t *testing.T) {
		s := seeded(t)

		u, err := s.FindUser(ctx, "foo@example.com", "hunter2")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)

		_, err = s.FindUser(ctx, "foo@example.com", "wrong")
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.FindUser(ctx, "who@example.com", "hunter2")
		assert.ErrorIs(t, err, store.ErrNotFound)

		u2, err := s.FindUserByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "foo@example.com", u2.Username)
	})

	t.Run("TestDerivedUser", func(t *testing.T) {
		s := seeded(t)

		c, err := s.FindClient(ctx, "someClient")
		require.NoError(t, err)

		derived, err := s.DeriveUserFromClient(ctx, c)
		require.NoError(t, err)
		assert.True(t, derived.IsClient)
		assert.Equal(t, c.Name, derived.Name)

		// Must resolve through FindUserByID afterwards.
		resolved, err := s.FindUserByID(ctx, derived.ID)
		require.NoError(t, err)
		assert.True(t, resolved.IsClient)

		// Deriving twice yields the same identity.
		again, err := s.DeriveUserFromClient(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, derived.ID, again.ID)
	})

	t.Run("TestTokenRoundTrip", func(t *testing.T) {
		s := seeded(t)
		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

		access := &store.AccessToken{
			Token:     "access-1",
			ExpiresAt: expires,
			UserID:    "u1",
			ClientID:  "someClient",
			Scope:     "account",
		}
		refresh := &store.RefreshToken{
			Token:     "refresh-1",
			ExpiresAt: expires.Add(24 * time.Hour),
			UserID:    "u1",
			ClientID:  "someClient",
			Scope:     "account",
		}
		require.NoError(t, s.SaveToken(ctx, access, refresh))

		a, err := s.FindAccessToken(ctx, "access-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", a.UserID)
		assert.Equal(t, "someClient", a.ClientID)
		assert.Equal(t, "account", a.Scope)
		assert.True(t, a.ExpiresAt.Equal(expires))

		r, err := s.FindRefreshToken(ctx, "refresh-1")
		require.NoError(t, err)
		assert.Equal(t, "account", r.Scope)

		_, err = s.FindAccessToken(ctx, "bogus")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("TestSaveTokenWithoutRefresh", func(t *testing.T) {
		s := seeded(t)

		access := &store.AccessToken{
			Token:     "access-only",
			ExpiresAt: time.Now().Add(time.Hour),
			UserID:    "u1",
			ClientID:  "someClient",
		}
		require.NoError(t, s.SaveToken(ctx, access, nil))

		_, err := s.FindAccessToken(ctx, "access-only")
		require.NoError(t, err)
	})

	t.Run("TestRefreshTokenConsume", func(t *testing.T) {
		s := seeded(t)

		refresh := &store.RefreshToken{
			Token:     "refresh-consume",
			ExpiresAt: time.Now().Add(time.Hour),
			UserID:    "u1",
			ClientID:  "someClient",
		}
		access := &store.AccessToken{
			Token:     "access-consume",
			ExpiresAt: time.Now().Add(time.Hour),
			UserID:    "u1",
			ClientID:  "someClient",
		}
		require.NoError(t, s.SaveToken(ctx, access, refresh))

		require.NoError(t, s.InvalidateRefreshToken(ctx, "refresh-consume"))

		_, err := s.FindRefreshToken(ctx, "refresh-consume")
		assert.ErrorIs(t, err, store.ErrNotFound)

		err = s.InvalidateRefreshToken(ctx, "refresh-consume")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("TestRefreshTokenConsumeRace", func(t *testing.T) {
		s := seeded(t)

		refresh := &store.RefreshToken{
			Token:     "refresh-race",
			ExpiresAt: time.Now().Add(time.Hour),
			UserID:    "u1",
			ClientID:  "someClient",
		}
		access := &store.AccessToken{
			Token:     "access-race",
			ExpiresAt: time.Now().Add(time.Hour),
			UserID:    "u1",
			ClientID:  "someClient",
		}
		require.NoError(t, s.SaveToken(ctx, access, refresh))

		const racers = 16
		var wg sync.WaitGroup
		wins := make(chan struct{}, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.InvalidateRefreshToken(ctx, "refresh-race"); err == nil {
					wins <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(wins)

		assert.Len(t, wins, 1, "exactly one concurrent redemption may win")
	})

	t.Run("TestAuthorizationCodeLifecycle", func(t *testing.T) {
		s := seeded(t)

		code := &store.AuthorizationCode{
			Code:        "code-1",
			ExpiresAt:   time.Now().Add(10 * time.Minute),
			UserID:      "u1",
			ClientID:    "someClient",
			RedirectURI: "https://app.example.com/callback",
			Scope:       "account",
		}
		require.NoError(t, s.SaveAuthorizationCode(ctx, code))

		found, err := s.FindAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		assert.Equal(t, "https://app.example.com/callback", found.RedirectURI)

		require.NoError(t, s.InvalidateAuthorizationCode(ctx, "code-1"))

		_, err = s.FindAuthorizationCode(ctx, "code-1")
		assert.ErrorIs(t, err, store.ErrNotFound)

		err = s.InvalidateAuthorizationCode(ctx, "code-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("TestExpiredRowsRetained", func(t *testing.T) {
		s := seeded(t)

		access := &store.AccessToken{
			Token:     "access-expired",
			ExpiresAt: time.Now().Add(-time.Hour),
			UserID:    "u1",
			ClientID:  "someClient",
		}
		require.NoError(t, s.SaveToken(ctx, access, nil))

		// Lookup still succeeds; expiry enforcement belongs to the engines.
		found, err := s.FindAccessToken(ctx, "access-expired")
		require.NoError(t, err)
		assert.True(t, found.Expired(time.Now()))
	})
}
