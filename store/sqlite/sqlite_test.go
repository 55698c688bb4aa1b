package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/oauthd/store"
	"github.com/dpup/oauthd/store/storetests"
)

func newTestStore(t *testing.T) *Store {
	s := New(":memory:", WithHasher(store.TestHasher))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetests.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestTablePrefix(t *testing.T) {
	s := New(":memory:", WithPrefix("custom_"), WithHasher(store.TestHasher))
	defer s.Close()

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'custom_%'`).
		Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestDuplicateClient(t *testing.T) {
	s := newTestStore(t)
	c := store.Client{ID: "c1", Name: "App", RedirectURIs: []string{},
		Grants: []store.GrantType{store.GrantClientCredentials}, Scopes: []string{}}
	require.NoError(t, s.AddClient(c))
	assert.ErrorIs(t, s.AddClient(c), store.ErrAlreadyExists)
}

func TestLifetimeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddClient(store.Client{
		ID:                   "c1",
		Name:                 "App",
		RedirectURIs:         []string{"https://a.example.com/cb"},
		Grants:               []store.GrantType{store.GrantPassword},
		Scopes:               []string{"account"},
		AccessTokenLifetime:  30 * time.Minute,
		RefreshTokenLifetime: 72 * time.Hour,
	}))

	c, err := s.FindClient(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, c.AccessTokenLifetime)
	assert.Equal(t, 72*time.Hour, c.RefreshTokenLifetime)
	assert.True(t, c.AllowsRedirectURI("https://a.example.com/cb"))
}
