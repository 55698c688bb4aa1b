package memstore

import (
	"context"
	"testing"

	"github.com/dpup/oauthd/store"
	"github.com/dpup/oauthd/store/storetests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	storetests.Run(t, func(t *testing.T) store.Store {
		// TestHasher keeps the acceptance suite fast; bcrypt is covered below.
		return New(WithHasher(store.TestHasher))
	})
}

func TestBcryptPasswords(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.AddUser(store.User{ID: "u1", Username: "foo@example.com"}, "hunter2"))

	u, err := s.FindUser(ctx, "foo@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = s.FindUser(ctx, "foo@example.com", "HUNTER2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDuplicateRegistration(t *testing.T) {
	s := New(WithHasher(store.TestHasher))

	require.NoError(t, s.AddClient(store.Client{ID: "c1"}))
	assert.ErrorIs(t, s.AddClient(store.Client{ID: "c1"}), store.ErrAlreadyExists)

	require.NoError(t, s.AddUser(store.User{ID: "u1", Username: "a"}, "pw"))
	assert.ErrorIs(t, s.AddUser(store.User{ID: "u1", Username: "b"}, "pw"), store.ErrAlreadyExists)

	// A second user may not claim an existing username; accepting it would
	// leave the first user unreachable via FindUser.
	assert.ErrorIs(t, s.AddUser(store.User{ID: "u2", Username: "a"}, "pw"), store.ErrAlreadyExists)

	ctx := context.Background()
	u, err := s.FindUser(ctx, "a", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
}

func TestReturnsCopies(t *testing.T) {
	s := New(WithHasher(store.TestHasher))
	ctx := context.Background()

	require.NoError(t, s.AddClient(store.Client{ID: "c1", Name: "Original"}))

	c, err := s.FindClient(ctx, "c1")
	require.NoError(t, err)
	c.Name = "Mutated"

	again, err := s.FindClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Original", again.Name)
}
