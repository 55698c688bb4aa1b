// Package memstore provides an in-memory implementation of store.Store,
// suitable for tests and single-process deployments.
//
// Examples:
//
//	s := memstore.New()
//	s.AddClient(store.Client{ID: "app", Secret: "shhh", Scopes: []string{"read"}})
//	s.AddUser(store.User{ID: "u1", Username: "foo@example.com"}, "hunter2")
package memstore

import (
	"context"
	"sync"

	"github.com/dpup/oauthd/errors"
	"github.com/dpup/oauthd/store"
)

// Option is a functional option for configuring the store.
type Option func(*Store)

// WithHasher overrides the default bcrypt password hasher.
func WithHasher(h store.Hasher) Option {
	return func(s *Store) {
		s.hasher = h
	}
}

// New returns an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		hasher:    store.DefaultHasher,
		clients:   make(map[string]store.Client),
		users:     make(map[string]store.User),
		passwords: make(map[string][]byte),
		usernames: make(map[string]string),
		access:    make(map[string]store.AccessToken),
		refresh:   make(map[string]store.RefreshToken),
		codes:     make(map[string]store.AuthorizationCode),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store keeps all entities in mutex-guarded maps. The single write lock makes
// the consume-then-invalidate operations trivially atomic.
type Store struct {
	mu     sync.RWMutex
	hasher store.Hasher

	clients   map[string]store.Client
	users     map[string]store.User // keyed by user ID
	passwords map[string][]byte     // user ID -> hashed password
	usernames map[string]string     // username -> user ID
	access    map[string]store.AccessToken
	refresh   map[string]store.RefreshToken
	codes     map[string]store.AuthorizationCode
}

// AddClient registers a client handed out by FindClient.
func (s *Store) AddClient(c store.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[c.ID]; exists {
		return errors.Mark(store.ErrAlreadyExists, 0)
	}
	s.clients[c.ID] = c
	return nil
}

// AddUser registers a resource owner. The plaintext password is hashed here
// and only the hash is retained.
func (s *Store) AddUser(u store.User, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return errors.Mark(store.ErrAlreadyExists, 0)
	}
	if _, exists := s.usernames[u.Username]; exists {
		return errors.Mark(store.ErrAlreadyExists, 0)
	}
	hashed, err := s.hasher.Generate([]byte(password))
	if err != nil {
		return errors.Wrap(err, 0)
	}
	s.users[u.ID] = u
	s.passwords[u.ID] = hashed
	s.usernames[u.Username] = u.ID
	return nil
}

// FindClient implements store.Store.
func (s *Store) FindClient(_ context.Context, clientID string) (*store.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, errors.Mark(store.ErrNotFound, 0)
	}
	return &c, nil
}

// FindClientWithSecret implements store.Store.
func (s *Store) FindClientWithSecret(_ context.Context, clientID, secret string) (*store.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok || c.Secret != secret {
		return nil, errors.Mark(store.ErrNotFound, 0)
	}
	return &c, nil
}

// FindUser implements store.Store.
func (s *Store) FindUser(_ context.Context, username, password string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, errors.Mark(store.ErrNotFound, 0)
	}
	if err := s.hasher.Compare(s.passwords[id], []byte(password)); err != nil {
		return nil, errors.Mark(store.ErrNotFound, 0)
	}
	u := s.users[id]
	return &u, nil
}

// FindUserByID implements store.Store.
func (s *Store) FindUserByID(_ context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errors.Mark(store.ErrNotFound, 0)
	}
	return &u, nil
}

// DeriveUserFromClient implements store.Store. The derived user is registered
// so token verification can resolve it later.
func (s *Store) DeriveUserFromClient(_ context.Context, client *store.Client) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[derivedUserID(client.ID)]
	if !ok {
		u = store.User{
			ID:       derivedUserID(client.ID),
			Name:     client.Name,
			IsClient: true,
		}
		s.users[u.ID] = u
	}
	return &u, nil
}

// FindAccessToken implements store.Store.
func (s *Store) FindAccessToken(_ context.Context, token string) (*store.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.access[token]
	if !ok {
		return nil, errors.Mark(store.ErrNotFound, 0)
	}
	return &t, nil
}

// FindRefreshToken implements store.Store.
func (s *Store) FindRefreshToken(_ context.Context, token string) (*store.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.refresh[token]
	if !ok {
		return nil, errors.Mark(store.ErrNotFound, 0)
	}
	return &t, nil
}

// FindAuthorizationCode implements store.Store.
func (s *Store) FindAuthorizationCode(_ context.Context, code string) (*store.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, errors.Mark(store.ErrNotFound, 0)
	}
	return &c, nil
}

// SaveToken implements store.Store. Both writes happen under one lock, access
// token first.
func (s *Store) SaveToken(_ context.Context, access *store.AccessToken, refresh *store.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.access[access.Token]; exists {
		return errors.Mark(store.ErrAlreadyExists, 0)
	}
	s.access[access.Token] = *access
	if refresh != nil {
		s.refresh[refresh.Token] = *refresh
	}
	return nil
}

// InvalidateRefreshToken implements store.Store. Delete-under-lock gives the
// at-most-one-winner guarantee.
func (s *Store) InvalidateRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refresh[token]; !ok {
		return errors.Mark(store.ErrNotFound, 0)
	}
	delete(s.refresh, token)
	return nil
}

// SaveAuthorizationCode implements store.Store.
func (s *Store) SaveAuthorizationCode(_ context.Context, code *store.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return errors.Mark(store.ErrAlreadyExists, 0)
	}
	s.codes[code.Code] = *code
	return nil
}

// InvalidateAuthorizationCode implements store.Store.
func (s *Store) InvalidateAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code]; !ok {
		return errors.Mark(store.ErrNotFound, 0)
	}
	delete(s.codes, code)
	return nil
}

func derivedUserID(clientID string) string {
	return "client:" + clientID
}
