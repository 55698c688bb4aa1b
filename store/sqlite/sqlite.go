// Package sqlite provides a SQLite implementation of store.Store.
//
// Tables are created optimistically on initialization; any errors are
// considered non-recoverable and will panic unless SafeNew is used.
//
// Examples:
//
//	s := sqlite.New(":memory:")
//
//	s := sqlite.New(
//		"file:oauth.s3db",
//		sqlite.WithPrefix("myapp_"),
//	)
//
//nolint:gosec // Reports on G202. SQL string concat used to parameterize table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dpup/oauthd/errors"
	"github.com/dpup/oauthd/store"

	"github.com/mattn/go-sqlite3"
)

// Option is a functional option for configuring the store.
type Option func(*Store)

// WithPrefix overrides the default prefix for table names.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithHasher overrides the default bcrypt password hasher.
func WithHasher(h store.Hasher) Option {
	return func(s *Store) {
		s.hasher = h
	}
}

// New returns a store that provides sqlite backed storage. Tables are created
// on initialization; failures panic.
func New(conn string, opts ...Option) *Store {
	s, err := SafeNew(conn, opts...)
	if err != nil {
		panic("failed to initialize sqlite store: " + err.Error())
	}
	return s
}

// SafeNew is like New but returns errors instead of panicking.
func SafeNew(conn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed to open sqlite connection", 0)
	}
	// A single connection sidesteps SQLITE_BUSY under concurrent writes and
	// keeps :memory: databases from being re-created per connection.
	db.SetMaxOpenConns(1)
	s := &Store{
		db:     db,
		prefix: "oauth_",
		hasher: store.DefaultHasher,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Store persists OAuth entities in SQLite tables. One-time-use credentials
// are consumed with single DELETE statements so two concurrent redemptions
// cannot both succeed.
type Store struct {
	db     *sql.DB
	prefix string
	hasher store.Hasher
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.prefix + `clients (
			id TEXT PRIMARY KEY,
			secret TEXT NOT NULL,
			name TEXT NOT NULL,
			redirect_uris TEXT NOT NULL,
			grants TEXT NOT NULL,
			scopes TEXT NOT NULL,
			access_token_lifetime INTEGER NOT NULL DEFAULT 0,
			refresh_token_lifetime INTEGER NOT NULL DEFAULT 0,
			public INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.prefix + `users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			password_hash BLOB NOT NULL DEFAULT '',
			is_client INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.prefix + `access_tokens (
			token TEXT PRIMARY KEY,
			expires_at TIMESTAMP NOT NULL,
			user_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.prefix + `refresh_tokens (
			token TEXT PRIMARY KEY,
			expires_at TIMESTAMP NOT NULL,
			user_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.prefix + `auth_codes (
			code TEXT PRIMARY KEY,
			expires_at TIMESTAMP NOT NULL,
			user_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			redirect_uri TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.WrapPrefix(err, "failed to create table", 0)
		}
	}
	return nil
}

// AddClient registers a client.
func (s *Store) AddClient(c store.Client) error {
	uris, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	grants, err := json.Marshal(c.Grants)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.Exec(
		`INSERT INTO `+s.prefix+`clients
		 (id, secret, name, redirect_uris, grants, scopes, access_token_lifetime, refresh_token_lifetime, public, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Secret, c.Name, string(uris), string(grants), string(scopes),
		int64(c.AccessTokenLifetime/time.Second), int64(c.RefreshTokenLifetime/time.Second),
		c.Public, createdAt)
	return translateError(err)
}

// AddUser registers a resource owner, hashing the password before storage.
func (s *Store) AddUser(u store.User, password string) error {
	hashed, err := s.hasher.Generate([]byte(password))
	if err != nil {
		return errors.Wrap(err, 0)
	}
	_, err = s.db.Exec(
		`INSERT INTO `+s.prefix+`users (id, username, name, password_hash, is_client)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Name, hashed, u.IsClient)
	return translateError(err)
}

// FindClient implements store.Store.
func (s *Store) FindClient(ctx context.Context, clientID string) (*store.Client, error) {
	return s.scanClient(s.db.QueryRowContext(ctx,
		`SELECT id, secret, name, redirect_uris, grants, scopes,
		        access_token_lifetime, refresh_token_lifetime, public, created_at
		 FROM `+s.prefix+`clients WHERE id = ?`, clientID))
}

// FindClientWithSecret implements store.Store. The secret comparison happens
// in process so the query plan does not leak whether the id or the secret was
// wrong.
func (s *Store) FindClientWithSecret(ctx context.Context, clientID, secret string) (*store.Client, error) {
	c, err := s.FindClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if c.Secret != secret {
		return nil, errors.Mark(store.ErrNotFound, 0)
	}
	return c, nil
}

func (s *Store) scanClient(row *sql.Row) (*store.Client, error) {
	var c store.Client
	var uris, grants, scopes string
	var accessSecs, refreshSecs int64
	err := row.Scan(&c.ID, &c.Secret, &c.Name, &uris, &grants, &scopes,
		&accessSecs, &refreshSecs, &c.Public, &c.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	if err := json.Unmarshal([]byte(uris), &c.RedirectURIs); err != nil {
		return nil, errors.Wrap(err, 0)
	}
	if err := json.Unmarshal([]byte(grants), &c.Grants); err != nil {
		return nil, errors.Wrap(err, 0)
	}
	if err := json.Unmarshal([]byte(scopes), &c.Scopes); err != nil {
		return nil, errors.Wrap(err, 0)
	}
	c.AccessTokenLifetime = time.Duration(accessSecs) * time.Second
	c.RefreshTokenLifetime = time.Duration(refreshSecs) * time.Second
	return &c, nil
}

// FindUser implements store.Store.
func (s *Store) FindUser(ctx context.Context, username, password string) (*store.User, error) {
	var u store.User
	var hash []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, name, password_hash, is_client
		 FROM `+s.prefix+`users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.Name, &hash, &u.IsClient)
	if err != nil {
		return nil, translateError(err)
	}
	if err := s.hasher.Compare(hash, []byte(password)); err != nil {
		return nil, errors.Mark(store.ErrNotFound, 0)
	}
	return &u, nil
}

// FindUserByID implements store.Store.
func (s *Store) FindUserByID(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, name, is_client
		 FROM `+s.prefix+`users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Name, &u.IsClient)
	if err != nil {
		return nil, translateError(err)
	}
	return &u, nil
}

// DeriveUserFromClient implements store.Store. The derived user row is
// upserted so it resolves through FindUserByID.
func (s *Store) DeriveUserFromClient(ctx context.Context, client *store.Client) (*store.User, error) {
	u := store.User{
		ID:       "client:" + client.ID,
		Username: "client:" + client.ID,
		Name:     client.Name,
		IsClient: true,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.prefix+`users (id, username, name, is_client)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(id) DO NOTHING`,
		u.ID, u.Username, u.Name)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return &u, nil
}

// FindAccessToken implements store.Store.
func (s *Store) FindAccessToken(ctx context.Context, token string) (*store.AccessToken, error) {
	var t store.AccessToken
	err := s.db.QueryRowContext(ctx,
		`SELECT token, expires_at, user_id, client_id, scope
		 FROM `+s.prefix+`access_tokens WHERE token = ?`, token).
		Scan(&t.Token, &t.ExpiresAt, &t.UserID, &t.ClientID, &t.Scope)
	if err != nil {
		return nil, translateError(err)
	}
	return &t, nil
}

// FindRefreshToken implements store.Store.
func (s *Store) FindRefreshToken(ctx context.Context, token string) (*store.RefreshToken, error) {
	var t store.RefreshToken
	err := s.db.QueryRowContext(ctx,
		`SELECT token, expires_at, user_id, client_id, scope
		 FROM `+s.prefix+`refresh_tokens WHERE token = ?`, token).
		Scan(&t.Token, &t.ExpiresAt, &t.UserID, &t.ClientID, &t.Scope)
	if err != nil {
		return nil, translateError(err)
	}
	return &t, nil
}

// FindAuthorizationCode implements store.Store.
func (s *Store) FindAuthorizationCode(ctx context.Context, code string) (*store.AuthorizationCode, error) {
	var c store.AuthorizationCode
	err := s.db.QueryRowContext(ctx,
		`SELECT code, expires_at, user_id, client_id, redirect_uri, scope
		 FROM `+s.prefix+`auth_codes WHERE code = ?`, code).
		Scan(&c.Code, &c.ExpiresAt, &c.UserID, &c.ClientID, &c.RedirectURI, &c.Scope)
	if err != nil {
		return nil, translateError(err)
	}
	return &c, nil
}

// SaveToken implements store.Store. The access token is written first; a
// crash between the two writes leaves an access token without its pair,
// which is the safe degraded state.
func (s *Store) SaveToken(ctx context.Context, access *store.AccessToken, refresh *store.RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.prefix+`access_tokens (token, expires_at, user_id, client_id, scope)
		 VALUES (?, ?, ?, ?, ?)`,
		access.Token, access.ExpiresAt, access.UserID, access.ClientID, access.Scope)
	if err != nil {
		return translateError(err)
	}
	if refresh != nil {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO `+s.prefix+`refresh_tokens (token, expires_at, user_id, client_id, scope)
			 VALUES (?, ?, ?, ?, ?)`,
			refresh.Token, refresh.ExpiresAt, refresh.UserID, refresh.ClientID, refresh.Scope)
		if err != nil {
			return translateError(err)
		}
	}
	return nil
}

// InvalidateRefreshToken implements store.Store. The single DELETE is the
// linearization point; the racer that deletes zero rows lost.
func (s *Store) InvalidateRefreshToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.prefix+`refresh_tokens WHERE token = ?`, token)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return requireOneRow(res)
}

// SaveAuthorizationCode implements store.Store.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *store.AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.prefix+`auth_codes (code, expires_at, user_id, client_id, redirect_uri, scope)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		code.Code, code.ExpiresAt, code.UserID, code.ClientID, code.RedirectURI, code.Scope)
	return translateError(err)
}

// InvalidateAuthorizationCode implements store.Store.
func (s *Store) InvalidateAuthorizationCode(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.prefix+`auth_codes WHERE code = ?`, code)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, 0)
	}
	if n == 0 {
		return errors.Mark(store.ErrNotFound, 0)
	}
	return nil
}

func translateError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(store.ErrNotFound, 0)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrNotFound:
			return errors.Mark(store.ErrNotFound, 0)
		case sqlite3.ErrConstraint:
			return errors.Mark(store.ErrAlreadyExists, 0)
		}
	}
	return errors.MaybeWrap(err, 0)
}
