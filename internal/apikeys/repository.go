package apikeys

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"voiceai-dashboard/pkg/utils"
)

// Provider is a third-party service whose key a user can connect.
type Provider string

const (
	ProviderRetell     Provider = "retell"
	ProviderOpenRouter Provider = "openrouter"
)

func (p Provider) Valid() bool {
	return p == ProviderRetell || p == ProviderOpenRouter
}

var ErrNotFound = errors.New("apikeys: key not found")

// Key is one stored provider key; at most one per (user, provider).
type Key struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Provider        Provider  `json:"service" db:"service"`
	Sealed          Sealed    `json:"-"`
	Hint            string    `json:"hint" db:"hint"`
	ConnectedAt     time.Time `json:"connected_at" db:"connected_at"`
	LastValidatedAt time.Time `json:"last_validated_at" db:"last_validated_at"`
}

// KeyID is the storage id of a user's key for p.
func KeyID(userID string, p Provider) string {
	return userID + "_" + string(p)
}

type Repository interface {
	Upsert(ctx context.Context, k Key) error
	Get(ctx context.Context, userID string, p Provider) (Key, error)
	Delete(ctx context.Context, userID string, p Provider) error
	TouchValidated(ctx context.Context, userID string, p Provider, at time.Time) error
}

// MemoryRepo is an in-memory key repository for tests and local runs.
type MemoryRepo struct {
	mu   sync.Mutex
	keys map[string]Key
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{keys: map[string]Key{}} }

func (r *MemoryRepo) Upsert(ctx context.Context, k Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[KeyID(k.UserID, k.Provider)] = k
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, userID string, p Provider) (Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[KeyID(userID, p)]
	if !ok {
		return Key{}, ErrNotFound
	}
	return k, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, userID string, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, KeyID(userID, p))
	return nil
}

func (r *MemoryRepo) TouchValidated(ctx context.Context, userID string, p Provider, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := KeyID(userID, p)
	k, ok := r.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.LastValidatedAt = at
	r.keys[id] = k
	return nil
}

// Schema is applied at startup with utils.EnsureSchema.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id                  TEXT        PRIMARY KEY,
		user_id             TEXT        NOT NULL,
		service             TEXT        NOT NULL,
		api_key_encrypted   TEXT        NOT NULL,
		encryption_iv       TEXT        NOT NULL,
		encryption_auth_tag TEXT        NOT NULL,
		hint                TEXT        NOT NULL DEFAULT '',
		connected_at        TIMESTAMPTZ NOT NULL,
		last_validated_at   TIMESTAMPTZ NOT NULL
	)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	return utils.EnsureSchema(ctx, r.db, Schema...)
}

func (r *PostgresRepo) Upsert(ctx context.Context, k Key) error {
	const q = `
INSERT INTO api_keys (id, user_id, service, api_key_encrypted, encryption_iv, encryption_auth_tag, hint, connected_at, last_validated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	api_key_encrypted = EXCLUDED.api_key_encrypted,
	encryption_iv = EXCLUDED.encryption_iv,
	encryption_auth_tag = EXCLUDED.encryption_auth_tag,
	hint = EXCLUDED.hint,
	connected_at = EXCLUDED.connected_at,
	last_validated_at = EXCLUDED.last_validated_at
`
	_, err := r.db.ExecContext(ctx, q,
		KeyID(k.UserID, k.Provider), k.UserID, string(k.Provider),
		k.Sealed.Encrypted, k.Sealed.IV, k.Sealed.AuthTag, k.Hint,
		k.ConnectedAt.UTC(), k.LastValidatedAt.UTC(),
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, userID string, p Provider) (Key, error) {
	const q = `
SELECT id, user_id, service, api_key_encrypted, encryption_iv, encryption_auth_tag, hint, connected_at, last_validated_at
FROM api_keys
WHERE id = $1
`
	var k Key
	if err := r.db.QueryRowContext(ctx, q, KeyID(userID, p)).Scan(
		&k.ID,
		&k.UserID,
		&k.Provider,
		&k.Sealed.Encrypted,
		&k.Sealed.IV,
		&k.Sealed.AuthTag,
		&k.Hint,
		&k.ConnectedAt,
		&k.LastValidatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Key{}, ErrNotFound
		}
		return Key{}, err
	}
	return k, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, userID string, p Provider) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, KeyID(userID, p))
	return err
}

func (r *PostgresRepo) TouchValidated(ctx context.Context, userID string, p Provider, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_validated_at = $2 WHERE id = $1`, KeyID(userID, p), at.UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
