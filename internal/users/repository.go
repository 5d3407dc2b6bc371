package users

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"voiceai-dashboard/pkg/utils"
)

var ErrNotFound = errors.New("users: not found")

// Profile is the dashboard user's account and billing preferences.
type Profile struct {
	ID              string     `json:"id" db:"id"`
	Email           string     `json:"email" db:"email"`
	BusinessName    string     `json:"business_name" db:"business_name"`
	ContactEmail    string     `json:"contact_email,omitempty" db:"contact_email"`
	PhoneNumber     string     `json:"phone_number,omitempty" db:"phone_number"`
	Timezone        string     `json:"timezone,omitempty" db:"timezone"`
	BillingEmail    string     `json:"billing_email,omitempty" db:"billing_email"`
	EmailVerified   bool       `json:"email_verified" db:"email_verified"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty" db:"email_verified_at"`
	AutopayEnabled  bool       `json:"autopay_enabled" db:"autopay_enabled"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Update carries the fields a user may change; nil means unchanged.
type Update struct {
	BusinessName   *string `json:"business_name"`
	ContactEmail   *string `json:"contact_email"`
	PhoneNumber    *string `json:"phone_number"`
	Timezone       *string `json:"timezone"`
	BillingEmail   *string `json:"billing_email"`
	AutopayEnabled *bool   `json:"autopay_enabled"`
}

func (u Update) Empty() bool {
	return u.BusinessName == nil && u.ContactEmail == nil && u.PhoneNumber == nil &&
		u.Timezone == nil && u.BillingEmail == nil && u.AutopayEnabled == nil
}

func (u Update) apply(p *Profile) {
	if u.BusinessName != nil {
		p.BusinessName = *u.BusinessName
	}
	if u.ContactEmail != nil {
		p.ContactEmail = *u.ContactEmail
	}
	if u.PhoneNumber != nil {
		p.PhoneNumber = *u.PhoneNumber
	}
	if u.Timezone != nil {
		p.Timezone = *u.Timezone
	}
	if u.BillingEmail != nil {
		p.BillingEmail = *u.BillingEmail
	}
	if u.AutopayEnabled != nil {
		p.AutopayEnabled = *u.AutopayEnabled
	}
}

// Repository persists profiles. Update and MarkVerified create the row when
// it does not exist yet.
type Repository interface {
	Get(ctx context.Context, userID string) (Profile, error)
	Update(ctx context.Context, userID string, u Update, at time.Time) error
	MarkVerified(ctx context.Context, userID, email string, at time.Time) error
}

// MemoryRepo is an in-memory profile repository for tests and local runs.
type MemoryRepo struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{profiles: map[string]Profile{}} }

func (r *MemoryRepo) Get(ctx context.Context, userID string) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) Update(ctx context.Context, userID string, u Update, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.profiles[userID]
	p.ID = userID
	u.apply(&p)
	p.UpdatedAt = at
	r.profiles[userID] = p
	return nil
}

func (r *MemoryRepo) MarkVerified(ctx context.Context, userID, email string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.profiles[userID]
	p.ID = userID
	if email != "" {
		p.Email = email
	}
	p.EmailVerified = true
	p.EmailVerifiedAt = &at
	p.UpdatedAt = at
	r.profiles[userID] = p
	return nil
}

// Schema is applied at startup with utils.EnsureSchema.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                TEXT        PRIMARY KEY,
		email             TEXT        NOT NULL DEFAULT '',
		business_name     TEXT        NOT NULL DEFAULT '',
		contact_email     TEXT        NOT NULL DEFAULT '',
		phone_number      TEXT        NOT NULL DEFAULT '',
		timezone          TEXT        NOT NULL DEFAULT '',
		billing_email     TEXT        NOT NULL DEFAULT '',
		email_verified    BOOLEAN     NOT NULL DEFAULT false,
		email_verified_at TIMESTAMPTZ,
		autopay_enabled   BOOLEAN     NOT NULL DEFAULT false,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	return utils.EnsureSchema(ctx, r.db, Schema...)
}

func (r *PostgresRepo) Get(ctx context.Context, userID string) (Profile, error) {
	const q = `
SELECT id, email, business_name, contact_email, phone_number, timezone, billing_email,
       email_verified, email_verified_at, autopay_enabled, updated_at
FROM users
WHERE id = $1
`
	var (
		p          Profile
		verifiedAt sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(
		&p.ID,
		&p.Email,
		&p.BusinessName,
		&p.ContactEmail,
		&p.PhoneNumber,
		&p.Timezone,
		&p.BillingEmail,
		&p.EmailVerified,
		&verifiedAt,
		&p.AutopayEnabled,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time.UTC()
		p.EmailVerifiedAt = &t
	}
	return p, nil
}

// Update reads, merges and writes inside one transaction so concurrent
// partial updates do not lose fields.
func (r *PostgresRepo) Update(ctx context.Context, userID string, u Update, at time.Time) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (id, updated_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, userID, at.UTC()); err != nil {
			return err
		}
		var p Profile
		if err := tx.QueryRowContext(ctx, `
SELECT business_name, contact_email, phone_number, timezone, billing_email, autopay_enabled
FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(
			&p.BusinessName,
			&p.ContactEmail,
			&p.PhoneNumber,
			&p.Timezone,
			&p.BillingEmail,
			&p.AutopayEnabled,
		); err != nil {
			return err
		}
		u.apply(&p)
		_, err := tx.ExecContext(ctx, `
UPDATE users SET business_name = $2, contact_email = $3, phone_number = $4, timezone = $5,
                 billing_email = $6, autopay_enabled = $7, updated_at = $8
WHERE id = $1`,
			userID, p.BusinessName, p.ContactEmail, p.PhoneNumber, p.Timezone, p.BillingEmail, p.AutopayEnabled, at.UTC())
		return err
	})
}

func (r *PostgresRepo) MarkVerified(ctx context.Context, userID, email string, at time.Time) error {
	const q = `
INSERT INTO users (id, email, email_verified, email_verified_at, updated_at)
VALUES ($1, $2, true, $3, $3)
ON CONFLICT (id) DO UPDATE SET
	email = CASE WHEN EXCLUDED.email = '' THEN users.email ELSE EXCLUDED.email END,
	email_verified = true,
	email_verified_at = EXCLUDED.email_verified_at,
	updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q, userID, email, at.UTC())
	return err
}
