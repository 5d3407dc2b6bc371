package audit

import (
	"context"
	"database/sql"
	"sync"

	"voiceai-dashboard/pkg/utils"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests.
// It is not intended for production use.

type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Schema creates audit_events and a trigger that rejects UPDATE and DELETE.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id            TEXT        PRIMARY KEY,
		tenant_id     TEXT        NOT NULL,
		type          TEXT        NOT NULL,
		actor_user_id TEXT        NOT NULL DEFAULT '',
		actor_role    TEXT        NOT NULL DEFAULT '',
		ip_address    TEXT        NOT NULL DEFAULT '',
		service       TEXT        NOT NULL DEFAULT '',
		message       TEXT        NOT NULL DEFAULT '',
		metadata      JSONB,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_events_tenant_created_idx ON audit_events (tenant_id, created_at DESC)`,
	`CREATE OR REPLACE FUNCTION audit_events_immutable() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_events is append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS audit_events_no_mutation ON audit_events`,
	`CREATE TRIGGER audit_events_no_mutation BEFORE UPDATE OR DELETE ON audit_events
		FOR EACH ROW EXECUTE FUNCTION audit_events_immutable()`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	return utils.EnsureSchema(ctx, r.db, Schema...)
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, tenant_id, type, actor_user_id, actor_role, ip_address, service, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '')::jsonb, $10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.TenantID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.Service, e.Message, e.Metadata, e.CreatedAt)
	return err
}
