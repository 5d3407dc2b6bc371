package callstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voiceai-dashboard/pkg/utils"

	"github.com/jackc/pgx/v5"
)

// NotifyChannel is the Postgres LISTEN channel; the payload is the tenant id.
const NotifyChannel = "calls_changed"

// Schema is applied at startup with utils.EnsureSchema.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS calls (
		id         TEXT        NOT NULL,
		tenant_id  TEXT        NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		doc        JSONB       NOT NULL DEFAULT '{}'::jsonb,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS calls_tenant_created_idx ON calls (tenant_id, created_at DESC, id DESC)`,
	`CREATE OR REPLACE FUNCTION notify_calls_changed() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + NotifyChannel + `', NEW.tenant_id);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS calls_changed_notify ON calls`,
	`CREATE TRIGGER calls_changed_notify AFTER INSERT OR UPDATE ON calls
		FOR EACH ROW EXECUTE FUNCTION notify_calls_changed()`,
}

// PostgresStore reads call documents from the calls table through database/sql
// (pgx stdlib driver) and subscribes to changes with a dedicated pgx connection.
type PostgresStore struct {
	db  *sql.DB
	dsn string
}

// NewPostgresStore needs the DSN in addition to the pool because LISTEN
// requires a connection that outlives any single query.
func NewPostgresStore(db *sql.DB, dsn string) *PostgresStore {
	return &PostgresStore{db: db, dsn: dsn}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return utils.EnsureSchema(ctx, s.db, Schema...)
}

// Put upserts documents in one transaction; the trigger notifies watchers.
func (s *PostgresStore) Put(ctx context.Context, docs ...Document) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, d := range docs {
			raw, err := json.Marshal(d.Data)
			if err != nil {
				return fmt.Errorf("callstore: encode %s: %w", d.ID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO calls (id, tenant_id, created_at, doc) VALUES ($1, $2, $3, $4)
				ON CONFLICT (tenant_id, id) DO UPDATE SET created_at = EXCLUDED.created_at, doc = EXCLUDED.doc`,
				d.ID, d.TenantID, d.CreatedAt.UTC().Truncate(time.Millisecond), raw)
			if err != nil {
				return unavailable(err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if q.TenantID == "" {
		return nil, ErrTenantRequired
	}

	var (
		b    strings.Builder
		args = []any{q.TenantID}
	)
	b.WriteString(`SELECT id, tenant_id, created_at, doc FROM calls WHERE tenant_id = $1`)
	if q.AgentID != "" {
		args = append(args, q.AgentID)
		fmt.Fprintf(&b, ` AND doc->>'agentId' = $%d`, len(args))
	}
	if q.After != nil {
		args = append(args, q.After.CreatedAt.UTC(), q.After.ID)
		fmt.Fprintf(&b, ` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	b.WriteString(` ORDER BY created_at DESC, id DESC`)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, id string) (Document, error) {
	if tenantID == "" {
		return Document{}, ErrTenantRequired
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, created_at, doc FROM calls WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return d, err
}

func (s *PostgresStore) Watch(ctx context.Context, q Query) (<-chan Snapshot, error) {
	if q.TenantID == "" {
		return nil, ErrTenantRequired
	}

	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, unavailable(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, unavailable(err)
	}

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())

		for {
			docs, err := s.Query(ctx, q)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- Snapshot{Documents: docs, Err: err}:
			case <-ctx.Done():
				return
			}

			if err := s.waitForTenant(ctx, conn, q.TenantID); err != nil {
				if ctx.Err() == nil {
					select {
					case out <- Snapshot{Err: unavailable(err)}:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()
	return out, nil
}

func (s *PostgresStore) waitForTenant(ctx context.Context, conn *pgx.Conn, tenantID string) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Payload == tenantID {
			return nil
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (Document, error) {
	var (
		d   Document
		raw []byte
	)
	if err := r.Scan(&d.ID, &d.TenantID, &d.CreatedAt, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, err
		}
		return Document{}, unavailable(err)
	}
	d.CreatedAt = d.CreatedAt.UTC()

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&d.Data); err != nil {
		return Document{}, fmt.Errorf("callstore: decode %s: %w", d.ID, err)
	}
	return d, nil
}

// unavailable classifies driver errors; context cancellation passes through untouched.
func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
