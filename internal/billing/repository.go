package billing

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"voiceai-dashboard/pkg/utils"
)

var (
	ErrInvalidInvoice = errors.New("billing: invalid invoice")
	ErrDuplicateCycle = errors.New("billing: invoice already exists for cycle")
)

// InvoiceRepository persists closed billing periods. Reads are tenant-scoped
// and newest first.
type InvoiceRepository interface {
	ListInvoices(ctx context.Context, tenantID string) ([]Invoice, error)
	CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error)
}

func validateInvoice(inv Invoice) error {
	if inv.TenantID == "" || inv.CycleNumber <= 0 || inv.PeriodStart == "" || inv.PeriodEnd == "" {
		return ErrInvalidInvoice
	}
	if inv.PaymentStatus != "" && !inv.PaymentStatus.Valid() {
		return ErrInvalidInvoice
	}
	return nil
}

func prepareInvoice(inv Invoice, now time.Time) Invoice {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.PaymentStatus == "" {
		inv.PaymentStatus = PaymentPending
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now.UTC()
	}
	return inv
}

func newestFirst(a, b Invoice) int {
	if c := cmp.Compare(b.CycleNumber, a.CycleNumber); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// MemoryRepo is an in-memory invoice repository for tests and local runs.
type MemoryRepo struct {
	mu       sync.Mutex
	invoices []Invoice
	clock    func() time.Time
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{clock: time.Now} }

func (r *MemoryRepo) ListInvoices(ctx context.Context, tenantID string) ([]Invoice, error) {
	if tenantID == "" {
		return nil, ErrInvalidInvoice
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invoice, 0)
	for _, inv := range r.invoices {
		if inv.TenantID == tenantID {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, newestFirst)
	return out, nil
}

func (r *MemoryRepo) CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	if err := validateInvoice(inv); err != nil {
		return Invoice{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.invoices {
		if existing.TenantID == inv.TenantID && existing.CycleNumber == inv.CycleNumber {
			return Invoice{}, ErrDuplicateCycle
		}
	}
	inv = prepareInvoice(inv, r.clock())
	r.invoices = append(r.invoices, inv)
	return inv, nil
}

// InvoiceSchema is applied at startup with utils.EnsureSchema.
var InvoiceSchema = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
		id              TEXT          PRIMARY KEY,
		tenant_id       TEXT          NOT NULL,
		cycle_number    INTEGER       NOT NULL,
		period_start    DATE          NOT NULL,
		period_end      DATE          NOT NULL,
		total_amount    NUMERIC(12,2) NOT NULL DEFAULT 0,
		dashboard_fee   NUMERIC(12,2) NOT NULL DEFAULT 0,
		retell_cost     NUMERIC(12,2) NOT NULL DEFAULT 0,
		openrouter_cost NUMERIC(12,2) NOT NULL DEFAULT 0,
		payment_status  TEXT          NOT NULL DEFAULT 'pending',
		paid_at         TIMESTAMPTZ,
		payment_link    TEXT          NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ   NOT NULL DEFAULT now(),
		UNIQUE (tenant_id, cycle_number)
	)`,
}

type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db, clock: time.Now} }

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	return utils.EnsureSchema(ctx, r.db, InvoiceSchema...)
}

func (r *PostgresRepo) ListInvoices(ctx context.Context, tenantID string) ([]Invoice, error) {
	if tenantID == "" {
		return nil, ErrInvalidInvoice
	}
	const q = `
SELECT id, tenant_id, cycle_number, to_char(period_start, 'YYYY-MM-DD'), to_char(period_end, 'YYYY-MM-DD'),
       total_amount, dashboard_fee, retell_cost, openrouter_cost, payment_status, paid_at, payment_link, created_at
FROM invoices
WHERE tenant_id = $1
ORDER BY cycle_number DESC, id DESC
`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Invoice, 0)
	for rows.Next() {
		var (
			inv                           Invoice
			total, fee, retell, openRoute decimal.Decimal
			paidAt                        sql.NullTime
		)
		if err := rows.Scan(
			&inv.ID,
			&inv.TenantID,
			&inv.CycleNumber,
			&inv.PeriodStart,
			&inv.PeriodEnd,
			&total,
			&fee,
			&retell,
			&openRoute,
			&inv.PaymentStatus,
			&paidAt,
			&inv.PaymentLink,
			&inv.CreatedAt,
		); err != nil {
			return nil, err
		}
		inv.TotalAmount = total.InexactFloat64()
		inv.DashboardFee = fee.InexactFloat64()
		inv.RetellCost = retell.InexactFloat64()
		inv.OpenRouterCost = openRoute.InexactFloat64()
		if paidAt.Valid {
			t := paidAt.Time.UTC()
			inv.PaidAt = &t
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	if err := validateInvoice(inv); err != nil {
		return Invoice{}, err
	}
	inv = prepareInvoice(inv, r.clock())
	const q = `
INSERT INTO invoices (id, tenant_id, cycle_number, period_start, period_end, total_amount, dashboard_fee,
                      retell_cost, openrouter_cost, payment_status, paid_at, payment_link, created_at)
VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (tenant_id, cycle_number) DO NOTHING
`
	var paidAt sql.NullTime
	if inv.PaidAt != nil {
		paidAt = sql.NullTime{Time: inv.PaidAt.UTC(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, q,
		inv.ID, inv.TenantID, inv.CycleNumber, inv.PeriodStart, inv.PeriodEnd,
		decimal.NewFromFloat(inv.TotalAmount), decimal.NewFromFloat(inv.DashboardFee),
		decimal.NewFromFloat(inv.RetellCost), decimal.NewFromFloat(inv.OpenRouterCost),
		string(inv.PaymentStatus), paidAt, inv.PaymentLink, inv.CreatedAt,
	)
	if err != nil {
		return Invoice{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Invoice{}, ErrDuplicateCycle
	}
	return inv, nil
}
