package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"voiceai-dashboard/internal/calls"
)

func TestBillableMinutes(t *testing.T) {
	if got := billableMinutes(1); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := billableMinutes(60); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := billableMinutes(61); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := billableMinutes(0); got != 0 {
		t.Fatalf("expected 0 for unconnected call, got %d", got)
	}
	if got := billableMinutes(-5); got != 0 {
		t.Fatalf("expected 0 for negative duration, got %d", got)
	}
}

func TestCycleNumber(t *testing.T) {
	if got := CycleNumber(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)); got != 1 {
		t.Fatalf("expected cycle 1, got %d", got)
	}
	if got := CycleNumber(time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)); got != 15 {
		t.Fatalf("expected cycle 15, got %d", got)
	}
}

func TestCurrentCycle_RollsUpMonth(t *testing.T) {
	now := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)
	rs := []calls.Record{
		{ID: "c1", StartTime: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), DurationSeconds: 61, CostUSD: 0.25},
		{ID: "c2", StartTime: time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC), DurationSeconds: 29, CostUSD: 0.10},
		{ID: "c2", StartTime: time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC), DurationSeconds: 29, CostUSD: 0.10},
		{ID: "old", StartTime: time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC), DurationSeconds: 600, CostUSD: 5},
	}
	c := CurrentCycle(rs, now, 49)

	if c.CycleNumber != 2 || c.PeriodStart != "2026-02-01" || c.PeriodEnd != "2026-02-28" {
		t.Fatalf("unexpected period: %+v", c)
	}
	if c.DaysRemaining != 18 || c.InvoiceDate != "2026-03-01" {
		t.Fatalf("unexpected schedule: %+v", c)
	}
	if c.Usage.Calls != 2 || c.Usage.BillableMinutes != 3 || c.Usage.RetellMinutes != 1.5 {
		t.Fatalf("unexpected usage: %+v", c.Usage)
	}
	if c.Costs.RetellPassthrough != 0.35 || c.Costs.TotalProjected != 49.35 {
		t.Fatalf("unexpected costs: %+v", c.Costs)
	}
}

type fakeSource struct{ records []calls.Record }

func (f fakeSource) Recent(ctx context.Context, tenantID string, fresh bool) ([]calls.Record, error) {
	return f.records, nil
}

func TestService_CurrentCycleAndInvoices(t *testing.T) {
	now := time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)
	repo := NewMemoryRepo()
	ctx := context.Background()
	for _, inv := range []Invoice{
		{TenantID: "t1", CycleNumber: 2, PeriodStart: "2026-02-01", PeriodEnd: "2026-02-28", TotalAmount: 60},
		{TenantID: "t1", CycleNumber: 3, PeriodStart: "2026-03-01", PeriodEnd: "2026-03-31", TotalAmount: 70},
		{TenantID: "t2", CycleNumber: 3, PeriodStart: "2026-03-01", PeriodEnd: "2026-03-31", TotalAmount: 80},
	} {
		if _, err := repo.CreateInvoice(ctx, inv); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	svc := NewService(Config{Source: fakeSource{}, Invoices: repo, DashboardFeeUSD: 49, Clock: func() time.Time { return now }})

	invs, err := svc.Invoices(ctx, "t1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(invs) != 2 || invs[0].CycleNumber != 3 || invs[0].PaymentStatus != PaymentPending || invs[0].ID == "" {
		t.Fatalf("unexpected invoices: %+v", invs)
	}

	c, err := svc.CurrentCycle(ctx, "t1", false)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.CycleNumber != 4 || c.Costs.TotalProjected != 49 {
		t.Fatalf("unexpected cycle: %+v", c)
	}

	if _, err := svc.CurrentCycle(ctx, "", false); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestMemoryRepo_RejectsDuplicateCycle(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	inv := Invoice{TenantID: "t", CycleNumber: 1, PeriodStart: "2026-01-01", PeriodEnd: "2026-01-31"}
	if _, err := repo.CreateInvoice(ctx, inv); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.CreateInvoice(ctx, inv); !errors.Is(err, ErrDuplicateCycle) {
		t.Fatalf("expected duplicate cycle, got %v", err)
	}
	if _, err := repo.CreateInvoice(ctx, Invoice{TenantID: "t", CycleNumber: 2, PeriodStart: "x", PeriodEnd: "y", PaymentStatus: "refunded"}); !errors.Is(err, ErrInvalidInvoice) {
		t.Fatalf("expected invalid invoice, got %v", err)
	}
}
