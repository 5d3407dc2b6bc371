package billing

import (
	"context"
	"errors"
	"time"

	"voiceai-dashboard/internal/reporting"
)

var ErrInvalidRequest = errors.New("billing: invalid request")

// Service serves the current cycle from live call data and past cycles from
// the invoice repository.
type Service struct {
	source   reporting.Source
	invoices InvoiceRepository
	fee      float64
	clock    func() time.Time
}

type Config struct {
	Source          reporting.Source
	Invoices        InvoiceRepository
	DashboardFeeUSD float64
	Clock           func() time.Time
}

func NewService(cfg Config) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{source: cfg.Source, invoices: cfg.Invoices, fee: cfg.DashboardFeeUSD, clock: clock}
}

func (s *Service) CurrentCycle(ctx context.Context, tenantID string, fresh bool) (Cycle, error) {
	if tenantID == "" {
		return Cycle{}, ErrInvalidRequest
	}
	if s.source == nil {
		return Cycle{}, errors.New("billing: source not configured")
	}
	rs, err := s.source.Recent(ctx, tenantID, fresh)
	if err != nil {
		return Cycle{}, err
	}
	return CurrentCycle(rs, s.clock(), s.fee), nil
}

func (s *Service) Invoices(ctx context.Context, tenantID string) ([]Invoice, error) {
	if tenantID == "" {
		return nil, ErrInvalidRequest
	}
	if s.invoices == nil {
		return nil, errors.New("billing: invoice repository not configured")
	}
	return s.invoices.ListInvoices(ctx, tenantID)
}
