package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceai-dashboard/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

const (
	// DefaultRange is used when a request carries no date range.
	DefaultRange = 30 * day
	// MaxRange bounds the span of a request.
	MaxRange = 5 * 366 * day
)

// Source supplies a tenant's recent calls. callfeed.Loader is the production
// implementation; it enforces tenant isolation and caching.
type Source interface {
	Recent(ctx context.Context, tenantID string, fresh bool) ([]calls.Record, error)
}

type Config struct {
	Source          Source
	DashboardFeeUSD float64
	Clock           func() time.Time
}

type Service struct {
	source Source
	fee    float64
	clock  func() time.Time
}

func NewService(cfg Config) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{source: cfg.Source, fee: cfg.DashboardFeeUSD, clock: clock}
}

func (s *Service) Overview(ctx context.Context, tenantID string, fresh bool) (Overview, error) {
	rs, err := s.load(ctx, tenantID, fresh)
	if err != nil {
		return Overview{}, err
	}
	return BuildOverview(rs, s.clock(), s.fee), nil
}

func (s *Service) Agents(ctx context.Context, tenantID string, fresh bool) ([]Agent, error) {
	rs, err := s.load(ctx, tenantID, fresh)
	if err != nil {
		return nil, err
	}
	return Agents(rs), nil
}

func (s *Service) Volume(ctx context.Context, req Request) (VolumeSeries, error) {
	rs, tr, err := s.scoped(ctx, req)
	if err != nil {
		return VolumeSeries{}, err
	}
	// the series is inclusive of the last day of the range
	return Volume(rs, tr.From, tr.To.Add(-time.Nanosecond)), nil
}

func (s *Service) Sentiment(ctx context.Context, req Request) (SentimentBreakdown, error) {
	rs, _, err := s.scoped(ctx, req)
	if err != nil {
		return SentimentBreakdown{}, err
	}
	return Sentiment(rs), nil
}

func (s *Service) Outcomes(ctx context.Context, req Request) (OutcomeCounts, error) {
	rs, _, err := s.scoped(ctx, req)
	if err != nil {
		return OutcomeCounts{}, err
	}
	return Outcomes(rs), nil
}

// Metrics compares the requested range with the equally long range before it.
func (s *Service) Metrics(ctx context.Context, req Request) (MetricsReport, error) {
	tr, err := s.normalize(req)
	if err != nil {
		return MetricsReport{}, err
	}
	rs, err := s.load(ctx, req.TenantID, req.Fresh)
	if err != nil {
		return MetricsReport{}, err
	}
	rs = FilterAgent(rs, req.AgentID)
	span := tr.To.Sub(tr.From)
	previous := TimeRange{From: tr.From.Add(-span), To: tr.From}
	return Metrics(InRange(rs, tr), InRange(rs, previous)), nil
}

func (s *Service) AgentStats(ctx context.Context, req Request) ([]AgentStat, error) {
	rs, _, err := s.scoped(ctx, req)
	if err != nil {
		return nil, err
	}
	return AgentStats(rs), nil
}

func (s *Service) Overall(ctx context.Context, req Request) (Stats, error) {
	rs, _, err := s.scoped(ctx, req)
	if err != nil {
		return Stats{}, err
	}
	return Overall(rs), nil
}

func (s *Service) Trends(ctx context.Context, req Request, opts TrendOptions) (TrendSeries, error) {
	rs, _, err := s.scoped(ctx, req)
	if err != nil {
		return TrendSeries{}, err
	}
	return SentimentTrend(rs, opts), nil
}

func (s *Service) scoped(ctx context.Context, req Request) ([]calls.Record, TimeRange, error) {
	tr, err := s.normalize(req)
	if err != nil {
		return nil, TimeRange{}, err
	}
	rs, err := s.load(ctx, req.TenantID, req.Fresh)
	if err != nil {
		return nil, TimeRange{}, err
	}
	return InRange(FilterAgent(rs, req.AgentID), tr), tr, nil
}

// normalize fills a missing range with the DefaultRange ending now.
func (s *Service) normalize(req Request) (TimeRange, error) {
	if req.TenantID == "" {
		return TimeRange{}, ErrInvalidRequest
	}
	tr := req.Range
	if tr.To.IsZero() {
		tr.To = s.clock()
	}
	if tr.From.IsZero() {
		tr.From = tr.To.Add(-DefaultRange)
	}
	if !tr.To.After(tr.From) {
		return TimeRange{}, ErrInvalidRequest
	}
	if tr.From.Before(tr.To.Add(-MaxRange)) {
		return TimeRange{}, fmt.Errorf("%w: range longer than %d days", ErrInvalidRequest, MaxRange/day)
	}
	return tr, nil
}

func (s *Service) load(ctx context.Context, tenantID string, fresh bool) ([]calls.Record, error) {
	if tenantID == "" {
		return nil, ErrInvalidRequest
	}
	if s.source == nil {
		return nil, errors.New("reporting: source not configured")
	}
	return s.source.Recent(ctx, tenantID, fresh)
}
