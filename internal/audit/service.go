package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Actor identifies who caused an event.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogKeyEvent records storage, removal or reveal of a provider API key.
func (s *Service) LogKeyEvent(ctx context.Context, tenantID string, typ EventType, actor Actor, service string) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        typ,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		Service:     service,
		Message:     string(typ) + ": " + service,
	})
}

// LogEmailVerified records a completed email verification.
func (s *Service) LogEmailVerified(ctx context.Context, tenantID string, actor Actor) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventEmailVerified,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		Message:     "email verified",
	})
}

// LogCacheInvalidated records a manual refresh of the tenant's call cache.
func (s *Service) LogCacheInvalidated(ctx context.Context, tenantID string, actor Actor) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventCallsCacheInvalidated,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		Message:     "calls cache invalidated",
	})
}
