package apikeys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voiceai-dashboard/internal/audit"
	"voiceai-dashboard/pkg/logger"
)

var (
	ErrInvalidService = errors.New("apikeys: service must be 'retell' or 'openrouter'")
	ErrInvalidKey     = errors.New("apikeys: api key is required")
	ErrInvalidOwner   = errors.New("apikeys: user_id and tenant_id are required")
)

// Owner is the authenticated user acting on their own keys.
type Owner struct {
	UserID   string
	TenantID string
	Role     string
	IP       string
}

func (o Owner) actor() audit.Actor {
	return audit.Actor{UserID: o.UserID, Role: o.Role, IP: o.IP}
}

// Status is what the dashboard may see about a stored key.
type Status struct {
	Service         Provider   `json:"service"`
	Connected       bool       `json:"connected"`
	Hint            string     `json:"hint,omitempty"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
}

type Config struct {
	Repo      Repository
	Sealer    *Sealer
	Validator *Validator
	Audit     *audit.Service
	Logger    *slog.Logger
	Clock     func() time.Time
}

type Service struct {
	repo      Repository
	sealer    *Sealer
	validator *Validator
	audit     *audit.Service
	log       *slog.Logger
	clock     func() time.Time
}

func NewService(cfg Config) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:      cfg.Repo,
		sealer:    cfg.Sealer,
		validator: cfg.Validator,
		audit:     cfg.Audit,
		log:       logger.OrDefault(cfg.Logger),
		clock:     clock,
	}
}

// Store seals and saves apiKey, replacing any key already connected for p.
func (s *Service) Store(ctx context.Context, o Owner, p Provider, apiKey string) (Status, error) {
	if err := checkOwner(o, p); err != nil {
		return Status{}, err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Status{}, ErrInvalidKey
	}
	sealed, err := s.sealer.Seal(apiKey)
	if err != nil {
		return Status{}, err
	}
	now := s.clock().UTC()
	k := Key{
		ID:              KeyID(o.UserID, p),
		UserID:          o.UserID,
		Provider:        p,
		Sealed:          sealed,
		Hint:            MaskKey(apiKey),
		ConnectedAt:     now,
		LastValidatedAt: now,
	}
	if err := s.repo.Upsert(ctx, k); err != nil {
		return Status{}, fmt.Errorf("apikeys: store: %w", err)
	}
	s.record(ctx, o, audit.EventAPIKeyStored, p)
	return statusOf(k), nil
}

func (s *Service) Status(ctx context.Context, userID string, p Provider) (Status, error) {
	if userID == "" {
		return Status{}, ErrInvalidOwner
	}
	if !p.Valid() {
		return Status{}, ErrInvalidService
	}
	k, err := s.repo.Get(ctx, userID, p)
	if errors.Is(err, ErrNotFound) {
		return Status{Service: p}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return statusOf(k), nil
}

func (s *Service) Disconnect(ctx context.Context, o Owner, p Provider) error {
	if err := checkOwner(o, p); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, o.UserID, p); err != nil {
		return fmt.Errorf("apikeys: disconnect: %w", err)
	}
	s.record(ctx, o, audit.EventAPIKeyDisconnected, p)
	return nil
}

// Reveal decrypts the stored key for server-side use. It is never returned
// to the dashboard.
func (s *Service) Reveal(ctx context.Context, o Owner, p Provider) (string, error) {
	if err := checkOwner(o, p); err != nil {
		return "", err
	}
	k, err := s.repo.Get(ctx, o.UserID, p)
	if err != nil {
		return "", err
	}
	plain, err := s.sealer.Open(k.Sealed)
	if err != nil {
		return "", err
	}
	s.record(ctx, o, audit.EventAPIKeyRevealed, p)
	return plain, nil
}

// Revalidate probes the stored key again and bumps last_validated_at when
// the provider accepts it.
func (s *Service) Revalidate(ctx context.Context, o Owner, p Provider) (ProviderResult, error) {
	if s.validator == nil {
		return ProviderResult{}, errors.New("apikeys: validator not configured")
	}
	key, err := s.Reveal(ctx, o, p)
	if err != nil {
		return ProviderResult{}, err
	}
	res := s.validator.ValidateKey(ctx, p, key)
	if res.Valid {
		if err := s.repo.TouchValidated(ctx, o.UserID, p, s.clock().UTC()); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Service) record(ctx context.Context, o Owner, typ audit.EventType, p Provider) {
	if s.audit == nil {
		return
	}
	// best-effort
	if err := s.audit.LogKeyEvent(ctx, o.TenantID, typ, o.actor(), string(p)); err != nil {
		s.log.WarnContext(ctx, "audit append failed", "type", typ, "err", err)
	}
}

func checkOwner(o Owner, p Provider) error {
	if o.UserID == "" || o.TenantID == "" {
		return ErrInvalidOwner
	}
	if !p.Valid() {
		return ErrInvalidService
	}
	return nil
}

func statusOf(k Key) Status {
	connected, validated := k.ConnectedAt, k.LastValidatedAt
	return Status{
		Service:         k.Provider,
		Connected:       true,
		Hint:            k.Hint,
		ConnectedAt:     &connected,
		LastValidatedAt: &validated,
	}
}

// MaskKey keeps the first six and last four characters of long keys.
func MaskKey(key string) string {
	r := []rune(strings.TrimSpace(key))
	if len(r) <= 10 {
		return strings.Repeat("•", len(r))
	}
	return string(r[:6]) + "…" + string(r[len(r)-4:])
}
