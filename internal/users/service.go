package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	_ "time/tzdata"
)

const DefaultTimezone = "America/New_York"

var ErrInvalidProfile = errors.New("users: invalid profile")

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Profile returns the stored profile, or defaults for a user that has never
// saved one. Contact and billing emails fall back to the account email.
func (s *Service) Profile(ctx context.Context, userID, email string) (Profile, error) {
	if userID == "" {
		return Profile{}, ErrInvalidProfile
	}
	p, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		p, err = Profile{ID: userID}, nil
	}
	if err != nil {
		return Profile{}, err
	}
	if p.Email == "" {
		p.Email = email
	}
	if p.ContactEmail == "" {
		p.ContactEmail = p.Email
	}
	if p.BillingEmail == "" {
		p.BillingEmail = p.Email
	}
	if p.Timezone == "" {
		p.Timezone = DefaultTimezone
	}
	return p, nil
}

// Update applies u. An empty update is a no-op.
func (s *Service) Update(ctx context.Context, userID string, u Update) error {
	if userID == "" {
		return ErrInvalidProfile
	}
	if u.Empty() {
		return nil
	}
	if err := validate(u); err != nil {
		return err
	}
	return s.repo.Update(ctx, userID, u, s.clock().UTC())
}

// MarkVerified flags the user's email as verified.
func (s *Service) MarkVerified(ctx context.Context, userID, email string) error {
	if userID == "" {
		return ErrInvalidProfile
	}
	return s.repo.MarkVerified(ctx, userID, email, s.clock().UTC())
}

func validate(u Update) error {
	if u.Timezone != nil && *u.Timezone != "" {
		if _, err := time.LoadLocation(*u.Timezone); err != nil {
			return ErrInvalidProfile
		}
	}
	for _, e := range []*string{u.ContactEmail, u.BillingEmail} {
		if e == nil || strings.TrimSpace(*e) == "" {
			continue
		}
		if _, err := mail.ParseAddress(*e); err != nil {
			return ErrInvalidProfile
		}
	}
	return nil
}
