package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"voiceai-dashboard/internal/audit"
	"voiceai-dashboard/pkg/logger"
)

const (
	DefaultTTL         = 10 * time.Minute
	DefaultMaxAttempts = 5
	codeDigits         = 6
)

var (
	ErrInvalidRequest  = errors.New("verification: invalid request")
	ErrExpired         = errors.New("verification: code has expired")
	ErrMismatch        = errors.New("verification: invalid code")
	ErrTooManyAttempts = errors.New("verification: too many attempts")
)

// Verifier records a confirmed email on the user account.
type Verifier interface {
	MarkVerified(ctx context.Context, userID, email string) error
}

type Config struct {
	Store       CodeStore
	Mailer      Mailer
	Users       Verifier
	Audit       *audit.Service
	TTL         time.Duration
	MaxAttempts int
	// ExposeCode returns the code in the send response. Local use only.
	ExposeCode bool
	Logger     *slog.Logger
	Clock      func() time.Time
	Rand       io.Reader
}

type Service struct {
	cfg Config
	log *slog.Logger
}

func NewService(cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	return &Service{cfg: cfg, log: logger.OrDefault(cfg.Logger)}
}

type SendResult struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Send issues a fresh code for userID, replacing any pending one, and mails it.
func (s *Service) Send(ctx context.Context, userID, email string) (SendResult, error) {
	email = strings.TrimSpace(email)
	if userID == "" || email == "" {
		return SendResult{}, ErrInvalidRequest
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return SendResult{}, ErrInvalidRequest
	}
	code, err := NewCode(s.cfg.Rand)
	if err != nil {
		return SendResult{}, err
	}
	p := Pending{Code: code, Email: email, ExpiresAt: s.cfg.Clock().Add(s.cfg.TTL).UTC()}
	if err := s.cfg.Store.Save(ctx, userID, p); err != nil {
		return SendResult{}, err
	}
	if err := s.cfg.Mailer.SendCode(ctx, email, code, s.cfg.TTL); err != nil {
		return SendResult{}, fmt.Errorf("verification: send: %w", err)
	}
	out := SendResult{Message: "Verification code sent to your email"}
	if s.cfg.ExposeCode {
		out.Code = code
	}
	return out, nil
}

// Verify consumes the pending code for userID. A wrong code counts against
// MaxAttempts; reaching it discards the pending code. Of concurrent correct
// submissions exactly one succeeds.
func (s *Service) Verify(ctx context.Context, tenantID, userID, code string) error {
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return ErrInvalidRequest
	}
	p, err := s.cfg.Store.Load(ctx, userID)
	if err != nil {
		return err
	}
	if !s.cfg.Clock().Before(p.ExpiresAt) {
		_ = s.cfg.Store.Delete(ctx, userID)
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(p.Code), []byte(code)) != 1 {
		n, err := s.cfg.Store.AddAttempt(ctx, userID)
		if err != nil {
			return err
		}
		if n >= s.cfg.MaxAttempts {
			_ = s.cfg.Store.Delete(ctx, userID)
			return ErrTooManyAttempts
		}
		return ErrMismatch
	}
	consumed, err := s.cfg.Store.Consume(ctx, userID, p.Code)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrNoCode
	}
	if err := s.cfg.Users.MarkVerified(ctx, userID, p.Email); err != nil {
		return fmt.Errorf("verification: mark verified: %w", err)
	}
	if s.cfg.Audit != nil && tenantID != "" {
		if err := s.cfg.Audit.LogEmailVerified(ctx, tenantID, audit.Actor{UserID: userID}); err != nil {
			s.log.WarnContext(ctx, "audit append failed", "type", audit.EventEmailVerified, "err", err)
		}
	}
	return nil
}

// NewCode returns a uniformly random six-digit code without a leading zero.
func NewCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("verification: code: %w", err)
	}
	code := fmt.Sprintf("%d", n.Int64()+100000)
	if len(code) != codeDigits {
		return "", fmt.Errorf("verification: code: unexpected length %d", len(code))
	}
	return code, nil
}
