package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voiceai-dashboard/pkg/logger"
)

// Mailer delivers a verification code to an email address.
type Mailer interface {
	SendCode(ctx context.Context, email, code string, ttl time.Duration) error
}

const DefaultResendBaseURL = "https://api.resend.com"

const subject = "Verify your Voice AI Dashboard account"

// ResendMailer sends through the Resend HTTP API.
type ResendMailer struct {
	APIKey     string
	From       string
	BaseURL    string
	HTTPClient *http.Client
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

func (m *ResendMailer) SendCode(ctx context.Context, email, code string, ttl time.Duration) error {
	minutes := int(ttl.Minutes())
	payload, err := json.Marshal(resendEmail{
		From:    m.From,
		To:      []string{email},
		Subject: subject,
		HTML:    fmt.Sprintf("<p>Your verification code is: <strong>%s</strong></p><p>This code expires in %d minutes.</p>", code, minutes),
		Text:    fmt.Sprintf("Your verification code is: %s\n\nThis code expires in %d minutes.", code, minutes),
	})
	if err != nil {
		return err
	}

	base := m.BaseURL
	if base == "" {
		base = DefaultResendBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/emails", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.APIKey)

	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("verification: resend: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("verification: resend: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// LogMailer writes the code to the log instead of sending it. Local use only.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendCode(ctx context.Context, email, code string, ttl time.Duration) error {
	logger.OrDefault(m.Logger).InfoContext(ctx, "verification code issued", "email", email, "code", code, "ttl", ttl.String())
	return nil
}
