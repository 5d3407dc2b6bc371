package apikeys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"voiceai-dashboard/pkg/metrics"
)

const (
	DefaultRetellBaseURL     = "https://api.retellai.com"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

	maxErrorText = 100
	maxBody      = 1 << 20
)

type ValidateRequest struct {
	RetellKey     string `json:"retell_key"`
	OpenRouterKey string `json:"openrouter_key"`
}

// ProviderResult is the outcome of probing one provider. A missing key is
// reported as not valid without an error.
type ProviderResult struct {
	Valid       bool            `json:"valid"`
	Error       string          `json:"error,omitempty"`
	AccountInfo json.RawMessage `json:"account_info,omitempty"`
}

type ValidateResult struct {
	Retell     ProviderResult `json:"retell"`
	OpenRouter ProviderResult `json:"openrouter"`
}

type ValidatorConfig struct {
	RetellBaseURL     string
	OpenRouterBaseURL string
	HTTPClient        *http.Client
	Timeout           time.Duration

	// Outbound probes per second, per provider.
	RatePerSecond float64
	Burst         int

	Metrics *metrics.Metrics
}

func (c ValidatorConfig) withDefaults() ValidatorConfig {
	if c.RetellBaseURL == "" {
		c.RetellBaseURL = DefaultRetellBaseURL
	}
	if c.OpenRouterBaseURL == "" {
		c.OpenRouterBaseURL = DefaultOpenRouterBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	c.RetellBaseURL = strings.TrimRight(c.RetellBaseURL, "/")
	c.OpenRouterBaseURL = strings.TrimRight(c.OpenRouterBaseURL, "/")
	return c
}

// Validator confirms provider keys with a cheap authenticated request.
type Validator struct {
	cfg      ValidatorConfig
	limiters map[Provider]*rate.Limiter
}

func NewValidator(cfg ValidatorConfig) *Validator {
	cfg = cfg.withDefaults()
	return &Validator{
		cfg: cfg,
		limiters: map[Provider]*rate.Limiter{
			ProviderRetell:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
			ProviderOpenRouter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		},
	}
}

// Validate probes both providers concurrently. It never fails; problems are
// reported per provider.
func (v *Validator) Validate(ctx context.Context, req ValidateRequest) ValidateResult {
	var (
		out ValidateResult
		g   errgroup.Group
	)
	g.Go(func() error {
		out.Retell = v.ValidateKey(ctx, ProviderRetell, req.RetellKey)
		return nil
	})
	g.Go(func() error {
		out.OpenRouter = v.ValidateKey(ctx, ProviderOpenRouter, req.OpenRouterKey)
		return nil
	})
	_ = g.Wait()
	return out
}

func (v *Validator) ValidateKey(ctx context.Context, p Provider, key string) ProviderResult {
	key = strings.TrimSpace(key)
	if key == "" {
		return ProviderResult{}
	}
	res := v.probe(ctx, p, key)
	v.cfg.Metrics.KeyValidation(string(p), res.Valid)
	return res
}

func (v *Validator) probe(ctx context.Context, p Provider, key string) ProviderResult {
	label := providerLabel(p)
	lim, ok := v.limiters[p]
	if !ok {
		return ProviderResult{Error: "unsupported service"}
	}
	if err := lim.Wait(ctx); err != nil {
		return ProviderResult{Error: fmt.Sprintf("Failed to validate %s key: %v", label, err)}
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	req, err := v.newRequest(ctx, p, key)
	if err != nil {
		return ProviderResult{Error: err.Error()}
	}
	resp, err := v.cfg.HTTPClient.Do(req)
	if err != nil {
		return ProviderResult{Error: fmt.Sprintf("Failed to validate %s key: %v", label, err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ProviderResult{Error: fmt.Sprintf("%s API error: %d %s", label, resp.StatusCode, truncate(string(body), maxErrorText))}
	}
	out := ProviderResult{Valid: true}
	if json.Valid(body) {
		out.AccountInfo = json.RawMessage(body)
	}
	return out
}

func (v *Validator) newRequest(ctx context.Context, p Provider, key string) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	switch p {
	case ProviderRetell:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.RetellBaseURL+"/v2/list-calls", bytes.NewReader([]byte(`{"limit":1}`)))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	case ProviderOpenRouter:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.OpenRouterBaseURL+"/auth/key", nil)
	default:
		return nil, fmt.Errorf("apikeys: unsupported provider %q", p)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	return req, nil
}

func providerLabel(p Provider) string {
	switch p {
	case ProviderRetell:
		return "Retell"
	case ProviderOpenRouter:
		return "OpenRouter"
	}
	return string(p)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
