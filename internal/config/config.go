package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Calls     CallsConfig
	Keys      KeysConfig
	Providers ProvidersConfig
	Mail      MailConfig
	Billing   BillingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// CallsConfig controls the call-record fetch path (cache, paging, refresh).
type CallsConfig struct {
	CacheTTL        time.Duration
	CacheBackend    string
	PageSize        int
	MaxCalls        int
	RefreshInterval time.Duration
}

type KeysConfig struct {
	// EncryptionKey seals third-party API keys at rest. Only the first 32 bytes are used.
	EncryptionKey string
}

type ProvidersConfig struct {
	RetellBaseURL     string
	OpenRouterBaseURL string
}

type MailConfig struct {
	ResendAPIKey string
	From         string
}

type BillingConfig struct {
	DashboardFeeUSD float64
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	minRefreshInterval = 30 * time.Second
	maxRefreshInterval = 120 * time.Second
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Calls.CacheTTL = mustDuration("CALLS_CACHE_TTL")
	c.Calls.CacheBackend = strings.ToLower(strings.TrimSpace(os.Getenv("CALLS_CACHE_BACKEND")))
	{
		n, err := optionalInt("CALLS_PAGE_SIZE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Calls.PageSize = n
	}
	{
		n, err := optionalInt("CALLS_MAX")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Calls.MaxCalls = n
	}
	c.Calls.RefreshInterval = mustDuration("CALLS_REFRESH_INTERVAL")

	c.Keys.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	c.Providers.RetellBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("RETELL_BASE_URL")), "/")
	c.Providers.OpenRouterBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("OPENROUTER_BASE_URL")), "/")

	c.Mail.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	c.Mail.From = strings.TrimSpace(os.Getenv("RESEND_FROM"))

	{
		f, err := optionalFloat("DASHBOARD_FEE_USD")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Billing.DashboardFeeUSD = f
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" && c.IsProduction() {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL > 0 && c.Auth.RefreshTokenTTL > 0 && c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	switch c.Calls.CacheBackend {
	case "", CacheBackendMemory, CacheBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("CALLS_CACHE_BACKEND must be one of memory, redis, got %q", c.Calls.CacheBackend))
	}
	if c.Calls.PageSize < 0 {
		errs = append(errs, fmt.Errorf("CALLS_PAGE_SIZE must be positive, got %d", c.Calls.PageSize))
	}
	if c.Calls.MaxCalls < 0 {
		errs = append(errs, fmt.Errorf("CALLS_MAX must be positive, got %d", c.Calls.MaxCalls))
	}

	if c.Keys.EncryptionKey == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("ENCRYPTION_KEY is required in production"))
		}
	} else if len(c.Keys.EncryptionKey) < 32 {
		errs = append(errs, errors.New("ENCRYPTION_KEY must be at least 32 characters"))
	}

	if c.Billing.DashboardFeeUSD < 0 {
		errs = append(errs, errors.New("DASHBOARD_FEE_USD must not be negative"))
	}

	return joinErrors(errs)
}

// applyDefaults fills optional values after validation succeeded.
func (c *Config) applyDefaults() {
	if c.DB.SSLMode == "" {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Calls.CacheTTL <= 0 {
		c.Calls.CacheTTL = 5 * time.Minute
	}
	if c.Calls.CacheBackend == "" {
		c.Calls.CacheBackend = CacheBackendRedis
	}
	if c.Calls.PageSize <= 0 {
		c.Calls.PageSize = 100
	}
	if c.Calls.MaxCalls <= 0 {
		c.Calls.MaxCalls = 500
	}
	c.Calls.RefreshInterval = clampRefresh(c.Calls.RefreshInterval)
	if c.Providers.RetellBaseURL == "" {
		c.Providers.RetellBaseURL = "https://api.retellai.com"
	}
	if c.Providers.OpenRouterBaseURL == "" {
		c.Providers.OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Mail.From == "" {
		c.Mail.From = "Voice AI <onboarding@resend.dev>"
	}
	if c.Billing.DashboardFeeUSD == 0 {
		c.Billing.DashboardFeeUSD = 49
	}
}

func clampRefresh(d time.Duration) time.Duration {
	if d <= 0 {
		return 2 * time.Minute
	}
	if d < minRefreshInterval {
		return minRefreshInterval
	}
	if d > maxRefreshInterval {
		return maxRefreshInterval
	}
	return d
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
