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
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Dispatch DispatchConfig
	Worker   WorkerConfig
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

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	JWTAudience string
	AccessTokenTTL time.Duration
	RefreshTokenTTL time.Duration
}

type DispatchConfig struct {
	// BillingMode selects credit (prepaid allocations) or wallet
	// (plain balance) accounting.
	BillingMode string

	// SystemClientID owns inbound traffic with no sender assignment.
	SystemClientID string

	// GatewayTimeout bounds outbound provider calls when a gateway has no
	// timeout of its own.
	GatewayTimeout time.Duration

	// TrackingBaseURL is the public prefix for shortened links. Empty
	// disables link tracking.
	TrackingBaseURL string
}

type WorkerConfig struct {
	DispatchInterval time.Duration
	DispatchBatch    int

	InboxRetryInterval time.Duration
	InboxBatch         int
	InboxMaxAttempts   int

	ExpirySweepInterval    time.Duration
	BalanceRefreshInterval time.Duration

	// LockTTL is the staleness bound on the scheduler lock: a crashed
	// worker frees its lock after this long.
	LockTTL time.Duration
}

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

	c.Dispatch.BillingMode = strings.TrimSpace(os.Getenv("BILLING_MODE"))
	c.Dispatch.SystemClientID = strings.TrimSpace(os.Getenv("SYSTEM_CLIENT_ID"))
	c.Dispatch.GatewayTimeout = mustDuration("GATEWAY_TIMEOUT")
	c.Dispatch.TrackingBaseURL = strings.TrimSpace(os.Getenv("TRACKING_BASE_URL"))

	c.Worker.DispatchInterval = mustDuration("WORKER_DISPATCH_INTERVAL")
	c.Worker.DispatchBatch = optionalInt("WORKER_DISPATCH_BATCH")
	c.Worker.InboxRetryInterval = mustDuration("WORKER_INBOX_RETRY_INTERVAL")
	c.Worker.InboxBatch = optionalInt("WORKER_INBOX_BATCH")
	c.Worker.InboxMaxAttempts = optionalInt("WORKER_INBOX_MAX_ATTEMPTS")
	c.Worker.ExpirySweepInterval = mustDuration("WORKER_EXPIRY_SWEEP_INTERVAL")
	c.Worker.BalanceRefreshInterval = mustDuration("WORKER_BALANCE_REFRESH_INTERVAL")
	c.Worker.LockTTL = mustDuration("WORKER_LOCK_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			// Allowed values are enforced below.
			c.DB.SSLMode = "disable"
		}
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

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Dispatch.BillingMode == "" {
		c.Dispatch.BillingMode = "credit"
	}
	if c.Dispatch.BillingMode != "credit" && c.Dispatch.BillingMode != "wallet" {
		errs = append(errs, fmt.Errorf("BILLING_MODE must be credit or wallet, got %q", c.Dispatch.BillingMode))
	}
	if c.Dispatch.SystemClientID == "" {
		c.Dispatch.SystemClientID = "system"
	}
	if c.Dispatch.GatewayTimeout <= 0 {
		c.Dispatch.GatewayTimeout = 15 * time.Second
	}

	if c.Worker.DispatchInterval <= 0 {
		c.Worker.DispatchInterval = 5 * time.Second
	}
	if c.Worker.DispatchBatch <= 0 {
		c.Worker.DispatchBatch = 50
	}
	if c.Worker.InboxRetryInterval <= 0 {
		c.Worker.InboxRetryInterval = 30 * time.Second
	}
	if c.Worker.InboxBatch <= 0 {
		c.Worker.InboxBatch = 100
	}
	if c.Worker.InboxMaxAttempts <= 0 {
		c.Worker.InboxMaxAttempts = 10
	}
	if c.Worker.ExpirySweepInterval <= 0 {
		c.Worker.ExpirySweepInterval = time.Hour
	}
	if c.Worker.BalanceRefreshInterval <= 0 {
		c.Worker.BalanceRefreshInterval = 15 * time.Minute
	}
	if c.Worker.LockTTL <= 0 {
		c.Worker.LockTTL = 30 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
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

// optionalInt reads an integer env var, 0 when unset or malformed;
// Validate applies the default.
func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
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
