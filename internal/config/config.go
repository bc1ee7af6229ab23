// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores (not allowed in production).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL backs the access-token revocation set. Empty selects an in-process set.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTSigningKey is the HS256 secret: raw, "base64:..." or a file path. Must be at least 32 bytes.
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`
	// JWTKeyID is written to the kid header of every access token.
	JWTKeyID     string `mapstructure:"JWT_KEY_ID"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL bounds both the refresh token and the session it belongs to.
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// One-time token lifetimes and attempt ceilings, per token type.
	EmailVerificationTTL         string `mapstructure:"EMAIL_VERIFICATION_TTL"`
	PasswordResetTTL             string `mapstructure:"PASSWORD_RESET_TTL"`
	TwoFactorTTL                 string `mapstructure:"TWO_FACTOR_TTL"`
	TrustedDeviceTTL             string `mapstructure:"TRUSTED_DEVICE_TTL"`
	EmailVerificationMaxAttempts int    `mapstructure:"EMAIL_VERIFICATION_MAX_ATTEMPTS"`
	PasswordResetMaxAttempts     int    `mapstructure:"PASSWORD_RESET_MAX_ATTEMPTS"`
	TwoFactorMaxAttempts         int    `mapstructure:"TWO_FACTOR_MAX_ATTEMPTS"`
	TrustedDeviceMaxAttempts     int    `mapstructure:"TRUSTED_DEVICE_MAX_ATTEMPTS"`
	// UsedTokenRetention is how long used or superseded one-time tokens are kept before purge.
	UsedTokenRetention string `mapstructure:"USED_TOKEN_RETENTION"`

	// LockoutThreshold is the number of consecutive password failures before lockout.
	LockoutThreshold int    `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutDuration  string `mapstructure:"LOCKOUT_DURATION"`
	// RequireEmailVerification keeps new users inactive until they verify their email.
	RequireEmailVerification bool `mapstructure:"REQUIRE_EMAIL_VERIFICATION"`
	// DefaultRole is granted to new users in their organization when such a role exists.
	DefaultRole string `mapstructure:"DEFAULT_ROLE"`

	TOTPIssuer        string `mapstructure:"TOTP_ISSUER"`
	TOTPDigits        int    `mapstructure:"TOTP_DIGITS"`
	TOTPPeriod        int    `mapstructure:"TOTP_PERIOD"`
	TOTPSkew          int    `mapstructure:"TOTP_SKEW"`
	RecoveryCodeCount int    `mapstructure:"RECOVERY_CODE_COUNT"`

	// PermissionCacheTTL bounds how long resolved permissions are cached.
	PermissionCacheTTL string `mapstructure:"PERMISSION_CACHE_TTL"`
	// PolicyFile is an optional Rego module replacing the built-in login policy.
	PolicyFile string `mapstructure:"POLICY_FILE"`

	// KafkaBrokers is a comma-separated broker list; empty keeps notifications in-process.
	KafkaBrokers           string `mapstructure:"KAFKA_BROKERS"`
	NotificationKafkaTopic string `mapstructure:"NOTIFICATION_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of the notification worker.
	KafkaGroupID           string `mapstructure:"KAFKA_GROUP_ID"`
	// DeliveryWebhookURL is the email/SMS gateway the worker posts notifications to; empty logs them.
	DeliveryWebhookURL string `mapstructure:"DELIVERY_WEBHOOK_URL"`
	DeliveryAPIKey     string `mapstructure:"DELIVERY_API_KEY"`
	// DevOutbox keeps sent notifications in memory and serves them at GET /dev/outbox.
	// Must not be true when Env is production.
	DevOutbox bool `mapstructure:"DEV_OUTBOX"`

	OTELEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
	// SweepInterval is how often the server sweeps expired tokens and sessions; "0" disables.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
}

var defaults = map[string]any{
	"APP_ENV":                         "",
	"HTTP_ADDR":                       ":8080",
	"GRPC_ADDR":                       ":9090",
	"DATABASE_URL":                    "",
	"REDIS_URL":                       "",
	"JWT_SIGNING_KEY":                 "",
	"JWT_KEY_ID":                      "k1",
	"JWT_ISSUER":                      "practice-auth",
	"JWT_AUDIENCE":                    "practice-api",
	"JWT_ACCESS_TTL":                  "15m",
	"JWT_REFRESH_TTL":                 "168h", // 7d
	"BCRYPT_COST":                     12,
	"EMAIL_VERIFICATION_TTL":          "24h",
	"PASSWORD_RESET_TTL":              "1h",
	"TWO_FACTOR_TTL":                  "5m",
	"TRUSTED_DEVICE_TTL":              "720h", // 30d
	"EMAIL_VERIFICATION_MAX_ATTEMPTS": 5,
	"PASSWORD_RESET_MAX_ATTEMPTS":     5,
	"TWO_FACTOR_MAX_ATTEMPTS":         5,
	"TRUSTED_DEVICE_MAX_ATTEMPTS":     5,
	"USED_TOKEN_RETENTION":            "168h",
	"LOCKOUT_THRESHOLD":               5,
	"LOCKOUT_DURATION":                "15m",
	"REQUIRE_EMAIL_VERIFICATION":      true,
	"DEFAULT_ROLE":                    "staff",
	"TOTP_ISSUER":                     "Practice Portal",
	"TOTP_DIGITS":                     6,
	"TOTP_PERIOD":                     30,
	"TOTP_SKEW":                       1,
	"RECOVERY_CODE_COUNT":             10,
	"PERMISSION_CACHE_TTL":            "5m",
	"POLICY_FILE":                     "",
	"KAFKA_BROKERS":                   "",
	"NOTIFICATION_KAFKA_TOPIC":        "auth-notifications",
	"KAFKA_GROUP_ID":                  "auth-notification-worker",
	"DELIVERY_WEBHOOK_URL":            "",
	"DELIVERY_API_KEY":                "",
	"DEV_OUTBOX":                      false,
	"OTEL_EXPORTER_OTLP_ENDPOINT":     "",
	"OTEL_EXPORTER_OTLP_INSECURE":     false,
	"OTEL_SERVICE_NAME":               "practice-auth",
	"LOG_LEVEL":                       "info",
	"RATE_LIMIT_RPS":                  10.0,
	"RATE_LIMIT_BURST":                20,
	"SWEEP_INTERVAL":                  "10m",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if strings.TrimSpace(c.JWTSigningKey) == "" {
		return errors.New("config: JWT_SIGNING_KEY must be set")
	}
	if c.JWTIssuer == "" || c.JWTAudience == "" {
		return errors.New("config: JWT_ISSUER and JWT_AUDIENCE must be set")
	}
	if c.DevOutbox && c.Env == "production" {
		return errors.New("config: DEV_OUTBOX must not be true when APP_ENV=production")
	}
	if c.DatabaseURL == "" && c.Env == "production" {
		return errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.TOTPDigits != 6 && c.TOTPDigits != 8 {
		return errors.New("config: TOTP_DIGITS must be 6 or 8")
	}
	if c.TOTPPeriod <= 0 || c.TOTPSkew < 0 {
		return errors.New("config: TOTP_PERIOD must be positive and TOTP_SKEW non-negative")
	}
	if c.LockoutThreshold < 1 {
		return errors.New("config: LOCKOUT_THRESHOLD must be at least 1")
	}
	for name, n := range map[string]int{
		"EMAIL_VERIFICATION_MAX_ATTEMPTS": c.EmailVerificationMaxAttempts,
		"PASSWORD_RESET_MAX_ATTEMPTS":     c.PasswordResetMaxAttempts,
		"TWO_FACTOR_MAX_ATTEMPTS":         c.TwoFactorMaxAttempts,
		"TRUSTED_DEVICE_MAX_ATTEMPTS":     c.TrustedDeviceMaxAttempts,
	} {
		if n < 1 {
			return errors.New("config: " + name + " must be at least 1")
		}
	}
	return nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return parseDuration(c.JWTAccessTTL, 15*time.Minute) }

// RefreshTTL parses JWTRefreshTTL. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return parseDuration(c.JWTRefreshTTL, 168*time.Hour) }

func (c *Config) EmailVerificationTTLDuration() time.Duration {
	return parseDuration(c.EmailVerificationTTL, 24*time.Hour)
}

func (c *Config) PasswordResetTTLDuration() time.Duration {
	return parseDuration(c.PasswordResetTTL, time.Hour)
}

func (c *Config) TwoFactorTTLDuration() time.Duration {
	return parseDuration(c.TwoFactorTTL, 5*time.Minute)
}

func (c *Config) TrustedDeviceTTLDuration() time.Duration {
	return parseDuration(c.TrustedDeviceTTL, 720*time.Hour)
}

func (c *Config) UsedTokenRetentionDuration() time.Duration {
	return parseDuration(c.UsedTokenRetention, 168*time.Hour)
}

func (c *Config) LockoutDurationValue() time.Duration {
	return parseDuration(c.LockoutDuration, 15*time.Minute)
}

func (c *Config) PermissionCacheTTLDuration() time.Duration {
	return parseDuration(c.PermissionCacheTTL, 5*time.Minute)
}

// SweepIntervalDuration returns 0 when the sweeper is disabled ("0" or "off").
func (c *Config) SweepIntervalDuration() time.Duration {
	switch strings.TrimSpace(c.SweepInterval) {
	case "0", "off", "":
		return 0
	}
	return parseDuration(c.SweepInterval, 10*time.Minute)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
