package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Auth         AuthConfig
	Store        StoreConfig
	Lockout      LockoutConfig
	Session      SessionConfig
	Subscription SubscriptionConfig
	Email        EmailConfig
	Audit        AuditConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MigrateOnStart bool
	// Requests per minute per client for the credential endpoints and for
	// the rest of the API.
	AuthRateLimit int
	APIRateLimit  int
}

type AuthConfig struct {
	JWTSecret            string
	AccessTokenExpiry    time.Duration
	MFAChallengeExpiry   time.Duration
	TOTPIssuer           string
	TOTPEncryptionKey    string // falls back to JWTSecret when empty
	CookieSecure         bool
	CookieSameSite       string
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
	TimingDelayOnSuccess bool
}

// StoreConfig selects the key/value backend for sessions and lockouts.
// An empty RedisURL runs the process on the in-memory store.
type StoreConfig struct {
	RedisURL        string
	KeyPrefix       string
	DialTimeout     time.Duration
	FallbackOnError bool
	PurgeInterval   time.Duration
}

type LockoutConfig struct {
	Threshold  int
	Window     time.Duration
	Duration   time.Duration
	FailClosed bool
}

type SessionConfig struct {
	TTLDays  int
	FailOpen bool
}

type SubscriptionConfig struct {
	SweepInterval time.Duration
	SweepOnStart  bool
}

// AuditConfig controls how long persisted audit entries are kept. Zero
// keeps them forever.
type AuditConfig struct {
	RetentionDays int
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "tradergate"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			MigrateOnStart: getEnvAsBool("MIGRATE_ON_START", false),
			AuthRateLimit:  getEnvAsInt("RATE_LIMIT_AUTH_PER_MINUTE", 10),
			APIRateLimit:   getEnvAsInt("RATE_LIMIT_API_PER_MINUTE", 120),
		},
		Auth: AuthConfig{
			JWTSecret:            jwtSecret,
			AccessTokenExpiry:    getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			MFAChallengeExpiry:   getEnvAsDuration("MFA_CHALLENGE_EXPIRY", 5*time.Minute),
			TOTPIssuer:           getEnv("TOTP_ISSUER", "TraderGate"),
			TOTPEncryptionKey:    getEnv("TOTP_ENCRYPTION_KEY", ""),
			CookieSecure:         getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:       getEnv("COOKIE_SAMESITE", "strict"),
			TimingDelayBaseMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),
			TimingDelayOnSuccess: getEnvAsBool("TIMING_DELAY_ON_SUCCESS", false),
		},
		Store: StoreConfig{
			RedisURL:        getEnv("REDIS_URL", ""),
			KeyPrefix:       getEnv("REDIS_KEY_PREFIX", "tradergate:"),
			DialTimeout:     getEnvAsDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			FallbackOnError: getEnvAsBool("STORE_FALLBACK_ON_ERROR", true),
			PurgeInterval:   getEnvAsDuration("STORE_PURGE_INTERVAL", 10*time.Minute),
		},
		Lockout: LockoutConfig{
			Threshold:  getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			Window:     getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			Duration:   getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
			FailClosed: getEnvAsBool("LOCKOUT_FAIL_CLOSED", true),
		},
		Session: SessionConfig{
			TTLDays:  getEnvAsInt("SESSION_TTL_DAYS", 30),
			FailOpen: getEnvAsBool("SESSION_FAIL_OPEN", false),
		},
		Subscription: SubscriptionConfig{
			SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", 24*time.Hour),
			SweepOnStart:  getEnvAsBool("SWEEP_ON_START", false),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", ""),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		},
		Audit: AuditConfig{
			RetentionDays: getEnvAsInt("AUDIT_RETENTION_DAYS", 365),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Lockout.Threshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1 (got %d)", c.Lockout.Threshold)
	}
	if c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
		return fmt.Errorf("LOCKOUT_WINDOW and LOCKOUT_DURATION must be positive")
	}
	if c.Session.TTLDays < 1 {
		return fmt.Errorf("SESSION_TTL_DAYS must be at least 1 (got %d)", c.Session.TTLDays)
	}
	if c.Auth.AccessTokenExpiry <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRY must be positive")
	}
	if c.Subscription.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS cannot be negative (got %d)", c.Audit.RetentionDays)
	}
	return nil
}

// TOTPKeyMaterial is the secret the TOTP sealing key is derived from.
func (c *AuthConfig) TOTPKeyMaterial() string {
	if c.TOTPEncryptionKey != "" {
		return c.TOTPEncryptionKey
	}
	return c.JWTSecret
}

// SessionTTL is the refresh-session lifetime.
func (c *SessionConfig) SessionTTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// Retention is the audit retention period; zero disables pruning.
func (c *AuditConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// EmailEnabled reports whether enough is configured to send through SES.
func (c *EmailConfig) EmailEnabled() bool {
	return c.AWSRegion != "" && c.FromAddress != ""
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		origins := getEnvAsList("ALLOWED_ORIGINS")
		if origins == nil {
			return []string{}
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
