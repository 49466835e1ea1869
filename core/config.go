package core

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultUpstreamURL = "http://reference-app:5000"
	DefaultIssuer      = "http://keycloak:8080/realms/master"
	DefaultAddr        = ":8081"

	// DefaultHTTPTimeout bounds every outbound call (discovery, JWKS, upstream).
	DefaultHTTPTimeout = 5 * time.Second
)

// Config is the process-wide gateway configuration. It is built once at
// startup and never mutated afterwards.
type Config struct {
	UpstreamURL string
	Issuer      string
	Audience    string // empty disables audience verification

	// Optional key material overrides.
	JWKSURL        string // skip discovery and use this key set URL
	PinnedKeysJSON string // {"kid": "-----BEGIN PUBLIC KEY-----..."}
	PinnedKeysPath string // directory holding keys.json

	Addr                string
	OIDCTimeout         time.Duration
	MetadataTTL         time.Duration // 0 keeps discovery documents for the process lifetime
	SharedMetadataCache bool
	JWKSMinRefresh      time.Duration
	ClockSkew           time.Duration

	UpstreamTimeout      time.Duration
	UpstreamClientID     string
	UpstreamClientSecret string

	RedisURL           string
	RateLimitPerMinute int

	DatabaseURL        string
	AuditRetention     time.Duration
	AuditPruneSchedule string

	MetricsEnabled bool
	LogLevel       string
	LogFormat      string
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(os.Getenv)
}

// LoadConfigFrom reads the configuration through getenv so tests can supply
// their own environment.
func LoadConfigFrom(getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	cfg := Config{
		UpstreamURL:          strings.TrimRight(env("UPSTREAM_URL", DefaultUpstreamURL), "/"),
		Issuer:               env("KEYCLOAK_ISSUER", DefaultIssuer),
		Audience:             env("KEYCLOAK_AUDIENCE", ""),
		JWKSURL:              env("KEYCLOAK_JWKS_URL", ""),
		PinnedKeysJSON:       env("PINNED_PUBLIC_KEYS", ""),
		PinnedKeysPath:       env("PINNED_KEYS_PATH", ""),
		Addr:                 env("GATEWAY_ADDR", DefaultAddr),
		UpstreamClientID:     env("UPSTREAM_CLIENT_ID", ""),
		UpstreamClientSecret: env("UPSTREAM_CLIENT_SECRET", ""),
		RedisURL:             env("REDIS_URL", ""),
		DatabaseURL:          env("DATABASE_URL", ""),
		AuditPruneSchedule:   env("AUDIT_PRUNE_SCHEDULE", "@hourly"),
		LogLevel:             strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(env("LOG_FORMAT", "json")),
	}

	var err error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"OIDC_HTTP_TIMEOUT", DefaultHTTPTimeout, &cfg.OIDCTimeout},
		{"OIDC_METADATA_TTL", 0, &cfg.MetadataTTL},
		{"JWKS_MIN_REFRESH_INTERVAL", 10 * time.Second, &cfg.JWKSMinRefresh},
		{"JWT_CLOCK_SKEW", 0, &cfg.ClockSkew},
		{"UPSTREAM_TIMEOUT", DefaultHTTPTimeout, &cfg.UpstreamTimeout},
		{"AUDIT_RETENTION", 30 * 24 * time.Hour, &cfg.AuditRetention},
	}
	for _, d := range durations {
		if *d.dest, err = parseDuration(d.key, env(d.key, ""), d.def); err != nil {
			return Config{}, err
		}
	}
	if cfg.OIDCTimeout <= 0 || cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("config: outbound timeouts must be positive")
	}

	if cfg.SharedMetadataCache, err = parseBool("OIDC_METADATA_SHARED_CACHE", env("OIDC_METADATA_SHARED_CACHE", ""), false); err != nil {
		return Config{}, err
	}
	if cfg.MetricsEnabled, err = parseBool("METRICS_ENABLED", env("METRICS_ENABLED", ""), true); err != nil {
		return Config{}, err
	}
	if raw := env("RATE_LIMIT_PER_MINUTE", ""); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			return Config{}, fmt.Errorf("config: RATE_LIMIT_PER_MINUTE must be a non-negative integer, got %q", raw)
		}
		cfg.RateLimitPerMinute = n
	}

	if err := validateHTTPURL("KEYCLOAK_ISSUER", cfg.Issuer); err != nil {
		return Config{}, err
	}
	if err := validateHTTPURL("UPSTREAM_URL", cfg.UpstreamURL); err != nil {
		return Config{}, err
	}
	if cfg.JWKSURL != "" {
		if err := validateHTTPURL("KEYCLOAK_JWKS_URL", cfg.JWKSURL); err != nil {
			return Config{}, err
		}
	}
	if (cfg.UpstreamClientID == "") != (cfg.UpstreamClientSecret == "") {
		return Config{}, fmt.Errorf("config: UPSTREAM_CLIENT_ID and UPSTREAM_CLIENT_SECRET must be set together")
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

// ServiceIdentityEnabled reports whether upstream calls carry a client-credentials token.
func (c Config) ServiceIdentityEnabled() bool {
	return c.UpstreamClientID != "" && c.UpstreamClientSecret != ""
}

func parseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: %s must be a non-negative duration, got %q", key, raw)
	}
	return d, nil
}

func parseBool(key, raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean, got %q", key, raw)
	}
	return b, nil
}

func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: %s must be an absolute http(s) URL, got %q", key, raw)
	}
	return nil
}
