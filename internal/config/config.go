package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the verifier's environment-driven configuration.
type Config struct {
	HTTPAddr       string
	PostgresDSN    string
	AutoMigrate    bool
	LogLevel       string
	AdminAPIKey    string
	MaxUploadBytes int

	TrustRootsPEM    string
	PolicyBundlePath string
	PolicyBundleID   string

	AcceptSoftwareAttestation bool
	RequireTrustedChain       bool
	ExpectedAppID             string
	AllowRegisteredKeys       bool
	ReplayWindowSeconds       int
	ClockSkewSeconds          int

	ClassifierURL            string
	ClassifierTimeoutSeconds int

	ArchiveDir        string
	ArchiveRecipients string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                  addr,
		PostgresDSN:               os.Getenv("POSTGRES_DSN"),
		AutoMigrate:               envBoolDefault("POSTGRES_AUTO_MIGRATE", true),
		LogLevel:                  envDefault("LOG_LEVEL", "info"),
		AdminAPIKey:               os.Getenv("ADMIN_API_KEY"),
		MaxUploadBytes:            envIntDefault("MAX_UPLOAD_BYTES", 64<<20),
		TrustRootsPEM:             os.Getenv("TRUST_ROOTS_PEM"),
		PolicyBundlePath:          os.Getenv("POLICY_BUNDLE_PATH"),
		PolicyBundleID:            envDefault("POLICY_BUNDLE_ID", "custom"),
		AcceptSoftwareAttestation: envBoolDefault("ACCEPT_SOFTWARE_ATTESTATION", false),
		RequireTrustedChain:       envBoolDefault("REQUIRE_TRUSTED_CHAIN", true),
		ExpectedAppID:             os.Getenv("EXPECTED_APP_ID"),
		AllowRegisteredKeys:       envBoolDefault("ALLOW_REGISTERED_KEYS", false),
		ReplayWindowSeconds:       envIntDefault("REPLAY_WINDOW_SECONDS", 300),
		ClockSkewSeconds:          envIntDefault("CLOCK_SKEW_SECONDS", 60),
		ClassifierURL:             os.Getenv("CLASSIFIER_URL"),
		ClassifierTimeoutSeconds:  envIntDefault("CLASSIFIER_TIMEOUT_SECONDS", 10),
		ArchiveDir:                os.Getenv("ARCHIVE_DIR"),
		ArchiveRecipients:         os.Getenv("ARCHIVE_RECIPIENTS"),
		RateLimitRequests:         envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:    envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:       envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:          envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) ReplayWindow() time.Duration {
	return time.Duration(c.ReplayWindowSeconds) * time.Second
}

func (c Config) ClockSkew() time.Duration {
	return time.Duration(c.ClockSkewSeconds) * time.Second
}

func (c Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.ClassifierTimeoutSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// LoadTrustRoots reads TRUST_ROOTS_PEM. It returns nil, nil when no file is
// configured; every chain is then reported as untrusted.
func (c Config) LoadTrustRoots() (*x509.CertPool, error) {
	if c.TrustRootsPEM == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(c.TrustRootsPEM)
	if err != nil {
		return nil, fmt.Errorf("read trust roots: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, errors.New("trust roots file contains no certificates")
	}
	return pool, nil
}
