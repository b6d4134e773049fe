package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "REPLAY_WINDOW_SECONDS", "REQUIRE_TRUSTED_CHAIN", "ACCEPT_SOFTWARE_ATTESTATION"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("addr = %q", cfg.HTTPAddr)
	}
	if cfg.ReplayWindow() != 5*time.Minute || cfg.ClockSkew() != time.Minute {
		t.Fatalf("unexpected replay defaults %v %v", cfg.ReplayWindow(), cfg.ClockSkew())
	}
	if !cfg.RequireTrustedChain || cfg.AcceptSoftwareAttestation {
		t.Fatalf("unexpected attestation defaults %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ACCEPT_SOFTWARE_ATTESTATION", "yes")
	t.Setenv("REPLAY_WINDOW_SECONDS", "30")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")
	t.Setenv("EXPECTED_APP_ID", "com.example.capture")
	cfg := FromEnv()
	if !cfg.AcceptSoftwareAttestation {
		t.Fatalf("expected software attestation to be accepted")
	}
	if cfg.ReplayWindow() != 30*time.Second {
		t.Fatalf("replay window = %v", cfg.ReplayWindow())
	}
	if cfg.RateLimitRequests != 0 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.RateLimitRequests)
	}
	if cfg.ExpectedAppID != "com.example.capture" {
		t.Fatalf("expected app id = %q", cfg.ExpectedAppID)
	}
}

func TestLoadTrustRoots(t *testing.T) {
	pool, err := Config{}.LoadTrustRoots()
	if err != nil || pool != nil {
		t.Fatalf("expected no pool without a path: %v %v", pool, err)
	}
	path := filepath.Join(t.TempDir(), "roots.pem")
	if err := os.WriteFile(path, []byte("not pem"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (Config{TrustRootsPEM: path}).LoadTrustRoots(); err == nil {
		t.Fatalf("expected error for file without certificates")
	}
}

func TestAgentConfigRoundTrip(t *testing.T) {
	cfg := NewAgentConfig("com.example.capture", "/var/lib/capture")
	cfg.Keystore.Profile = "tee"

	var buf bytes.Buffer
	m := &AgentManager{}
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), `profile = "tee"`) {
		t.Fatalf("unexpected toml:\n%s", buf.String())
	}
	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.AppID != cfg.AppID || got.Keystore.Profile != "tee" || got.Ledger.Path != "/var/lib/capture/ledger.db" {
		t.Fatalf("unexpected config %+v", got)
	}
	if got.Verifier.TimeoutSeconds != 30 {
		t.Fatalf("timeout = %d", got.Verifier.TimeoutSeconds)
	}
}

func TestInitAgentRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", AgentConfigFile)
	cfg := NewAgentConfig("app", filepath.Dir(path))
	if err := InitAgent(path, cfg); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := InitAgent(path, cfg); err == nil {
		t.Fatalf("expected second init to fail")
	}
	got, err := ReadAgentFromFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.AppID != "app" {
		t.Fatalf("app id = %q", got.AppID)
	}
}
