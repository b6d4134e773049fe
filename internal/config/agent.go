package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const AgentConfigFile = "capturectl.toml"

// AgentConfig is the capture agent's TOML configuration.
type AgentConfig struct {
	AppID    string         `toml:"app_id"`
	BaseDir  string         `toml:"base_dir"`
	LogLevel string         `toml:"log_level"`
	Keystore KeystoreConfig `toml:"keystore"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Verifier VerifierConfig `toml:"verifier"`
}

// KeystoreConfig selects which hardware the emulated keystore pretends to
// have. Profile is one of "strongbox", "tee", "software" or "none".
type KeystoreConfig struct {
	Profile          string `toml:"profile"`
	AuthorityDir     string `toml:"authority_dir"`
	WithoutChain     bool   `toml:"without_chain,omitempty"`
	ResidencyUnknown bool   `toml:"residency_unknown,omitempty"`
}

type LedgerConfig struct {
	Path string `toml:"path"`
}

type VerifierConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// NewAgentConfig returns defaults rooted at baseDir.
func NewAgentConfig(appID, baseDir string) *AgentConfig {
	return &AgentConfig{
		AppID:    appID,
		BaseDir:  baseDir,
		LogLevel: "info",
		Keystore: KeystoreConfig{
			Profile:      "strongbox",
			AuthorityDir: filepath.Join(baseDir, "authority"),
		},
		Ledger: LedgerConfig{Path: filepath.Join(baseDir, "ledger.db")},
		Verifier: VerifierConfig{
			URL:            "http://localhost:8080",
			TimeoutSeconds: 30,
		},
	}
}

// AgentManager handles reading and writing agent configuration.
type AgentManager struct{}

func (m *AgentManager) Read(r io.Reader) (*AgentConfig, error) {
	var cfg AgentConfig
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func (m *AgentManager) Write(w io.Writer, cfg *AgentConfig) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

func ReadAgentFromFile(path string) (*AgentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &AgentManager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// InitAgent writes cfg to path, refusing to overwrite an existing file.
func InitAgent(path string, cfg *AgentConfig) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &AgentManager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// DefaultAgentDir is ~/.originalcapture, or the working directory when the
// home directory is unknown.
func DefaultAgentDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".originalcapture"
	}
	return filepath.Join(home, ".originalcapture")
}
