package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nictjh/originalCapture/internal/config"
	"github.com/nictjh/originalCapture/internal/infra/keys/soft"
	"github.com/nictjh/originalCapture/internal/infra/ledger"
	"github.com/nictjh/originalCapture/internal/infra/logging"
	"github.com/nictjh/originalCapture/internal/usecase"
	"github.com/nictjh/originalCapture/pkg/capture"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var baseDir string

var rootCmd = &cobra.Command{
	Use:          "capturectl",
	Short:        "Capture media with single-use attested keys",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", config.DefaultAgentDir(), "agent base directory")
}

func configPath() string {
	return filepath.Join(baseDir, config.AgentConfigFile)
}

// agent holds everything a capture command needs. The caller must defer
// Close.
type agent struct {
	cfg       *config.AgentConfig
	logger    *slog.Logger
	authority *soft.Authority
	keystore  *soft.Manager
	ledger    *ledger.SQLiteLedger
}

func newAgent() (*agent, error) {
	cfg, err := config.ReadAgentFromFile(configPath())
	if err != nil {
		return nil, fmt.Errorf("reading config: %w (run `capturectl config init` first)", err)
	}
	logger := logging.NewText(os.Stderr, cfg.LogLevel)

	profile, err := soft.ParseProfile(cfg.Keystore.Profile)
	if err != nil {
		return nil, err
	}
	authority, created, err := soft.NewStore(cfg.Keystore.AuthorityDir).LoadOrCreate(time.Now())
	if err != nil {
		return nil, fmt.Errorf("loading attestation authority: %w", err)
	}
	if created {
		logger.Info("created attestation authority", "dir", cfg.Keystore.AuthorityDir)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}

	return &agent{
		cfg:       cfg,
		logger:    logger,
		authority: authority,
		keystore: soft.NewManager(authority, soft.Options{
			Profile:          profile,
			WithoutChain:     cfg.Keystore.WithoutChain,
			ResidencyUnknown: cfg.Keystore.ResidencyUnknown,
		}),
		ledger: l,
	}, nil
}

func (a *agent) Close() error {
	return a.ledger.Close()
}

func (a *agent) captureUC() *usecase.Capture {
	return &usecase.Capture{
		Keystore:    a.keystore,
		Attestation: &usecase.GenerateAttestedKey{Keystore: a.keystore, Logger: a.logger},
		Encoder:     capture.NewEncoder(),
		Ledger:      a.ledger,
		Logger:      a.logger,
		AppID:       a.cfg.AppID,
	}
}

func (a *agent) verifierTimeout() time.Duration {
	return time.Duration(a.cfg.Verifier.TimeoutSeconds) * time.Second
}

// printJSON writes a command's report to its output stream.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
