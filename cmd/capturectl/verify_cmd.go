package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	"github.com/nictjh/originalCapture/internal/infra/ledger"
	"github.com/nictjh/originalCapture/pkg/capture"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <media>",
	Short: "Submit a media file and its sidecar to the verifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mediaPath := args[0]
		manifestPath, _ := cmd.Flags().GetString("manifest")
		cosePath, _ := cmd.Flags().GetString("cose")
		endpoint, _ := cmd.Flags().GetString("verifier")

		a, err := newAgent()
		if err != nil {
			return err
		}
		defer a.Close()
		if endpoint == "" {
			endpoint = a.cfg.Verifier.URL
		}

		receipt, err := capture.ReadSidecar(capture.SidecarPath(mediaPath))
		if err != nil {
			return fmt.Errorf("reading sidecar: %w", err)
		}
		media, err := os.ReadFile(mediaPath)
		if err != nil {
			return fmt.Errorf("reading media: %w", err)
		}
		req := capture.VerifyRequest{Receipt: receipt, Media: media, MediaName: filepath.Base(mediaPath)}
		if manifestPath != "" {
			if req.Manifest, err = os.ReadFile(manifestPath); err != nil {
				return fmt.Errorf("reading manifest: %w", err)
			}
		}
		if cosePath != "" {
			if req.ManifestCOSE, err = os.ReadFile(cosePath); err != nil {
				return fmt.Errorf("reading manifest signature: %w", err)
			}
		}

		resp, err := capture.NewClient(endpoint, a.verifierTimeout()).Verify(context.Background(), req)
		if err != nil {
			if errors.Is(err, domain.ErrTransportFailure) {
				a.logger.Warn("verifier unreachable", "endpoint", endpoint, "error", err)
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(resp.Body))
		if !resp.Result.OK {
			return fmt.Errorf("verification rejected (HTTP %d)", resp.StatusCode)
		}
		return nil
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the local capture ledger",
}

type ledgerEntry struct {
	ID             string `json:"id"`
	CreatedAt      string `json:"created_at"`
	MediaPath      string `json:"media_path"`
	Classification string `json:"classification"`
	Tier           string `json:"tier"`
	FellBack       bool   `json:"fell_back"`
	ChainLength    int    `json:"chain_length"`
	KeyDeleted     bool   `json:"key_deleted"`
	DeleteError    string `json:"delete_error,omitempty"`
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent captures",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		a, err := newAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.ledger.ListCaptures(context.Background(), limit)
		if err != nil {
			return err
		}
		out := make([]ledgerEntry, 0, len(records))
		for _, r := range records {
			out = append(out, ledgerEntry{
				ID:             r.ID,
				CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339),
				MediaPath:      r.MediaPath,
				Classification: string(r.Classification),
				Tier:           string(r.AchievedTier),
				FellBack:       r.FellBack,
				ChainLength:    r.ChainLength,
				KeyDeleted:     r.KeyDeleted,
				DeleteError:    r.DeleteError,
			})
		}
		return printJSON(cmd, out)
	},
}

func init() {
	verifyCmd.Flags().String("manifest", "", "edit manifest to submit alongside the media")
	verifyCmd.Flags().String("cose", "", "COSE_Sign1 manifest signature")
	verifyCmd.Flags().String("verifier", "", "verifier base URL (overrides config)")
	ledgerListCmd.Flags().Int("limit", ledger.DefaultListLimit, "maximum number of captures to list")
	ledgerCmd.AddCommand(ledgerListCmd)
	rootCmd.AddCommand(verifyCmd, ledgerCmd)
}
