package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nictjh/originalCapture/internal/provenance"
	"github.com/nictjh/originalCapture/internal/usecase"
	"github.com/nictjh/originalCapture/pkg/capture"

	"github.com/spf13/cobra"
)

type editReport struct {
	Manifest         string `json:"manifest"`
	AssetID          string `json:"asset_id"`
	ActiveOperations int    `json:"active_operations"`
	RiskLevel        string `json:"risk_level"`
	Signature        string `json:"signature,omitempty"`
	Classification   string `json:"classification,omitempty"`
	ChainLength      int    `json:"chain_length,omitempty"`
}

var editCmd = &cobra.Command{
	Use:   "edit <media>",
	Short: "Replay an edit script and write the provenance manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mediaPath := args[0]
		scriptPath, _ := cmd.Flags().GetString("script")
		out, _ := cmd.Flags().GetString("out")
		sign, _ := cmd.Flags().GetBool("sign")
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")
		format, _ := cmd.Flags().GetString("format")
		if out == "" {
			out = mediaPath + ".manifest.json"
		}

		raw, err := os.ReadFile(scriptPath)
		if err != nil {
			return fmt.Errorf("reading edit script: %w", err)
		}
		steps, err := provenance.ParseScript(raw)
		if err != nil {
			return err
		}
		_, statErr := os.Stat(capture.SidecarPath(mediaPath))
		session := provenance.NewSession(
			provenance.MediaMeta{Width: width, Height: height, Format: format},
			provenance.WithSigned(statErr == nil),
		)
		if _, err := provenance.RunScript(session, steps); err != nil {
			return err
		}
		manifest, err := session.ManifestJSON()
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, manifest, 0o644); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
		report := editReport{
			Manifest:         out,
			AssetID:          session.AssetID(),
			ActiveOperations: len(session.ActiveOperations()),
			RiskLevel:        string(session.Statistics().RiskLevel),
		}
		if !sign {
			return printJSON(cmd, report)
		}
		a, err := newAgent()
		if err != nil {
			return err
		}
		defer a.Close()
		signer := &usecase.SignManifest{
			Keystore:    a.keystore,
			Attestation: &usecase.GenerateAttestedKey{Keystore: a.keystore, Logger: a.logger},
			Capture:     a.captureUC(),
		}
		signed, err := signer.Execute(context.Background(), manifest)
		if err != nil {
			return fmt.Errorf("signing manifest: %w", err)
		}
		cosePath := out + ".cose"
		if err := os.WriteFile(cosePath, signed.COSE, 0o644); err != nil {
			return fmt.Errorf("writing signature: %w", err)
		}
		report.Signature = cosePath
		report.Classification = string(signed.Classification)
		report.ChainLength = signed.ChainLength
		return printJSON(cmd, report)
	},
}

func init() {
	editCmd.Flags().String("script", "", "edit script (JSON array of steps)")
	editCmd.Flags().String("out", "", "manifest output path (default <media>.manifest.json)")
	editCmd.Flags().Bool("sign", false, "sign the manifest as COSE_Sign1 with a fresh attested key")
	editCmd.Flags().Int("width", 0, "media width in pixels")
	editCmd.Flags().Int("height", 0, "media height in pixels")
	editCmd.Flags().String("format", "jpeg", "media format")
	_ = editCmd.MarkFlagRequired("script")
	rootCmd.AddCommand(editCmd)
}
