package main

import (
	"context"
	"fmt"

	"github.com/nictjh/originalCapture/internal/usecase"

	"github.com/spf13/cobra"
)

type captureReport struct {
	RecordID       string `json:"record_id"`
	Sidecar        string `json:"sidecar"`
	ContentHashB64 string `json:"content_hash_b64"`
	Tier           string `json:"tier"`
	FellBack       bool   `json:"fell_back"`
	Classification string `json:"classification"`
	ChainLength    int    `json:"chain_length"`
	KeyDeleted     bool   `json:"key_deleted"`
}

var captureCmd = &cobra.Command{
	Use:   "capture <media>",
	Short: "Sign a media file and write its sidecar receipt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.captureUC().Execute(context.Background(), usecase.CaptureRequest{MediaPath: args[0]})
		if err != nil {
			return fmt.Errorf("capture failed: %w", err)
		}
		return printJSON(cmd, captureReport{
			RecordID:       out.RecordID,
			Sidecar:        out.SidecarPath,
			ContentHashB64: out.Payload.ContentHashB64,
			Tier:           string(out.Attestation.AchievedTier),
			FellBack:       out.Attestation.FellBack,
			Classification: string(out.Attestation.Classification),
			ChainLength:    len(out.Attestation.CertChain),
			KeyDeleted:     out.KeyDeleted,
		})
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)
}
