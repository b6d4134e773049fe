package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nictjh/originalCapture/internal/domain"
	cryptoinfra "github.com/nictjh/originalCapture/internal/infra/crypto"
)

const SidecarSuffix = ".attest.json"

func SidecarPath(mediaPath string) string {
	return mediaPath + SidecarSuffix
}

func NewReceipt(payload []byte, sigB64 string, chain [][]byte) domain.SidecarReceipt {
	return domain.SidecarReceipt{
		PayloadCanonical: string(payload),
		SignatureB64:     sigB64,
		CertChainB64:     cryptoinfra.EncodeCertChainB64(chain),
	}
}

// WriteSidecar writes the receipt next to its asset through a temp file and
// rename, so a reader never sees a partial receipt.
func WriteSidecar(path string, receipt domain.SidecarReceipt) error {
	if receipt.PayloadCanonical == "" || receipt.SignatureB64 == "" {
		return errors.New("receipt payload and signature are required")
	}
	if receipt.CertChainB64 == nil {
		receipt.CertChainB64 = []string{}
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sidecar-*")
	if err != nil {
		return fmt.Errorf("create sidecar: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit sidecar: %w", err)
	}
	return nil
}

func ReadSidecar(path string) (domain.SidecarReceipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.SidecarReceipt{}, err
	}
	var receipt domain.SidecarReceipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return domain.SidecarReceipt{}, fmt.Errorf("parse sidecar %s: %w", path, err)
	}
	if receipt.PayloadCanonical == "" || receipt.SignatureB64 == "" {
		return domain.SidecarReceipt{}, fmt.Errorf("sidecar %s is missing payload or signature", path)
	}
	return receipt, nil
}
