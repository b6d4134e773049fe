package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	"github.com/nictjh/originalCapture/pkg/capture"

	"github.com/google/uuid"
)

type CaptureRequest struct {
	MediaPath string
	// Alias defaults to a fresh random alias. Reusing an alias that is
	// still in flight fails with ErrCaptureInFlight.
	Alias string
}

// Capture binds one media file to a signed payload with a single-use key.
type Capture struct {
	Keystore    domain.Keystore
	Attestation *GenerateAttestedKey
	Encoder     PayloadEncoder
	Ledger      CaptureLedger
	Logger      *slog.Logger
	AppID       string
	Now         func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func (uc *Capture) Execute(ctx context.Context, req CaptureRequest) (out domain.CaptureOutcome, err error) {
	if uc.Keystore == nil || uc.Encoder == nil {
		return domain.CaptureOutcome{}, errors.New("capture requires a keystore and an encoder")
	}
	if req.MediaPath == "" {
		return domain.CaptureOutcome{}, fmt.Errorf("%w: media path is required", domain.ErrInvalidRequest)
	}
	alias := req.Alias
	if alias == "" {
		alias = "capture-" + uuid.NewString()
	}
	release, err := uc.reserve(alias)
	if err != nil {
		return domain.CaptureOutcome{}, err
	}
	defer release()

	contentHash, err := capture.HashFile(req.MediaPath)
	if err != nil {
		return domain.CaptureOutcome{}, fmt.Errorf("hash media: %w", err)
	}
	payload, canonical, err := uc.Encoder.Encode(contentHash, uc.AppID)
	if err != nil {
		return domain.CaptureOutcome{}, err
	}

	record := domain.CaptureRecord{
		ID:             uuid.NewString(),
		Alias:          alias,
		MediaPath:      req.MediaPath,
		ContentHashB64: contentHash,
		AppID:          uc.AppID,
		RequestedTier:  domain.TierStrongBox,
		CreatedAt:      uc.now(),
	}
	// From here on a key may exist under alias. It is deleted exactly once,
	// on every exit path.
	defer func() {
		delErr := uc.DeleteKey(context.WithoutCancel(ctx), alias)
		record.KeyDeleted = delErr == nil
		if delErr != nil {
			record.DeleteError = delErr.Error()
		}
		out.KeyDeleted = record.KeyDeleted
		uc.recordLedger(ctx, record)
	}()

	challenge := sha256.Sum256(canonical)
	attestation, err := uc.attestation().Execute(ctx, alias, challenge[:])
	if err != nil {
		return domain.CaptureOutcome{}, err
	}
	record.AchievedTier = attestation.AchievedTier
	record.FellBack = attestation.FellBack
	record.Classification = attestation.Classification
	record.ChainLength = len(attestation.CertChain)

	sigB64, err := uc.Sign(ctx, alias, canonical)
	if err != nil {
		return domain.CaptureOutcome{}, err
	}
	sidecarPath := capture.SidecarPath(req.MediaPath)
	receipt, err := uc.EmitReceipt(sidecarPath, canonical, sigB64, attestation.CertChain)
	if err != nil {
		return domain.CaptureOutcome{}, err
	}
	record.SidecarPath = sidecarPath

	return domain.CaptureOutcome{
		RecordID:    record.ID,
		MediaPath:   req.MediaPath,
		SidecarPath: sidecarPath,
		Payload:     payload,
		Canonical:   canonical,
		Receipt:     receipt,
		Attestation: attestation,
	}, nil
}

// Sign returns the base64 DER ECDSA-SHA256 signature of payload.
func (uc *Capture) Sign(ctx context.Context, alias string, payload []byte) (string, error) {
	sig, err := uc.Keystore.Sign(ctx, alias, payload)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (uc *Capture) EmitReceipt(path string, payload []byte, sigB64 string, chain [][]byte) (domain.SidecarReceipt, error) {
	receipt := capture.NewReceipt(payload, sigB64, chain)
	if err := capture.WriteSidecar(path, receipt); err != nil {
		return domain.SidecarReceipt{}, err
	}
	return receipt, nil
}

// DeleteKey removes the key under alias. A failure breaks unlinkability
// between captures and is logged as critical.
func (uc *Capture) DeleteKey(ctx context.Context, alias string) error {
	err := uc.Keystore.DeleteKey(ctx, alias)
	if err == nil {
		var present bool
		present, err = uc.Keystore.Contains(ctx, alias)
		if err == nil && present {
			err = fmt.Errorf("key alias %s still present after deletion", alias)
		}
	}
	if err != nil {
		loggerOrDefault(uc.Logger).Error("capture key deletion failed",
			"severity", "critical",
			"event", "key_leak_risk",
			"alias", alias,
			"error", err,
		)
	}
	return err
}

func (uc *Capture) reserve(alias string) (func(), error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.inflight == nil {
		uc.inflight = make(map[string]struct{})
	}
	if _, busy := uc.inflight[alias]; busy {
		return nil, fmt.Errorf("%w: %s", domain.ErrCaptureInFlight, alias)
	}
	uc.inflight[alias] = struct{}{}
	return func() {
		uc.mu.Lock()
		defer uc.mu.Unlock()
		delete(uc.inflight, alias)
	}, nil
}

func (uc *Capture) recordLedger(ctx context.Context, record domain.CaptureRecord) {
	if uc.Ledger == nil {
		return
	}
	if err := uc.Ledger.RecordCapture(context.WithoutCancel(ctx), record); err != nil {
		loggerOrDefault(uc.Logger).Warn("capture ledger write failed", "record_id", record.ID, "error", err)
	}
}

func (uc *Capture) attestation() *GenerateAttestedKey {
	gen := GenerateAttestedKey{Keystore: uc.Keystore, Logger: uc.Logger}
	if uc.Attestation != nil {
		gen = *uc.Attestation
	}
	if gen.Cleanup == nil {
		gen.Cleanup = uc.DeleteKey
	}
	return &gen
}

func (uc *Capture) now() time.Time {
	if uc.Now != nil {
		return uc.Now().UTC()
	}
	return time.Now().UTC()
}
