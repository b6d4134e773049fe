package usecase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	cryptoinfra "github.com/nictjh/originalCapture/internal/infra/crypto"
	"github.com/nictjh/originalCapture/internal/infra/keys/soft"
	"github.com/nictjh/originalCapture/pkg/capture"
)

func TestCapture_SignsAndDeletesKeyOnce(t *testing.T) {
	authority := newAuthority(t)
	cases := []struct {
		name           string
		profile        soft.Profile
		classification domain.Classification
		fellBack       bool
	}{
		{"strongbox", soft.ProfileStrongBox, domain.ClassificationStrongBox, false},
		{"tee fallback", soft.ProfileTEE, domain.ClassificationTEE, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ks := newTrackingKeystore(soft.NewManager(authority, soft.Options{Profile: tc.profile}))
			ledger := &memLedger{}
			media := []byte("frame bytes")
			alias := "capture-" + string(tc.profile)
			uc := &Capture{Keystore: ks, Encoder: capture.NewEncoder(), Ledger: ledger, AppID: testAppID, Logger: discardLogger()}

			out, err := uc.Execute(context.Background(), CaptureRequest{MediaPath: writeMedia(t, media), Alias: alias})
			if err != nil {
				t.Fatalf("capture: %v", err)
			}
			if got := ks.deleteCount(alias); got[alias] != 1 {
				t.Fatalf("deletes = %v", got)
			}
			if present, _ := ks.Contains(context.Background(), alias); present {
				t.Fatalf("key still present after capture")
			}
			if !out.KeyDeleted {
				t.Fatalf("outcome does not report key deletion")
			}
			if out.Payload.ContentHashB64 != cryptoinfra.SHA256B64(media) {
				t.Fatalf("content hash = %s", out.Payload.ContentHashB64)
			}
			if out.Attestation.Classification != tc.classification || out.Attestation.FellBack != tc.fellBack {
				t.Fatalf("attestation = %+v", out.Attestation)
			}

			certs, err := cryptoinfra.ParseCertChainB64(out.Receipt.CertChainB64)
			if err != nil || len(certs) == 0 {
				t.Fatalf("receipt chain: %v (%d certs)", err, len(certs))
			}
			if err := cryptoinfra.VerifyES256(certs[0].PublicKey, []byte(out.Receipt.PayloadCanonical), out.Receipt.SignatureB64); err != nil {
				t.Fatalf("receipt signature: %v", err)
			}
			receipt, err := capture.ReadSidecar(out.SidecarPath)
			if err != nil {
				t.Fatalf("read sidecar: %v", err)
			}
			if receipt.PayloadCanonical != out.Receipt.PayloadCanonical {
				t.Fatalf("sidecar payload differs from outcome")
			}

			if len(ledger.records) != 1 {
				t.Fatalf("ledger records = %d", len(ledger.records))
			}
			rec := ledger.records[0]
			if !rec.KeyDeleted || rec.Alias != alias || rec.ChainLength != len(certs) || rec.ID != out.RecordID || rec.FellBack != tc.fellBack {
				t.Fatalf("ledger record = %+v", rec)
			}
		})
	}
}

func TestCapture_LeftoverFromFailedStrongBoxGoesThroughLoggedDelete(t *testing.T) {
	ks := newTrackingKeystore(&leakyStrongBox{Manager: soft.NewManager(newAuthority(t), soft.Options{Profile: soft.ProfileTEE})})
	ks.deleteErr = errBoom
	var logs bytes.Buffer
	uc := &Capture{
		Keystore: ks,
		Encoder:  capture.NewEncoder(),
		AppID:    testAppID,
		Logger:   slog.New(slog.NewJSONHandler(&logs, nil)),
	}

	_, err := uc.Execute(context.Background(), CaptureRequest{MediaPath: writeMedia(t, []byte("frame")), Alias: "capture-leftover"})
	if !errors.Is(err, domain.ErrHardwareUnavailable) || !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(logs.String(), `"event":"key_leak_risk"`) {
		t.Fatalf("leftover cleanup failure not logged: %s", logs.String())
	}
}

func TestCapture_DeletesKeyWhenSigningFails(t *testing.T) {
	ks := newTrackingKeystore(soft.NewManager(newAuthority(t), soft.Options{}))
	ks.signErr = errBoom
	ledger := &memLedger{}
	uc := &Capture{Keystore: ks, Encoder: capture.NewEncoder(), Ledger: ledger, AppID: testAppID, Logger: discardLogger()}

	path := writeMedia(t, []byte("frame"))
	_, err := uc.Execute(context.Background(), CaptureRequest{MediaPath: path, Alias: "capture-fail"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if got := ks.deleteCount("capture-fail"); got["capture-fail"] != 1 {
		t.Fatalf("deletes = %v", got)
	}
	if _, err := os.Stat(capture.SidecarPath(path)); !os.IsNotExist(err) {
		t.Fatalf("sidecar written for failed capture")
	}
	if len(ledger.records) != 1 || !ledger.records[0].KeyDeleted {
		t.Fatalf("ledger = %+v", ledger.records)
	}
}

func TestCapture_DeleteFailureIsLoggedAsKeyLeakRisk(t *testing.T) {
	ks := newTrackingKeystore(soft.NewManager(newAuthority(t), soft.Options{}))
	ks.deleteErr = errBoom
	var logs bytes.Buffer
	ledger := &memLedger{}
	uc := &Capture{
		Keystore: ks,
		Encoder:  capture.NewEncoder(),
		Ledger:   ledger,
		AppID:    testAppID,
		Logger:   slog.New(slog.NewJSONHandler(&logs, nil)),
	}

	out, err := uc.Execute(context.Background(), CaptureRequest{MediaPath: writeMedia(t, []byte("frame"))})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if out.KeyDeleted {
		t.Fatalf("outcome reports deletion despite failure")
	}
	if !strings.Contains(logs.String(), `"event":"key_leak_risk"`) || !strings.Contains(logs.String(), `"severity":"critical"`) {
		t.Fatalf("logs = %s", logs.String())
	}
	if len(ledger.records) != 1 || ledger.records[0].DeleteError == "" {
		t.Fatalf("ledger = %+v", ledger.records)
	}
}

func TestCapture_RejectsAliasInFlight(t *testing.T) {
	uc := &Capture{Keystore: soft.NewManager(newAuthority(t), soft.Options{}), Encoder: capture.NewEncoder(), AppID: testAppID}
	release, err := uc.reserve("capture-busy")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	defer release()

	_, err = uc.Execute(context.Background(), CaptureRequest{MediaPath: writeMedia(t, []byte("x")), Alias: "capture-busy"})
	if !errors.Is(err, domain.ErrCaptureInFlight) {
		t.Fatalf("err = %v", err)
	}
}

func TestCapture_RequiresMediaPath(t *testing.T) {
	uc := &Capture{Keystore: soft.NewManager(newAuthority(t), soft.Options{}), Encoder: capture.NewEncoder(), AppID: testAppID}
	if _, err := uc.Execute(context.Background(), CaptureRequest{}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("err = %v", err)
	}
}

func TestCapture_FreshNoncePerCapture(t *testing.T) {
	ks := soft.NewManager(newAuthority(t), soft.Options{})
	now := time.Now()
	first := captureWith(t, ks, []byte("same"), now)
	second := captureWith(t, ks, []byte("same"), now)
	if first.Payload.NonceB64 == second.Payload.NonceB64 {
		t.Fatalf("nonce reused across captures")
	}
	if first.Receipt.SignatureB64 == second.Receipt.SignatureB64 {
		t.Fatalf("signature reused across captures")
	}
}
