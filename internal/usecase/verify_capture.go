package usecase

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	cryptoinfra "github.com/nictjh/originalCapture/internal/infra/crypto"
	"github.com/nictjh/originalCapture/internal/provenance"

	"github.com/google/uuid"
)

type VerifySettings struct {
	AcceptSoftware      bool
	RequireTrustedChain bool
	ExpectedAppID       string
	AllowRegisteredKeys bool
	ReplayWindow        time.Duration
	ClockSkew           time.Duration
}

type VerifyCaptureRequest struct {
	PayloadCanonical string
	SignatureB64     string
	CertChainB64     []string
	Media            []byte
	MediaName        string
	Manifest         []byte
	ManifestCOSE     []byte
}

// VerifyCapture checks the hash and signature binding of a capture, then
// fuses hardware evidence with the classifier verdict.
type VerifyCapture struct {
	Crypto     CryptoService
	Policy     PolicyEngine
	Nonces     NonceStore
	Classifier Classifier
	Records    VerificationRepository
	DeviceKeys DeviceKeyRepository
	Archive    EvidenceArchive
	TrustRoots *x509.CertPool
	Settings   VerifySettings
	Logger     *slog.Logger
	Now        func() time.Time
}

// VerifyOutcome is the full result handed to the transport layer.
type VerifyOutcome struct {
	Result  domain.VerificationResult
	Edits   *provenance.Summary
	Reasons []string
}

func (uc *VerifyCapture) Execute(ctx context.Context, req VerifyCaptureRequest) (*VerifyOutcome, error) {
	if uc.Crypto == nil {
		return nil, errors.New("crypto service is required")
	}
	now := uc.now()
	payloadBytes := []byte(req.PayloadCanonical)

	payload, err := uc.Crypto.DecodePayload(payloadBytes)
	if err != nil {
		return nil, uc.reject(ctx, domain.CapturePayload{}, err)
	}
	if len(req.Media) == 0 {
		return nil, uc.reject(ctx, payload, fmt.Errorf("%w: media file required", domain.ErrInvalidRequest))
	}
	if err := uc.checkMediaHash(payload, req.Media); err != nil {
		return nil, uc.reject(ctx, payload, err)
	}

	certs, err := uc.Crypto.ParseChain(req.CertChainB64)
	if err != nil {
		return nil, uc.reject(ctx, payload, err)
	}
	attestation := domain.AttestationSummary{ChainPresent: len(certs) > 0}
	var registered *domain.DeviceKey
	if len(certs) > 0 {
		if err := uc.Crypto.VerifySignature(certs[0].PublicKey, payloadBytes, req.SignatureB64); err != nil {
			return nil, uc.reject(ctx, payload, err)
		}
	} else {
		registered, err = uc.verifyWithRegisteredKey(ctx, payload, payloadBytes, req.SignatureB64)
		if err != nil {
			return nil, uc.reject(ctx, payload, err)
		}
	}

	if err := uc.checkFreshness(payload, now); err != nil {
		return nil, uc.reject(ctx, payload, err)
	}

	uc.assessHardware(&attestation, certs, registered, payloadBytes, now)

	policy, err := uc.evaluatePolicy(ctx, attestation, payload)
	if err != nil {
		return nil, err
	}
	attestation.Deny = policy.Deny

	outcome := &VerifyOutcome{}
	var consistent *bool
	if len(req.Manifest) > 0 {
		manifest, err := provenance.ParseManifest(req.Manifest)
		if err != nil {
			return nil, uc.reject(ctx, payload, err)
		}
		summary := provenance.Summarize(manifest)
		outcome.Edits = &summary
		consistent = &summary.Consistent
	}
	var manifestSigValid *bool
	if len(req.ManifestCOSE) > 0 && len(req.Manifest) > 0 {
		valid := uc.verifyManifestSignature(req.ManifestCOSE, req.Manifest, now)
		manifestSigValid = &valid
	}

	verdict := uc.classify(ctx, req, outcome.Edits, attestation)
	fused := Fuse(FuseInput{
		Policy:                 policy,
		Classifier:             verdict,
		ManifestSignatureValid: manifestSigValid,
		ManifestConsistent:     consistent,
	})

	outcome.Reasons = fused.Reasons
	outcome.Result = domain.VerificationResult{
		ID:                     uuid.NewString(),
		OK:                     fused.OK,
		Message:                fused.Message,
		Verdict:                fused.Verdict,
		Payload:                payload,
		Attestation:            attestation,
		Classification:         verdict,
		ManifestSignatureValid: manifestSigValid,
		VerifiedAt:             now,
	}

	// The nonce is spent only once the submission has cleared every check
	// that can reject it, and is given back if the record cannot be saved.
	nonceKey, err := uc.claimNonce(ctx, payload)
	if err != nil {
		return nil, uc.reject(ctx, payload, err)
	}
	record := recordFromResult(outcome.Result)
	if !fused.OK {
		record.ErrorCode = "POLICY_DENIED"
	}
	if uc.Records != nil {
		if err := uc.Records.Create(ctx, record); err != nil {
			uc.releaseNonce(ctx, nonceKey)
			return nil, fmt.Errorf("persist verification: %w", err)
		}
	}
	uc.archive(ctx, req, record)
	return outcome, nil
}

func (uc *VerifyCapture) checkMediaHash(payload domain.CapturePayload, media []byte) error {
	claimed, err := base64.StdEncoding.DecodeString(payload.ContentHashB64)
	if err != nil {
		return fmt.Errorf("%w: content_hash_b64", domain.ErrInvalidPayload)
	}
	actual := sha256.Sum256(media)
	if !bytes.Equal(claimed, actual[:]) {
		return domain.ErrHashMismatch
	}
	return nil
}

func (uc *VerifyCapture) verifyWithRegisteredKey(ctx context.Context, payload domain.CapturePayload, payloadBytes []byte, sigB64 string) (*domain.DeviceKey, error) {
	if !uc.Settings.AllowRegisteredKeys || uc.DeviceKeys == nil {
		return nil, fmt.Errorf("%w: empty certificate chain", domain.ErrKeyUnknown)
	}
	keys, err := uc.DeviceKeys.ListByApp(ctx, payload.AppID)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for i := range keys {
		key := keys[i]
		if key.Status != domain.KeyStatusActive {
			continue
		}
		var pub crypto.PublicKey
		pub, lastErr = cryptoinfra.ParsePublicKeyDER(key.PublicKey)
		if lastErr != nil {
			continue
		}
		if lastErr = uc.Crypto.VerifySignature(pub, payloadBytes, sigB64); lastErr == nil {
			return &key, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: no registered key verifies the payload", domain.ErrSignatureInvalid)
	}
	return nil, fmt.Errorf("%w: no active registered key for %s", domain.ErrKeyUnknown, payload.AppID)
}

func (uc *VerifyCapture) checkFreshness(payload domain.CapturePayload, now time.Time) error {
	window := uc.Settings.ReplayWindow
	if window <= 0 {
		return nil
	}
	issued := time.UnixMilli(payload.TimestampMs)
	if now.Sub(issued) > window {
		return fmt.Errorf("%w: issued %s", domain.ErrPayloadExpired, issued.UTC().Format(time.RFC3339))
	}
	if issued.Sub(now) > uc.Settings.ClockSkew {
		return fmt.Errorf("%w: issued in the future", domain.ErrPayloadExpired)
	}
	return nil
}

// claimNonce returns the claimed key, or "" when replay protection is off.
func (uc *VerifyCapture) claimNonce(ctx context.Context, payload domain.CapturePayload) (string, error) {
	window := uc.Settings.ReplayWindow
	if window <= 0 || uc.Nonces == nil {
		return "", nil
	}
	key := payload.AppID + ":" + payload.NonceB64
	claimed, err := uc.Nonces.Claim(ctx, key, window+uc.Settings.ClockSkew)
	if err != nil {
		return "", fmt.Errorf("claim nonce: %w", err)
	}
	if !claimed {
		return "", domain.ErrReplayDetected
	}
	return key, nil
}

func (uc *VerifyCapture) releaseNonce(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := uc.Nonces.Release(context.WithoutCancel(ctx), key); err != nil {
		loggerOrDefault(uc.Logger).Warn("nonce release failed", "error", err)
	}
}

// assessHardware re-derives the classification from the submitted evidence
// rather than trusting anything the device claims.
func (uc *VerifyCapture) assessHardware(summary *domain.AttestationSummary, certs []*x509.Certificate, registered *domain.DeviceKey, payloadBytes []byte, now time.Time) {
	logger := loggerOrDefault(uc.Logger)
	if registered != nil {
		summary.RegisteredKey = true
		summary.Classification = registered.Classification
		if summary.Classification == "" {
			summary.Classification = domain.ClassificationHardwareNoChain
		}
		summary.SecurityLevel = summary.Classification.SecurityLevel()
		return
	}
	if len(certs) == 0 {
		summary.Classification = domain.ClassificationNone
		return
	}

	if err := uc.Crypto.VerifyChain(certs, uc.TrustRoots, now); err != nil {
		logger.Info("attestation chain not trusted", "error", err)
	} else {
		summary.ChainTrusted = true
	}

	desc, found, err := uc.Crypto.KeyDescription(certs[0])
	if err != nil {
		logger.Info("attestation extension unreadable", "error", err)
		found = false
	}
	if found {
		challenge := sha256.Sum256(payloadBytes)
		summary.ChallengeMatches = bytes.Equal(desc.AttestationChallenge, challenge[:])
		summary.Classification = cryptoinfra.ClassifyEvidence(certs, &desc)
		summary.SecurityLevel = desc.AttestationSecurityLevel
		return
	}
	summary.Classification = cryptoinfra.ClassifyEvidence(certs, nil)
	summary.SecurityLevel = summary.Classification.SecurityLevel()
}

func (uc *VerifyCapture) evaluatePolicy(ctx context.Context, summary domain.AttestationSummary, payload domain.CapturePayload) (domain.PolicyResult, error) {
	if uc.Policy == nil {
		return domain.PolicyResult{Allow: true}, nil
	}
	eval, err := uc.Policy.Evaluate(ctx, domain.PolicyInput{
		Attestation: domain.PolicyAttestation{
			Classification:   string(summary.Classification),
			SecurityLevel:    summary.SecurityLevel,
			ChainPresent:     summary.ChainPresent,
			ChainTrusted:     summary.ChainTrusted,
			ChallengeMatches: summary.ChallengeMatches,
			RegisteredKey:    summary.RegisteredKey,
		},
		Payload: domain.PolicyPayload{Schema: payload.Schema, AppID: payload.AppID},
		Config: domain.PolicyConfig{
			AcceptSoftware:      uc.Settings.AcceptSoftware,
			RequireTrustedChain: uc.Settings.RequireTrustedChain,
			ExpectedAppID:       uc.Settings.ExpectedAppID,
		},
	})
	if err != nil {
		return domain.PolicyResult{}, fmt.Errorf("evaluate policy: %w", err)
	}
	return eval.Result, nil
}

func (uc *VerifyCapture) verifyManifestSignature(message, manifest []byte, now time.Time) bool {
	chain, err := uc.Crypto.VerifyManifestSignature(message, manifest)
	if err != nil {
		loggerOrDefault(uc.Logger).Info("manifest signature rejected", "error", err)
		return false
	}
	if uc.Settings.RequireTrustedChain {
		if err := uc.Crypto.VerifyChain(chain, uc.TrustRoots, now); err != nil {
			loggerOrDefault(uc.Logger).Info("manifest signer not trusted", "error", err)
			return false
		}
	}
	return true
}

func (uc *VerifyCapture) classify(ctx context.Context, req VerifyCaptureRequest, summary *provenance.Summary, attestation domain.AttestationSummary) *domain.ClassifierVerdict {
	if uc.Classifier == nil {
		return nil
	}
	verdict, err := uc.Classifier.Classify(ctx, ClassifyRequest{
		Media:          req.Media,
		MediaName:      req.MediaName,
		Manifest:       req.Manifest,
		Summary:        summary,
		HardwareLevel:  attestation.SecurityLevel,
		Classification: attestation.Classification,
	})
	if err != nil {
		loggerOrDefault(uc.Logger).Warn("classifier unavailable", "error", err)
		return nil
	}
	return &verdict
}

// reject records a hard failure and returns err unchanged.
func (uc *VerifyCapture) reject(ctx context.Context, payload domain.CapturePayload, err error) error {
	if uc.Records == nil {
		return err
	}
	record := domain.VerificationRecord{
		ID:             uuid.NewString(),
		AppID:          payload.AppID,
		ContentHashB64: payload.ContentHashB64,
		NonceB64:       payload.NonceB64,
		Classification: domain.ClassificationNone,
		OK:             false,
		Verdict:        domain.VerdictNotAuthentic,
		Message:        err.Error(),
		ErrorCode:      domain.ErrorCode(err),
		CreatedAt:      uc.now(),
	}
	if perr := uc.Records.Create(ctx, record); perr != nil {
		loggerOrDefault(uc.Logger).Warn("persist rejection failed", "error", perr)
	}
	return err
}

func (uc *VerifyCapture) archive(ctx context.Context, req VerifyCaptureRequest, record domain.VerificationRecord) {
	if uc.Archive == nil {
		return
	}
	chain := req.CertChainB64
	if chain == nil {
		chain = []string{}
	}
	ev := Evidence{
		VerificationID:   record.ID,
		PayloadCanonical: req.PayloadCanonical,
		SignatureB64:     req.SignatureB64,
		CertChainB64:     chain,
		MediaSHA256B64:   cryptoinfra.SHA256B64(req.Media),
		Manifest:         string(req.Manifest),
		Result:           record,
	}
	if err := uc.Archive.Put(ctx, ev); err != nil {
		loggerOrDefault(uc.Logger).Warn("evidence archive write failed", "verification_id", record.ID, "error", err)
	}
}

func recordFromResult(result domain.VerificationResult) domain.VerificationRecord {
	rec := domain.VerificationRecord{
		ID:             result.ID,
		AppID:          result.Payload.AppID,
		ContentHashB64: result.Payload.ContentHashB64,
		NonceB64:       result.Payload.NonceB64,
		Classification: result.Attestation.Classification,
		SecurityLevel:  result.Attestation.SecurityLevel,
		OK:             result.OK,
		Verdict:        result.Verdict,
		Message:        result.Message,
		CreatedAt:      result.VerifiedAt,
	}
	if result.Classification != nil {
		rec.Label = result.Classification.Label
		rec.RiskScore = result.Classification.RiskScore
	}
	return rec
}

func (uc *VerifyCapture) now() time.Time {
	if uc.Now != nil {
		return uc.Now().UTC()
	}
	return time.Now().UTC()
}
