package usecase

import (
	"context"
	"crypto"
	"crypto/x509"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	"github.com/nictjh/originalCapture/internal/provenance"
)

type CryptoService interface {
	DecodePayload(raw []byte) (domain.CapturePayload, error)
	HashMediaB64(media []byte) string
	VerifySignature(pub crypto.PublicKey, payload []byte, sigB64 string) error
	ParseChain(chainB64 []string) ([]*x509.Certificate, error)
	VerifyChain(chain []*x509.Certificate, roots *x509.CertPool, now time.Time) error
	KeyDescription(leaf *x509.Certificate) (domain.KeyDescription, bool, error)
	VerifyManifestSignature(message, manifestJSON []byte) ([]*x509.Certificate, error)
}

type PolicyEngine interface {
	Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error)
}

// NonceStore claims a payload nonce exactly once within ttl. Release gives
// a claim back when the verification it guarded was never recorded.
type NonceStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (domain.ClassifierVerdict, error)
}

type ClassifyRequest struct {
	Media          []byte
	MediaName      string
	Manifest       []byte
	Summary        *provenance.Summary
	HardwareLevel  int
	Classification domain.Classification
}

type VerificationRepository interface {
	Create(ctx context.Context, rec domain.VerificationRecord) error
	GetByID(ctx context.Context, id string) (*domain.VerificationRecord, error)
}

type DeviceKeyRepository interface {
	Create(ctx context.Context, key domain.DeviceKey) error
	ListByApp(ctx context.Context, appID string) ([]domain.DeviceKey, error)
}

type EvidenceArchive interface {
	Put(ctx context.Context, ev Evidence) error
}

// Evidence is what the verifier keeps about one submission.
type Evidence struct {
	VerificationID   string                    `json:"verification_id"`
	PayloadCanonical string                    `json:"payload_canonical"`
	SignatureB64     string                    `json:"sig_b64"`
	CertChainB64     []string                  `json:"x5c_der_b64"`
	MediaSHA256B64   string                    `json:"media_sha256_b64"`
	Manifest         string                    `json:"manifest,omitempty"`
	Result           domain.VerificationRecord `json:"result"`
}

type CaptureLedger interface {
	RecordCapture(ctx context.Context, rec domain.CaptureRecord) error
	ListCaptures(ctx context.Context, limit int) ([]domain.CaptureRecord, error)
}

type PayloadEncoder interface {
	Encode(contentHashB64, appID string) (domain.CapturePayload, []byte, error)
}
