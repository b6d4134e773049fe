package domain

import "time"

const (
	VerdictNotAuthentic = "not_authentic"
	VerdictUnclassified = "unclassified"
)

// AttestationSummary is the hardware half of a verdict.
type AttestationSummary struct {
	SecurityLevel    int            `json:"attestationSecurityLevel"`
	Classification   Classification `json:"classification"`
	ChainPresent     bool           `json:"chain_present"`
	ChainTrusted     bool           `json:"chain_trusted"`
	ChallengeMatches bool           `json:"challenge_matches"`
	RegisteredKey    bool           `json:"registered_key"`
	Deny             []PolicyDeny   `json:"deny,omitempty"`
}

// ClassifierVerdict is the opaque scoring service's answer.
type ClassifierVerdict struct {
	Label     string   `json:"label"`
	RiskScore float64  `json:"risk_score"`
	Reasons   []string `json:"reasons"`
	Source    string   `json:"source,omitempty"`
}

type VerificationResult struct {
	ID                     string
	OK                     bool
	Message                string
	Verdict                string
	Payload                CapturePayload
	Attestation            AttestationSummary
	Classification         *ClassifierVerdict
	ManifestSignatureValid *bool
	VerifiedAt             time.Time
}

// VerificationRecord is the persisted outcome of one verification call.
type VerificationRecord struct {
	ID             string
	AppID          string
	ContentHashB64 string
	NonceB64       string
	Classification Classification
	SecurityLevel  int
	OK             bool
	Verdict        string
	Label          string
	RiskScore      float64
	Message        string
	ErrorCode      string
	CreatedAt      time.Time
}
