package domain

import "time"

// CaptureRecord is the agent's local ledger entry for one capture.
type CaptureRecord struct {
	ID             string
	Alias          string
	MediaPath      string
	SidecarPath    string
	ContentHashB64 string
	AppID          string
	RequestedTier  SecurityTier
	AchievedTier   SecurityTier
	FellBack       bool
	Classification Classification
	ChainLength    int
	KeyDeleted     bool
	DeleteError    string
	CreatedAt      time.Time
}

// CaptureOutcome is what a completed capture hands back to the caller.
type CaptureOutcome struct {
	RecordID    string
	MediaPath   string
	SidecarPath string
	Payload     CapturePayload
	Canonical   []byte
	Receipt     SidecarReceipt
	Attestation AttestationResult
	KeyDeleted  bool
}
