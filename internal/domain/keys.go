package domain

import "time"

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRetired KeyStatus = "retired"
	KeyStatusRevoked KeyStatus = "revoked"
)

// DeviceKey is a public key registered out of band for an app. It is only
// consulted when a submission arrives without an attestation chain.
type DeviceKey struct {
	ID             string
	AppID          string
	KID            string
	PublicKey      []byte // PKIX DER
	Classification Classification
	Status         KeyStatus
	CreatedAt      time.Time
}
