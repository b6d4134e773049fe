package domain

import (
	"context"
	"crypto"
)

// Keystore is the boundary to secure key hardware. Every key is bound to a
// single alias and signs with ECDSA P-256 / SHA-256.
type Keystore interface {
	// GenerateKey creates a signing-only key at the given tier with the
	// challenge embedded in its attestation. It returns ErrTierUnavailable
	// when the tier does not exist on this device.
	GenerateKey(ctx context.Context, alias string, challenge []byte, tier SecurityTier) error
	// CertificateChain returns the DER chain, leaf first, or an empty slice
	// when the key has no attestation chain.
	CertificateChain(ctx context.Context, alias string) ([][]byte, error)
	// InsideSecureHardware returns nil when residency cannot be determined.
	InsideSecureHardware(ctx context.Context, alias string) (*bool, error)
	Sign(ctx context.Context, alias string, payload []byte) ([]byte, error)
	PublicKey(ctx context.Context, alias string) (crypto.PublicKey, error)
	DeleteKey(ctx context.Context, alias string) error
	Contains(ctx context.Context, alias string) (bool, error)
}
