package usecase

import (
	"context"
	"crypto/sha256"
	"errors"

	"github.com/nictjh/originalCapture/internal/domain"
	cryptoinfra "github.com/nictjh/originalCapture/internal/infra/crypto"

	"github.com/google/uuid"
)

// SignManifest signs an edit manifest as COSE_Sign1 with its own attested,
// single-use key. The attestation challenge is the SHA-256 of the canonical
// manifest.
type SignManifest struct {
	Keystore    domain.Keystore
	Attestation *GenerateAttestedKey
	Capture     *Capture
}

type SignedManifest struct {
	COSE           []byte
	Classification domain.Classification
	ChainLength    int
}

func (uc *SignManifest) Execute(ctx context.Context, manifestJSON []byte) (SignedManifest, error) {
	if uc.Keystore == nil {
		return SignedManifest{}, errors.New("keystore is required")
	}
	canonical, err := cryptoinfra.CanonicalizeManifest(manifestJSON)
	if err != nil {
		return SignedManifest{}, err
	}
	alias := "manifest-" + uuid.NewString()
	deleter := uc.Capture
	if deleter == nil {
		deleter = &Capture{Keystore: uc.Keystore}
	}
	defer func() {
		_ = deleter.DeleteKey(context.WithoutCancel(ctx), alias)
	}()

	attest := GenerateAttestedKey{Keystore: uc.Keystore}
	if uc.Attestation != nil {
		attest = *uc.Attestation
	}
	if attest.Cleanup == nil {
		attest.Cleanup = deleter.DeleteKey
	}
	challenge := sha256.Sum256(canonical)
	result, err := attest.Execute(ctx, alias, challenge[:])
	if err != nil {
		return SignedManifest{}, err
	}
	msg, err := cryptoinfra.SignManifest(ctx, uc.Keystore, alias, manifestJSON, result.CertChain)
	if err != nil {
		return SignedManifest{}, err
	}
	return SignedManifest{COSE: msg, Classification: result.Classification, ChainLength: len(result.CertChain)}, nil
}
