package crypto

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"github.com/nictjh/originalCapture/internal/domain"

	"github.com/gowebpki/jcs"
	"github.com/veraison/go-cose"
)

// CanonicalizeManifest returns the RFC 8785 form of a manifest document.
// This is the COSE payload, so whitespace and key order in the submitted
// manifest do not affect the signature.
func CanonicalizeManifest(manifestJSON []byte) ([]byte, error) {
	canonical, err := jcs.Transform(manifestJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidManifest, err)
	}
	return canonical, nil
}

// keystoreSigner adapts an alias in a Keystore to cose.Signer. The keystore
// returns DER, COSE wants r||s.
type keystoreSigner struct {
	ctx   context.Context
	store domain.Keystore
	alias string
}

func (s keystoreSigner) Algorithm() cose.Algorithm {
	return cose.AlgorithmES256
}

func (s keystoreSigner) Sign(_ io.Reader, content []byte) ([]byte, error) {
	der, err := s.store.Sign(s.ctx, s.alias, content)
	if err != nil {
		return nil, err
	}
	return DERToRaw(der)
}

// SignManifest produces a COSE_Sign1 over the canonical manifest using the
// key behind alias. The attestation chain travels in the unprotected x5chain
// header.
func SignManifest(ctx context.Context, store domain.Keystore, alias string, manifestJSON []byte, chain [][]byte) ([]byte, error) {
	if store == nil {
		return nil, errors.New("keystore is required")
	}
	payload, err := CanonicalizeManifest(manifestJSON)
	if err != nil {
		return nil, err
	}
	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm:   cose.AlgorithmES256,
			cose.HeaderLabelContentType: "application/json",
		},
	}
	if len(chain) > 0 {
		headers.Unprotected = cose.UnprotectedHeader{
			cose.HeaderLabelX5Chain: x5chainValue(chain),
		}
	}
	signer := keystoreSigner{ctx: ctx, store: store, alias: alias}
	return cose.Sign1(rand.Reader, signer, headers, payload, nil)
}

// VerifyManifestSignature checks a COSE_Sign1 against the submitted manifest
// and returns the chain it carried, leaf first. Chain trust is the caller's
// decision.
func VerifyManifestSignature(message, manifestJSON []byte) ([]*x509.Certificate, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(message); err != nil {
		return nil, fmt.Errorf("%w: decode COSE_Sign1: %v", domain.ErrSignatureInvalid, err)
	}
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil || alg != cose.AlgorithmES256 {
		return nil, fmt.Errorf("%w: manifest signature must use ES256", domain.ErrSignatureInvalid)
	}
	rawChain, err := parseX5Chain(msg.Headers.Unprotected[cose.HeaderLabelX5Chain])
	if err != nil {
		return nil, err
	}
	if len(rawChain) == 0 {
		return nil, fmt.Errorf("%w: manifest signature carries no x5chain", domain.ErrKeyUnknown)
	}
	chain, err := ParseCertChainDER(rawChain)
	if err != nil {
		return nil, err
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, chain[0].PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}
	canonical, err := CanonicalizeManifest(manifestJSON)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(canonical, msg.Payload) {
		return nil, fmt.Errorf("%w: manifest does not match signed payload", domain.ErrSignatureInvalid)
	}
	return chain, nil
}

func x5chainValue(chain [][]byte) any {
	if len(chain) == 1 {
		return chain[0]
	}
	out := make([]any, 0, len(chain))
	for _, der := range chain {
		out = append(out, der)
	}
	return out
}

func parseX5Chain(value any) ([][]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return [][]byte{v}, nil
	case [][]byte:
		return v, nil
	case []any:
		out := make([][]byte, 0, len(v))
		for _, item := range v {
			der, ok := item.([]byte)
			if !ok {
				return nil, fmt.Errorf("%w: x5chain entry is not a byte string", domain.ErrChainInvalid)
			}
			out = append(out, der)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported x5chain header", domain.ErrChainInvalid)
	}
}
