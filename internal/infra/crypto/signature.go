package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/nictjh/originalCapture/internal/domain"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const p256ScalarSize = 32

func SHA256(input []byte) []byte {
	sum := sha256.Sum256(input)
	return sum[:]
}

func SHA256B64(input []byte) string {
	return base64.StdEncoding.EncodeToString(SHA256(input))
}

// VerifyES256 checks a base64 DER ECDSA-SHA256 signature over payload.
func VerifyES256(pub any, payload []byte, sigB64 string) error {
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: public key is not ECDSA", domain.ErrSignatureInvalid)
	}
	if key.Curve != elliptic.P256() {
		return fmt.Errorf("%w: public key is not P-256", domain.ErrSignatureInvalid)
	}
	if sigB64 == "" {
		return fmt.Errorf("%w: signature value is required", domain.ErrSignatureInvalid)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("%w: invalid signature encoding", domain.ErrSignatureInvalid)
	}
	digest := sha256.Sum256(payload)
	if !ecdsa.VerifyASN1(key, digest[:], sig) {
		return fmt.Errorf("%w: signature verification failed", domain.ErrSignatureInvalid)
	}
	return nil
}

func ParsePublicKeyDER(der []byte) (*ecdsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, errors.New("public key must be ECDSA P-256")
	}
	return key, nil
}

// DERToRaw converts an ASN.1 ECDSA signature into the fixed-width r||s form
// used by COSE.
func DERToRaw(der []byte) ([]byte, error) {
	input := cryptobyte.String(der)
	var inner cryptobyte.String
	r, s := new(big.Int), new(big.Int)
	if !input.ReadASN1(&inner, cbasn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return nil, errors.New("malformed ECDSA signature")
	}
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > 8*p256ScalarSize || s.BitLen() > 8*p256ScalarSize {
		return nil, errors.New("ECDSA signature out of range")
	}
	out := make([]byte, 2*p256ScalarSize)
	r.FillBytes(out[:p256ScalarSize])
	s.FillBytes(out[p256ScalarSize:])
	return out, nil
}

func RawToDER(raw []byte) ([]byte, error) {
	if len(raw) != 2*p256ScalarSize {
		return nil, fmt.Errorf("invalid raw signature length: %d", len(raw))
	}
	r := new(big.Int).SetBytes(raw[:p256ScalarSize])
	s := new(big.Int).SetBytes(raw[p256ScalarSize:])
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}
