package crypto

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// KeyDescriptionOID identifies the Android key attestation extension.
var KeyDescriptionOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}

const (
	softwareAttestationMarker = "software attestation"
	strongBoxMarker           = "strongbox"
)

// MarshalKeyDescription encodes the leading KeyDescription fields followed
// by empty softwareEnforced/hardwareEnforced authorization lists.
func MarshalKeyDescription(desc domain.KeyDescription) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(desc.AttestationVersion)
		b.AddASN1Enum(int64(desc.AttestationSecurityLevel))
		b.AddASN1Int64(desc.KeymasterVersion)
		b.AddASN1Enum(int64(desc.KeymasterSecurityLevel))
		b.AddASN1OctetString(desc.AttestationChallenge)
		b.AddASN1OctetString(desc.UniqueID)
		b.AddASN1(cbasn1.SEQUENCE, func(*cryptobyte.Builder) {})
		b.AddASN1(cbasn1.SEQUENCE, func(*cryptobyte.Builder) {})
	})
	return b.Bytes()
}

// ParseKeyDescription decodes the fields of the attestation extension that
// precede the authorization lists. The lists are skipped.
func ParseKeyDescription(der []byte) (domain.KeyDescription, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return domain.KeyDescription{}, errors.New("key description: malformed sequence")
	}
	var desc domain.KeyDescription
	var secLevel, kmSecLevel int
	if !seq.ReadASN1Integer(&desc.AttestationVersion) {
		return domain.KeyDescription{}, errors.New("key description: attestationVersion")
	}
	if !seq.ReadASN1Enum(&secLevel) {
		return domain.KeyDescription{}, errors.New("key description: attestationSecurityLevel")
	}
	if !seq.ReadASN1Integer(&desc.KeymasterVersion) {
		return domain.KeyDescription{}, errors.New("key description: keymasterVersion")
	}
	if !seq.ReadASN1Enum(&kmSecLevel) {
		return domain.KeyDescription{}, errors.New("key description: keymasterSecurityLevel")
	}
	if !seq.ReadASN1Bytes(&desc.AttestationChallenge, cbasn1.OCTET_STRING) {
		return domain.KeyDescription{}, errors.New("key description: attestationChallenge")
	}
	if !seq.ReadASN1Bytes(&desc.UniqueID, cbasn1.OCTET_STRING) {
		return domain.KeyDescription{}, errors.New("key description: uniqueId")
	}
	desc.AttestationSecurityLevel = secLevel
	desc.KeymasterSecurityLevel = kmSecLevel
	return desc, nil
}

// ExtractKeyDescription finds and decodes the attestation extension of a
// leaf certificate. The boolean is false when the extension is absent.
func ExtractKeyDescription(cert *x509.Certificate) (domain.KeyDescription, bool, error) {
	if cert == nil {
		return domain.KeyDescription{}, false, errors.New("certificate is required")
	}
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(KeyDescriptionOID) {
			continue
		}
		desc, err := ParseKeyDescription(ext.Value)
		if err != nil {
			return domain.KeyDescription{}, true, err
		}
		return desc, true, nil
	}
	return domain.KeyDescription{}, false, nil
}

// ClassifyChain is a subject-string heuristic, not a cryptographic
// guarantee: a chain whose subjects mention software attestation is
// SOFTWARE, a StrongBox key whose chain names StrongBox is STRONGBOX, and
// everything else is TEE_HARDWARE. An empty chain is NONE.
func ClassifyChain(chain []*x509.Certificate, strongBoxRequested bool) domain.Classification {
	if len(chain) == 0 {
		return domain.ClassificationNone
	}
	for _, cert := range chain {
		if strings.Contains(strings.ToLower(cert.Subject.String()), softwareAttestationMarker) {
			return domain.ClassificationSoftware
		}
	}
	if strongBoxRequested {
		for _, cert := range chain {
			if strings.Contains(strings.ToLower(cert.Subject.String()), strongBoxMarker) {
				return domain.ClassificationStrongBox
			}
		}
	}
	return domain.ClassificationTEE
}

// ClassifyEvidence derives the classification a verifier assigns to a
// submitted chain. The attestation extension, when present, decides; the
// subject heuristic covers chains without one.
func ClassifyEvidence(chain []*x509.Certificate, desc *domain.KeyDescription) domain.Classification {
	if len(chain) == 0 {
		return domain.ClassificationNone
	}
	if desc != nil {
		switch desc.AttestationSecurityLevel {
		case domain.SecurityLevelStrongBox:
			return domain.ClassificationStrongBox
		case domain.SecurityLevelTrustedEnvironment:
			return domain.ClassificationTEE
		default:
			return domain.ClassificationSoftware
		}
	}
	return ClassifyChain(chain, true)
}

func ParseCertChainDER(chain [][]byte) ([]*x509.Certificate, error) {
	out := make([]*x509.Certificate, 0, len(chain))
	for i, der := range chain {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate %d: %v", domain.ErrChainInvalid, i, err)
		}
		out = append(out, cert)
	}
	return out, nil
}

func ParseCertChainB64(chain []string) ([]*x509.Certificate, error) {
	raw := make([][]byte, 0, len(chain))
	for i, item := range chain {
		der, err := base64.StdEncoding.DecodeString(item)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate %d: invalid base64", domain.ErrChainInvalid, i)
		}
		raw = append(raw, der)
	}
	return ParseCertChainDER(raw)
}

func EncodeCertChainB64(chain [][]byte) []string {
	out := make([]string, 0, len(chain))
	for _, der := range chain {
		out = append(out, base64.StdEncoding.EncodeToString(der))
	}
	return out
}

// VerifyChain checks that the leaf chains to one of roots through the
// remaining certificates. Attestation leaves carry no EKU, so any usage is
// accepted.
func VerifyChain(chain []*x509.Certificate, roots *x509.CertPool, now time.Time) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", domain.ErrChainInvalid)
	}
	if roots == nil {
		return fmt.Errorf("%w: no trust roots configured", domain.ErrChainInvalid)
	}
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChainInvalid, err)
	}
	return nil
}
