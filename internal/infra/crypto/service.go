package crypto

import (
	"crypto"
	"crypto/x509"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
)

// Service bundles the verifier-side primitives behind one value so use
// cases can depend on an interface.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) DecodePayload(raw []byte) (domain.CapturePayload, error) {
	return DecodePayload(raw)
}

func (s *Service) HashMediaB64(media []byte) string {
	return SHA256B64(media)
}

func (s *Service) VerifySignature(pub crypto.PublicKey, payload []byte, sigB64 string) error {
	return VerifyES256(pub, payload, sigB64)
}

func (s *Service) ParseChain(chainB64 []string) ([]*x509.Certificate, error) {
	return ParseCertChainB64(chainB64)
}

func (s *Service) VerifyChain(chain []*x509.Certificate, roots *x509.CertPool, now time.Time) error {
	return VerifyChain(chain, roots, now)
}

func (s *Service) KeyDescription(leaf *x509.Certificate) (domain.KeyDescription, bool, error) {
	return ExtractKeyDescription(leaf)
}

func (s *Service) VerifyManifestSignature(message, manifestJSON []byte) ([]*x509.Certificate, error) {
	return VerifyManifestSignature(message, manifestJSON)
}
