package soft

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	infracrypto "github.com/nictjh/originalCapture/internal/infra/crypto"
)

const (
	rootSubject              = "Emulated Key Attestation Root"
	strongBoxIntermediateCN  = "StrongBox Attestation Intermediate"
	teeIntermediateCN        = "TEE Attestation Intermediate"
	softwareIntermediateCN   = "Android Keystore Software Attestation Intermediate"
	authorityValidity        = 10 * 365 * 24 * time.Hour
	attestationLeafValidity  = 24 * time.Hour
	intermediateSerialPrefix = 0x10
)

// Authority is the root of the emulated attestation PKI. Verifiers trust
// RootPEM; the keystore issues per-tier intermediates under it.
type Authority struct {
	rootKey  *ecdsa.PrivateKey
	rootCert *x509.Certificate

	mu            sync.Mutex
	intermediates map[string]issuer
}

type issuer struct {
	key  *ecdsa.PrivateKey
	cert *x509.Certificate
}

func NewAuthority(now time.Time) (*Authority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate root key: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: rootSubject},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(authorityValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create root certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Authority{rootKey: key, rootCert: cert, intermediates: map[string]issuer{}}, nil
}

// LoadAuthority restores an authority from PEM written by RootPEM and
// KeyPEM.
func LoadAuthority(certPEM, keyPEM []byte) (*Authority, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, errors.New("authority certificate PEM is invalid")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse authority certificate: %w", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, errors.New("authority key PEM is invalid")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse authority key: %w", err)
	}
	if !key.PublicKey.Equal(cert.PublicKey) {
		return nil, errors.New("authority key does not match certificate")
	}
	return &Authority{rootKey: key, rootCert: cert, intermediates: map[string]issuer{}}, nil
}

func (a *Authority) RootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.rootCert.Raw})
}

func (a *Authority) KeyPEM() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(a.rootKey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

func (a *Authority) Root() *x509.Certificate {
	return a.rootCert
}

func (a *Authority) RootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.rootCert)
	return pool
}

func (a *Authority) intermediate(commonName string, now time.Time) (issuer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if iss, ok := a.intermediates[commonName]; ok {
		return iss, nil
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return issuer{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(int64(intermediateSerialPrefix + len(a.intermediates))),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              a.rootCert.NotAfter,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.rootCert, &key.PublicKey, a.rootKey)
	if err != nil {
		return issuer{}, fmt.Errorf("create intermediate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return issuer{}, err
	}
	iss := issuer{key: key, cert: cert}
	a.intermediates[commonName] = iss
	return iss, nil
}

// issueLeaf certifies pub under the tier intermediate with the
// KeyDescription extension attached. The chain is leaf first and ends at
// the root.
func (a *Authority) issueLeaf(pub *ecdsa.PublicKey, intermediateCN string, keyDescription []byte, now time.Time) ([][]byte, error) {
	iss, err := a.intermediate(intermediateCN, now)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "Android Keystore Key"},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(attestationLeafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtraExtensions: []pkix.Extension{
			{Id: infracrypto.KeyDescriptionOID, Value: keyDescription},
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, iss.cert, pub, iss.key)
	if err != nil {
		return nil, fmt.Errorf("create attestation certificate: %w", err)
	}
	return [][]byte{der, iss.cert.Raw, a.rootCert.Raw}, nil
}

func intermediateFor(profile Profile, tier domain.SecurityTier) string {
	if profile == ProfileSoftware {
		return softwareIntermediateCN
	}
	if tier == domain.TierStrongBox {
		return strongBoxIntermediateCN
	}
	return teeIntermediateCN
}
