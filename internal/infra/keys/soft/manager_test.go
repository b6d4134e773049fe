package soft

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	infracrypto "github.com/nictjh/originalCapture/internal/infra/crypto"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	authority, err := NewAuthority(time.Now())
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	return NewManager(authority, opts)
}

func TestManager_StrongBoxChainCarriesChallenge(t *testing.T) {
	manager := newTestManager(t, Options{Profile: ProfileStrongBox})
	ctx := context.Background()
	challenge := sha256.Sum256([]byte("payload"))

	if err := manager.GenerateKey(ctx, "alias-1", challenge[:], domain.TierStrongBox); err != nil {
		t.Fatalf("generate: %v", err)
	}
	chainDER, err := manager.CertificateChain(ctx, "alias-1")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chainDER) != 3 {
		t.Fatalf("expected leaf, intermediate and root, got %d", len(chainDER))
	}
	chain, err := infracrypto.ParseCertChainDER(chainDER)
	if err != nil {
		t.Fatalf("parse chain: %v", err)
	}
	if err := infracrypto.VerifyChain(chain, manager.authority.RootPool(), time.Now()); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	desc, ok, err := infracrypto.ExtractKeyDescription(chain[0])
	if err != nil || !ok {
		t.Fatalf("key description: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(desc.AttestationChallenge, challenge[:]) {
		t.Fatal("challenge mismatch")
	}
	if desc.AttestationSecurityLevel != domain.SecurityLevelStrongBox {
		t.Fatalf("expected strongbox level, got %d", desc.AttestationSecurityLevel)
	}
}

func TestManager_TEEProfileRejectsStrongBox(t *testing.T) {
	manager := newTestManager(t, Options{Profile: ProfileTEE})
	err := manager.GenerateKey(context.Background(), "alias-1", []byte("c"), domain.TierStrongBox)
	if !errors.Is(err, domain.ErrTierUnavailable) {
		t.Fatalf("expected ErrTierUnavailable, got %v", err)
	}
}

func TestManager_SignVerifiesAndDeleteRemovesKey(t *testing.T) {
	manager := newTestManager(t, Options{Profile: ProfileTEE})
	ctx := context.Background()
	if err := manager.GenerateKey(ctx, "alias-1", []byte("c"), domain.TierTEE); err != nil {
		t.Fatalf("generate: %v", err)
	}
	sig, err := manager.Sign(ctx, "alias-1", []byte("payload"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	pub, err := manager.PublicKey(ctx, "alias-1")
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if err := infracrypto.VerifyES256(pub, []byte("payload"), b64(sig)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := manager.DeleteKey(ctx, "alias-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := manager.Contains(ctx, "alias-1"); ok {
		t.Fatal("expected alias to be gone")
	}
	if _, err := manager.Sign(ctx, "alias-1", []byte("payload")); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestManager_WithoutChainReportsResidency(t *testing.T) {
	manager := newTestManager(t, Options{Profile: ProfileTEE, WithoutChain: true})
	ctx := context.Background()
	if err := manager.GenerateKey(ctx, "alias-1", []byte("c"), domain.TierTEE); err != nil {
		t.Fatalf("generate: %v", err)
	}
	chain, err := manager.CertificateChain(ctx, "alias-1")
	if err != nil || len(chain) != 0 {
		t.Fatalf("expected empty chain, got %d (%v)", len(chain), err)
	}
	inside, err := manager.InsideSecureHardware(ctx, "alias-1")
	if err != nil || inside == nil || !*inside {
		t.Fatalf("expected residency true, got %v (%v)", inside, err)
	}
}

func TestManager_SoftwareProfileUsesSoftwareIntermediate(t *testing.T) {
	manager := newTestManager(t, Options{Profile: ProfileSoftware})
	ctx := context.Background()
	if err := manager.GenerateKey(ctx, "alias-1", []byte("c"), domain.TierTEE); err != nil {
		t.Fatalf("generate: %v", err)
	}
	chainDER, _ := manager.CertificateChain(ctx, "alias-1")
	intermediate, err := x509.ParseCertificate(chainDER[1])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if intermediate.Subject.CommonName != softwareIntermediateCN {
		t.Fatalf("unexpected intermediate %q", intermediate.Subject.CommonName)
	}
}

func TestStore_LoadOrCreateRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "keystore"))
	first, created, err := store.LoadOrCreate(time.Now())
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	second, created, err := store.LoadOrCreate(time.Now())
	if err != nil || created {
		t.Fatalf("load: created=%v err=%v", created, err)
	}
	if !bytes.Equal(first.RootPEM(), second.RootPEM()) {
		t.Fatal("expected the stored root to be reused")
	}
}

func b64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
