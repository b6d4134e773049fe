package usecase

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	cryptoinfra "github.com/nictjh/originalCapture/internal/infra/crypto"
	"github.com/nictjh/originalCapture/internal/infra/keys/soft"
)

func TestSignManifest_SignsWithFreshKeyAndDeletesIt(t *testing.T) {
	for _, profile := range []soft.Profile{soft.ProfileStrongBox, soft.ProfileTEE} {
		t.Run(string(profile), func(t *testing.T) {
			signManifestDeletesOnce(t, profile)
		})
	}
}

func signManifestDeletesOnce(t *testing.T, profile soft.Profile) {
	authority := newAuthority(t)
	ks := newTrackingKeystore(soft.NewManager(authority, soft.Options{Profile: profile}))
	manifest := []byte(`{"schema":"edit.v1","ops":[]}`)

	signed, err := (&SignManifest{Keystore: ks}).Execute(context.Background(), manifest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	chain, err := cryptoinfra.VerifyManifestSignature(signed.COSE, manifest)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(chain) != signed.ChainLength {
		t.Fatalf("chain length = %d, want %d", len(chain), signed.ChainLength)
	}
	if err := cryptoinfra.VerifyChain(chain, authority.RootPool(), time.Now()); err != nil {
		t.Fatalf("chain: %v", err)
	}

	desc, found, err := cryptoinfra.ExtractKeyDescription(chain[0])
	if err != nil || !found {
		t.Fatalf("key description: found=%t err=%v", found, err)
	}
	canonical, err := cryptoinfra.CanonicalizeManifest(manifest)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := sha256.Sum256(canonical)
	if string(desc.AttestationChallenge) != string(want[:]) {
		t.Fatalf("challenge is not the manifest digest")
	}

	deletes := ks.deleteCount("manifest-")
	if len(deletes) != 1 {
		t.Fatalf("deletes = %v", deletes)
	}
	for alias, n := range deletes {
		if n != 1 {
			t.Fatalf("alias %s deleted %d times", alias, n)
		}
		if present, _ := ks.Contains(context.Background(), alias); present {
			t.Fatalf("manifest key %s survived", alias)
		}
	}
}

func TestSignManifest_RejectsInvalidJSON(t *testing.T) {
	ks := soft.NewManager(newAuthority(t), soft.Options{})
	if _, err := (&SignManifest{Keystore: ks}).Execute(context.Background(), []byte("{")); err == nil {
		t.Fatalf("expected error for malformed manifest")
	}
}
