package replay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryNonceStoreClaimOnce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := NewMemoryNonceStore(MemoryNonceStoreConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	ok, err := store.Claim(ctx, "app:nonce-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	ok, err = store.Claim(ctx, "app:nonce-1", time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("expected replay to be rejected")
	}

	now = now.Add(2 * time.Minute)
	ok, err = store.Claim(ctx, "app:nonce-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expired nonce should be claimable: %v %v", ok, err)
	}
}

func TestMemoryNonceStoreConcurrentClaims(t *testing.T) {
	store := NewMemoryNonceStore(MemoryNonceStoreConfig{})
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Claim(context.Background(), "app:shared", time.Minute)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestMemoryNonceStoreRejectsEmptyKey(t *testing.T) {
	store := NewMemoryNonceStore(MemoryNonceStoreConfig{})
	if _, err := store.Claim(context.Background(), "", time.Minute); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestMemoryNonceStoreReleaseAllowsReclaim(t *testing.T) {
	store := NewMemoryNonceStore(MemoryNonceStoreConfig{})
	ctx := context.Background()
	if ok, err := store.Claim(ctx, "app:nonce-2", time.Minute); err != nil || !ok {
		t.Fatalf("first claim ok=%t err=%v", ok, err)
	}
	if err := store.Release(ctx, "app:nonce-2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := store.Claim(ctx, "app:nonce-2", time.Minute); err != nil || !ok {
		t.Fatalf("claim after release ok=%t err=%v", ok, err)
	}
}
