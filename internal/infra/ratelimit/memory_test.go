package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, "verify:1.2.3.4", 2, time.Minute)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if decision.Remaining != 1-i {
			t.Fatalf("remaining = %d", decision.Remaining)
		}
	}
	decision, err := limiter.Allow(ctx, "verify:1.2.3.4", 2, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("third request should be limited")
	}
	if !decision.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("reset at = %v", decision.ResetAt)
	}

	other, err := limiter.Allow(ctx, "verify:5.6.7.8", 2, time.Minute)
	if err != nil || !other.Allowed {
		t.Fatalf("keys must be independent: %+v %v", other, err)
	}

	now = now.Add(time.Minute + time.Second)
	decision, err = limiter.Allow(ctx, "verify:1.2.3.4", 2, time.Minute)
	if err != nil || !decision.Allowed {
		t.Fatalf("window should have reset: %+v %v", decision, err)
	}
}

func TestMemoryLimiterCapacity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }, MaxKeys: 1})
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "a", 1, time.Second); err != nil {
		t.Fatalf("allow a: %v", err)
	}
	if _, err := limiter.Allow(ctx, "b", 1, time.Second); err == nil {
		t.Fatalf("expected capacity error")
	}
	now = now.Add(2 * time.Second)
	if _, err := limiter.Allow(ctx, "b", 1, time.Second); err != nil {
		t.Fatalf("expected expired keys to be collected: %v", err)
	}
}

func TestMemoryLimiterDisabled(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	decision, err := limiter.Allow(context.Background(), "k", 0, time.Second)
	if err != nil || !decision.Allowed {
		t.Fatalf("zero limit disables limiting: %+v %v", decision, err)
	}
}
