package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	"github.com/nictjh/originalCapture/internal/infra/keys/soft"
	"github.com/nictjh/originalCapture/pkg/capture"
)

const testAppID = "com.example.capture"

// trackingKeystore wraps a keystore and counts deletions per alias.
type trackingKeystore struct {
	domain.Keystore

	mu        sync.Mutex
	deletes   map[string]int
	signErr   error
	deleteErr error
}

func newTrackingKeystore(inner domain.Keystore) *trackingKeystore {
	return &trackingKeystore{Keystore: inner, deletes: make(map[string]int)}
}

func (k *trackingKeystore) Sign(ctx context.Context, alias string, payload []byte) ([]byte, error) {
	if k.signErr != nil {
		return nil, k.signErr
	}
	return k.Keystore.Sign(ctx, alias, payload)
}

func (k *trackingKeystore) DeleteKey(ctx context.Context, alias string) error {
	k.mu.Lock()
	k.deletes[alias]++
	k.mu.Unlock()
	if k.deleteErr != nil {
		return k.deleteErr
	}
	return k.Keystore.DeleteKey(ctx, alias)
}

func (k *trackingKeystore) deleteCount(prefix string) map[string]int {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]int)
	for alias, n := range k.deletes {
		if strings.HasPrefix(alias, prefix) {
			out[alias] = n
		}
	}
	return out
}

// leakyStrongBox fails StrongBox generation after storing a TEE key under
// the alias, leaving an entry behind.
type leakyStrongBox struct {
	*soft.Manager
}

func (k *leakyStrongBox) GenerateKey(ctx context.Context, alias string, challenge []byte, tier domain.SecurityTier) error {
	if tier != domain.TierStrongBox {
		return k.Manager.GenerateKey(ctx, alias, challenge, tier)
	}
	if err := k.Manager.GenerateKey(ctx, alias, challenge, domain.TierTEE); err != nil {
		return err
	}
	return fmt.Errorf("%w: strongbox write failed midway", domain.ErrTierUnavailable)
}

type memLedger struct {
	mu      sync.Mutex
	records []domain.CaptureRecord
}

func (l *memLedger) RecordCapture(_ context.Context, rec domain.CaptureRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *memLedger) ListCaptures(_ context.Context, limit int) ([]domain.CaptureRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.records) {
		limit = len(l.records)
	}
	return append([]domain.CaptureRecord(nil), l.records[:limit]...), nil
}

type memRecords struct {
	mu      sync.Mutex
	records []domain.VerificationRecord
	err     error
}

func (r *memRecords) Create(_ context.Context, rec domain.VerificationRecord) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memRecords) GetByID(_ context.Context, id string) (*domain.VerificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID == id {
			rec := r.records[i]
			return &rec, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRecords) last(t *testing.T) domain.VerificationRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		t.Fatalf("no verification record persisted")
	}
	return r.records[len(r.records)-1]
}

type stubPolicy struct {
	result domain.PolicyResult
	err    error
	inputs []domain.PolicyInput
}

func (p *stubPolicy) Evaluate(_ context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error) {
	p.inputs = append(p.inputs, input)
	if p.err != nil {
		return domain.PolicyEvaluation{}, p.err
	}
	return domain.PolicyEvaluation{BundleID: "test", Result: p.result}, nil
}

type stubClassifier struct {
	verdict domain.ClassifierVerdict
	err     error
	calls   int
}

func (c *stubClassifier) Classify(context.Context, ClassifyRequest) (domain.ClassifierVerdict, error) {
	c.calls++
	return c.verdict, c.err
}

type stubNonces struct {
	seen map[string]bool
	err  error
}

func (n *stubNonces) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	if n.err != nil {
		return false, n.err
	}
	if n.seen == nil {
		n.seen = make(map[string]bool)
	}
	if n.seen[key] {
		return false, nil
	}
	n.seen[key] = true
	return true, nil
}

func (n *stubNonces) Release(_ context.Context, key string) error {
	delete(n.seen, key)
	return nil
}

type memArchive struct {
	evidence []Evidence
}

func (a *memArchive) Put(_ context.Context, ev Evidence) error {
	a.evidence = append(a.evidence, ev)
	return nil
}

func newAuthority(t *testing.T) *soft.Authority {
	t.Helper()
	authority, err := soft.NewAuthority(time.Now())
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	return authority
}

func writeMedia(t *testing.T, media []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, media, 0o600); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return path
}

// captureWith runs a full capture against ks with the encoder clock pinned
// to issued.
func captureWith(t *testing.T, ks domain.Keystore, media []byte, issued time.Time) domain.CaptureOutcome {
	t.Helper()
	enc := capture.NewEncoder()
	enc.Now = func() time.Time { return issued }
	uc := &Capture{Keystore: ks, Encoder: enc, AppID: testAppID, Logger: discardLogger()}
	out, err := uc.Execute(context.Background(), CaptureRequest{MediaPath: writeMedia(t, media)})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

var errBoom = errors.New("boom")
