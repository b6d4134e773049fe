// Package recordmem keeps verification records and device keys in process
// memory for running the verifier without postgres.
package recordmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"

	"github.com/google/uuid"
)

type VerificationStore struct {
	mu      sync.RWMutex
	records map[string]domain.VerificationRecord
}

func NewVerificationStore() *VerificationStore {
	return &VerificationStore{records: make(map[string]domain.VerificationRecord)}
}

func (s *VerificationStore) Create(_ context.Context, rec domain.VerificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *VerificationStore) GetByID(_ context.Context, id string) (*domain.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

type DeviceKeyStore struct {
	mu   sync.RWMutex
	keys map[string][]domain.DeviceKey
}

func NewDeviceKeyStore() *DeviceKeyStore {
	return &DeviceKeyStore{keys: make(map[string][]domain.DeviceKey)}
}

func (s *DeviceKeyStore) Create(_ context.Context, key domain.DeviceKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.Status == "" {
		key.Status = domain.KeyStatusActive
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	key.PublicKey = append([]byte(nil), key.PublicKey...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.AppID] = append(s.keys[key.AppID], key)
	return nil
}

func (s *DeviceKeyStore) ListByApp(_ context.Context, appID string) ([]domain.DeviceKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.DeviceKey(nil), s.keys[appID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
