package db

import (
	"context"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"

	"gorm.io/gorm"
)

type DeviceKeyRepository struct {
	db *gorm.DB
}

func NewDeviceKeyRepository(db *gorm.DB) *DeviceKeyRepository {
	return &DeviceKeyRepository{db: db}
}

func (r *DeviceKeyRepository) Create(ctx context.Context, key domain.DeviceKey) error {
	if r.db == nil {
		return errDBUnavailable
	}
	id := key.ID
	if id == "" {
		id = newUUID()
	}
	status := key.Status
	if status == "" {
		status = domain.KeyStatusActive
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := DeviceKeyModel{
		ID:             id,
		AppID:          key.AppID,
		KID:            key.KID,
		PublicKey:      copyBytes(key.PublicKey),
		Classification: string(key.Classification),
		Status:         string(status),
		CreatedAt:      createdAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// ListByApp returns the app's keys oldest first.
func (r *DeviceKeyRepository) ListByApp(ctx context.Context, appID string) ([]domain.DeviceKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []DeviceKeyModel
	err := r.db.WithContext(ctx).
		Where("app_id = ?", appID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeviceKey, 0, len(models))
	for _, model := range models {
		out = append(out, deviceKeyFromModel(model))
	}
	return out, nil
}

func deviceKeyFromModel(model DeviceKeyModel) domain.DeviceKey {
	return domain.DeviceKey{
		ID:             model.ID,
		AppID:          model.AppID,
		KID:            model.KID,
		PublicKey:      copyBytes(model.PublicKey),
		Classification: domain.Classification(model.Classification),
		Status:         domain.KeyStatus(model.Status),
		CreatedAt:      model.CreatedAt.UTC(),
	}
}
