package db

import (
	"context"
	"errors"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"

	"gorm.io/gorm"
)

type VerificationRepository struct {
	db *gorm.DB
}

func NewVerificationRepository(db *gorm.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

func (r *VerificationRepository) Create(ctx context.Context, rec domain.VerificationRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	id := rec.ID
	if id == "" {
		id = newUUID()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := VerificationRecordModel{
		ID:             id,
		AppID:          rec.AppID,
		ContentHashB64: rec.ContentHashB64,
		NonceB64:       rec.NonceB64,
		Classification: string(rec.Classification),
		SecurityLevel:  rec.SecurityLevel,
		OK:             rec.OK,
		Verdict:        rec.Verdict,
		Label:          rec.Label,
		RiskScore:      rec.RiskScore,
		Message:        rec.Message,
		ErrorCode:      rec.ErrorCode,
		CreatedAt:      createdAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *VerificationRepository) GetByID(ctx context.Context, id string) (*domain.VerificationRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model VerificationRecordModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return verificationFromModel(model), nil
}

func verificationFromModel(model VerificationRecordModel) *domain.VerificationRecord {
	return &domain.VerificationRecord{
		ID:             model.ID,
		AppID:          model.AppID,
		ContentHashB64: model.ContentHashB64,
		NonceB64:       model.NonceB64,
		Classification: domain.Classification(model.Classification),
		SecurityLevel:  model.SecurityLevel,
		OK:             model.OK,
		Verdict:        model.Verdict,
		Label:          model.Label,
		RiskScore:      model.RiskScore,
		Message:        model.Message,
		ErrorCode:      model.ErrorCode,
		CreatedAt:      model.CreatedAt.UTC(),
	}
}
