package db

import "time"

type VerificationRecordModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	AppID          string `gorm:"index;not null"`
	ContentHashB64 string `gorm:"column:content_hash_b64;index;not null"`
	NonceB64       string `gorm:"column:nonce_b64;not null"`
	Classification string `gorm:"not null"`
	SecurityLevel  int    `gorm:"not null"`
	OK             bool   `gorm:"column:ok;not null"`
	Verdict        string `gorm:"not null"`
	Label          string
	RiskScore      float64
	Message        string
	ErrorCode      string
	CreatedAt      time.Time `gorm:"not null"`
}

func (VerificationRecordModel) TableName() string {
	return "verification_records"
}

type DeviceKeyModel struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	AppID          string    `gorm:"index;not null"`
	KID            string    `gorm:"index;not null"`
	PublicKey      []byte    `gorm:"type:bytea;not null"`
	Classification string    `gorm:"not null"`
	Status         string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (DeviceKeyModel) TableName() string {
	return "device_keys"
}
