package db

import (
	"fmt"
	"log/slog"

	"github.com/nictjh/originalCapture/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	DB *gorm.DB
}

// NewStore opens postgres when POSTGRES_DSN is set. Without it the store
// runs in no-db mode and callers fall back to in-memory repositories.
func NewStore(cfg config.Config, log *slog.Logger) (*Store, error) {
	if cfg.PostgresDSN == "" {
		if log != nil {
			log.Info("POSTGRES_DSN not set; starting in no-db mode")
		}
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := gdb.AutoMigrate(&VerificationRecordModel{}, &DeviceKeyModel{}); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return &Store{DB: gdb}, nil
}

func (s *Store) Enabled() bool {
	return s != nil && s.DB != nil
}

func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
