// internal/services/mailstore_service.go
// 郵件資料庫服務 - 郵件記錄寫入與收發位址檢查

package services

import (
	"context"
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mail-gateway/internal/config"
	"mail-gateway/internal/models"
)

// MailstoreService 郵件資料庫服務
type MailstoreService struct {
	cfg *config.Config
	db  *gorm.DB
}

// NewMailstoreService 建立郵件資料庫服務
// 連線池上限由 DB_MAX_OPEN_CONNS 控制，郵件入庫與位址檢查共用此連線池
func NewMailstoreService(cfg *config.Config) (*MailstoreService, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)

	// 自動遷移（確保資料表存在）
	if err := db.AutoMigrate(&models.InboundMail{}, &models.AllowedAddress{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("[Mailstore] 資料庫連接成功 (max open conns: %d)", cfg.DBMaxOpenConns)

	return &MailstoreService{
		cfg: cfg,
		db:  db,
	}, nil
}

// InsertMail 寫入一筆郵件記錄
func (s *MailstoreService) InsertMail(ctx context.Context, mail *models.InboundMail) error {
	if err := s.db.WithContext(ctx).Create(mail).Error; err != nil {
		return fmt.Errorf("failed to create mail record: %w", err)
	}
	return nil
}

// CheckAddress 查詢 (sender, recipient) 是否在允許清單中
func (s *MailstoreService) CheckAddress(ctx context.Context, sender, recipient string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.AllowedAddress{}).
		Where("sender = ? AND recipient = ?", sender, recipient).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check address: %w", err)
	}
	return count > 0, nil
}
