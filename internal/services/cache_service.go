// internal/services/cache_service.go
// KeyDB 快取服務 - 快取資料庫位址檢查結果

package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"mail-gateway/internal/config"
)

// CacheService KeyDB 快取服務
// 快取失效或連線失敗一律視為 cache miss，由資料庫提供最終答案
type CacheService struct {
	cfg    *config.Config
	client *redis.Client
}

// NewCacheService 建立 KeyDB 快取服務
func NewCacheService(cfg *config.Config) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.KeyDBURL,
		Password: cfg.KeyDBPassword,
		DB:       0,
	})

	// 測試連接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to KeyDB: %w", err)
	}

	return &CacheService{
		cfg:    cfg,
		client: client,
	}, nil
}

// verdictKey 組合快取鍵值
func verdictKey(sender, recipient string) string {
	return fmt.Sprintf("mail:allowed:%s:%s", sender, recipient)
}

// CheckVerdict 查詢快取中的位址檢查結果
// 回傳 (結果, 是否命中)
func (s *CacheService) CheckVerdict(ctx context.Context, sender, recipient string) (bool, bool) {
	val, err := s.client.Get(ctx, verdictKey(sender, recipient)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[Cache] 快取查詢失敗: %v", err)
		}
		return false, false
	}
	return val == "1", true
}

// StoreVerdict 寫入位址檢查結果
func (s *CacheService) StoreVerdict(ctx context.Context, sender, recipient string, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}
	if err := s.client.Set(ctx, verdictKey(sender, recipient), val, s.cfg.KeyDBCacheTTL).Err(); err != nil {
		log.Printf("[Cache] 快取寫入失敗: %v", err)
	}
}

// Ping 檢查連接
func (s *CacheService) Ping(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// Close 關閉連接
func (s *CacheService) Close() error {
	return s.client.Close()
}
