// internal/smtp/backend.go
// SMTP Backend 介面實作 - 每條連線建立一個 Session

package smtp

import (
	"context"
	"log"

	gosmtp "github.com/emersion/go-smtp"

	"mail-gateway/internal/config"
	"mail-gateway/internal/services"
)

// MailIngestor 郵件入庫介面
// 一次呼叫處理一封完整接收的郵件
type MailIngestor interface {
	Ingest(ctx context.Context, from, rcpt string, raw []byte) error
}

// AddressChecker 資料庫位址檢查介面
type AddressChecker interface {
	CheckAddress(ctx context.Context, sender, recipient string) (bool, error)
}

// Backend 實作 smtp.Backend 介面
// 持有設定快照與共用服務，Session 以參照共用、不得變更
type Backend struct {
	cfg     *config.Config
	ingest  MailIngestor
	checker AddressChecker
	cache   *services.CacheService // 選用，nil 表示不啟用快取
}

// NewBackend 建立 SMTP Backend
func NewBackend(cfg *config.Config, ingest MailIngestor, checker AddressChecker, cache *services.CacheService) *Backend {
	return &Backend{
		cfg:     cfg,
		ingest:  ingest,
		checker: checker,
		cache:   cache,
	}
}

// NewSession 建立新的 SMTP Session
// 實作 smtp.Backend 介面
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	log.Printf("[SMTP] 新連線來自: %s", c.Conn().RemoteAddr())

	return NewSession(b.cfg, b.ingest, b.checker, b.cache), nil
}
