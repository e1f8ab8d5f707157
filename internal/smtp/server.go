// internal/smtp/server.go
// SMTP Server 核心 - 啟動與管理 SMTP 伺服器

package smtp

import (
	"crypto/tls"
	"fmt"
	"log"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"mail-gateway/internal/config"
	"mail-gateway/internal/services"
)

// Server SMTP 伺服器
// 連線接受迴圈與每條連線一個 goroutine 由 go-smtp 提供
type Server struct {
	cfg        *config.Config
	ingest     MailIngestor
	checker    AddressChecker
	cache      *services.CacheService
	tlsConfig  *tls.Config // nil 表示不啟用 STARTTLS
	smtpServer *gosmtp.Server
}

// NewServer 建立 SMTP 伺服器
func NewServer(cfg *config.Config, ingest MailIngestor, checker AddressChecker, cache *services.CacheService, tlsConfig *tls.Config) *Server {
	return &Server{
		cfg:       cfg,
		ingest:    ingest,
		checker:   checker,
		cache:     cache,
		tlsConfig: tlsConfig,
	}
}

// Start 啟動 SMTP 伺服器（阻塞式）
func (s *Server) Start() error {
	backend := NewBackend(s.cfg, s.ingest, s.checker, s.cache)

	s.smtpServer = gosmtp.NewServer(backend)
	s.smtpServer.Addr = s.cfg.SMTPBindAddr
	s.smtpServer.Domain = s.cfg.SMTPDomain
	s.smtpServer.ReadTimeout = 30 * time.Second
	s.smtpServer.WriteTimeout = 30 * time.Second
	s.smtpServer.MaxMessageBytes = int64(s.cfg.SMTPMaxMessageSize) * 1024 * 1024
	s.smtpServer.EnableDSN = true
	s.smtpServer.TLSConfig = s.tlsConfig

	log.Printf("[SMTP] 伺服器啟動中... 監聽位址: %s", s.cfg.SMTPBindAddr)
	log.Printf("[SMTP] 網域: %s", s.cfg.SMTPDomain)
	log.Printf("[SMTP] 最大訊息大小: %d MB", s.cfg.SMTPMaxMessageSize)
	log.Printf("[SMTP] STARTTLS: %v", s.tlsConfig != nil)

	if len(s.cfg.AllowedRcpts) > 0 {
		log.Printf("[SMTP] 允許的收件位址: %v", s.cfg.AllowedRcpts)
	}
	if len(s.cfg.AllowedFroms) > 0 {
		log.Printf("[SMTP] 允許的寄件位址: %v", s.cfg.AllowedFroms)
	}
	log.Printf("[SMTP] 資料庫位址檢查: %v", s.cfg.CheckAllowedInDB)

	if err := s.smtpServer.ListenAndServe(); err != nil {
		return fmt.Errorf("SMTP server error: %w", err)
	}

	return nil
}

// Shutdown 優雅關機
func (s *Server) Shutdown() error {
	if s.smtpServer != nil {
		log.Println("[SMTP] 正在關閉伺服器...")
		return s.smtpServer.Close()
	}
	return nil
}
