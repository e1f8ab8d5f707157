// cmd/smtp-gateway/main.go
// SMTP 收件閘道入口程式
// 接收外部 SMTP 郵件，上傳內容至物件儲存並寫入資料庫記錄

package main

import (
	"context"
	"crypto/tls"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mail-gateway/internal/config"
	"mail-gateway/internal/services"
	"mail-gateway/internal/smtp"
)

func main() {
	log.Println("========================================")
	log.Println("    Mail Gateway - SMTP Inbound Server")
	log.Println("========================================")
	log.Println("啟動 SMTP 收件服務...")

	// 載入設定
	cfg := config.Load()

	// 初始化資料庫
	log.Println("連接資料庫...")
	mailstore, err := services.NewMailstoreService(cfg)
	if err != nil {
		log.Fatalf("無法連接資料庫: %v", err)
	}
	log.Println("資料庫連接成功")

	// 初始化物件儲存
	log.Println("連接物件儲存...")
	objstore, err := services.NewObjstoreService(cfg)
	if err != nil {
		log.Fatalf("無法連接物件儲存: %v", err)
	}
	log.Printf("物件儲存連接成功 (bucket: %s)", cfg.BucketName)

	// 初始化 KeyDB 快取（選用）
	var cache *services.CacheService
	if cfg.KeyDBURL != "" {
		log.Println("連接 KeyDB...")
		cache, err = services.NewCacheService(cfg)
		if err != nil {
			log.Fatalf("無法連接 KeyDB: %v", err)
		}
		defer cache.Close()
		log.Println("KeyDB 連接成功")
	}

	// 初始化 TLS 憑證服務與檔案監看（選用）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var certs *services.CertService
	if cfg.TLSEnabled() {
		log.Println("載入 TLS 憑證...")
		certs, err = services.NewCertService(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			log.Fatalf("無法載入 TLS 憑證: %v", err)
		}
		if err := certs.Watch(ctx); err != nil {
			log.Fatalf("無法監看憑證目錄: %v", err)
		}
		log.Println("TLS 憑證載入成功")
	} else {
		log.Println("未設定 TLS 憑證，停用 STARTTLS")
	}

	// 建立 SMTP 伺服器
	ingest := services.NewIngestService(objstore, mailstore)
	var tlsConfig *tls.Config
	if certs != nil {
		tlsConfig = certs.TLSConfig()
	}
	smtpServer := smtp.NewServer(cfg, ingest, mailstore, cache, tlsConfig)

	// 啟動 SMTP 伺服器（非同步）
	go func() {
		if err := smtpServer.Start(); err != nil {
			log.Fatalf("SMTP 伺服器錯誤: %v", err)
		}
	}()

	log.Println("========================================")
	log.Printf("SMTP 伺服器已啟動，監聽位址: %s", cfg.SMTPBindAddr)
	log.Println("按 Ctrl+C 停止服務")
	log.Println("========================================")

	// 等待中斷信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在關閉 SMTP 伺服器...")

	// 優雅關機
	if err := smtpServer.Shutdown(); err != nil {
		log.Printf("關閉 SMTP 伺服器時發生錯誤: %v", err)
	}

	log.Println("SMTP 伺服器已停止")
}
