// internal/services/cert_service.go
// TLS 憑證服務 - 憑證熱更新，檔案變動時自動重新載入

package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// certRefreshQuietPeriod 檔案變動事件的靜默期
// 原子替換憑證檔案會產生多個檔案系統事件，合併為一次重新載入
const certRefreshQuietPeriod = 2 * time.Second

// CertService TLS 憑證服務
// 目前使用中的憑證對以原子指標持有：讀取端（TLS 交握）永不阻塞，
// 也不會觀察到新憑證搭配舊私鑰的混合狀態
type CertService struct {
	certPath string
	keyPath  string
	current  atomic.Pointer[tls.Certificate]
}

// NewCertService 建立 TLS 憑證服務並載入憑證
// 初次載入失敗視為啟動錯誤
func NewCertService(certPath, keyPath string) (*CertService, error) {
	s := &CertService{
		certPath: certPath,
		keyPath:  keyPath,
	}
	cert, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(cert)
	return s, nil
}

// load 讀取並解析憑證與私鑰檔案
func (s *CertService) load() (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}
	return &cert, nil
}

// Refresh 重新載入憑證
// 只有完整載入成功才替換使用中的憑證對，失敗時舊憑證繼續服務
func (s *CertService) Refresh() error {
	cert, err := s.load()
	if err != nil {
		return err
	}
	s.current.Store(cert)
	return nil
}

// GetCertificate 回傳目前使用中的憑證對
// 供 tls.Config.GetCertificate 於每次交握時呼叫，不做任何 I/O
func (s *CertService) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return s.current.Load(), nil
}

// TLSConfig 建立 TLS 伺服器設定
func (s *CertService) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: s.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// Watch 監看憑證與私鑰所在目錄，變動時觸發 Refresh
// 事件經靜默期合併後才重新載入；Refresh 失敗僅記錄，不中斷服務
func (s *CertService) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// 監看父目錄而非檔案本身，原子替換（rename）才收得到事件
	dirs := []string{filepath.Dir(s.certPath)}
	if keyDir := filepath.Dir(s.keyPath); keyDir != dirs[0] {
		dirs = append(dirs, keyDir)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go func() {
		defer watcher.Close()

		debounce := time.NewTimer(certRefreshQuietPeriod)
		if !debounce.Stop() {
			<-debounce.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				log.Printf("[TLS] 偵測到憑證目錄變動: %s", event.Name)
				debounce.Reset(certRefreshQuietPeriod)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[TLS] 檔案監看錯誤: %v", err)
			case <-debounce.C:
				if err := s.Refresh(); err != nil {
					log.Printf("[TLS] 憑證重新載入失敗，沿用舊憑證: %v", err)
				} else {
					log.Println("[TLS] 憑證重新載入成功")
				}
			}
		}
	}()

	log.Printf("[TLS] 已啟動憑證監看: %v", dirs)
	return nil
}
