// internal/smtp/session.go
// SMTP Session 處理 - 信封狀態機與收發件政策

package smtp

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"

	gosmtp "github.com/emersion/go-smtp"

	"mail-gateway/internal/config"
	"mail-gateway/internal/services"
)

var (
	errSMTPSeq = &gosmtp.SMTPError{
		Code:         503,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "Bad sequence of commands",
	}
	errSMTPMailbox = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
		Message:      "Mailbox unavailable",
	}
	errSMTPSender = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
		Message:      "Sender not allowed",
	}
	errSMTPNullSender = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
		Message:      "Null reverse-path not accepted",
	}
	errSMTPTemp = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Could not handle request",
	}
)

// Session 實作 smtp.Session 介面
// 處理單一 SMTP 連線的信封建立、政策檢查與郵件接收。
// 指令順序（RCPT 前必有 MAIL、DATA 前必有 RCPT）由 go-smtp 強制，
// Session 仍保留防衛性檢查。
type Session struct {
	cfg     *config.Config
	ingest  MailIngestor
	checker AddressChecker
	cache   *services.CacheService

	from string // 寄件位址，MAIL 接受後設定；空字串表示未設定
	rcpt string // 收件位址，RCPT 接受後設定；重複 RCPT 以最後一次為準
}

// NewSession 建立新的 Session
func NewSession(cfg *config.Config, ingest MailIngestor, checker AddressChecker, cache *services.CacheService) *Session {
	return &Session{
		cfg:     cfg,
		ingest:  ingest,
		checker: checker,
		cache:   cache,
	}
}

// Mail 處理 MAIL FROM 指令
// 空的 reverse-path（MAIL FROM:<>）直接接受但不設定寄件者
func (s *Session) Mail(from string, opts *gosmtp.MailOptions) error {
	from = cleanEmail(from)
	log.Printf("[SMTP] MAIL FROM: %s", from)

	s.from = from
	s.rcpt = ""
	return nil
}

// Rcpt 處理 RCPT TO 指令，依序套用收發件政策
// 只保留一個收件者：重複的 RCPT 覆寫前一次的結果
func (s *Session) Rcpt(to string, opts *gosmtp.RcptOptions) error {
	to = qualifyAddress(cleanEmail(to), s.cfg.SMTPDomain)
	log.Printf("[SMTP] RCPT TO: %s", to)

	// 收件位址允許清單
	if len(s.cfg.AllowedRcpts) > 0 && !containsFold(s.cfg.AllowedRcpts, to) {
		log.Printf("[SMTP] 收件位址不在允許清單中: %s", to)
		return errSMTPMailbox
	}

	// 寄件位址允許清單
	if len(s.cfg.AllowedFroms) > 0 && !containsFold(s.cfg.AllowedFroms, s.from) {
		log.Printf("[SMTP] 寄件位址不在允許清單中: %s", s.from)
		return errSMTPSender
	}

	// 空寄件者無法組合儲存路徑，在此拒絕
	if s.from == "" {
		return errSMTPNullSender
	}

	// 資料庫位址檢查
	if s.cfg.CheckAllowedInDB {
		allowed, err := s.checkAddress(context.Background(), s.from, to)
		if err != nil {
			log.Printf("[SMTP] 位址檢查失敗: %v", err)
			return errSMTPTemp
		}
		if !allowed {
			log.Printf("[SMTP] 位址組合未被允許: from=%s to=%s", s.from, to)
			return errSMTPMailbox
		}
	}

	s.rcpt = to
	return nil
}

// checkAddress 查詢 (sender, recipient) 是否被允許
// 有設定快取時先查快取，未命中才查資料庫並回填結果
func (s *Session) checkAddress(ctx context.Context, from, to string) (bool, error) {
	if s.cache != nil {
		if verdict, ok := s.cache.CheckVerdict(ctx, from, to); ok {
			return verdict, nil
		}
	}

	allowed, err := s.checker.CheckAddress(ctx, from, to)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		s.cache.StoreVerdict(ctx, from, to, allowed)
	}
	return allowed, nil
}

// Data 處理 DATA 指令，接收郵件內容並交給入庫服務
// BDAT 分塊由 go-smtp 組合後經同一個 reader 送達
func (s *Session) Data(r io.Reader) error {
	if s.from == "" || s.rcpt == "" {
		return errSMTPSeq
	}

	// 讀取完整的郵件內容（大小上限由伺服器設定強制）
	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(r)
	if err != nil {
		log.Printf("[SMTP] 讀取郵件資料失敗: %v", err)
		return err
	}

	// 先清空信封再呼叫入庫服務，避免第二次 DATA 重複使用同一組信封
	from, rcpt := s.from, s.rcpt
	s.from, s.rcpt = "", ""

	log.Printf("[SMTP] 收到郵件: %d bytes (from=%s, to=%s)", size, from, rcpt)

	if err := s.ingest.Ingest(context.Background(), from, rcpt, buf.Bytes()); err != nil {
		log.Printf("[SMTP] 郵件入庫失敗: %v", err)
		return errSMTPTemp
	}

	return nil
}

// Reset 重置 Session 狀態
func (s *Session) Reset() {
	s.from = ""
	s.rcpt = ""
}

// Logout 處理 QUIT 指令
func (s *Session) Logout() error {
	return nil
}

// cleanEmail 清理郵件位址（移除角括號與空白）
func cleanEmail(email string) string {
	email = strings.TrimSpace(email)
	email = strings.TrimPrefix(email, "<")
	email = strings.TrimSuffix(email, ">")
	return email
}

// qualifyAddress 補齊未限定的位址，加上伺服器網域
func qualifyAddress(addr, domain string) string {
	if addr == "" || strings.Contains(addr, "@") {
		return addr
	}
	return addr + "@" + domain
}

// containsFold 檢查清單是否包含指定位址（不分大小寫）
func containsFold(list []string, addr string) bool {
	for _, item := range list {
		if strings.EqualFold(item, addr) {
			return true
		}
	}
	return false
}
