// internal/services/ingest_service.go
// 郵件入庫服務 - 解析 MIME 郵件、上傳內容至物件儲存並寫入資料庫記錄

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"mail-gateway/internal/models"
)

// ObjectUploader 物件上傳介面
type ObjectUploader interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// MailRecorder 郵件記錄寫入介面
type MailRecorder interface {
	InsertMail(ctx context.Context, mail *models.InboundMail) error
}

// IngestService 郵件入庫服務
// 一次呼叫處理一封完整接收的郵件：全部上傳成功後才寫入資料庫記錄。
// 部分上傳失敗不回收已上傳的物件，記錄寫入失敗也不刪除物件。
type IngestService struct {
	store ObjectUploader
	mails MailRecorder
}

// NewIngestService 建立郵件入庫服務
func NewIngestService(store ObjectUploader, mails MailRecorder) *IngestService {
	return &IngestService{
		store: store,
		mails: mails,
	}
}

// upload 單一待上傳物件
type upload struct {
	key  string
	data []byte
}

// Ingest 處理一封郵件：解析、上傳、寫入記錄
// from/rcpt 為 SMTP 信封位址，raw 為完整的原始郵件內容
func (s *IngestService) Ingest(ctx context.Context, from, rcpt string, raw []byte) error {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse mail: %w", err)
	}
	defer mr.Close()

	header := mr.Header

	// Message-ID 與 Date 為必要標頭，缺少任一者無法組合儲存路徑
	messageID, err := header.MessageID()
	if err != nil || messageID == "" {
		return fmt.Errorf("mail has no message id")
	}
	date, err := header.Date()
	if err != nil || date.IsZero() {
		return fmt.Errorf("mail has no date")
	}

	basePath := fmt.Sprintf("%s/%s/%s-%s/", strings.ToLower(rcpt), from, date.UTC().Format(time.RFC3339), messageID)

	// 解析郵件內容（純文字、HTML 與附件）
	// 多個同類型內文只保留第一個
	var bodyText, bodyHTML []byte
	var attachments []models.AttachmentMeta
	var uploads []upload

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to parse mail part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return fmt.Errorf("failed to read mail part: %w", err)
			}

			if strings.HasPrefix(contentType, "text/plain") && bodyText == nil {
				bodyText = content
				uploads = append(uploads, upload{key: basePath + "body.txt", data: content})
			} else if strings.HasPrefix(contentType, "text/html") && bodyHTML == nil {
				bodyHTML = content
				uploads = append(uploads, upload{key: basePath + "body.html", data: content})
			}

		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil || filename == "" {
				return fmt.Errorf("attachment has no name")
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return fmt.Errorf("failed to read attachment %s: %w", filename, err)
			}

			key := fmt.Sprintf("%sattachments/%02d-%s", basePath, len(attachments), filename)
			attachments = append(attachments, models.AttachmentMeta{
				Index:       len(attachments),
				Filename:    filename,
				RelPath:     key,
				ContentType: contentTypeForKey(key),
			})
			uploads = append(uploads, upload{key: key, data: content})
		}
	}

	// 標頭傾印（保留原始值，前後空白去除；重複標頭以最後一個為準）
	headersMap := make(map[string]string)
	fields := header.Fields()
	for fields.Next() {
		headersMap[fields.Key()] = strings.TrimSpace(fields.Value())
	}
	headersJSON, err := json.MarshalIndent(headersMap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	uploads = append(uploads, upload{key: basePath + "headers.json", data: headersJSON})

	// 並行上傳所有物件，任一失敗即整批失敗
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range uploads {
		u := u
		g.Go(func() error {
			return s.store.Put(gctx, u.key, contentTypeForKey(u.key), u.data)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to upload mail parts: %w", err)
	}

	// 全部上傳完成後才寫入資料庫記錄
	record := &models.InboundMail{
		ID:          uuid.New(),
		Recipient:   rcpt,
		Sender:      from,
		ToAddresses: pq.StringArray(addressList(header, "To")),
		CCAddresses: pq.StringArray(addressList(header, "Cc")),
		BodyText:    strings.TrimSpace(string(bodyText)),
		BodyHTML:    strings.TrimSpace(string(bodyHTML)),
		Headers:     headersMap,
		Attachments: attachments,
	}
	if subject, err := header.Subject(); err == nil {
		record.Subject = subject
	}

	if err := s.mails.InsertMail(ctx, record); err != nil {
		return err
	}

	log.Printf("[Ingest] 郵件已入庫: message_id=%s rcpt=%s attachments=%d", messageID, rcpt, len(attachments))
	return nil
}

// addressList 解析標頭中的位址清單，解析失敗回傳空清單
func addressList(header mail.Header, key string) []string {
	addrs, err := header.AddressList(key)
	if err != nil {
		return nil
	}
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		result = append(result, addr.Address)
	}
	return result
}

// contentTypeForKey 依儲存鍵值的副檔名推斷內容類型，無法判斷時回傳空字串
func contentTypeForKey(key string) string {
	return mime.TypeByExtension(filepath.Ext(key))
}
