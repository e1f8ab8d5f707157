// internal/models/mail.go
// 郵件資料模型

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// InboundMail 收件郵件資料模型
// 每封成功入庫的郵件對應一筆記錄
type InboundMail struct {
	ID          uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	Recipient   string            `json:"recipient" gorm:"not null;index"`
	Sender      string            `json:"sender" gorm:"not null"`
	ToAddresses pq.StringArray    `json:"to,omitempty" gorm:"column:to_addresses;type:text[]"`
	CCAddresses pq.StringArray    `json:"cc,omitempty" gorm:"column:cc_addresses;type:text[]"`
	Subject     string            `json:"subject,omitempty"`
	BodyText    string            `json:"body_text,omitempty"`
	BodyHTML    string            `json:"body_html,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" gorm:"type:jsonb;serializer:json"`
	Attachments []AttachmentMeta  `json:"attachments,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt   time.Time         `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定資料表名稱
func (InboundMail) TableName() string {
	return "inbound_mails"
}

// AttachmentMeta 附件描述資訊
// 以 jsonb 形式儲存於 InboundMail.Attachments，順序與郵件內附件順序一致
type AttachmentMeta struct {
	Index       int    `json:"index"`
	Filename    string `json:"filename"`
	RelPath     string `json:"rel_path"`
	ContentType string `json:"content_type,omitempty"`
}

// AllowedAddress 允許收發組合資料模型
// 啟用 CHECK_ALLOWED_IN_DB 時，RCPT 會以 (sender, recipient) 查詢此表
type AllowedAddress struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Sender    string    `json:"sender" gorm:"not null;uniqueIndex:idx_allowed_sender_recipient"`
	Recipient string    `json:"recipient" gorm:"not null;uniqueIndex:idx_allowed_sender_recipient"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定資料表名稱
func (AllowedAddress) TableName() string {
	return "allowed_addresses"
}
