// internal/services/objstore_service.go
// 物件儲存服務 - 將郵件內容上傳至 S3 相容物件儲存

package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mail-gateway/internal/config"
)

// ObjstoreService 物件儲存服務
type ObjstoreService struct {
	cfg    *config.Config
	client *minio.Client
	bucket string
}

// NewObjstoreService 建立物件儲存服務
// 啟動時確認目標 bucket 存在，不存在視為設定錯誤
func NewObjstoreService(cfg *config.Config) (*ObjstoreService, error) {
	client, err := minio.New(cfg.ObjstoreEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ObjstoreAccessKey, cfg.ObjstoreSecretKey, ""),
		Secure: cfg.ObjstoreUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.BucketName, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.BucketName)
	}

	return &ObjstoreService{
		cfg:    cfg,
		client: client,
		bucket: cfg.BucketName,
	}, nil
}

// Put 上傳單一物件
func (s *ObjstoreService) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}
