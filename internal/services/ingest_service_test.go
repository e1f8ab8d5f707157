// internal/services/ingest_service_test.go
// 郵件入庫服務測試

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-gateway/internal/models"
)

// fakeUploader 記錄上傳內容的假物件儲存
// Put 可能被並行呼叫
type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failKey string
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeUploader) Put(ctx context.Context, key, contentType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKey != "" && key == f.failKey {
		return errors.New("upload failed")
	}
	f.objects[key] = data
	f.types[key] = contentType
	return nil
}

// fakeRecorder 記錄寫入的假郵件資料庫
type fakeRecorder struct {
	mails []*models.InboundMail
	err   error
}

func (f *fakeRecorder) InsertMail(ctx context.Context, mail *models.InboundMail) error {
	if f.err != nil {
		return f.err
	}
	f.mails = append(f.mails, mail)
	return nil
}

const testBasePath = "b@y.com/a@x.com/2023-08-01T10:00:00Z-1@x.com/"

// multipartMessage 組出含純文字、HTML 與兩個附件的測試郵件
func multipartMessage() []byte {
	lines := []string{
		"From: Alice <a@x.com>",
		"To: b@y.com",
		"Cc: c@z.com",
		"Subject: Hello",
		"Message-ID: <1@x.com>",
		"Date: Tue, 01 Aug 2023 10:00:00 +0000",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=BOUNDARY",
		"",
		"--BOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"hello body",
		"--BOUNDARY",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>hello</p>",
		"--BOUNDARY",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment; filename=\"report.pdf\"",
		"",
		"PDFDATA",
		"--BOUNDARY",
		"Content-Type: image/png",
		"Content-Disposition: attachment; filename=\"img.png\"",
		"",
		"PNGDATA",
		"--BOUNDARY--",
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}

// simpleMessage 組出單一純文字部分的測試郵件
func simpleMessage() []byte {
	lines := []string{
		"From: a@x.com",
		"To: b@y.com",
		"Subject: Plain",
		"Message-ID: <1@x.com>",
		"Date: Tue, 01 Aug 2023 10:00:00 +0000",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"just text",
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func TestIngestRoundTrip(t *testing.T) {
	t.Parallel()

	store := newFakeUploader()
	mails := &fakeRecorder{}
	svc := NewIngestService(store, mails)

	// 收件位址刻意用大寫，儲存路徑必須轉小寫
	err := svc.Ingest(context.Background(), "a@x.com", "B@y.com", multipartMessage())
	require.NoError(t, err)

	// N 個附件 + headers + body.txt + body.html
	require.Len(t, store.objects, 5)
	for _, key := range []string{
		"headers.json",
		"body.txt",
		"body.html",
		"attachments/00-report.pdf",
		"attachments/01-img.png",
	} {
		assert.Contains(t, store.objects, testBasePath+key)
	}
	assert.Equal(t, "PDFDATA", string(store.objects[testBasePath+"attachments/00-report.pdf"]))
	assert.Equal(t, "application/pdf", store.types[testBasePath+"attachments/00-report.pdf"])
	assert.Equal(t, "image/png", store.types[testBasePath+"attachments/01-img.png"])

	// 正好一筆記錄，附件描述依原始順序
	require.Len(t, mails.mails, 1)
	record := mails.mails[0]
	assert.Equal(t, "B@y.com", record.Recipient)
	assert.Equal(t, "a@x.com", record.Sender)
	assert.Equal(t, "Hello", record.Subject)
	assert.Equal(t, "hello body", record.BodyText)
	assert.Equal(t, "<p>hello</p>", record.BodyHTML)
	assert.Equal(t, []string{"b@y.com"}, []string(record.ToAddresses))
	assert.Equal(t, []string{"c@z.com"}, []string(record.CCAddresses))
	assert.Equal(t, "Hello", record.Headers["Subject"])

	require.Len(t, record.Attachments, 2)
	assert.Equal(t, models.AttachmentMeta{
		Index:       0,
		Filename:    "report.pdf",
		RelPath:     testBasePath + "attachments/00-report.pdf",
		ContentType: "application/pdf",
	}, record.Attachments[0])
	assert.Equal(t, 1, record.Attachments[1].Index)
	assert.Equal(t, "img.png", record.Attachments[1].Filename)
}

func TestIngestSimpleTextMessage(t *testing.T) {
	t.Parallel()

	store := newFakeUploader()
	mails := &fakeRecorder{}
	svc := NewIngestService(store, mails)

	err := svc.Ingest(context.Background(), "a@x.com", "b@y.com", simpleMessage())
	require.NoError(t, err)

	// 只有 body.txt 與 headers.json
	require.Len(t, store.objects, 2)
	assert.Contains(t, store.objects, testBasePath+"body.txt")
	assert.Contains(t, store.objects, testBasePath+"headers.json")

	require.Len(t, mails.mails, 1)
	record := mails.mails[0]
	assert.Equal(t, "just text", record.BodyText)
	assert.Empty(t, record.BodyHTML)
	assert.Empty(t, record.Attachments)
}

func TestIngestKeepsFirstBodyOfEachKind(t *testing.T) {
	t.Parallel()

	lines := []string{
		"From: a@x.com",
		"Message-ID: <1@x.com>",
		"Date: Tue, 01 Aug 2023 10:00:00 +0000",
		"Content-Type: multipart/mixed; boundary=BOUNDARY",
		"",
		"--BOUNDARY",
		"Content-Type: text/plain",
		"",
		"first",
		"--BOUNDARY",
		"Content-Type: text/plain",
		"",
		"second",
		"--BOUNDARY--",
		"",
	}

	store := newFakeUploader()
	mails := &fakeRecorder{}
	svc := NewIngestService(store, mails)

	err := svc.Ingest(context.Background(), "a@x.com", "b@y.com", []byte(strings.Join(lines, "\r\n")))
	require.NoError(t, err)

	require.Len(t, mails.mails, 1)
	assert.Equal(t, "first", mails.mails[0].BodyText)
	assert.Equal(t, "first", strings.TrimSpace(string(store.objects[testBasePath+"body.txt"])))
}

func TestIngestMissingMessageID(t *testing.T) {
	t.Parallel()

	raw := strings.Replace(string(multipartMessage()), "Message-ID: <1@x.com>\r\n", "", 1)

	store := newFakeUploader()
	mails := &fakeRecorder{}
	svc := NewIngestService(store, mails)

	err := svc.Ingest(context.Background(), "a@x.com", "b@y.com", []byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no message id")
	assert.Empty(t, store.objects)
	assert.Empty(t, mails.mails)
}

func TestIngestMissingDate(t *testing.T) {
	t.Parallel()

	raw := strings.Replace(string(multipartMessage()), "Date: Tue, 01 Aug 2023 10:00:00 +0000\r\n", "", 1)

	store := newFakeUploader()
	mails := &fakeRecorder{}
	svc := NewIngestService(store, mails)

	err := svc.Ingest(context.Background(), "a@x.com", "b@y.com", []byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no date")
	assert.Empty(t, store.objects)
	assert.Empty(t, mails.mails)
}

func TestIngestAttachmentWithoutName(t *testing.T) {
	t.Parallel()

	lines := []string{
		"From: a@x.com",
		"Message-ID: <1@x.com>",
		"Date: Tue, 01 Aug 2023 10:00:00 +0000",
		"Content-Type: multipart/mixed; boundary=BOUNDARY",
		"",
		"--BOUNDARY",
		"Content-Type: application/octet-stream",
		"Content-Disposition: attachment",
		"",
		"DATA",
		"--BOUNDARY--",
		"",
	}

	store := newFakeUploader()
	mails := &fakeRecorder{}
	svc := NewIngestService(store, mails)

	err := svc.Ingest(context.Background(), "a@x.com", "b@y.com", []byte(strings.Join(lines, "\r\n")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attachment has no name")
	assert.Empty(t, store.objects)
	assert.Empty(t, mails.mails)
}

func TestIngestUploadFailure(t *testing.T) {
	t.Parallel()

	store := newFakeUploader()
	store.failKey = testBasePath + "headers.json"
	mails := &fakeRecorder{}
	svc := NewIngestService(store, mails)

	err := svc.Ingest(context.Background(), "a@x.com", "B@y.com", multipartMessage())
	require.Error(t, err)

	// 不寫入記錄；已上傳的物件不回收
	assert.Empty(t, mails.mails)
	assert.NotContains(t, store.objects, testBasePath+"headers.json")
}

func TestIngestRecordFailure(t *testing.T) {
	t.Parallel()

	store := newFakeUploader()
	mails := &fakeRecorder{err: errors.New("insert failed")}
	svc := NewIngestService(store, mails)

	err := svc.Ingest(context.Background(), "a@x.com", "b@y.com", multipartMessage())
	require.Error(t, err)

	// 物件已全部上傳，記錄寫入失敗不刪除物件
	assert.Len(t, store.objects, 5)
}

func TestIngestParseFailure(t *testing.T) {
	t.Parallel()

	store := newFakeUploader()
	mails := &fakeRecorder{}
	svc := NewIngestService(store, mails)

	err := svc.Ingest(context.Background(), "a@x.com", "b@y.com", []byte("not a valid header line\r\n\r\nbody"))
	require.Error(t, err)
	assert.Empty(t, store.objects)
	assert.Empty(t, mails.mails)
}

func TestContentTypeForKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "application/json", contentTypeForKey(fmt.Sprintf("%sheaders.json", testBasePath)))
	assert.Equal(t, "application/pdf", contentTypeForKey("attachments/00-report.pdf"))
	assert.Empty(t, contentTypeForKey("attachments/01-noext"))
}
