// internal/backend/upload.go

package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

// UploadService stores attachment bytes and returns the remote attachment
type UploadService interface {
	Store(ctx context.Context, name string, data []byte) (*messaging.Attachment, error)
}

// LocalUploadService implements local file storage served under baseURL
type LocalUploadService struct {
	uploadDir string
	baseURL   string
}

// NewLocalUploadService creates a new local upload service
func NewLocalUploadService(uploadDir, baseURL string) *LocalUploadService {
	return &LocalUploadService{
		uploadDir: uploadDir,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// Store writes data under uploadDir/attachments/<date>/
func (s *LocalUploadService) Store(ctx context.Context, name string, data []byte) (*messaging.Attachment, error) {
	mimeType := mimetype.Detect(data).String()

	folder := filepath.Join("attachments", time.Now().UTC().Format("2006-01-02"))
	fullPath := filepath.Join(s.uploadDir, folder)
	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(name))
	filename := fmt.Sprintf("%s%s", uuid.New().String(), ext)
	if err := os.WriteFile(filepath.Join(fullPath, filename), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	return &messaging.Attachment{
		Kind:     messaging.KindFromMIME(mimeType),
		Name:     filepath.Base(name),
		Size:     int64(len(data)),
		MimeType: mimeType,
		URL:      fmt.Sprintf("%s/%s/%s", s.baseURL, filepath.ToSlash(folder), filename),
	}, nil
}

// S3UploadService stores attachments through the messaging S3 uploader
type S3UploadService struct {
	uploader *messaging.S3Uploader
}

func NewS3UploadService(uploader *messaging.S3Uploader) *S3UploadService {
	return &S3UploadService{uploader: uploader}
}

func (s *S3UploadService) Store(ctx context.Context, name string, data []byte) (*messaging.Attachment, error) {
	local := messaging.NewDataAttachment(filepath.Base(name), "", data)
	remote, err := s.uploader.Upload(ctx, local)
	if err != nil {
		return nil, err
	}
	return &remote, nil
}
