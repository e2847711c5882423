// internal/messaging/storage.go

package messaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
)

// DefaultAllowedTypes are the MIME types accepted for message attachments
var DefaultAllowedTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
	"audio/webm", "audio/ogg", "audio/mpeg", "audio/wav", "audio/mp4", "audio/aac",
	"application/pdf", "application/zip", "application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-excel",
	"text/plain", "text/csv",
}

// S3Uploader stores attachments in an S3 bucket served through a CDN
type S3Uploader struct {
	client       s3iface.S3API
	bucketName   string
	cdnURL       string
	maxFileSize  int64
	allowedTypes []string
	now          func() time.Time
}

// NewAWSSession opens a session for region. Empty keys fall back to the default credential chain.
func NewAWSSession(region, accessKeyID, secretAccessKey string) (*session.Session, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	if accessKeyID != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKeyID, secretAccessKey, "")
	}
	return session.NewSession(cfg)
}

// NewS3Uploader creates an uploader for bucketName. maxFileSize <= 0 disables the size check.
func NewS3Uploader(awsSession *session.Session, bucketName, cdnURL string, maxFileSize int64) *S3Uploader {
	return NewS3UploaderWithClient(s3.New(awsSession), bucketName, cdnURL, maxFileSize)
}

// NewS3UploaderWithClient creates an uploader over an existing S3 client
func NewS3UploaderWithClient(client s3iface.S3API, bucketName, cdnURL string, maxFileSize int64) *S3Uploader {
	return &S3Uploader{
		client:       client,
		bucketName:   bucketName,
		cdnURL:       strings.TrimRight(cdnURL, "/"),
		maxFileSize:  maxFileSize,
		allowedTypes: DefaultAllowedTypes,
		now:          time.Now,
	}
}

// Upload puts the attachment's bytes into the bucket and returns it with its CDN URL
func (u *S3Uploader) Upload(ctx context.Context, att Attachment) (Attachment, error) {
	if !att.IsLocal() {
		return att, nil
	}

	contentType := baseMIME(att.MimeType)
	if !u.isAllowedType(contentType) {
		return Attachment{}, invalid("attachment", fmt.Sprintf("file type %s not allowed", contentType))
	}

	data, err := readLocal(att)
	if err != nil {
		return Attachment{}, err
	}
	size := int64(len(data))
	if u.maxFileSize > 0 && size > u.maxFileSize {
		return Attachment{}, invalid("attachment", fmt.Sprintf("file size %d exceeds maximum allowed size %d", size, u.maxFileSize))
	}

	now := u.now()
	key := fmt.Sprintf("messages/%s/%s%s",
		now.Format("2006/01/02"),
		uuid.New().String(),
		strings.ToLower(filepath.Ext(att.Name)),
	)

	_, err = u.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(att.MimeType),
		ContentLength: aws.Int64(size),
		ACL:           aws.String("public-read"),
		Metadata: map[string]*string{
			"uploaded-at": aws.String(now.Format(time.RFC3339)),
			"file-name":   aws.String(att.Name),
		},
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to upload to S3: %w", err)
	}

	remote := att
	remote.Size = size
	remote.URL = fmt.Sprintf("%s/%s", u.cdnURL, key)
	remote.Local = nil
	return remote, nil
}

// Delete removes an uploaded attachment from the bucket
func (u *S3Uploader) Delete(ctx context.Context, url string) error {
	key := strings.TrimPrefix(url, u.cdnURL+"/")
	_, err := u.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucketName),
		Key:    aws.String(key),
	})
	return err
}

func (u *S3Uploader) isAllowedType(contentType string) bool {
	for _, allowed := range u.allowedTypes {
		if allowed == contentType {
			return true
		}
	}
	return false
}

// readLocal loads the payload of a local attachment
func readLocal(att Attachment) ([]byte, error) {
	if att.Local == nil {
		return nil, fmt.Errorf("attachment %s has no local payload", att.Name)
	}
	if att.Local.Path == "" {
		return att.Local.Data, nil
	}
	f, err := os.Open(att.Local.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", att.Local.Path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", att.Local.Path, err)
	}
	return data, nil
}

func baseMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
