// internal/messaging/attachments.go

package messaging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// AttachmentKind is derived from the MIME type
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindAudio    AttachmentKind = "audio"
	KindDocument AttachmentKind = "document"
	KindOther    AttachmentKind = "other"
)

var documentTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument",
	"application/vnd.ms-excel",
	"application/vnd.ms-powerpoint",
	"application/vnd.oasis.opendocument",
	"application/rtf",
	"text/",
}

// KindFromMIME maps a MIME type to an attachment kind
func KindFromMIME(mimeType string) AttachmentKind {
	mt := baseMIME(mimeType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	}
	for _, prefix := range documentTypes {
		if strings.HasPrefix(mt, prefix) {
			return KindDocument
		}
	}
	return KindOther
}

// LocalFile is the pre-send payload of an attachment: a file on disk or recorded bytes
type LocalFile struct {
	Path string
	Data []byte
}

// Attachment is a file carried by a message.
// Exactly one of Local (before upload) or URL (after upload) is meaningful.
type Attachment struct {
	Kind     AttachmentKind `json:"kind" validate:"required,oneof=image audio document other"`
	Name     string         `json:"name" validate:"required,max=255"`
	Size     int64          `json:"size" validate:"gte=0"`
	MimeType string         `json:"mime_type" validate:"required"`
	URL      string         `json:"url,omitempty" validate:"required"`

	Local *LocalFile `json:"-"`
}

// IsLocal reports whether the attachment still needs uploading
func (a Attachment) IsLocal() bool {
	return a.Local != nil && a.URL == ""
}

// NewFileAttachment builds a local attachment from a file on disk
func NewFileAttachment(path string) (Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Attachment{}, invalid("file", fmt.Sprintf("%s is a directory", path))
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to detect type of %s: %w", path, err)
	}

	return Attachment{
		Kind:     KindFromMIME(mtype.String()),
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: mtype.String(),
		Local:    &LocalFile{Path: path},
	}, nil
}

// NewDataAttachment builds a local attachment from in-memory bytes.
// An empty mimeType is sniffed from the content.
func NewDataAttachment(name, mimeType string, data []byte) Attachment {
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return Attachment{
		Kind:     KindFromMIME(mimeType),
		Name:     name,
		Size:     int64(len(data)),
		MimeType: mimeType,
		Local:    &LocalFile{Data: data},
	}
}

// AttachmentComposer accumulates attachments for the next outgoing message
type AttachmentComposer struct {
	mu      sync.Mutex
	pending []Attachment
	maxSize int64
}

// NewAttachmentComposer creates a composer. maxSize <= 0 disables the size limit.
func NewAttachmentComposer(maxSize int64) *AttachmentComposer {
	return &AttachmentComposer{maxSize: maxSize}
}

// AddFiles appends one attachment per path. Nothing is added if any path is rejected.
func (c *AttachmentComposer) AddFiles(paths ...string) ([]Attachment, error) {
	added := make([]Attachment, 0, len(paths))
	for _, path := range paths {
		att, err := NewFileAttachment(path)
		if err != nil {
			return nil, err
		}
		if err := c.checkSize(att); err != nil {
			return nil, err
		}
		added = append(added, att)
	}

	c.mu.Lock()
	c.pending = append(c.pending, added...)
	c.mu.Unlock()

	return added, nil
}

// Add appends an already built attachment, e.g. a finished recording
func (c *AttachmentComposer) Add(att Attachment) error {
	if err := c.checkSize(att); err != nil {
		return err
	}
	c.mu.Lock()
	c.pending = append(c.pending, att)
	c.mu.Unlock()
	return nil
}

// Remove drops the pending attachment at index i
func (c *AttachmentComposer) Remove(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i < 0 || i >= len(c.pending) {
		return invalid("attachment", fmt.Sprintf("no attachment at position %d", i))
	}
	c.pending = append(c.pending[:i], c.pending[i+1:]...)
	return nil
}

// Pending returns a copy of the accumulated attachments
func (c *AttachmentComposer) Pending() []Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Attachment(nil), c.pending...)
}

// Take returns the accumulated attachments and clears the list
func (c *AttachmentComposer) Take() []Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	taken := c.pending
	c.pending = nil
	return taken
}

// Clear drops all pending attachments
func (c *AttachmentComposer) Clear() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

func (c *AttachmentComposer) checkSize(att Attachment) error {
	if c.maxSize > 0 && att.Size > c.maxSize {
		return invalid("attachment", fmt.Sprintf("%s is %s, the limit is %s",
			att.Name, humanize.Bytes(uint64(att.Size)), humanize.Bytes(uint64(c.maxSize))))
	}
	return nil
}
