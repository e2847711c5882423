// internal/backend/models.go

package backend

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

// Identity is the authenticated caller, taken from the access token
type Identity struct {
	UserID  string
	Role    messaging.Role
	Name    string
	Company string
}

// User is a directory entry, refreshed from the token on every request
type User struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Company   string    `db:"company"`
	Role      string    `db:"role"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ConversationRecord is a stored conversation
type ConversationRecord struct {
	ID                 string    `db:"id"`
	Subject            string    `db:"subject"`
	ContextKey         string    `db:"context_key"`
	ProductID          *string   `db:"product_id"`
	ProductName        *string   `db:"product_name"`
	ProductThumbnail   *string   `db:"product_thumbnail"`
	LastMessagePreview string    `db:"last_message_preview"`
	LastMessageAt      time.Time `db:"last_message_at"`
	CreatedAt          time.Time `db:"created_at"`

	Participants []*Participant `db:"-"`
}

// Participant is one side of a conversation
type Participant struct {
	ConversationID string `db:"conversation_id"`
	UserID         string `db:"user_id"`
	Role           string `db:"role"`
	DisplayName    string `db:"display_name"`
	Company        string `db:"company"`
	UnreadCount    int    `db:"unread_count"`
}

// MessageRecord is a stored message. Deleted messages keep their row as a tombstone.
type MessageRecord struct {
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	ClientID       string         `db:"client_id"`
	SenderID       string         `db:"sender_id"`
	SenderRole     string         `db:"sender_role"`
	Content        string         `db:"content"`
	Attachments    AttachmentList `db:"attachments"`
	ReplyTo        *string        `db:"reply_to"`
	MessageType    string         `db:"message_type"`
	Status         string         `db:"status"`
	IsEdited       bool           `db:"is_edited"`
	EditedAt       *time.Time     `db:"edited_at"`
	DeletedAt      *time.Time     `db:"deleted_at"`
	CreatedAt      time.Time      `db:"created_at"`
}

// AttachmentList is stored as a JSONB column
type AttachmentList []messaging.Attachment

// Scan implements sql.Scanner interface
func (a *AttachmentList) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported attachments type %T", value)
	}
	return json.Unmarshal(data, a)
}

// Value implements driver.Valuer interface
func (a AttachmentList) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// contextKey identifies the conversation between two users about one product,
// or their general conversation when productID is empty
func contextKey(userA, userB, productID string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	scope := "general"
	if productID != "" {
		scope = "product:" + productID
	}
	return strings.Join([]string{pair[0], pair[1], scope}, "|")
}

// participant returns the participant userID, or nil
func (c *ConversationRecord) participant(userID string) *Participant {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// toConversation projects the record as seen by viewerID
func (c *ConversationRecord) toConversation(viewerID string) *messaging.Conversation {
	conv := &messaging.Conversation{
		ID:                 c.ID,
		Subject:            c.Subject,
		LastMessagePreview: c.LastMessagePreview,
		LastActivityAt:     c.LastMessageAt,
		CreatedAt:          c.CreatedAt,
	}

	for _, p := range c.Participants {
		if p.UserID == viewerID {
			conv.UnreadCount = p.UnreadCount
			continue
		}
		conv.Counterparty = messaging.Counterparty{
			ID:      p.UserID,
			Name:    p.DisplayName,
			Company: p.Company,
			Role:    messaging.Role(p.Role),
		}
	}

	if c.ProductID != nil && *c.ProductID != "" {
		conv.Product = &messaging.ProductContext{ID: *c.ProductID}
		if c.ProductName != nil {
			conv.Product.Name = *c.ProductName
		}
		if c.ProductThumbnail != nil {
			conv.Product.ThumbnailURL = *c.ProductThumbnail
		}
	}
	return conv
}

func (m *MessageRecord) toMessage() *messaging.Message {
	msg := &messaging.Message{
		ID:             m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderRole:     messaging.Role(m.SenderRole),
		Content:        m.Content,
		Attachments:    append([]messaging.Attachment(nil), m.Attachments...),
		ReplyTo:        m.ReplyTo,
		MessageType:    m.MessageType,
		Status:         messaging.DeliveryStatus(m.Status),
		Edited:         m.IsEdited,
		EditedAt:       m.EditedAt,
		DeletedAt:      m.DeletedAt,
		CreatedAt:      m.CreatedAt,
	}
	if m.DeletedAt != nil {
		msg.Content = ""
		msg.Attachments = nil
	}
	return msg
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
