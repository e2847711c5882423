// internal/messaging/models.go

package messaging

import (
	"strings"
	"time"
)

// Role of a marketplace participant
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSupplier Role = "supplier"
	RoleAdmin    Role = "admin"
)

// Counterparty is the other side of a conversation
type Counterparty struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Role    Role   `json:"role,omitempty"`
}

// ProductContext scopes a conversation to one product inquiry
type ProductContext struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Conversation represents a thread between the current user and one counterparty.
// A nil Product means the general channel.
type Conversation struct {
	ID                 string          `json:"id"`
	Subject            string          `json:"subject,omitempty"`
	Counterparty       Counterparty    `json:"counterparty"`
	Product            *ProductContext `json:"product,omitempty"`
	LastMessagePreview string          `json:"last_message_preview,omitempty"`
	LastActivityAt     time.Time       `json:"last_activity_at"`
	UnreadCount        int             `json:"unread_count"`
	CreatedAt          time.Time       `json:"created_at"`
}

// IsGeneral reports whether the conversation belongs to the general channel
func (c *Conversation) IsGeneral() bool {
	return c.Product == nil
}

// ProductID returns the scoping product id or "" for general conversations
func (c *Conversation) ProductID() string {
	if c.Product == nil {
		return ""
	}
	return c.Product.ID
}

// DeliveryStatus is the server-side progress of a sent message
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Message types on the wire
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

// Message is a server message record
type Message struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"client_id,omitempty"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	SenderRole     Role           `json:"sender_role"`
	Content        string         `json:"content"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	ReplyTo        *string        `json:"reply_to,omitempty"`
	MessageType    string         `json:"message_type"`
	Status         DeliveryStatus `json:"status"`
	Edited         bool           `json:"is_edited"`
	EditedAt       *time.Time     `json:"edited_at,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// IsDeleted reports whether the message carries a tombstone
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Preview returns a short single-line description of the message
func (m *Message) Preview() string {
	if m.IsDeleted() {
		return "Message deleted"
	}
	if body := strings.TrimSpace(m.Content); body != "" {
		return body
	}
	switch m.MessageType {
	case MessageTypeImage:
		return "Sent an image"
	case MessageTypeAudio:
		return "Sent an audio message"
	case MessageTypeFile:
		return "Sent a file"
	default:
		return "Sent a message"
	}
}

// MessageTypeFor derives the wire message type from the attachments
func MessageTypeFor(attachments []Attachment) string {
	if len(attachments) == 0 {
		return MessageTypeText
	}
	switch attachments[0].Kind {
	case KindImage:
		return MessageTypeImage
	case KindAudio:
		return MessageTypeAudio
	default:
		return MessageTypeFile
	}
}

// MessageState is the local lifecycle of a displayed message.
// Implementations: Pending, Sent, Failed.
type MessageState interface {
	isMessageState()
}

// Pending is an optimistically displayed message not yet confirmed by the server
type Pending struct {
	ClientID string
	QueuedAt time.Time
}

// Sent is a server-confirmed message
type Sent struct {
	Delivery DeliveryStatus
}

// Failed is a message whose send request failed. It stays in place until retried or discarded.
type Failed struct {
	ClientID string
	Err      error
	FailedAt time.Time
}

func (Pending) isMessageState() {}
func (Sent) isMessageState()    {}
func (Failed) isMessageState()  {}

// Entry is one displayed message
type Entry struct {
	Message
	State MessageState
}

// IsPending reports whether the entry awaits server confirmation
func (e Entry) IsPending() bool {
	_, ok := e.State.(Pending)
	return ok
}

// IsFailed reports whether the entry's send failed
func (e Entry) IsFailed() bool {
	_, ok := e.State.(Failed)
	return ok
}

// IsSent reports whether the entry is server-confirmed
func (e Entry) IsSent() bool {
	_, ok := e.State.(Sent)
	return ok
}

// FeedItem is an entry with its reply context resolved against the current list.
// ReplyTarget is nil when the entry is not a reply or the target is not loaded.
type FeedItem struct {
	Entry
	ReplyTarget *Entry
}

// Request DTOs

type CreateConversationRequest struct {
	Subject          string `json:"subject" validate:"required,max=200"`
	CounterpartyID   string `json:"counterparty_id" validate:"required"`
	ProductID        string `json:"product_id,omitempty"`
	ProductName      string `json:"product_name,omitempty" validate:"required_with=ProductID"`
	ProductThumbnail string `json:"product_thumbnail,omitempty" validate:"omitempty,url"`
}

type SendMessageRequest struct {
	Content     string       `json:"content" validate:"required_without=Attachments,max=10000"`
	Attachments []Attachment `json:"attachments,omitempty" validate:"dive"`
	ReplyTo     *string      `json:"reply_to,omitempty"`
	MessageType string       `json:"message_type" validate:"required,oneof=text image audio file"`
	ClientID    string       `json:"client_id,omitempty"`
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required,max=10000"`
}
