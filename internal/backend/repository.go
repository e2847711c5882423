// internal/backend/repository.go

package backend

import (
	"context"
	"errors"
	"time"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrMessageNotFound       = errors.New("message not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrNotParticipant        = errors.New("not a participant in this conversation")
	ErrNotAuthor             = errors.New("only the author can change this message")
	ErrMessageDeleted        = errors.New("message was deleted")
	ErrDuplicateConversation = errors.New("conversation already exists")
	ErrDuplicateMessage      = errors.New("message already stored")
	ErrSelfConversation      = errors.New("cannot start a conversation with yourself")
	ErrCreationBusy          = errors.New("conversation is being created, try again")
)

// Repository stores users, conversations and messages
type Repository interface {
	// Users
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *ConversationRecord) error
	GetConversation(ctx context.Context, id string) (*ConversationRecord, error)
	FindConversationByKey(ctx context.Context, key string) (*ConversationRecord, error)
	ListUserConversations(ctx context.Context, userID string) ([]*ConversationRecord, error)
	IsUserInConversation(ctx context.Context, userID, conversationID string) (bool, error)
	UpdateConversationLastMessage(ctx context.Context, conversationID, preview string, at time.Time) error
	IncrementUnreadCount(ctx context.Context, conversationID, userID string) error
	ResetUnreadCount(ctx context.Context, conversationID, userID string) error

	// Messages
	CreateMessage(ctx context.Context, msg *MessageRecord) error
	GetMessage(ctx context.Context, id string) (*MessageRecord, error)
	FindMessageByClientID(ctx context.Context, conversationID, clientID string) (*MessageRecord, error)
	ListMessages(ctx context.Context, conversationID string) ([]*MessageRecord, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error
	SoftDeleteMessage(ctx context.Context, id string, deletedAt time.Time) error

	// PromoteStatus raises the status of messages in conversationID not sent by
	// readerID to status, never lowering it
	PromoteStatus(ctx context.Context, conversationID, readerID string, status messaging.DeliveryStatus) error
}

// statusRank orders delivery statuses for promotion
func statusRank(status string) int {
	switch messaging.DeliveryStatus(status) {
	case messaging.StatusRead:
		return 2
	case messaging.StatusDelivered:
		return 1
	default:
		return 0
	}
}
