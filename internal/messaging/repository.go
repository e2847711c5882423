// internal/messaging/repository.go

package messaging

import "context"

// ConversationStore is the remote conversation service
type ConversationStore interface {
	ListConversations(ctx context.Context) ([]*Conversation, error)
	CreateConversation(ctx context.Context, req *CreateConversationRequest) (*Conversation, error)
}

// MessageStore is the remote message service
type MessageStore interface {
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	SendMessage(ctx context.Context, conversationID string, req *SendMessageRequest) (*Message, error)
	EditMessage(ctx context.Context, messageID string, content string) (*Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

// Uploader turns a local attachment into a remote one
type Uploader interface {
	Upload(ctx context.Context, att Attachment) (Attachment, error)
}

// Store bundles both remote services, as the REST client provides them
type Store interface {
	ConversationStore
	MessageStore
}
