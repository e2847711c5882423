// internal/backend/service.go

package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imadgeboyega/tradelink-inbox/internal/common/utils"
	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

// ValidationError is a request the service rejects as malformed
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

const (
	// creationLockWait bounds how long a create waits behind a concurrent create of the same key
	creationLockWait  = 5 * time.Second
	creationLockRetry = 50 * time.Millisecond
)

// Service implements the marketplace messaging API
type Service struct {
	repo     Repository
	locker   Locker
	uploads  UploadService
	now      func() time.Time
	lockWait time.Duration
}

func NewService(repo Repository, locker Locker, uploads UploadService) *Service {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		uploads:  uploads,
		now:      time.Now,
		lockWait: creationLockWait,
	}
}

// TouchUser records the caller's directory entry
func (s *Service) TouchUser(ctx context.Context, caller Identity) error {
	return s.repo.UpsertUser(ctx, &User{
		ID:        caller.UserID,
		Name:      caller.Name,
		Company:   caller.Company,
		Role:      string(caller.Role),
		UpdatedAt: s.now(),
	})
}

// ListConversations returns the caller's conversations, newest activity first.
// Messages from others are marked delivered.
func (s *Service) ListConversations(ctx context.Context, caller Identity) ([]*messaging.Conversation, error) {
	records, err := s.repo.ListUserConversations(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]*messaging.Conversation, 0, len(records))
	for _, rec := range records {
		if err := s.repo.PromoteStatus(ctx, rec.ID, caller.UserID, messaging.StatusDelivered); err != nil {
			log.Printf("Failed to mark conversation %s delivered: %v", rec.ID, err)
		}
		out = append(out, rec.toConversation(caller.UserID))
	}
	return out, nil
}

// CreateConversation opens a conversation between the caller and a
// counterparty, optionally scoped to a product. A second conversation for the
// same pair and product is refused with ErrDuplicateConversation. A request
// racing a create of the same key waits for it, so the conflict is only
// reported once the winner's conversation is committed.
func (s *Service) CreateConversation(ctx context.Context, caller Identity, req *messaging.CreateConversationRequest) (*messaging.Conversation, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if req.CounterpartyID == caller.UserID {
		return nil, ErrSelfConversation
	}

	key := contextKey(caller.UserID, req.CounterpartyID, req.ProductID)

	release, err := s.lockCreation(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.repo.FindConversationByKey(ctx, key); err == nil {
		conversationCreates.WithLabelValues("conflict").Inc()
		return nil, ErrDuplicateConversation
	} else if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}

	now := s.now()
	rec := &ConversationRecord{
		ID:               uuid.New().String(),
		Subject:          strings.TrimSpace(req.Subject),
		ContextKey:       key,
		ProductID:        ptr(req.ProductID),
		ProductName:      ptr(req.ProductName),
		ProductThumbnail: ptr(req.ProductThumbnail),
		LastMessageAt:    now,
		CreatedAt:        now,
		Participants: []*Participant{
			{UserID: caller.UserID, Role: string(caller.Role), DisplayName: displayName(caller.Name, caller.UserID), Company: caller.Company},
			s.counterpartyParticipant(ctx, req.CounterpartyID),
		},
	}

	if err := s.repo.CreateConversation(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateConversation) {
			conversationCreates.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}

	conversationCreates.WithLabelValues("created").Inc()
	log.Printf("Conversation %s created by %s (%s)", rec.ID, caller.UserID, key)
	return rec.toConversation(caller.UserID), nil
}

// lockCreation takes the creation lock for key, retrying while another
// request holds it
func (s *Service) lockCreation(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	ticker := time.NewTicker(creationLockRetry)
	defer ticker.Stop()

	for {
		release, ok, err := s.locker.TryLock(ctx, key)
		if err != nil && ctx.Err() != nil {
			return nil, ErrCreationBusy
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock conversation creation: %w", err)
		}
		if ok {
			return release, nil
		}

		select {
		case <-ctx.Done():
			conversationCreates.WithLabelValues("busy").Inc()
			return nil, ErrCreationBusy
		case <-ticker.C:
		}
	}
}

func (s *Service) counterpartyParticipant(ctx context.Context, userID string) *Participant {
	p := &Participant{UserID: userID, DisplayName: userID}
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			log.Printf("Failed to load user %s: %v", userID, err)
		}
		return p
	}
	p.Role = u.Role
	p.DisplayName = displayName(u.Name, u.ID)
	p.Company = u.Company
	return p
}

// ListMessages returns the conversation's messages oldest first, including
// tombstones. Messages from others are marked read.
func (s *Service) ListMessages(ctx context.Context, caller Identity, conversationID string) ([]*messaging.Message, error) {
	if err := s.requireParticipant(ctx, caller.UserID, conversationID); err != nil {
		return nil, err
	}

	if err := s.repo.PromoteStatus(ctx, conversationID, caller.UserID, messaging.StatusRead); err != nil {
		log.Printf("Failed to mark conversation %s read: %v", conversationID, err)
	}
	if err := s.repo.ResetUnreadCount(ctx, conversationID, caller.UserID); err != nil {
		log.Printf("Failed to reset unread count: %v", err)
	}

	records, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	out := make([]*messaging.Message, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.toMessage())
	}
	return out, nil
}

// SendMessage stores a message. A repeated client id returns the message
// already stored for it; created reports whether a new message was stored.
func (s *Service) SendMessage(ctx context.Context, caller Identity, conversationID string, req *messaging.SendMessageRequest) (msg *messaging.Message, created bool, err error) {
	if req.MessageType == "" {
		req.MessageType = messaging.MessageTypeFor(req.Attachments)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, false, &ValidationError{Message: err.Error()}
	}
	if err := s.requireParticipant(ctx, caller.UserID, conversationID); err != nil {
		return nil, false, err
	}

	if req.ClientID != "" {
		if existing, err := s.repo.FindMessageByClientID(ctx, conversationID, req.ClientID); err == nil {
			return existing.toMessage(), false, nil
		}
	}

	if req.ReplyTo != nil {
		target, err := s.repo.GetMessage(ctx, *req.ReplyTo)
		if err != nil || target.ConversationID != conversationID {
			return nil, false, &ValidationError{Message: "reply_to must reference a message in this conversation"}
		}
	}

	rec := &MessageRecord{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		ClientID:       req.ClientID,
		SenderID:       caller.UserID,
		SenderRole:     string(caller.Role),
		Content:        req.Content,
		Attachments:    AttachmentList(req.Attachments),
		ReplyTo:        req.ReplyTo,
		MessageType:    req.MessageType,
		Status:         string(messaging.StatusSent),
		CreatedAt:      s.now(),
	}

	if err := s.repo.CreateMessage(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			existing, ferr := s.repo.FindMessageByClientID(ctx, conversationID, req.ClientID)
			if ferr == nil {
				return existing.toMessage(), false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to store message: %w", err)
	}

	msg = rec.toMessage()
	if err := s.repo.UpdateConversationLastMessage(ctx, conversationID, msg.Preview(), rec.CreatedAt); err != nil {
		log.Printf("Failed to update last message of %s: %v", conversationID, err)
	}

	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err == nil {
		for _, p := range conv.Participants {
			if p.UserID == caller.UserID {
				continue
			}
			if err := s.repo.IncrementUnreadCount(ctx, conversationID, p.UserID); err != nil {
				log.Printf("Failed to increment unread count: %v", err)
			}
		}
	}

	messagesStored.WithLabelValues(msg.MessageType).Inc()
	return msg, true, nil
}

// EditMessage replaces the content of the caller's own message
func (s *Service) EditMessage(ctx context.Context, caller Identity, messageID string, req *messaging.EditMessageRequest) (*messaging.Message, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	rec, err := s.authoredMessage(ctx, caller, messageID)
	if err != nil {
		return nil, err
	}
	if rec.DeletedAt != nil {
		return nil, ErrMessageDeleted
	}

	if err := s.repo.UpdateMessageContent(ctx, messageID, req.Content, s.now()); err != nil {
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}

	updated, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.refreshPreview(ctx, updated)
	return updated.toMessage(), nil
}

// DeleteMessage tombstones the caller's own message. Deleting twice is not an error.
func (s *Service) DeleteMessage(ctx context.Context, caller Identity, messageID string) error {
	rec, err := s.authoredMessage(ctx, caller, messageID)
	if err != nil {
		return err
	}
	if rec.DeletedAt != nil {
		return nil
	}

	if err := s.repo.SoftDeleteMessage(ctx, messageID, s.now()); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	if deleted, err := s.repo.GetMessage(ctx, messageID); err == nil {
		s.refreshPreview(ctx, deleted)
	}
	return nil
}

// Upload stores an attachment for a later message
func (s *Service) Upload(ctx context.Context, caller Identity, name string, data []byte) (*messaging.Attachment, error) {
	if s.uploads == nil {
		return nil, errors.New("uploads are not configured")
	}
	if len(data) == 0 {
		return nil, &ValidationError{Message: "file is empty"}
	}
	att, err := s.uploads.Store(ctx, name, data)
	if err != nil {
		return nil, err
	}
	log.Printf("Stored attachment %s (%d bytes) for %s", att.Name, att.Size, caller.UserID)
	return att, nil
}

func (s *Service) requireParticipant(ctx context.Context, userID, conversationID string) error {
	ok, err := s.repo.IsUserInConversation(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		// hide conversations the caller is not part of
		return ErrConversationNotFound
	}
	return nil
}

func (s *Service) authoredMessage(ctx context.Context, caller Identity, messageID string) (*MessageRecord, error) {
	rec, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, caller.UserID, rec.ConversationID); err != nil {
		return nil, ErrMessageNotFound
	}
	if rec.SenderID != caller.UserID {
		return nil, ErrNotAuthor
	}
	return rec, nil
}

// refreshPreview updates the conversation preview when msg is its latest message
func (s *Service) refreshPreview(ctx context.Context, msg *MessageRecord) {
	records, err := s.repo.ListMessages(ctx, msg.ConversationID)
	if err != nil || len(records) == 0 || records[len(records)-1].ID != msg.ID {
		return
	}
	conv, err := s.repo.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return
	}
	if err := s.repo.UpdateConversationLastMessage(ctx, msg.ConversationID, msg.toMessage().Preview(), conv.LastMessageAt); err != nil {
		log.Printf("Failed to refresh preview of %s: %v", msg.ConversationID, err)
	}
}

func displayName(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
