// internal/backend/memory.go

package backend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

// MemoryRepository keeps everything in process memory. It backs development
// servers without DATABASE_URL and the tests.
type MemoryRepository struct {
	mu            sync.RWMutex
	users         map[string]*User
	conversations map[string]*ConversationRecord
	byKey         map[string]string
	messages      map[string]*MessageRecord
	byConv        map[string][]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:         make(map[string]*User),
		conversations: make(map[string]*ConversationRecord),
		byKey:         make(map[string]string),
		messages:      make(map[string]*MessageRecord),
		byConv:        make(map[string][]string),
	}
}

func (r *MemoryRepository) UpsertUser(ctx context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *user
	r.users[user.ID] = &cp

	// keep participant display data in step with the directory
	for _, conv := range r.conversations {
		if p := conv.participant(user.ID); p != nil {
			if user.Name != "" {
				p.DisplayName = user.Name
			}
			if user.Company != "" {
				p.Company = user.Company
			}
		}
	}
	return nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) CreateConversation(ctx context.Context, conv *ConversationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[conv.ContextKey]; exists {
		return ErrDuplicateConversation
	}
	stored := copyConversation(conv)
	r.conversations[conv.ID] = stored
	r.byKey[conv.ContextKey] = conv.ID
	return nil
}

func (r *MemoryRepository) GetConversation(ctx context.Context, id string) (*ConversationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return copyConversation(c), nil
}

func (r *MemoryRepository) FindConversationByKey(ctx context.Context, key string) (*ConversationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return copyConversation(r.conversations[id]), nil
}

func (r *MemoryRepository) ListUserConversations(ctx context.Context, userID string) ([]*ConversationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*ConversationRecord
	for _, c := range r.conversations {
		if c.participant(userID) != nil {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (r *MemoryRepository) IsUserInConversation(ctx context.Context, userID, conversationID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversations[conversationID]
	if !ok {
		return false, nil
	}
	return c.participant(userID) != nil, nil
}

func (r *MemoryRepository) UpdateConversationLastMessage(ctx context.Context, conversationID, preview string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	c.LastMessagePreview = preview
	c.LastMessageAt = at
	return nil
}

func (r *MemoryRepository) IncrementUnreadCount(ctx context.Context, conversationID, userID string) error {
	return r.withParticipant(conversationID, userID, func(p *Participant) {
		p.UnreadCount++
	})
}

func (r *MemoryRepository) ResetUnreadCount(ctx context.Context, conversationID, userID string) error {
	return r.withParticipant(conversationID, userID, func(p *Participant) {
		p.UnreadCount = 0
	})
}

func (r *MemoryRepository) withParticipant(conversationID, userID string, fn func(*Participant)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	p := c.participant(userID)
	if p == nil {
		return ErrNotParticipant
	}
	fn(p)
	return nil
}

func (r *MemoryRepository) CreateMessage(ctx context.Context, msg *MessageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[msg.ConversationID]; !ok {
		return ErrConversationNotFound
	}
	if msg.ClientID != "" {
		for _, id := range r.byConv[msg.ConversationID] {
			if r.messages[id].ClientID == msg.ClientID {
				return ErrDuplicateMessage
			}
		}
	}

	cp := *msg
	cp.Attachments = append(AttachmentList(nil), msg.Attachments...)
	r.messages[msg.ID] = &cp
	r.byConv[msg.ConversationID] = append(r.byConv[msg.ConversationID], msg.ID)
	return nil
}

func (r *MemoryRepository) GetMessage(ctx context.Context, id string) (*MessageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return copyMessage(m), nil
}

func (r *MemoryRepository) FindMessageByClientID(ctx context.Context, conversationID, clientID string) (*MessageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.byConv[conversationID] {
		if m := r.messages[id]; m.ClientID == clientID {
			return copyMessage(m), nil
		}
	}
	return nil, ErrMessageNotFound
}

func (r *MemoryRepository) ListMessages(ctx context.Context, conversationID string) ([]*MessageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byConv[conversationID]
	out := make([]*MessageRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyMessage(r.messages[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &editedAt
	return nil
}

func (r *MemoryRepository) SoftDeleteMessage(ctx context.Context, id string, deletedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	if m.DeletedAt == nil {
		m.DeletedAt = &deletedAt
	}
	return nil
}

func (r *MemoryRepository) PromoteStatus(ctx context.Context, conversationID, readerID string, status messaging.DeliveryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rank := statusRank(string(status))
	for _, id := range r.byConv[conversationID] {
		m := r.messages[id]
		if m.SenderID != readerID && statusRank(m.Status) < rank {
			m.Status = string(status)
		}
	}
	return nil
}

func copyConversation(c *ConversationRecord) *ConversationRecord {
	cp := *c
	cp.Participants = make([]*Participant, len(c.Participants))
	for i, p := range c.Participants {
		pc := *p
		cp.Participants[i] = &pc
	}
	return &cp
}

func copyMessage(m *MessageRecord) *MessageRecord {
	cp := *m
	cp.Attachments = append(AttachmentList(nil), m.Attachments...)
	return &cp
}
