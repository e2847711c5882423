// internal/messaging/composer.go

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks client-generated message ids
const TempIDPrefix = "tmp-"

// Composer creates, edits and deletes messages of the timeline's conversation.
// It writes only the pending suffix; synced entries change through optimistic
// edit and delete marks.
type Composer struct {
	store    MessageStore
	uploader Uploader
	timeline *Timeline
	selfID   string
	selfRole Role
	now      func() time.Time
}

// NewComposer creates a composer for the user selfID. uploader may be nil when
// attachments are always remote.
func NewComposer(store MessageStore, uploader Uploader, timeline *Timeline, selfID string, selfRole Role) *Composer {
	return &Composer{
		store:    store,
		uploader: uploader,
		timeline: timeline,
		selfID:   selfID,
		selfRole: selfRole,
		now:      time.Now,
	}
}

// Compose validates a message and appends it to the timeline as pending.
// No network call is made.
func (c *Composer) Compose(content string, attachments []Attachment, replyTo *string) (Entry, error) {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return Entry{}, invalid("content", "a message needs text or at least one attachment")
	}

	conversationID := c.timeline.ConversationID()
	if conversationID == "" {
		return Entry{}, ErrNoActiveConversation
	}

	if replyTo != nil && *replyTo == "" {
		replyTo = nil
	}

	now := c.now()
	clientID := TempIDPrefix + uuid.New().String()
	entry := Entry{
		Message: Message{
			ID:             clientID,
			ClientID:       clientID,
			ConversationID: conversationID,
			SenderID:       c.selfID,
			SenderRole:     c.selfRole,
			Content:        content,
			Attachments:    append([]Attachment(nil), attachments...),
			ReplyTo:        replyTo,
			MessageType:    MessageTypeFor(attachments),
			CreatedAt:      now,
		},
		State: Pending{ClientID: clientID, QueuedAt: now},
	}

	if !c.timeline.AddPending(entry) {
		return Entry{}, ErrNoActiveConversation
	}
	return copyEntry(entry), nil
}

// Send uploads the entry's local attachments and posts it. On failure the
// entry stays in the timeline marked failed.
func (c *Composer) Send(ctx context.Context, entry Entry) (*Message, error) {
	clientID := entryClientID(entry)

	attachments, err := c.upload(ctx, entry.Attachments)
	if err != nil {
		return nil, c.fail(clientID, err)
	}

	req := &SendMessageRequest{
		Content:     entry.Content,
		Attachments: attachments,
		ReplyTo:     entry.ReplyTo,
		MessageType: MessageTypeFor(attachments),
		ClientID:    clientID,
	}

	msg, err := c.store.SendMessage(ctx, entry.ConversationID, req)
	if err != nil {
		return nil, c.fail(clientID, err)
	}

	messagesSent.WithLabelValues("ok").Inc()
	c.Confirm(clientID, msg)
	return msg, nil
}

// Confirm replaces the pending entry for clientID with the server message
func (c *Composer) Confirm(clientID string, msg *Message) bool {
	return c.timeline.Confirm(clientID, msg)
}

// Retry re-sends a failed message
func (c *Composer) Retry(ctx context.Context, clientID string) (*Message, error) {
	entry, ok := c.timeline.Requeue(clientID, c.now())
	if !ok {
		return nil, fmt.Errorf("no failed message %s: %w", clientID, ErrMessageNotFound)
	}
	return c.Send(ctx, entry)
}

// Discard drops a failed message
func (c *Composer) Discard(clientID string) error {
	if !c.timeline.Discard(clientID) {
		return fmt.Errorf("no failed message %s: %w", clientID, ErrMessageNotFound)
	}
	return nil
}

// Edit changes the content of one of the user's sent messages. The timeline
// shows the new content at once; a failed request is logged and the next sync
// restores the server content.
func (c *Composer) Edit(ctx context.Context, messageID, content string) error {
	if strings.TrimSpace(content) == "" {
		return invalid("content", "edited content cannot be empty")
	}

	entry, err := c.authored(messageID, "edited")
	if err != nil {
		return err
	}
	if entry.Content == content {
		return nil
	}

	if !c.timeline.ApplyEdit(messageID, content, c.now()) {
		return fmt.Errorf("edit %s: %w", messageID, ErrMessageNotFound)
	}

	updated, err := c.store.EditMessage(ctx, messageID, content)
	if err != nil {
		log.Printf("Failed to edit message %s: %v", messageID, err)
		c.timeline.FinishEdit(messageID, nil)
		return nil
	}
	c.timeline.FinishEdit(messageID, updated)
	return nil
}

// Delete tombstones one of the user's sent messages. If the server rejects the
// request the tombstone is rolled back and the error returned.
func (c *Composer) Delete(ctx context.Context, messageID string) error {
	entry, err := c.authored(messageID, "deleted")
	if err != nil {
		return err
	}
	if entry.IsDeleted() {
		return nil
	}

	if !c.timeline.ApplyDelete(messageID, c.now()) {
		return fmt.Errorf("delete %s: %w", messageID, ErrMessageNotFound)
	}

	if err := c.store.DeleteMessage(ctx, messageID); err != nil {
		previous := entry.Message
		c.timeline.FinishDelete(messageID, &previous)
		return fmt.Errorf("failed to delete message: %w", err)
	}
	c.timeline.FinishDelete(messageID, nil)
	return nil
}

// authored returns the sent entry messageID if the current user wrote it
func (c *Composer) authored(messageID, action string) (Entry, error) {
	entry, ok := c.timeline.Get(messageID)
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", messageID, ErrMessageNotFound)
	}
	if !entry.IsSent() {
		return Entry{}, invalid("message", fmt.Sprintf("unsent messages cannot be %s, retry or discard them", action))
	}
	if entry.SenderID != c.selfID {
		return Entry{}, notAuthor(messageID)
	}
	if action == "edited" && entry.IsDeleted() {
		return Entry{}, invalid("message", "deleted messages cannot be edited")
	}
	return entry, nil
}

func (c *Composer) upload(ctx context.Context, attachments []Attachment) ([]Attachment, error) {
	out := make([]Attachment, 0, len(attachments))
	for _, att := range attachments {
		if !att.IsLocal() {
			out = append(out, att)
			continue
		}
		if c.uploader == nil {
			return nil, errors.New("no uploader configured for local attachments")
		}
		remote, err := c.uploader.Upload(ctx, att)
		if err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", att.Name, err)
		}
		attachmentsUploaded.WithLabelValues(string(remote.Kind)).Inc()
		out = append(out, remote)
	}
	return out, nil
}

func (c *Composer) fail(clientID string, err error) error {
	messagesSent.WithLabelValues("failed").Inc()
	sendErr := &SendError{ClientID: clientID, Err: err}
	c.timeline.MarkFailed(clientID, sendErr, c.now())
	log.Printf("Message %s failed to send: %v", clientID, err)
	return sendErr
}
