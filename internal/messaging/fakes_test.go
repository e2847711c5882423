package messaging

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// fakeStore is an in-memory Store with knobs for failures and blocking calls
type fakeStore struct {
	mu            sync.Mutex
	conversations []*Conversation
	messages      map[string][]*Message
	nextID        int

	createCalls int
	listCalls   int
	pollCalls   int
	sendCalls   int

	// createGate blocks CreateConversation until closed
	createGate chan struct{}
	// pollGate blocks ListMessages until closed or the context ends
	pollGate chan struct{}

	createErr     error
	conflictWith  *Conversation
	listErr       error
	pollErr       error
	sendErr       error
	editErr       error
	deleteErr     error
	dropClientIDs bool

	// pollScript, when set, is returned by successive ListMessages calls
	pollScript [][]*Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string][]*Message)}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func (f *fakeStore) addConversation(c *Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, c)
}

func (f *fakeStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*Conversation, len(f.conversations))
	for i, c := range f.conversations {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (f *fakeStore) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*Conversation, error) {
	f.mu.Lock()
	f.createCalls++
	gate := f.createGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conflictWith != nil {
		f.conversations = append(f.conversations, f.conflictWith)
		f.conflictWith = nil
		return nil, ErrCreationConflict
	}
	if f.createErr != nil {
		return nil, f.createErr
	}

	conv := &Conversation{
		ID:             f.id("c"),
		Subject:        req.Subject,
		Counterparty:   Counterparty{ID: req.CounterpartyID, Name: req.CounterpartyID},
		LastActivityAt: time.Now(),
		CreatedAt:      time.Now(),
	}
	if req.ProductID != "" {
		conv.Product = &ProductContext{ID: req.ProductID, Name: req.ProductName, ThumbnailURL: req.ProductThumbnail}
	}
	f.conversations = append(f.conversations, conv)
	cp := *conv
	return &cp, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	f.mu.Lock()
	f.pollCalls++
	gate := f.pollGate
	if gate == nil {
		defer f.mu.Unlock()
		return f.pollLocked(conversationID)
	}
	f.mu.Unlock()

	select {
	case <-gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollLocked(conversationID)
}

func (f *fakeStore) pollLocked(conversationID string) ([]*Message, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if len(f.pollScript) > 0 {
		next := f.pollScript[0]
		if len(f.pollScript) > 1 {
			f.pollScript = f.pollScript[1:]
		}
		return copyMessages(next), nil
	}
	return copyMessages(f.messages[conversationID]), nil
}

func (f *fakeStore) SendMessage(ctx context.Context, conversationID string, req *SendMessageRequest) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return nil, f.sendErr
	}

	msg := &Message{
		ID:             f.id("m"),
		ConversationID: conversationID,
		SenderID:       "me",
		Content:        req.Content,
		Attachments:    append([]Attachment(nil), req.Attachments...),
		ReplyTo:        req.ReplyTo,
		MessageType:    req.MessageType,
		Status:         StatusSent,
		CreatedAt:      time.Now(),
	}
	if !f.dropClientIDs {
		msg.ClientID = req.ClientID
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	cp := *msg
	return &cp, nil
}

func (f *fakeStore) EditMessage(ctx context.Context, messageID, content string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return nil, f.editErr
	}
	for _, list := range f.messages {
		for _, m := range list {
			if m.ID == messageID {
				m.Content = content
				m.Edited = true
				now := time.Now()
				m.EditedAt = &now
				cp := *m
				return &cp, nil
			}
		}
	}
	return nil, ErrMessageNotFound
}

func (f *fakeStore) DeleteMessage(ctx context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for _, list := range f.messages {
		for _, m := range list {
			if m.ID == messageID {
				now := time.Now()
				m.DeletedAt = &now
				m.Content = ""
				return nil
			}
		}
	}
	return ErrMessageNotFound
}

func (f *fakeStore) seed(conversationID string, msgs ...*Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[conversationID] = append(f.messages[conversationID], msgs...)
}

func (f *fakeStore) counts() (create, list, poll, send int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.listCalls, f.pollCalls, f.sendCalls
}

func (f *fakeStore) set(fn func(f *fakeStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func copyMessages(in []*Message) []*Message {
	out := make([]*Message, len(in))
	for i, m := range in {
		cp := *m
		out[i] = &cp
	}
	return out
}

// fakeUploader assigns URLs to local attachments
type fakeUploader struct {
	mu      sync.Mutex
	uploads []string
	err     error
}

func (u *fakeUploader) Upload(ctx context.Context, att Attachment) (Attachment, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return Attachment{}, u.err
	}
	u.uploads = append(u.uploads, att.Name)
	att.URL = "https://cdn.test/" + att.Name
	att.Local = nil
	return att, nil
}

// fakeDevice hands out pipe-backed audio streams and tracks open handles
type fakeDevice struct {
	mu        sync.Mutex
	openErr   error
	openCalls int
	open      int
	writers   []*io.PipeWriter
	mimeType  string

	// openGate blocks Open until closed
	openGate chan struct{}
}

type pipeStream struct {
	*io.PipeReader
	device   *fakeDevice
	mimeType string
	once     sync.Once
}

func (s *pipeStream) MimeType() string {
	return s.mimeType
}

func (s *pipeStream) Close() error {
	s.once.Do(func() {
		s.device.mu.Lock()
		s.device.open--
		s.device.mu.Unlock()
	})
	return s.PipeReader.Close()
}

func (d *fakeDevice) Open(ctx context.Context) (AudioStream, error) {
	d.mu.Lock()
	d.openCalls++
	gate := d.openGate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	r, w := io.Pipe()
	d.open++
	d.writers = append(d.writers, w)
	return &pipeStream{PipeReader: r, device: d, mimeType: d.mimeType}, nil
}

// speak writes audio into the most recent stream
func (d *fakeDevice) speak(data []byte) error {
	d.mu.Lock()
	w := d.writers[len(d.writers)-1]
	d.mu.Unlock()
	_, err := w.Write(data)
	return err
}

func (d *fakeDevice) openStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func msg(id, sender, content string, at time.Time) *Message {
	return &Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       sender,
		Content:        content,
		MessageType:    MessageTypeText,
		Status:         StatusSent,
		CreatedAt:      at,
	}
}

func entryIDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
