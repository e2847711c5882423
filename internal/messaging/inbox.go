// internal/messaging/inbox.go

package messaging

import (
	"context"
	"log"
	"sync"
	"time"
)

// UpdateKind tells a view which part of the inbox changed
type UpdateKind int

const (
	UpdateConversations UpdateKind = iota
	UpdateMessages
	UpdateAttachments
	UpdateSyncDegraded
	UpdateConversationGone
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateConversations:
		return "conversations"
	case UpdateMessages:
		return "messages"
	case UpdateAttachments:
		return "attachments"
	case UpdateSyncDegraded:
		return "sync_degraded"
	case UpdateConversationGone:
		return "conversation_gone"
	}
	return "unknown"
}

// Update is a change notification. Views re-read the inbox on receipt.
type Update struct {
	Kind           UpdateKind
	ConversationID string
	Err            error
}

// Options configures an Inbox
type Options struct {
	SelfID            string
	SelfRole          Role
	PollInterval      time.Duration
	FailureThreshold  int
	ReconcileWindow   time.Duration
	MaxAttachmentSize int64
	Uploader          Uploader
	AudioDevice       AudioDevice
}

const updateBuffer = 64

// Inbox owns the conversation list, the active conversation and its message
// timeline, and the outgoing attachments of one signed-in user.
type Inbox struct {
	selector    *Selector
	resolver    *Resolver
	timeline    *Timeline
	sync        *Synchronizer
	composer    *Composer
	attachments *AttachmentComposer
	recorder    *Recorder

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	updates chan Update
}

// NewInbox wires the inbox components over store
func NewInbox(store Store, opts Options) *Inbox {
	ctx, cancel := context.WithCancel(context.Background())

	i := &Inbox{
		selector:    NewSelector(),
		timeline:    NewTimeline(opts.SelfID, opts.ReconcileWindow),
		attachments: NewAttachmentComposer(opts.MaxAttachmentSize),
		recorder:    NewRecorder(opts.AudioDevice),
		ctx:         ctx,
		cancel:      cancel,
		updates:     make(chan Update, updateBuffer),
	}
	i.resolver = NewResolver(store, i.selector)
	i.sync = NewSynchronizer(store, i.timeline, opts.PollInterval, opts.FailureThreshold, i.onSync)
	i.composer = NewComposer(store, opts.Uploader, i.timeline, opts.SelfID, opts.SelfRole)
	return i
}

// Updates delivers change notifications. Notifications are dropped while the
// buffer is full; the channel is closed by Close.
func (i *Inbox) Updates() <-chan Update {
	return i.updates
}

// Load fetches the conversation list
func (i *Inbox) Load(ctx context.Context) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if err := i.resolver.Refresh(ctx); err != nil {
		return err
	}
	i.dropVanishedActive()
	i.emit(Update{Kind: UpdateConversations})
	return nil
}

// Select makes a loaded conversation active and starts polling its messages
func (i *Inbox) Select(id string) (*Conversation, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	conv, err := i.selector.Select(id)
	if err != nil {
		return nil, err
	}
	i.activate(conv.ID)
	return conv, nil
}

// Refresh polls the active conversation now instead of waiting for the next tick
func (i *Inbox) Refresh(ctx context.Context) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if _, ok := i.selector.Active(); !ok {
		return ErrNoActiveConversation
	}
	return i.sync.Tick(ctx)
}

// Deselect clears the active conversation and stops polling
func (i *Inbox) Deselect() {
	i.selector.Clear()
	i.deactivate()
}

// ContactCounterparty opens the general conversation with a counterparty,
// creating it if needed
func (i *Inbox) ContactCounterparty(ctx context.Context, counterparty Counterparty) (*Conversation, error) {
	return i.resolveAndSelect(ctx, counterparty, nil)
}

// CreateOrSelectProductConversation opens the inquiry about product with a
// counterparty, creating it if needed
func (i *Inbox) CreateOrSelectProductConversation(ctx context.Context, counterparty Counterparty, product ProductContext) (*Conversation, error) {
	return i.resolveAndSelect(ctx, counterparty, &product)
}

func (i *Inbox) resolveAndSelect(ctx context.Context, counterparty Counterparty, product *ProductContext) (*Conversation, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	conv, err := i.resolver.Resolve(ctx, counterparty, product)
	if err != nil {
		return nil, err
	}
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	i.emit(Update{Kind: UpdateConversations})

	if _, ok := i.selector.Get(conv.ID); !ok {
		i.selector.Upsert(conv)
	}
	return i.Select(conv.ID)
}

// SendMessage composes a message from content and the pending attachments and
// sends it. The message shows as pending right away; the pending attachments
// are cleared once the message is composed.
func (i *Inbox) SendMessage(ctx context.Context, content string, replyTo *string) (*Message, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}

	entry, err := i.composer.Compose(content, i.attachments.Pending(), replyTo)
	if err != nil {
		return nil, err
	}
	if len(entry.Attachments) > 0 {
		i.attachments.Clear()
		i.emit(Update{Kind: UpdateAttachments})
	}
	i.emit(Update{Kind: UpdateMessages, ConversationID: entry.ConversationID})

	msg, err := i.composer.Send(ctx, entry)
	i.emit(Update{Kind: UpdateMessages, ConversationID: entry.ConversationID})
	return msg, err
}

// RetryMessage re-sends a failed message
func (i *Inbox) RetryMessage(ctx context.Context, clientID string) (*Message, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	msg, err := i.composer.Retry(ctx, clientID)
	i.emit(Update{Kind: UpdateMessages, ConversationID: i.timeline.ConversationID()})
	return msg, err
}

// DiscardMessage drops a failed message
func (i *Inbox) DiscardMessage(clientID string) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if err := i.composer.Discard(clientID); err != nil {
		return err
	}
	i.emit(Update{Kind: UpdateMessages, ConversationID: i.timeline.ConversationID()})
	return nil
}

// EditMessage changes the content of one of the user's messages
func (i *Inbox) EditMessage(ctx context.Context, messageID, content string) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if err := i.composer.Edit(ctx, messageID, content); err != nil {
		return err
	}
	i.emit(Update{Kind: UpdateMessages, ConversationID: i.timeline.ConversationID()})
	return nil
}

// DeleteMessage deletes one of the user's messages. Confirmation is the caller's job.
func (i *Inbox) DeleteMessage(ctx context.Context, messageID string) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	err := i.composer.Delete(ctx, messageID)
	i.emit(Update{Kind: UpdateMessages, ConversationID: i.timeline.ConversationID()})
	return err
}

// AttachFiles adds files to the next outgoing message
func (i *Inbox) AttachFiles(paths ...string) ([]Attachment, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	added, err := i.attachments.AddFiles(paths...)
	if err != nil {
		return nil, err
	}
	i.emit(Update{Kind: UpdateAttachments})
	return added, nil
}

// RemoveAttachment drops the pending attachment at index
func (i *Inbox) RemoveAttachment(index int) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if err := i.attachments.Remove(index); err != nil {
		return err
	}
	i.emit(Update{Kind: UpdateAttachments})
	return nil
}

// Attachments returns the pending attachments
func (i *Inbox) Attachments() []Attachment {
	return i.attachments.Pending()
}

// StartRecording acquires the audio input
func (i *Inbox) StartRecording(ctx context.Context) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if err := i.recorder.Start(ctx); err != nil {
		return err
	}
	// Close may have released the recorder while the device was opening
	if err := i.checkOpen(); err != nil {
		i.recorder.Cancel()
		return err
	}
	return nil
}

// StopRecording finishes the recording and adds it to the pending attachments
func (i *Inbox) StopRecording() (Attachment, error) {
	att, err := i.recorder.Stop()
	if err != nil {
		return Attachment{}, err
	}
	if err := i.checkOpen(); err != nil {
		return Attachment{}, err
	}
	if err := i.attachments.Add(att); err != nil {
		return Attachment{}, err
	}
	i.emit(Update{Kind: UpdateAttachments})
	return att, nil
}

// CancelRecording abandons the recording, e.g. on pointer cancel
func (i *Inbox) CancelRecording() {
	i.recorder.Cancel()
}

// Recording reports whether the audio input is held
func (i *Inbox) Recording() bool {
	return i.recorder.Recording()
}

// Conversations returns the loaded conversations of channel matching query
func (i *Inbox) Conversations(channel Channel, query string) []*Conversation {
	return i.selector.Filter(channel, query)
}

// Active returns the active conversation
func (i *Inbox) Active() (*Conversation, bool) {
	return i.selector.Active()
}

// Feed returns the active conversation's messages with reply context resolved
func (i *Inbox) Feed() []FeedItem {
	return i.timeline.Feed()
}

// SyncFailures returns the number of consecutive failed polls
func (i *Inbox) SyncFailures() int {
	return i.sync.Failures()
}

// CreationState exposes the conversation creation state for a context key
func (i *Inbox) CreationState(key string) CreationState {
	return i.resolver.State(key)
}

// Close tears the inbox down: polling stops, in-flight poll results are
// discarded and the audio input is released. Later intents return ErrClosed.
func (i *Inbox) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.mu.Unlock()

	i.cancel()
	i.sync.Stop()
	i.recorder.Cancel()

	i.mu.Lock()
	close(i.updates)
	i.mu.Unlock()
}

func (i *Inbox) activate(conversationID string) {
	if i.sync.ConversationID() == conversationID && i.timeline.ConversationID() == conversationID {
		return
	}
	i.sync.Stop()
	i.timeline.Reset(conversationID)
	i.sync.Start(i.ctx, conversationID)
	i.emit(Update{Kind: UpdateMessages, ConversationID: conversationID})
}

func (i *Inbox) deactivate() {
	i.sync.Stop()
	i.timeline.Reset("")
	i.emit(Update{Kind: UpdateMessages})
}

func (i *Inbox) dropVanishedActive() {
	current := i.timeline.ConversationID()
	if current == "" {
		return
	}
	if _, ok := i.selector.Get(current); ok {
		return
	}
	i.selector.Clear()
	i.deactivate()
	i.emit(Update{Kind: UpdateConversationGone, ConversationID: current})
}

// onSync runs on the polling goroutine and must not stop the synchronizer
func (i *Inbox) onSync(u SyncUpdate) {
	switch {
	case u.Gone:
		if active, ok := i.selector.Active(); ok && active.ID == u.ConversationID {
			i.selector.Clear()
		}
		if i.timeline.ConversationID() == u.ConversationID {
			i.timeline.Reset("")
		}
		i.emit(Update{Kind: UpdateConversationGone, ConversationID: u.ConversationID, Err: u.Err})
		go func() {
			if err := i.Load(i.ctx); err != nil && i.ctx.Err() == nil {
				log.Printf("Failed to reload conversations: %v", err)
			}
		}()
	case u.Degraded:
		i.emit(Update{Kind: UpdateSyncDegraded, ConversationID: u.ConversationID, Err: u.Err})
	case u.Result.Changed():
		i.emit(Update{Kind: UpdateMessages, ConversationID: u.ConversationID})
	}
}

func (i *Inbox) checkOpen() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}
	return nil
}

func (i *Inbox) emit(u Update) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	select {
	case i.updates <- u:
	default:
	}
}
