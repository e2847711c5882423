// internal/messaging/timeline.go

package messaging

import (
	"sync"
	"time"
)

// DefaultReconcileWindow bounds the content+timestamp match between a pending
// message and a server message that does not echo the client id
const DefaultReconcileWindow = 2 * time.Minute

// MergeResult summarizes one merge of server state into the timeline
type MergeResult struct {
	Added      int
	Updated    int
	Removed    int
	Reconciled int
	Stale      bool
}

// Changed reports whether the merge altered the displayed list
func (r MergeResult) Changed() bool {
	return r.Added+r.Updated+r.Removed+r.Reconciled > 0
}

type localEdit struct {
	content string
	at      time.Time
}

// Timeline is the message list of the active conversation: a synced prefix in
// server order followed by a suffix of pending and failed local messages.
// The prefix is written by Merge, the suffix by the composer methods.
type Timeline struct {
	selfID string
	window time.Duration

	mu             sync.RWMutex
	conversationID string
	synced         []Entry
	index          map[string]int
	pending        []Entry
	edits          map[string]localEdit
	deletes        map[string]time.Time
	// confirmed holds ids appended by Confirm that no poll has returned yet
	confirmed      map[string]time.Time
}

// NewTimeline creates an empty timeline for the user selfID
func NewTimeline(selfID string, window time.Duration) *Timeline {
	if window <= 0 {
		window = DefaultReconcileWindow
	}
	return &Timeline{
		selfID:  selfID,
		window:  window,
		index:   make(map[string]int),
		edits:     make(map[string]localEdit),
		deletes:   make(map[string]time.Time),
		confirmed: make(map[string]time.Time),
	}
}

// Reset empties the timeline and binds it to conversationID ("" for none)
func (t *Timeline) Reset(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conversationID = conversationID
	t.synced = nil
	t.pending = nil
	t.index = make(map[string]int)
	t.edits = make(map[string]localEdit)
	t.deletes = make(map[string]time.Time)
	t.confirmed = make(map[string]time.Time)
}

// ConversationID returns the conversation the timeline is bound to
func (t *Timeline) ConversationID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conversationID
}

// Merge folds one server response into the timeline. Known messages are
// updated in place, new ones are appended in server order, and messages the
// server no longer returns are dropped. A message confirmed by a send is
// kept until a poll returns it or the reconcile window passes, since a poll
// issued before the send committed may still land. Nothing already displayed moves.
func (t *Timeline) Merge(conversationID string, server []*Message) MergeResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conversationID != t.conversationID {
		return MergeResult{Stale: true}
	}

	var result MergeResult

	seen := make(map[string]*Message, len(server))
	ordered := make([]*Message, 0, len(server))
	for _, m := range server {
		if m == nil || m.ID == "" {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = m
		ordered = append(ordered, m)
	}

	result.Reconciled = t.reconcilePending(ordered)

	next := make([]Entry, 0, len(ordered)+len(t.synced))
	for _, e := range t.synced {
		m, ok := seen[e.ID]
		if !ok {
			if t.awaitingPoll(e.ID) {
				next = append(next, e)
				continue
			}
			result.Removed++
			continue
		}
		delete(t.confirmed, e.ID)
		updated := t.entryFrom(m)
		if !sameMessage(e.Message, updated.Message) {
			result.Updated++
		}
		next = append(next, updated)
	}
	for _, m := range ordered {
		if _, known := t.index[m.ID]; known {
			continue
		}
		next = append(next, t.entryFrom(m))
		result.Added++
	}

	t.synced = next
	t.reindex()
	t.forgetMissing(seen)

	return result
}

// reconcilePending drops pending/failed entries the server has acknowledged.
// A server message matches a local entry when it echoes the entry's client id.
// Without an echo, a pending entry matches the first newly seen message from
// the current user with identical content and attachment count whose creation
// time is within the reconcile window of the entry's queue time. Each server
// message matches at most one entry.
func (t *Timeline) reconcilePending(server []*Message) int {
	if len(t.pending) == 0 {
		return 0
	}

	byClientID := make(map[string]*Message)
	for _, m := range server {
		if m.ClientID != "" {
			byClientID[m.ClientID] = m
		}
	}

	claimed := make(map[string]bool)
	kept := t.pending[:0:0]
	reconciled := 0

	for _, e := range t.pending {
		clientID := entryClientID(e)
		if m, ok := byClientID[clientID]; ok && !claimed[m.ID] {
			claimed[m.ID] = true
			reconciled++
			continue
		}

		p, isPending := e.State.(Pending)
		if isPending {
			if m := t.heuristicMatch(e, p, server, claimed); m != nil {
				claimed[m.ID] = true
				reconciled++
				continue
			}
		}
		kept = append(kept, e)
	}

	t.pending = kept
	return reconciled
}

func (t *Timeline) heuristicMatch(e Entry, p Pending, server []*Message, claimed map[string]bool) *Message {
	for _, m := range server {
		if claimed[m.ID] || m.ClientID != "" {
			continue
		}
		if _, known := t.index[m.ID]; known {
			continue
		}
		if m.SenderID != t.selfID || m.Content != e.Content || len(m.Attachments) != len(e.Attachments) {
			continue
		}
		delta := m.CreatedAt.Sub(p.QueuedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= t.window {
			return m
		}
	}
	return nil
}

// AddPending appends a locally composed message to the pending suffix
func (t *Timeline) AddPending(e Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.ConversationID != t.conversationID {
		return false
	}
	t.pending = append(t.pending, e)
	return true
}

// Confirm replaces the pending entry for clientID with the server message.
// If a sync already brought the message in, the pending entry is simply dropped.
func (t *Timeline) Confirm(clientID string, m *Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m == nil || m.ConversationID != t.conversationID {
		return false
	}

	if i := t.pendingIndex(clientID); i >= 0 {
		t.pending = append(t.pending[:i], t.pending[i+1:]...)
	}

	if pos, ok := t.index[m.ID]; ok {
		t.synced[pos] = t.entryFrom(m)
		return true
	}
	t.synced = append(t.synced, t.entryFrom(m))
	t.index[m.ID] = len(t.synced) - 1
	t.confirmed[m.ID] = time.Now()
	return true
}

// awaitingPoll reports whether id was confirmed locally within the reconcile
// window and has not been returned by a poll since
func (t *Timeline) awaitingPoll(id string) bool {
	at, ok := t.confirmed[id]
	if !ok {
		return false
	}
	if time.Since(at) > t.window {
		delete(t.confirmed, id)
		return false
	}
	return true
}

// MarkFailed flags the pending entry for clientID as failed, in place
func (t *Timeline) MarkFailed(clientID string, err error, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.pendingIndex(clientID)
	if i < 0 {
		return false
	}
	t.pending[i].State = Failed{ClientID: clientID, Err: err, FailedAt: at}
	return true
}

// Requeue turns a failed entry back into a pending one for a retry
func (t *Timeline) Requeue(clientID string, at time.Time) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.pendingIndex(clientID)
	if i < 0 || !t.pending[i].IsFailed() {
		return Entry{}, false
	}
	t.pending[i].State = Pending{ClientID: clientID, QueuedAt: at}
	return copyEntry(t.pending[i]), true
}

// Discard removes a failed entry
func (t *Timeline) Discard(clientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.pendingIndex(clientID)
	if i < 0 || !t.pending[i].IsFailed() {
		return false
	}
	t.pending = append(t.pending[:i], t.pending[i+1:]...)
	return true
}

// Get looks an entry up by server id or client id
func (t *Timeline) Get(id string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if pos, ok := t.index[id]; ok {
		return copyEntry(t.synced[pos]), true
	}
	if i := t.pendingIndex(id); i >= 0 {
		return copyEntry(t.pending[i]), true
	}
	return Entry{}, false
}

// ApplyEdit sets new content on a synced message ahead of the server.
// The local content wins over sync results until FinishEdit is called.
func (t *Timeline) ApplyEdit(id, content string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.index[id]
	if !ok {
		return false
	}
	t.edits[id] = localEdit{content: content, at: at}
	t.synced[pos] = t.withLocalState(t.synced[pos])
	return true
}

// FinishEdit ends the optimistic edit for id. A non-nil server message is applied in place.
func (t *Timeline) FinishEdit(id string, server *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.edits, id)
	if server == nil {
		return
	}
	if pos, ok := t.index[server.ID]; ok && server.ConversationID == t.conversationID {
		t.synced[pos] = t.entryFrom(server)
	}
}

// ApplyDelete tombstones a synced message ahead of the server
func (t *Timeline) ApplyDelete(id string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.index[id]
	if !ok {
		return false
	}
	t.deletes[id] = at
	t.synced[pos] = t.withLocalState(t.synced[pos])
	return true
}

// FinishDelete ends the optimistic delete for id. With rollback the previous
// message is restored.
func (t *Timeline) FinishDelete(id string, rollback *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.deletes, id)
	if rollback == nil {
		return
	}
	if pos, ok := t.index[id]; ok {
		t.synced[pos] = t.entryFrom(rollback)
	}
}

// Entries returns the displayed list: synced prefix then pending suffix
func (t *Timeline) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.synced)+len(t.pending))
	for _, e := range t.synced {
		out = append(out, copyEntry(e))
	}
	for _, e := range t.pending {
		out = append(out, copyEntry(e))
	}
	return out
}

// Feed returns the displayed list with reply context resolved. A reply whose
// target is not in the list renders as a plain message.
func (t *Timeline) Feed() []FeedItem {
	entries := t.Entries()

	byID := make(map[string]int, len(entries))
	for i, e := range entries {
		byID[e.ID] = i
	}

	items := make([]FeedItem, len(entries))
	for i, e := range entries {
		items[i] = FeedItem{Entry: e}
		if e.ReplyTo == nil {
			continue
		}
		if j, ok := byID[*e.ReplyTo]; ok && j != i {
			target := entries[j]
			items[i].ReplyTarget = &target
		}
	}
	return items
}

func (t *Timeline) entryFrom(m *Message) Entry {
	status := m.Status
	if status == "" {
		status = StatusSent
	}
	e := Entry{Message: *m, State: Sent{Delivery: status}}
	e.Attachments = append([]Attachment(nil), m.Attachments...)
	return t.withLocalState(e)
}

func (t *Timeline) withLocalState(e Entry) Entry {
	if edit, ok := t.edits[e.ID]; ok {
		e.Content = edit.content
		e.Edited = true
		at := edit.at
		e.EditedAt = &at
	}
	if at, ok := t.deletes[e.ID]; ok && e.DeletedAt == nil {
		deletedAt := at
		e.DeletedAt = &deletedAt
	}
	return e
}

func (t *Timeline) pendingIndex(clientID string) int {
	if clientID == "" {
		return -1
	}
	for i, e := range t.pending {
		if entryClientID(e) == clientID {
			return i
		}
	}
	return -1
}

func (t *Timeline) reindex() {
	t.index = make(map[string]int, len(t.synced))
	for i, e := range t.synced {
		t.index[e.ID] = i
	}
}

// forgetMissing drops optimistic marks for messages the server no longer returns
func (t *Timeline) forgetMissing(seen map[string]*Message) {
	for id := range t.edits {
		if _, ok := seen[id]; !ok && !t.isConfirmed(id) {
			delete(t.edits, id)
		}
	}
	for id := range t.deletes {
		if _, ok := seen[id]; !ok && !t.isConfirmed(id) {
			delete(t.deletes, id)
		}
	}
}

func (t *Timeline) isConfirmed(id string) bool {
	_, ok := t.confirmed[id]
	return ok
}

func entryClientID(e Entry) string {
	switch s := e.State.(type) {
	case Pending:
		return s.ClientID
	case Failed:
		return s.ClientID
	}
	return e.ClientID
}

func copyEntry(e Entry) Entry {
	e.Attachments = append([]Attachment(nil), e.Attachments...)
	return e
}

func sameMessage(a, b Message) bool {
	if a.Content != b.Content || a.Status != b.Status || a.Edited != b.Edited {
		return false
	}
	if (a.DeletedAt == nil) != (b.DeletedAt == nil) {
		return false
	}
	if len(a.Attachments) != len(b.Attachments) {
		return false
	}
	for i := range a.Attachments {
		if a.Attachments[i].URL != b.Attachments[i].URL {
			return false
		}
	}
	return true
}
