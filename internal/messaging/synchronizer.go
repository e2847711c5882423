// internal/messaging/synchronizer.go

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// DefaultPollInterval is the fixed message polling period
	DefaultPollInterval = 5 * time.Second

	// DefaultFailureThreshold is the number of consecutive failed polls after
	// which the synchronizer reports itself degraded
	DefaultFailureThreshold = 3
)

// SyncUpdate describes the outcome of one poll tick
type SyncUpdate struct {
	ConversationID string
	Result         MergeResult
	Err            error
	Failures       int
	Degraded       bool
	Gone           bool
}

// Synchronizer polls the active conversation's messages and merges them into the timeline
type Synchronizer struct {
	store     MessageStore
	timeline  *Timeline
	interval  time.Duration
	threshold int
	notify    func(SyncUpdate)

	mu             sync.Mutex
	conversationID string
	generation     uint64
	failures       int
	cancel         context.CancelFunc
	done           chan struct{}
}

// NewSynchronizer creates an idle synchronizer. notify may be nil.
func NewSynchronizer(store MessageStore, timeline *Timeline, interval time.Duration, threshold int, notify func(SyncUpdate)) *Synchronizer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if notify == nil {
		notify = func(SyncUpdate) {}
	}
	return &Synchronizer{
		store:     store,
		timeline:  timeline,
		interval:  interval,
		threshold: threshold,
		notify:    notify,
	}
}

// Start binds the synchronizer to conversationID and begins polling, replacing
// any previous polling task. The first tick runs immediately.
func (s *Synchronizer) Start(parent context.Context, conversationID string) {
	s.Stop()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	s.mu.Lock()
	s.generation++
	s.conversationID = conversationID
	s.failures = 0
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(ctx, done)
}

// Stop cancels polling and waits for the polling task to exit.
// Results of requests still in flight are discarded.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.generation++
	s.conversationID = ""
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// ConversationID returns the conversation being polled, "" when idle
func (s *Synchronizer) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Failures returns the number of consecutive failed ticks
func (s *Synchronizer) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *Synchronizer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick performs one poll. It is a no-op when no conversation is active and
// discards the response if the synchronizer was stopped or re-targeted while
// the request was in flight.
func (s *Synchronizer) Tick(ctx context.Context) error {
	s.mu.Lock()
	conversationID, generation := s.conversationID, s.generation
	s.mu.Unlock()

	if conversationID == "" {
		return nil
	}

	messages, err := s.store.ListMessages(ctx, conversationID)

	s.mu.Lock()
	if generation != s.generation || ctx.Err() != nil {
		s.mu.Unlock()
		syncTicks.WithLabelValues("stale").Inc()
		return nil
	}

	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			// Suspend without waiting on the loop: this may run on the loop itself.
			s.generation++
			s.conversationID = ""
			if s.cancel != nil {
				s.cancel()
			}
			s.mu.Unlock()

			syncTicks.WithLabelValues("gone").Inc()
			log.Printf("Conversation %s is no longer available, sync suspended", conversationID)
			s.notify(SyncUpdate{ConversationID: conversationID, Err: err, Gone: true})
			return err
		}

		s.failures++
		failures := s.failures
		s.mu.Unlock()

		syncTicks.WithLabelValues("error").Inc()
		wrapped := fmt.Errorf("%w: %v", ErrTransientSync, err)
		update := SyncUpdate{
			ConversationID: conversationID,
			Err:            wrapped,
			Failures:       failures,
			Degraded:       failures >= s.threshold,
		}
		if failures == s.threshold {
			log.Printf("Message sync for %s failed %d times in a row: %v", conversationID, failures, err)
		}
		s.notify(update)
		return wrapped
	}

	s.failures = 0
	result := s.timeline.Merge(conversationID, messages)
	s.mu.Unlock()

	syncTicks.WithLabelValues("ok").Inc()
	if result.Changed() {
		s.notify(SyncUpdate{ConversationID: conversationID, Result: result})
	}
	return nil
}
