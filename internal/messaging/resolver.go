// internal/messaging/resolver.go

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CreationState tracks conversation creation for one context key
type CreationState int

const (
	CreationNone CreationState = iota
	CreationInFlight
	CreationAttempted
)

func (s CreationState) String() string {
	switch s {
	case CreationInFlight:
		return "in-flight"
	case CreationAttempted:
		return "attempted"
	default:
		return "none"
	}
}

// creationAttempt is one create request; waiters block on done
type creationAttempt struct {
	done         chan struct{}
	conversation *Conversation
	err          error
}

type creation struct {
	state        CreationState
	attempt      *creationAttempt
	conversation *Conversation
}

// CreationKey returns the creation key for a context: the product id for
// product inquiries, general/<counterparty id> otherwise
func CreationKey(counterpartyID string, product *ProductContext) string {
	if product != nil {
		return product.ID
	}
	return "general/" + counterpartyID
}

// Resolver maps a (counterparty, product context) pair to exactly one conversation
type Resolver struct {
	store    ConversationStore
	selector *Selector

	mu        sync.Mutex
	creations map[string]*creation
	refresh   singleflight.Group
}

func NewResolver(store ConversationStore, selector *Selector) *Resolver {
	return &Resolver{
		store:     store,
		selector:  selector,
		creations: make(map[string]*creation),
	}
}

// State returns the creation state for key
func (r *Resolver) State(key string) CreationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.creations[key]; ok {
		return c.state
	}
	return CreationNone
}

// Refresh re-fetches the conversation list into the selector. Concurrent
// refreshes share one request.
func (r *Resolver) Refresh(ctx context.Context) error {
	_, err, _ := r.refresh.Do("conversations", func() (interface{}, error) {
		list, err := r.store.ListConversations(ctx)
		if err != nil {
			return nil, err
		}
		r.selector.Replace(list)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	return nil
}

// Resolve returns the conversation for the context, creating it at most once.
// Callers that arrive while a create request is in flight wait for it and get
// the same conversation.
func (r *Resolver) Resolve(ctx context.Context, counterparty Counterparty, product *ProductContext) (*Conversation, error) {
	if strings.TrimSpace(counterparty.ID) == "" {
		return nil, invalid("counterparty", "id is required")
	}
	if product != nil && strings.TrimSpace(product.ID) == "" {
		return nil, invalid("product", "id is required")
	}

	if c, ok := r.lookup(counterparty.ID, product); ok {
		return c, nil
	}

	key := CreationKey(counterparty.ID, product)

	r.mu.Lock()
	entry, ok := r.creations[key]
	if !ok {
		entry = &creation{}
		r.creations[key] = entry
	}

	switch entry.state {
	case CreationAttempted:
		adopted := entry.conversation
		r.mu.Unlock()
		if c, ok := r.lookup(counterparty.ID, product); ok {
			return c, nil
		}
		cp := *adopted
		return &cp, nil

	case CreationInFlight:
		attempt := entry.attempt
		r.mu.Unlock()
		return r.wait(ctx, attempt)
	}

	attempt := &creationAttempt{done: make(chan struct{})}
	entry.state = CreationInFlight
	entry.attempt = attempt
	r.mu.Unlock()

	conv, err := r.create(ctx, counterparty, product)

	r.mu.Lock()
	if err != nil {
		entry.state = CreationNone
		entry.conversation = nil
	} else {
		entry.state = CreationAttempted
		entry.conversation = conv
	}
	entry.attempt = nil
	attempt.conversation, attempt.err = conv, err
	close(attempt.done)
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	cp := *conv
	return &cp, nil
}

func (r *Resolver) wait(ctx context.Context, attempt *creationAttempt) (*Conversation, error) {
	select {
	case <-attempt.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if attempt.err != nil {
		return nil, attempt.err
	}
	cp := *attempt.conversation
	return &cp, nil
}

func (r *Resolver) create(ctx context.Context, counterparty Counterparty, product *ProductContext) (*Conversation, error) {
	// Re-check the list right before creating to narrow the duplication window
	if err := r.Refresh(ctx); err != nil {
		conversationCreates.WithLabelValues("failed").Inc()
		return nil, err
	}
	if c, ok := r.lookup(counterparty.ID, product); ok {
		conversationCreates.WithLabelValues("found").Inc()
		return c, nil
	}

	req := &CreateConversationRequest{
		Subject:        subjectFor(counterparty, product),
		CounterpartyID: counterparty.ID,
	}
	if product != nil {
		req.ProductID = product.ID
		req.ProductName = product.Name
		if req.ProductName == "" {
			req.ProductName = product.ID
		}
		req.ProductThumbnail = product.ThumbnailURL
	}

	conv, err := r.store.CreateConversation(ctx, req)
	if errors.Is(err, ErrCreationConflict) {
		if rerr := r.Refresh(ctx); rerr != nil {
			conversationCreates.WithLabelValues("failed").Inc()
			return nil, rerr
		}
		if c, ok := r.lookup(counterparty.ID, product); ok {
			conversationCreates.WithLabelValues("conflict").Inc()
			log.Printf("Conversation for %s already existed, adopted %s", CreationKey(counterparty.ID, product), c.ID)
			return c, nil
		}
		conversationCreates.WithLabelValues("failed").Inc()
		return nil, err
	}
	if err != nil {
		conversationCreates.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	conversationCreates.WithLabelValues("created").Inc()
	r.selector.Upsert(conv)

	if err := r.Refresh(ctx); err != nil {
		log.Printf("Failed to refresh conversations after create: %v", err)
	}
	if _, ok := r.selector.Get(conv.ID); !ok {
		r.selector.Upsert(conv)
	}
	return conv, nil
}

func (r *Resolver) lookup(counterpartyID string, product *ProductContext) (*Conversation, bool) {
	if product != nil {
		return r.selector.FindByProduct(product.ID)
	}
	return r.selector.FindGeneral(counterpartyID)
}

func subjectFor(counterparty Counterparty, product *ProductContext) string {
	if product != nil && product.Name != "" {
		return "Inquiry: " + product.Name
	}
	if product != nil {
		return "Inquiry: " + product.ID
	}
	name := counterparty.Name
	if name == "" {
		name = counterparty.ID
	}
	if counterparty.Company != "" {
		return fmt.Sprintf("Conversation with %s (%s)", name, counterparty.Company)
	}
	return "Conversation with " + name
}
