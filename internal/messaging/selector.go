// internal/messaging/selector.go

package messaging

import (
	"sort"
	"strings"
	"sync"
)

// Channel splits conversations into general contact and product inquiries
type Channel string

const (
	ChannelAll     Channel = ""
	ChannelGeneral Channel = "general"
	ChannelProduct Channel = "product"
)

// ParseChannel accepts "", "all", "general" and "product"
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ChannelAll, nil
	case "general":
		return ChannelGeneral, nil
	case "product", "products":
		return ChannelProduct, nil
	}
	return ChannelAll, invalid("channel", "must be one of all, general, product")
}

// Selector holds the loaded conversation list and the active conversation
type Selector struct {
	mu            sync.RWMutex
	conversations []*Conversation
	byID          map[string]*Conversation
	activeID      string
}

func NewSelector() *Selector {
	return &Selector{byID: make(map[string]*Conversation)}
}

// Replace swaps in a freshly fetched list. The active selection is kept when
// the conversation is still present. It returns false when the active
// conversation disappeared and was cleared.
func (s *Selector) Replace(list []*Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = s.conversations[:0]
	s.byID = make(map[string]*Conversation, len(list))
	for _, c := range list {
		if c == nil || c.ID == "" {
			continue
		}
		if _, dup := s.byID[c.ID]; dup {
			continue
		}
		cp := *c
		s.byID[c.ID] = &cp
		s.conversations = append(s.conversations, &cp)
	}
	s.sortLocked()

	if s.activeID != "" {
		if _, ok := s.byID[s.activeID]; !ok {
			s.activeID = ""
			return false
		}
	}
	return true
}

// Upsert adds or updates one conversation
func (s *Selector) Upsert(c *Conversation) {
	if c == nil || c.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	if existing, ok := s.byID[c.ID]; ok {
		*existing = cp
	} else {
		s.byID[c.ID] = &cp
		s.conversations = append(s.conversations, &cp)
	}
	s.sortLocked()
}

// FindByProduct returns the product-scoped conversation for productID
func (s *Selector) FindByProduct(productID string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conversations {
		if c.Product != nil && c.Product.ID == productID {
			cp := *c
			return &cp, true
		}
	}
	return nil, false
}

// FindGeneral returns the general conversation with counterpartyID
func (s *Selector) FindGeneral(counterpartyID string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conversations {
		if c.Product == nil && c.Counterparty.ID == counterpartyID {
			cp := *c
			return &cp, true
		}
	}
	return nil, false
}

// Get returns a conversation by id
func (s *Selector) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// Select makes id the active conversation
func (s *Selector) Select(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	s.activeID = id
	cp := *c
	return &cp, nil
}

// Clear deselects the active conversation
func (s *Selector) Clear() {
	s.mu.Lock()
	s.activeID = ""
	s.mu.Unlock()
}

// Active returns the active conversation, if any
func (s *Selector) Active() (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return nil, false
	}
	c, ok := s.byID[s.activeID]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// General returns the general channel conversations
func (s *Selector) General() []*Conversation {
	return s.Filter(ChannelGeneral, "")
}

// ProductScoped returns the product inquiry conversations
func (s *Selector) ProductScoped() []*Conversation {
	return s.Filter(ChannelProduct, "")
}

// Filter returns conversations in channel whose searchable fields contain query
func (s *Selector) Filter(channel Channel, query string) []*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		switch channel {
		case ChannelGeneral:
			if c.Product != nil {
				continue
			}
		case ChannelProduct:
			if c.Product == nil {
				continue
			}
		}
		if q != "" && !matches(c, q) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func matches(c *Conversation, q string) bool {
	fields := []string{c.Counterparty.Name, c.Counterparty.Company, c.Subject, c.LastMessagePreview}
	if c.Product != nil {
		fields = append(fields, c.Product.Name)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func (s *Selector) sortLocked() {
	sort.SliceStable(s.conversations, func(i, j int) bool {
		return s.conversations[i].LastActivityAt.After(s.conversations[j].LastActivityAt)
	})
}
