package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConversations() []*Conversation {
	now := time.Now()
	return []*Conversation{
		{
			ID:             "c-general",
			Subject:        "Conversation with Ada",
			Counterparty:   Counterparty{ID: "sup-1", Name: "Ada", Company: "Acme Metals"},
			LastActivityAt: now.Add(-time.Hour),
		},
		{
			ID:                 "c-wire",
			Subject:            "Inquiry: Copper wire",
			Counterparty:       Counterparty{ID: "sup-1", Name: "Ada", Company: "Acme Metals"},
			Product:            &ProductContext{ID: "p-1", Name: "Copper wire"},
			LastMessagePreview: "MOQ is 500 rolls",
			LastActivityAt:     now,
		},
		{
			ID:             "c-bolts",
			Subject:        "Inquiry: Hex bolts",
			Counterparty:   Counterparty{ID: "sup-2", Name: "Grace", Company: "Bolt & Co"},
			Product:        &ProductContext{ID: "p-2", Name: "Hex bolts"},
			LastActivityAt: now.Add(-time.Minute),
		},
	}
}

func ids(list []*Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

func TestSelectorSortsByActivity(t *testing.T) {
	s := NewSelector()
	s.Replace(sampleConversations())

	assert.Equal(t, []string{"c-wire", "c-bolts", "c-general"}, ids(s.Filter(ChannelAll, "")))
}

func TestSelectorChannels(t *testing.T) {
	s := NewSelector()
	s.Replace(sampleConversations())

	assert.Equal(t, []string{"c-general"}, ids(s.General()))
	assert.Equal(t, []string{"c-wire", "c-bolts"}, ids(s.ProductScoped()))
}

func TestSelectorSearch(t *testing.T) {
	s := NewSelector()
	s.Replace(sampleConversations())

	assert.Equal(t, []string{"c-bolts"}, ids(s.Filter(ChannelAll, "bolt & CO")))
	assert.Equal(t, []string{"c-wire"}, ids(s.Filter(ChannelProduct, "moq")))
	assert.Empty(t, s.Filter(ChannelGeneral, "hex"))
}

func TestSelectorFind(t *testing.T) {
	s := NewSelector()
	s.Replace(sampleConversations())

	c, ok := s.FindByProduct("p-2")
	require.True(t, ok)
	assert.Equal(t, "c-bolts", c.ID)

	c, ok = s.FindGeneral("sup-1")
	require.True(t, ok)
	assert.Equal(t, "c-general", c.ID)

	_, ok = s.FindGeneral("sup-2")
	assert.False(t, ok)
}

func TestSelectorReplaceClearsVanishedActive(t *testing.T) {
	s := NewSelector()
	s.Replace(sampleConversations())

	_, err := s.Select("c-bolts")
	require.NoError(t, err)

	assert.True(t, s.Replace(sampleConversations()))
	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "c-bolts", active.ID)

	assert.False(t, s.Replace(sampleConversations()[:2]))
	_, ok = s.Active()
	assert.False(t, ok)
}

func TestSelectorSelectUnknown(t *testing.T) {
	s := NewSelector()
	_, err := s.Select("nope")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSelectorReturnsCopies(t *testing.T) {
	s := NewSelector()
	s.Replace(sampleConversations())

	c, _ := s.Get("c-wire")
	c.Subject = "changed"

	again, _ := s.Get("c-wire")
	assert.Equal(t, "Inquiry: Copper wire", again.Subject)
}

func TestParseChannel(t *testing.T) {
	ch, err := ParseChannel("Products")
	require.NoError(t, err)
	assert.Equal(t, ChannelProduct, ch)

	ch, err = ParseChannel("all")
	require.NoError(t, err)
	assert.Equal(t, ChannelAll, ch)

	_, err = ParseChannel("archived")
	assert.ErrorIs(t, err, ErrValidation)
}
