package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var acme = Counterparty{ID: "sup-1", Name: "Ada", Company: "Acme Metals"}

func TestCreationKey(t *testing.T) {
	assert.Equal(t, "general/sup-1", CreationKey("sup-1", nil))
	assert.Equal(t, "p-7", CreationKey("sup-1", &ProductContext{ID: "p-7"}))
}

func TestResolveCreatesOnceUnderConcurrentCalls(t *testing.T) {
	store := newFakeStore()
	store.createGate = make(chan struct{})
	r := NewResolver(store, NewSelector())
	product := &ProductContext{ID: "p-1", Name: "Copper wire"}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Conversation, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), acme, product)
		}(i)
	}

	require.Eventually(t, func() bool {
		create, _, _, _ := store.counts()
		return create == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, CreationInFlight, r.State("p-1"))

	close(store.createGate)
	wg.Wait()

	create, _, _, _ := store.counts()
	assert.Equal(t, 1, create)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
	}
	assert.Equal(t, CreationAttempted, r.State("p-1"))
}

func TestResolveTwiceInARow(t *testing.T) {
	store := newFakeStore()
	selector := NewSelector()
	r := NewResolver(store, selector)
	product := &ProductContext{ID: "p-1", Name: "Copper wire"}

	first, err := r.Resolve(context.Background(), acme, product)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), acme, product)
	require.NoError(t, err)

	create, _, _, _ := store.counts()
	assert.Equal(t, 1, create)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Inquiry: Copper wire", first.Subject)

	_, ok := selector.Get(first.ID)
	assert.True(t, ok)
}

func TestResolveUsesExistingConversation(t *testing.T) {
	store := newFakeStore()
	store.addConversation(&Conversation{ID: "c-existing", Counterparty: acme})
	r := NewResolver(store, NewSelector())

	conv, err := r.Resolve(context.Background(), acme, nil)
	require.NoError(t, err)
	assert.Equal(t, "c-existing", conv.ID)

	create, _, _, _ := store.counts()
	assert.Zero(t, create)
}

func TestResolveGeneralAndProductAreDistinct(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, NewSelector())

	general, err := r.Resolve(context.Background(), acme, nil)
	require.NoError(t, err)
	inquiry, err := r.Resolve(context.Background(), acme, &ProductContext{ID: "p-2"})
	require.NoError(t, err)

	assert.NotEqual(t, general.ID, inquiry.ID)
	assert.True(t, general.IsGeneral())
	assert.Equal(t, "p-2", inquiry.ProductID())
	assert.Equal(t, "Conversation with Ada (Acme Metals)", general.Subject)
	assert.Equal(t, CreationAttempted, r.State("general/sup-1"))
}

func TestResolveAdoptsConversationOnConflict(t *testing.T) {
	store := newFakeStore()
	store.conflictWith = &Conversation{ID: "c-other-device", Counterparty: acme, Product: &ProductContext{ID: "p-3"}}
	r := NewResolver(store, NewSelector())

	conv, err := r.Resolve(context.Background(), acme, &ProductContext{ID: "p-3"})
	require.NoError(t, err)
	assert.Equal(t, "c-other-device", conv.ID)

	create, _, _, _ := store.counts()
	assert.Equal(t, 1, create)
}

func TestResolveFailureAllowsRetry(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("gateway timeout")
	r := NewResolver(store, NewSelector())

	_, err := r.Resolve(context.Background(), acme, nil)
	require.Error(t, err)
	assert.Equal(t, CreationNone, r.State("general/sup-1"))

	store.set(func(f *fakeStore) { f.createErr = nil })
	conv, err := r.Resolve(context.Background(), acme, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)

	create, _, _, _ := store.counts()
	assert.Equal(t, 2, create)
}

func TestResolveValidation(t *testing.T) {
	r := NewResolver(newFakeStore(), NewSelector())

	_, err := r.Resolve(context.Background(), Counterparty{}, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.Resolve(context.Background(), acme, &ProductContext{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestResolveWaiterHonorsContext(t *testing.T) {
	store := newFakeStore()
	store.createGate = make(chan struct{})
	defer close(store.createGate)
	r := NewResolver(store, NewSelector())

	go r.Resolve(context.Background(), acme, nil)
	require.Eventually(t, func() bool {
		return r.State("general/sup-1") == CreationInFlight
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Resolve(ctx, acme, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
