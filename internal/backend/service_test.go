package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

var (
	buyerIdentity = Identity{UserID: "buyer-1", Role: messaging.RoleBuyer, Name: "Ada"}
	pipeInquiry   = &messaging.CreateConversationRequest{
		Subject:        "Inquiry: Steel pipes",
		CounterpartyID: "supplier-1",
		ProductID:      "prod-9",
		ProductName:    "Steel pipes",
	}
)

func TestCreateConversationWaitsForConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	locker := NewMemoryLocker()
	service := NewService(repo, locker, nil)

	key := contextKey("buyer-1", "supplier-1", "prod-9")
	release, ok, err := locker.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		req := *pipeInquiry
		_, err := service.CreateConversation(ctx, buyerIdentity, &req)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("create returned while another create held the key: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, repo.CreateConversation(ctx, &ConversationRecord{
		ID:            "c-first",
		Subject:       "Inquiry: Steel pipes",
		ContextKey:    key,
		ProductID:     ptr("prod-9"),
		LastMessageAt: time.Now(),
		CreatedAt:     time.Now(),
	}))
	release()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDuplicateConversation)
	case <-time.After(2 * time.Second):
		t.Fatal("create did not resume after the lock was released")
	}
}

func TestCreateConversationBusyWhenLockIsHeld(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	service := NewService(NewMemoryRepository(), locker, nil)
	service.lockWait = 100 * time.Millisecond

	_, ok, err := locker.TryLock(ctx, contextKey("buyer-1", "supplier-1", "prod-9"))
	require.NoError(t, err)
	require.True(t, ok)

	req := *pipeInquiry
	_, err = service.CreateConversation(ctx, buyerIdentity, &req)
	assert.ErrorIs(t, err, ErrCreationBusy)
}

func TestConcurrentCreatesYieldOneConversation(t *testing.T) {
	ctx := context.Background()
	service := NewService(NewMemoryRepository(), NewMemoryLocker(), nil)

	const callers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  []string
		failures []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := *pipeInquiry
			conv, err := service.CreateConversation(ctx, buyerIdentity, &req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			created = append(created, conv.ID)
		}()
	}
	wg.Wait()

	require.Len(t, created, 1)
	require.Len(t, failures, callers-1)
	for _, err := range failures {
		assert.True(t, errors.Is(err, ErrDuplicateConversation), "unexpected error: %v", err)
	}

	list, err := service.ListConversations(ctx, buyerIdentity)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created[0], list[0].ID)
}
