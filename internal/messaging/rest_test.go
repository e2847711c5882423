package messaging_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/tradelink-inbox/internal/backend"
	"github.com/imadgeboyega/tradelink-inbox/internal/common/utils"
	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

const secret = "rest-test-secret"

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	service := backend.NewService(backend.NewMemoryRepository(), backend.NewMemoryLocker(),
		backend.NewLocalUploadService(t.TempDir(), "http://files.test/uploads"))
	router := backend.NewRouter(backend.NewHandler(service, 1<<20), backend.NewAuthMiddleware(secret, service), backend.RouterConfig{})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func clientFor(t *testing.T, srv *httptest.Server, userID string, role messaging.Role, name string) *messaging.Client {
	t.Helper()
	claims := utils.NewAccessClaims(userID, string(role), time.Hour)
	claims.Name = name
	token, err := utils.GenerateJWT(claims, secret)
	require.NoError(t, err)
	return messaging.NewClient(srv.URL+"/api/v1", token, messaging.WithRateLimit(0, 0))
}

func TestClientRoundTrip(t *testing.T) {
	srv := newAPI(t)
	ctx := context.Background()
	buyer := clientFor(t, srv, "buyer-1", messaging.RoleBuyer, "Bo")
	supplier := clientFor(t, srv, "sup-1", messaging.RoleSupplier, "Ada")

	// Register the supplier with the API
	_, err := supplier.ListConversations(ctx)
	require.NoError(t, err)

	conv, err := buyer.CreateConversation(ctx, &messaging.CreateConversationRequest{
		Subject:        "Inquiry: Copper wire",
		CounterpartyID: "sup-1",
		ProductID:      "p-1",
		ProductName:    "Copper wire",
	})
	require.NoError(t, err)
	assert.Equal(t, "sup-1", conv.Counterparty.ID)
	assert.Equal(t, "p-1", conv.ProductID())

	sent, err := buyer.SendMessage(ctx, conv.ID, &messaging.SendMessageRequest{
		Content:     "What is your MOQ?",
		MessageType: messaging.MessageTypeText,
		ClientID:    "tmp-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "tmp-abc", sent.ClientID)

	msgs, err := supplier.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)

	_, err = supplier.EditMessage(ctx, sent.ID, "hijacked")
	assert.ErrorIs(t, err, messaging.ErrNotAuthor)

	edited, err := buyer.EditMessage(ctx, sent.ID, "What is your MOQ for 2mm?")
	require.NoError(t, err)
	assert.True(t, edited.Edited)

	require.NoError(t, buyer.DeleteMessage(ctx, sent.ID))
	msgs, err = buyer.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted())
}

func TestClientErrorMapping(t *testing.T) {
	srv := newAPI(t)
	ctx := context.Background()
	buyer := clientFor(t, srv, "buyer-1", messaging.RoleBuyer, "Bo")
	outsider := clientFor(t, srv, "buyer-2", messaging.RoleBuyer, "Cy")

	conv, err := buyer.CreateConversation(ctx, &messaging.CreateConversationRequest{
		Subject:        "Conversation with Ada",
		CounterpartyID: "sup-1",
	})
	require.NoError(t, err)

	_, err = outsider.ListMessages(ctx, conv.ID)
	assert.ErrorIs(t, err, messaging.ErrConversationNotFound)

	_, err = buyer.EditMessage(ctx, "no-such-message", "x")
	assert.ErrorIs(t, err, messaging.ErrMessageNotFound)

	_, err = buyer.CreateConversation(ctx, &messaging.CreateConversationRequest{CounterpartyID: "buyer-1", Subject: "me"})
	assert.ErrorIs(t, err, messaging.ErrValidation)

	var apiErr *messaging.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClientConflictStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.ErrorResponse(w, "conversation already exists", http.StatusConflict)
	}))
	defer srv.Close()

	client := messaging.NewClient(srv.URL, "", messaging.WithRateLimit(0, 0))
	_, err := client.CreateConversation(context.Background(), &messaging.CreateConversationRequest{Subject: "s", CounterpartyID: "x"})
	assert.ErrorIs(t, err, messaging.ErrCreationConflict)
}

func TestClientUpload(t *testing.T) {
	srv := newAPI(t)
	buyer := clientFor(t, srv, "buyer-1", messaging.RoleBuyer, "Bo")

	att := messaging.NewDataAttachment("notes.txt", "text/plain", []byte("lead time 3 weeks"))
	remote, err := buyer.Upload(context.Background(), att)
	require.NoError(t, err)

	assert.NotEmpty(t, remote.URL)
	assert.False(t, remote.IsLocal())
	assert.Equal(t, messaging.KindDocument, remote.Kind)
}

func TestClientUnauthorized(t *testing.T) {
	srv := newAPI(t)
	client := messaging.NewClient(srv.URL+"/api/v1", "garbage", messaging.WithRateLimit(0, 0))

	_, err := client.ListConversations(context.Background())
	var apiErr *messaging.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestInboxAgainstAPI(t *testing.T) {
	srv := newAPI(t)
	ctx := context.Background()
	buyer := clientFor(t, srv, "buyer-1", messaging.RoleBuyer, "Bo")
	supplier := clientFor(t, srv, "sup-1", messaging.RoleSupplier, "Ada")

	_, err := supplier.ListConversations(ctx)
	require.NoError(t, err)

	inbox := messaging.NewInbox(buyer, messaging.Options{
		SelfID:       "buyer-1",
		SelfRole:     messaging.RoleBuyer,
		PollInterval: time.Hour,
		Uploader:     buyer,
	})
	defer inbox.Close()

	require.NoError(t, inbox.Load(ctx))
	conv, err := inbox.CreateOrSelectProductConversation(ctx,
		messaging.Counterparty{ID: "sup-1", Name: "Ada"},
		messaging.ProductContext{ID: "p-9", Name: "Steel plate"})
	require.NoError(t, err)

	_, err = inbox.SendMessage(ctx, "Need 20 tonnes", nil)
	require.NoError(t, err)

	reply, err := supplier.SendMessage(ctx, conv.ID, &messaging.SendMessageRequest{
		Content:     "We can do 18",
		MessageType: messaging.MessageTypeText,
	})
	require.NoError(t, err)

	require.NoError(t, inbox.Refresh(ctx))
	feed := inbox.Feed()
	require.Len(t, feed, 2)
	assert.Equal(t, "Need 20 tonnes", feed[0].Content)
	assert.Equal(t, reply.ID, feed[1].ID)

	// A second device resolving the same inquiry lands in the same conversation
	other := messaging.NewInbox(buyer, messaging.Options{SelfID: "buyer-1", PollInterval: time.Hour})
	defer other.Close()
	again, err := other.CreateOrSelectProductConversation(ctx,
		messaging.Counterparty{ID: "sup-1", Name: "Ada"},
		messaging.ProductContext{ID: "p-9", Name: "Steel plate"})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
}
