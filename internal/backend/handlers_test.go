package backend

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/tradelink-inbox/internal/common/utils"
	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

const testSecret = "test-secret"

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := NewMemoryRepository()
	uploads := NewLocalUploadService(t.TempDir(), "http://files.test/uploads")
	service := NewService(repo, NewMemoryLocker(), uploads)
	router := NewRouter(NewHandler(service, 1<<20), NewAuthMiddleware(testSecret, service), RouterConfig{})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func tokenFor(t *testing.T, userID string, role messaging.Role, name string) string {
	t.Helper()
	claims := utils.NewAccessClaims(userID, string(role), time.Hour)
	claims.Name = name
	token, err := utils.GenerateJWT(claims, testSecret)
	require.NoError(t, err)
	return token
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body interface{}) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func createConversation(t *testing.T, srv *httptest.Server, token string, req messaging.CreateConversationRequest) messaging.Conversation {
	t.Helper()
	status, resp := call(t, srv, http.MethodPost, "/api/v1/conversations", token, req)
	require.Equal(t, http.StatusCreated, status, resp.Error)
	var conv messaging.Conversation
	require.NoError(t, json.Unmarshal(resp.Data, &conv))
	return conv
}

func TestAuthenticationRequired(t *testing.T) {
	srv := newTestServer(t)

	status, resp := call(t, srv, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, resp.Success)

	status, _ = call(t, srv, http.MethodGet, "/api/v1/conversations", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCreateConversationConflict(t *testing.T) {
	srv := newTestServer(t)
	buyer := tokenFor(t, "buyer-1", messaging.RoleBuyer, "Ada")
	supplier := tokenFor(t, "supplier-1", messaging.RoleSupplier, "Acme Sales")

	// register the supplier in the directory
	call(t, srv, http.MethodGet, "/api/v1/conversations", supplier, nil)

	req := messaging.CreateConversationRequest{
		Subject:        "Inquiry: Steel pipes",
		CounterpartyID: "supplier-1",
		ProductID:      "prod-9",
		ProductName:    "Steel pipes",
	}
	conv := createConversation(t, srv, buyer, req)
	assert.Equal(t, "supplier-1", conv.Counterparty.ID)
	assert.Equal(t, "Acme Sales", conv.Counterparty.Name)
	require.NotNil(t, conv.Product)
	assert.Equal(t, "prod-9", conv.Product.ID)

	status, resp := call(t, srv, http.MethodPost, "/api/v1/conversations", buyer, req)
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, resp.Error)

	// the counterparty sees the same conversation from their side
	status, resp = call(t, srv, http.MethodGet, "/api/v1/conversations", supplier, nil)
	require.Equal(t, http.StatusOK, status)
	var list []messaging.Conversation
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)
	assert.Equal(t, "buyer-1", list[0].Counterparty.ID)

	// a general conversation between the same pair is distinct
	general := createConversation(t, srv, buyer, messaging.CreateConversationRequest{
		Subject:        "Conversation with Acme Sales",
		CounterpartyID: "supplier-1",
	})
	assert.NotEqual(t, conv.ID, general.ID)
	assert.Nil(t, general.Product)
}

func TestCreateConversationValidation(t *testing.T) {
	srv := newTestServer(t)
	buyer := tokenFor(t, "buyer-1", messaging.RoleBuyer, "Ada")

	status, _ := call(t, srv, http.MethodPost, "/api/v1/conversations", buyer, messaging.CreateConversationRequest{
		Subject: "No counterparty",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = call(t, srv, http.MethodPost, "/api/v1/conversations", buyer, messaging.CreateConversationRequest{
		Subject:        "Self",
		CounterpartyID: "buyer-1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMessageLifecycle(t *testing.T) {
	srv := newTestServer(t)
	buyer := tokenFor(t, "buyer-1", messaging.RoleBuyer, "Ada")
	supplier := tokenFor(t, "supplier-1", messaging.RoleSupplier, "Acme Sales")

	conv := createConversation(t, srv, buyer, messaging.CreateConversationRequest{
		Subject:        "Conversation with supplier",
		CounterpartyID: "supplier-1",
	})
	path := "/api/v1/conversations/" + conv.ID + "/messages"

	send := messaging.SendMessageRequest{Content: "Do you ship to Lagos?", MessageType: messaging.MessageTypeText, ClientID: "tmp-1"}
	status, resp := call(t, srv, http.MethodPost, path, buyer, send)
	require.Equal(t, http.StatusCreated, status, resp.Error)
	var first messaging.Message
	require.NoError(t, json.Unmarshal(resp.Data, &first))
	assert.Equal(t, "tmp-1", first.ClientID)
	assert.Equal(t, messaging.StatusSent, first.Status)

	// resending the same client id is idempotent
	status, resp = call(t, srv, http.MethodPost, path, buyer, send)
	require.Equal(t, http.StatusOK, status)
	var again messaging.Message
	require.NoError(t, json.Unmarshal(resp.Data, &again))
	assert.Equal(t, first.ID, again.ID)

	reply := first.ID
	status, resp = call(t, srv, http.MethodPost, path, supplier, messaging.SendMessageRequest{
		Content: "Yes, weekly", MessageType: messaging.MessageTypeText, ReplyTo: &reply,
	})
	require.Equal(t, http.StatusCreated, status, resp.Error)
	var second messaging.Message
	require.NoError(t, json.Unmarshal(resp.Data, &second))

	// supplier may not edit or delete the buyer's message
	status, _ = call(t, srv, http.MethodPut, "/api/v1/messages/"+first.ID, supplier, messaging.EditMessageRequest{Content: "hijack"})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = call(t, srv, http.MethodDelete, "/api/v1/messages/"+first.ID, supplier, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = call(t, srv, http.MethodPut, "/api/v1/messages/"+first.ID, buyer, messaging.EditMessageRequest{Content: "Do you ship to Abuja?"})
	require.Equal(t, http.StatusOK, status, resp.Error)
	var edited messaging.Message
	require.NoError(t, json.Unmarshal(resp.Data, &edited))
	assert.True(t, edited.Edited)
	assert.Equal(t, "Do you ship to Abuja?", edited.Content)

	status, _ = call(t, srv, http.MethodDelete, "/api/v1/messages/"+second.ID, supplier, nil)
	assert.Equal(t, http.StatusOK, status)

	status, resp = call(t, srv, http.MethodGet, path, buyer, nil)
	require.Equal(t, http.StatusOK, status)
	var messages []messaging.Message
	require.NoError(t, json.Unmarshal(resp.Data, &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, first.ID, messages[0].ID)
	assert.True(t, messages[1].IsDeleted())
	assert.Empty(t, messages[1].Content)
	assert.Equal(t, messaging.StatusRead, messages[1].Status)

	// editing a tombstone is rejected
	status, _ = call(t, srv, http.MethodPut, "/api/v1/messages/"+second.ID, supplier, messaging.EditMessageRequest{Content: "back"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMessagesHiddenFromOutsiders(t *testing.T) {
	srv := newTestServer(t)
	buyer := tokenFor(t, "buyer-1", messaging.RoleBuyer, "Ada")
	outsider := tokenFor(t, "buyer-2", messaging.RoleBuyer, "Eve")

	conv := createConversation(t, srv, buyer, messaging.CreateConversationRequest{
		Subject:        "Private",
		CounterpartyID: "supplier-1",
	})

	status, _ := call(t, srv, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", outsider, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = call(t, srv, http.MethodGet, "/api/v1/conversations/missing/messages", buyer, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSendRejectsForeignReply(t *testing.T) {
	srv := newTestServer(t)
	buyer := tokenFor(t, "buyer-1", messaging.RoleBuyer, "Ada")

	a := createConversation(t, srv, buyer, messaging.CreateConversationRequest{Subject: "A", CounterpartyID: "supplier-1"})
	b := createConversation(t, srv, buyer, messaging.CreateConversationRequest{Subject: "B", CounterpartyID: "supplier-2"})

	status, resp := call(t, srv, http.MethodPost, "/api/v1/conversations/"+a.ID+"/messages", buyer,
		messaging.SendMessageRequest{Content: "hello", MessageType: messaging.MessageTypeText})
	require.Equal(t, http.StatusCreated, status)
	var msg messaging.Message
	require.NoError(t, json.Unmarshal(resp.Data, &msg))

	status, _ = call(t, srv, http.MethodPost, "/api/v1/conversations/"+b.ID+"/messages", buyer,
		messaging.SendMessageRequest{Content: "reply", MessageType: messaging.MessageTypeText, ReplyTo: &msg.ID})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUpload(t *testing.T) {
	srv := newTestServer(t)
	buyer := tokenFor(t, "buyer-1", messaging.RoleBuyer, "Ada")

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "datasheet.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4\n%fake pdf body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/uploads", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+buyer)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	var att messaging.Attachment
	require.NoError(t, json.Unmarshal(out.Data, &att))
	assert.Equal(t, messaging.KindDocument, att.Kind)
	assert.Equal(t, "datasheet.pdf", att.Name)
	assert.Contains(t, att.URL, "http://files.test/uploads/attachments/")
}

func TestUploadTooLarge(t *testing.T) {
	srv := newTestServer(t)
	buyer := tokenFor(t, "buyer-1", messaging.RoleBuyer, "Ada")

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "big.bin")
	require.NoError(t, err)
	_, err = part.Write(make([]byte, 3<<19))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/uploads", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+buyer)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
