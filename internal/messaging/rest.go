// internal/messaging/rest.go

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// APIError is a non-2xx response from the marketplace API
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// envelope mirrors the API's {success, data, error} response body
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client talks to the marketplace messaging API. It implements Store and Uploader.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit caps outgoing requests per second. rps <= 0 removes the limit.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a client for the API rooted at baseURL (e.g. http://host/api/v1)
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListConversations(ctx context.Context) ([]*Conversation, error) {
	var out []*Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out, ErrConversationNotFound); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*Conversation, error) {
	var out Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &out, ErrConversationNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	var out []*Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out, ErrConversationNotFound); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID string, req *SendMessageRequest) (*Message, error) {
	var out Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, req, &out, ErrConversationNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EditMessage(ctx context.Context, messageID string, content string) (*Message, error) {
	var out Message
	path := "/messages/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodPut, path, &EditMessageRequest{Content: content}, &out, ErrMessageNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	path := "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil, ErrMessageNotFound)
}

// Upload sends a local attachment as multipart form data and returns the stored attachment
func (c *Client) Upload(ctx context.Context, att Attachment) (Attachment, error) {
	if !att.IsLocal() {
		return att, nil
	}
	data, err := readLocal(att)
	if err != nil {
		return Attachment{}, err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, att.Name))
	header.Set("Content-Type", att.MimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Attachment{}, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return Attachment{}, fmt.Errorf("failed to build upload: %w", err)
	}

	var out Attachment
	if err := c.send(ctx, http.MethodPost, "/uploads", w.FormDataContentType(), &body, &out, ErrConversationNotFound); err != nil {
		return Attachment{}, err
	}
	if out.Kind == "" {
		out.Kind = att.Kind
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, notFound error) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, contentType, body, out, notFound)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}, notFound error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 || (len(raw) > 0 && !env.Success && env.Error != "") {
		return statusError(resp.StatusCode, env.Error, notFound)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func statusError(status int, message string, notFound error) error {
	apiErr := &APIError{StatusCode: status, Message: message}
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		apiErr.Err = ErrValidation
	case http.StatusForbidden:
		apiErr.Err = ErrNotAuthor
	case http.StatusNotFound:
		apiErr.Err = notFound
	case http.StatusConflict:
		apiErr.Err = ErrCreationConflict
	}
	return apiErr
}
