// internal/backend/handlers.go

package backend

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/imadgeboyega/tradelink-inbox/internal/common/utils"
	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

type Handler struct {
	service       *Service
	maxUploadSize int64
}

func NewHandler(service *Service, maxUploadSize int64) *Handler {
	return &Handler{
		service:       service,
		maxUploadSize: maxUploadSize,
	}
}

// ListConversations returns the caller's conversations
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversations, err := h.service.ListConversations(r.Context(), caller)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, conversations, http.StatusOK)
}

// CreateConversation opens a general or product conversation
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req messaging.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}

	conversation, err := h.service.CreateConversation(r.Context(), caller, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, conversation, http.StatusCreated)
}

// ListMessages returns all messages of a conversation, oldest first
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	messages, err := h.service.ListMessages(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, messages, http.StatusOK)
}

// SendMessage posts a message to a conversation
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req messaging.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}

	message, created, err := h.service.SendMessage(r.Context(), caller, mux.Vars(r)["id"], &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	utils.SuccessResponse(w, message, status)
}

// EditMessage replaces the content of the caller's message
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req messaging.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}

	message, err := h.service.EditMessage(r.Context(), caller, mux.Vars(r)["id"], &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, message, http.StatusOK)
}

// DeleteMessage tombstones the caller's message
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.service.DeleteMessage(r.Context(), caller, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	utils.MessageResponse(w, "Message deleted", http.StatusOK)
}

// Upload stores the multipart "file" field and returns the attachment
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// leave room for the multipart envelope
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || r.ContentLength > h.maxUploadSize+1<<20 {
			utils.ErrorResponse(w, "File exceeds "+humanize.IBytes(uint64(h.maxUploadSize)), http.StatusRequestEntityTooLarge)
			return
		}
		utils.ErrorResponse(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.ErrorResponse(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadSize {
		utils.ErrorResponse(w, "File exceeds "+humanize.IBytes(uint64(h.maxUploadSize)), http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		utils.ErrorResponse(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	attachment, err := h.service.Upload(r.Context(), caller, header.Filename, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.SuccessResponse(w, attachment, http.StatusCreated)
}

// HealthCheck reports liveness
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		utils.ErrorResponse(w, validation.Message, http.StatusBadRequest)
	case errors.Is(err, ErrSelfConversation), errors.Is(err, ErrMessageDeleted):
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotAuthor):
		utils.ErrorResponse(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound):
		utils.ErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrDuplicateConversation):
		utils.ErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrCreationBusy):
		utils.ErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
	default:
		log.Printf("Request failed: %v", err)
		utils.ErrorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}
