// Package handlers holds the HTTP request handlers for the REST API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"loom-backend/application/ports"
	"loom-backend/domain/chat"
	"loom-backend/pkg/auth"
	"loom-backend/pkg/common"
	apperrors "loom-backend/pkg/errors"
	"loom-backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// ThreadHandler handles thread and message HTTP requests
type ThreadHandler struct {
	chats  ports.ChatRepository
	logger *zap.Logger
}

// NewThreadHandler creates a new thread handler
func NewThreadHandler(chats ports.ChatRepository, logger *zap.Logger) *ThreadHandler {
	return &ThreadHandler{chats: chats, logger: logger}
}

// CreateThreadRequest represents the request body for creating a thread
type CreateThreadRequest struct {
	Title string `json:"title,omitempty" validate:"omitempty,max=200"`
}

// UpdateThreadRequest represents the request body for renaming a thread
type UpdateThreadRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// PartRequest is one content part of an incoming message
type PartRequest struct {
	Kind     string          `json:"kind" validate:"required,oneof=text tool-call tool-result"`
	Text     string          `json:"text,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// CreateMessageRequest represents the request body for appending a message
type CreateMessageRequest struct {
	ID      string        `json:"id,omitempty" validate:"omitempty,uuid4"`
	Role    string        `json:"role" validate:"required,oneof=user assistant"`
	Content string        `json:"content,omitempty"`
	Parts   []PartRequest `json:"parts,omitempty" validate:"omitempty,dive"`
	Model   string        `json:"model,omitempty" validate:"omitempty,max=100"`
}

// CreateThread handles POST /threads
func (h *ThreadHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}

	var req CreateThreadRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		common.RespondAppError(w, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondAppError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	thread, err := h.chats.InsertThread(r.Context(), &chat.Thread{
		Title:   req.Title,
		OwnerID: userCtx.UserID,
	})
	if err != nil {
		h.logger.Error("Failed to create thread",
			zap.String("userID", userCtx.UserID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusCreated, thread)
}

// ListThreads handles GET /threads
func (h *ThreadHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			common.RespondAppError(w, apperrors.NewValidationError("limit must be a non-negative integer"))
			return
		}
	}

	threads, err := h.chats.ListThreadsByOwner(r.Context(), userCtx.UserID, limit)
	if err != nil {
		h.logger.Error("Failed to list threads",
			zap.String("userID", userCtx.UserID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}
	if threads == nil {
		threads = []*chat.Thread{}
	}

	common.RespondJSON(w, http.StatusOK, threads)
}

// UpdateThread handles PUT /threads/{threadID}
func (h *ThreadHandler) UpdateThread(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}
	threadID := chi.URLParam(r, "threadID")

	var req UpdateThreadRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		common.RespondAppError(w, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondAppError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	thread, err := h.chats.UpdateThread(r.Context(), userCtx.UserID, threadID, req.Title)
	if err != nil {
		h.logger.Error("Failed to update thread",
			zap.String("threadID", threadID),
			zap.String("userID", userCtx.UserID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, thread)
}

// DeleteThread handles DELETE /threads/{threadID}
func (h *ThreadHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}
	threadID := chi.URLParam(r, "threadID")

	if err := h.chats.DeleteThread(r.Context(), userCtx.UserID, threadID); err != nil {
		h.logger.Error("Failed to delete thread",
			zap.String("threadID", threadID),
			zap.String("userID", userCtx.UserID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]string{"id": threadID, "status": "deleted"})
}

// DeleteAllThreads handles DELETE /threads
func (h *ThreadHandler) DeleteAllThreads(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}

	if err := h.chats.DeleteAllThreads(r.Context(), userCtx.UserID); err != nil {
		h.logger.Error("Failed to delete all threads",
			zap.String("userID", userCtx.UserID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CreateMessage handles POST /threads/{threadID}/messages
func (h *ThreadHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}
	threadID := chi.URLParam(r, "threadID")

	var req CreateMessageRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		common.RespondAppError(w, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondAppError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	parts, err := partsFromRequest(req)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	message, err := h.chats.InsertMessage(r.Context(), userCtx.UserID, &chat.Message{
		ID:       req.ID,
		ThreadID: threadID,
		Role:     chat.Role(req.Role),
		Parts:    parts,
		Model:    req.Model,
	})
	if err != nil {
		h.logger.Error("Failed to append message",
			zap.String("threadID", threadID),
			zap.String("userID", userCtx.UserID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusCreated, message)
}

// ListMessages handles GET /threads/{threadID}/messages
func (h *ThreadHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}
	threadID := chi.URLParam(r, "threadID")

	messages, err := h.chats.ListMessagesByThread(r.Context(), userCtx.UserID, threadID)
	if err != nil {
		h.logger.Error("Failed to list messages",
			zap.String("threadID", threadID),
			zap.String("userID", userCtx.UserID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}
	if messages == nil {
		messages = []*chat.Message{}
	}

	common.RespondJSON(w, http.StatusOK, messages)
}

// DeleteMessage handles DELETE /threads/{threadID}/messages/{messageID}
func (h *ThreadHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}
	threadID := chi.URLParam(r, "threadID")
	messageID := chi.URLParam(r, "messageID")

	if err := h.chats.DeleteMessage(r.Context(), userCtx.UserID, threadID, messageID); err != nil {
		h.logger.Error("Failed to delete message",
			zap.String("threadID", threadID),
			zap.String("messageID", messageID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]string{"id": messageID, "status": "deleted"})
}

// DeleteMessagesAfter handles DELETE /threads/{threadID}/messages/{messageID}/following.
// Used when the client regenerates a response: everything after the kept
// message is dropped before the new completion is appended.
func (h *ThreadHandler) DeleteMessagesAfter(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}
	threadID := chi.URLParam(r, "threadID")
	messageID := chi.URLParam(r, "messageID")

	if err := h.chats.DeleteMessagesAfter(r.Context(), userCtx.UserID, threadID, messageID); err != nil {
		h.logger.Error("Failed to truncate messages",
			zap.String("threadID", threadID),
			zap.String("messageID", messageID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]string{"keptMessageId": messageID, "status": "truncated"})
}

// partsFromRequest converts the request's content into message parts. A bare
// content string becomes a single text part.
func partsFromRequest(req CreateMessageRequest) ([]chat.Part, error) {
	if len(req.Parts) == 0 {
		if req.Content == "" {
			return nil, apperrors.NewValidationError("message content or parts are required")
		}
		return []chat.Part{chat.TextPart(req.Content)}, nil
	}

	parts := make([]chat.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		switch chat.PartKind(p.Kind) {
		case chat.PartKindText:
			parts = append(parts, chat.TextPart(p.Text))
		case chat.PartKindToolCall:
			if p.ToolName == "" {
				return nil, apperrors.NewValidationError("tool-call part requires toolName")
			}
			parts = append(parts, chat.ToolCallPart(p.ToolName, p.Args))
		case chat.PartKindToolResult:
			parts = append(parts, chat.ToolResultPart(p.Result))
		default:
			return nil, apperrors.NewValidationError("unknown part kind: " + p.Kind)
		}
	}
	return parts, nil
}
