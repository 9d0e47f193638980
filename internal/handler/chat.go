package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/jamflow/internal/apperror"
	"github.com/sakif/jamflow/internal/auth"
	"github.com/sakif/jamflow/internal/model"
	"github.com/sakif/jamflow/internal/service"
)

// ChatHandler exposes chats over HTTP. Ownership and validation live in
// service.ChatService; this layer only parses requests and writes responses.
type ChatHandler struct {
	chats  *service.ChatService
	logger *slog.Logger
}

func NewChatHandler(chats *service.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, logger: logger}
}

// chatSummary is a chat without its messages, for list responses.
type chatSummary struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Visibility model.Visibility `json:"visibility"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

type createChatRequest struct {
	Mode service.CreateMode `json:"mode"`
}

type editPromptRequest struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type appendTurnRequest struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// HandleCreate creates a chat, or returns the most recent one.
//
// HTTP: POST /chat
// REQUEST BODY (optional): {"mode": "new" | "recent"}
func (h *ChatHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	if m := r.URL.Query().Get("mode"); m != "" && req.Mode == "" {
		req.Mode = service.CreateMode(m)
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	chat, created, err := h.chats.CreateChat(r.Context(), userID, req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, chat)
}

// HandleList returns the caller's chats without messages.
//
// HTTP: GET /chats?limit=20&offset=0
func (h *ChatHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	chats, err := h.chats.ListChats(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]chatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatSummary{
			ID:         c.ID,
			Title:      c.Title,
			Visibility: c.Visibility,
			CreatedAt:  c.CreatedAt,
			UpdatedAt:  c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": out})
}

// HandleGet returns a chat with its messages and snippets.
//
// HTTP: GET /chat/{id}
// Public chats need no token; private chats only load for their owner.
func (h *ChatHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	chat, err := h.chats.GetChat(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// HandleEdit replaces the text of a prompt.
//
// HTTP: PUT /chat/{id}
// REQUEST BODY: {"messageId": "...", "content": "new prompt"}
func (h *ChatHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	var req editPromptRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	chat, err := h.chats.EditPrompt(r.Context(), chi.URLParam(r, "id"), req.MessageID, req.Content, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// HandleDelete removes a chat with all its messages.
//
// HTTP: DELETE /chat/{id} → 204 No Content
func (h *ChatHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := h.chats.DeleteChat(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAppend stores a finished exchange.
//
// HTTP: POST /chat/{id}
// REQUEST BODY: {"prompt": "make a beat", "response": "Here you go: ```...```"}
func (h *ChatHandler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendTurnRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	chat, err := h.chats.AppendTurn(r.Context(), chi.URLParam(r, "id"), req.Prompt, req.Response, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// HandleShare makes a chat public.
//
// HTTP: POST /share/{id}
func (h *ChatHandler) HandleShare(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	chat, err := h.chats.ShareChat(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visibilityResponse(chat))
}

// HandleUnshare makes a chat private.
//
// HTTP: POST /unshare/{id}
func (h *ChatHandler) HandleUnshare(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	chat, err := h.chats.UnshareChat(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visibilityResponse(chat))
}

func visibilityResponse(c *model.Chat) map[string]string {
	return map[string]string{"id": c.ID, "visibility": string(c.Visibility)}
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
