package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/service"
)

type MessageHandler struct {
	messages *service.MessageService
}

func NewMessageHandler(messages *service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req service.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.ConversationID = chi.URLParam(r, "id")

	userID := middleware.GetUserID(r.Context())
	msg, err := h.messages.Send(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// List отдаёт страницу сообщений: основную ленту или тред (?thread_id=).
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	conversationID := chi.URLParam(r, "id")
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 0)

	var threadID *string
	if t := r.URL.Query().Get("thread_id"); t != "" {
		threadID = &t
	}

	msgs, err := h.messages.List(r.Context(), userID, conversationID, page, pageSize, threadID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type editMessageRequest struct {
	Body string `json:"body"`
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "id")
	msg, err := h.messages.Edit(r.Context(), userID, messageID, req.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "id")
	if err := h.messages.Delete(r.Context(), userID, messageID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
