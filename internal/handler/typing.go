package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/service"
)

type TypingHandler struct {
	typing *service.TypingService
}

func NewTypingHandler(typing *service.TypingService) *TypingHandler {
	return &TypingHandler{typing: typing}
}

type setTypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (h *TypingHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req setTypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	userID := middleware.GetUserID(r.Context())
	conversationID := chi.URLParam(r, "id")
	if err := h.typing.Set(r.Context(), userID, conversationID, req.IsTyping); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
