package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/service"
)

type ReactionHandler struct {
	reactions *service.ReactionService
}

func NewReactionHandler(reactions *service.ReactionService) *ReactionHandler {
	return &ReactionHandler{reactions: reactions}
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *ReactionHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "id")
	result, err := h.reactions.Toggle(r.Context(), userID, messageID, req.Emoji)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
