package handler

import (
	"encoding/json"
	"net/http"

	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/service"
)

type PresenceHandler struct {
	presence *service.PresenceService
}

func NewPresenceHandler(presence *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

type updatePresenceRequest struct {
	Status string `json:"status"`
}

func (h *PresenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updatePresenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.presence.Update(r.Context(), userID, model.PresenceStatus(req.Status)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
