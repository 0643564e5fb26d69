package service

import (
	"context"
	"fmt"
	"time"

	"github.com/teamchat/internal/model"
)

type TypingService struct {
	typing        TypingStore
	conversations ConversationStore
	users         UserStore
	broadcaster   Broadcaster
}

func NewTypingService(typing TypingStore, conversations ConversationStore, users UserStore, broadcaster Broadcaster) *TypingService {
	return &TypingService{
		typing:        typing,
		conversations: conversations,
		users:         users,
		broadcaster:   broadcaster,
	}
}

// Set записывает флаг печати и рассылает его разговору. Сервер не гасит
// индикатор по таймеру: клиент обязан прислать isTyping=false сам.
func (s *TypingService) Set(ctx context.Context, userID, conversationID string, isTyping bool) error {
	member, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return classify(fmt.Errorf("set typing: %w", err))
	}
	if !member {
		return ErrForbidden
	}

	now := time.Now().UTC()
	if err := s.typing.Upsert(ctx, conversationID, userID, isTyping, now); err != nil {
		return classify(fmt.Errorf("set typing: %w", err))
	}

	payload := struct {
		model.TypingIndicator
		Username string `json:"username,omitempty"`
	}{
		TypingIndicator: model.TypingIndicator{
			ConversationID: conversationID,
			UserID:         userID,
			IsTyping:       isTyping,
			UpdatedAt:      now,
		},
	}
	if u, err := s.users.GetByID(ctx, userID); err == nil {
		payload.Username = u.Username
	}
	s.broadcaster.ToConversation(conversationID, "typing-indicator", payload)
	return nil
}
