package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/repository"
)

type ReactionService struct {
	reactions     ReactionStore
	messages      MessageStore
	conversations ConversationStore
	users         UserStore
	broadcaster   Broadcaster
}

func NewReactionService(reactions ReactionStore, messages MessageStore, conversations ConversationStore, users UserStore, broadcaster Broadcaster) *ReactionService {
	return &ReactionService{
		reactions:     reactions,
		messages:      messages,
		conversations: conversations,
		users:         users,
		broadcaster:   broadcaster,
	}
}

// ToggleResult сообщает клиенту исход переключения.
type ToggleResult struct {
	Added bool   `json:"added"`
	Emoji string `json:"emoji"`
}

const maxEmojiLen = 16

// Toggle добавляет реакцию, если её нет, и снимает, если есть. Исход решает
// условная вставка по уникальной тройке (message, user, emoji): она же
// защищает от двойного добавления при конкурентных нажатиях.
func (s *ReactionService) Toggle(ctx context.Context, userID, messageID, emoji string) (*ToggleResult, error) {
	if emoji == "" || !utf8.ValidString(emoji) || len(emoji) > maxEmojiLen {
		return nil, invalid("bad emoji")
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("toggle reaction: %w", err))
	}
	member, err := s.conversations.IsParticipant(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, classify(fmt.Errorf("toggle reaction: %w", err))
	}
	if !member {
		return nil, ErrForbidden
	}

	now := time.Now().UTC()
	added, err := s.reactions.Add(ctx, messageID, userID, emoji, now)
	if err != nil {
		return nil, classify(fmt.Errorf("toggle reaction: %w", err))
	}
	if !added {
		if err := s.reactions.Remove(ctx, messageID, userID, emoji); err != nil {
			return nil, classify(fmt.Errorf("toggle reaction: %w", err))
		}
		s.broadcaster.ToConversation(msg.ConversationID, "reaction-removed", model.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		})
		return &ToggleResult{Added: false, Emoji: emoji}, nil
	}

	reaction := model.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: now,
	}
	if u, err := s.users.GetByID(ctx, userID); err == nil {
		reaction.Username = u.Username
	}
	s.broadcaster.ToConversation(msg.ConversationID, "reaction-added", reaction)
	return &ToggleResult{Added: true, Emoji: emoji}, nil
}
