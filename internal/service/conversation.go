package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/repository"
)

type ConversationService struct {
	conversations ConversationStore
	users         UserStore
	messages      MessageStore
	receipts      ReceiptStore
	broadcaster   Broadcaster
	audit         AuditSink
}

func NewConversationService(conversations ConversationStore, users UserStore, messages MessageStore, receipts ReceiptStore, broadcaster Broadcaster, audit AuditSink) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		users:         users,
		messages:      messages,
		receipts:      receipts,
		broadcaster:   broadcaster,
		audit:         audit,
	}
}

type CreateConversationRequest struct {
	Name           string   `json:"name"`
	IsGroup        bool     `json:"is_group"`
	ParticipantIDs []string `json:"participant_ids"`
	CrossTenant    bool     `json:"cross_tenant"`
}

// Create создаёт разговор. Для личных диалогов create идемпотентен: повторный
// вызов (с любой стороны пары) возвращает существующий разговор. Гонка двух
// одновременных create разрешается уникальным индексом по direct_key —
// проигравший перечитывает победителя.
func (s *ConversationService) Create(ctx context.Context, requesterID, tenantID string, req CreateConversationRequest) (*model.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	participantIDs := dedupeWith(requesterID, req.ParticipantIDs)
	if len(participantIDs) < 2 {
		return nil, invalid("conversation needs at least one other participant")
	}
	if !req.IsGroup && len(participantIDs) != 2 {
		return nil, invalid("direct conversation must have exactly two participants")
	}
	if req.IsGroup && strings.TrimSpace(req.Name) == "" {
		return nil, invalid("group conversation needs a name")
	}

	users, err := s.users.GetByIDs(ctx, participantIDs)
	if err != nil {
		return nil, classify(fmt.Errorf("create conversation: %w", err))
	}
	if missing := missingIDs(participantIDs, users); len(missing) > 0 {
		return nil, invalid("unknown participants: %s", strings.Join(missing, ", "))
	}
	if !req.CrossTenant {
		for _, u := range users {
			if u.TenantID != tenantID {
				return nil, invalid("participant %s belongs to another tenant", u.ID)
			}
		}
	}

	if !req.IsGroup {
		key := model.DirectKey(participantIDs[0], participantIDs[1])
		existing, err := s.conversations.FindDirect(ctx, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, classify(fmt.Errorf("create conversation: %w", err))
		}
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        req.Name,
		IsGroup:     req.IsGroup,
		CrossTenant: req.CrossTenant,
		CreatedBy:   requesterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.conversations.Create(ctx, conv, participantIDs); err != nil {
		if errors.Is(err, repository.ErrConflict) && !req.IsGroup {
			// Проиграли гонку второй стороне пары: возвращаем победителя.
			key := model.DirectKey(participantIDs[0], participantIDs[1])
			winner, ferr := s.conversations.FindDirect(ctx, key)
			if ferr != nil {
				return nil, classify(fmt.Errorf("create conversation refetch: %w", ferr))
			}
			return winner, nil
		}
		return nil, classify(fmt.Errorf("create conversation: %w", err))
	}

	// Все участники (не только инициатор) должны увидеть новый разговор:
	// сперва подписываем их соединения на комнату, затем публикуем.
	s.broadcaster.JoinConversation(conv.ID, participantIDs)
	s.broadcaster.ToConversation(conv.ID, "conversation-created", conv)
	s.audit.Record("conversation.created", requesterID, map[string]any{
		"conversation_id": conv.ID,
		"is_group":        conv.IsGroup,
		"participants":    len(participantIDs),
	})
	return conv, nil
}

// Get возвращает разговор с обогащением для одного открытия.
func (s *ConversationService) Get(ctx context.Context, requesterID, conversationID string) (*model.ConversationView, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("get conversation: %w", err))
	}
	member, err := s.conversations.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return nil, classify(fmt.Errorf("get conversation: %w", err))
	}
	if !member {
		return nil, ErrForbidden
	}

	return s.enrich(ctx, requesterID, *conv)
}

// List возвращает страницу разговоров пользователя, свежие сверху, каждый
// с последним сообщением, числом непрочитанных и присутствием участников.
// Попутно инкрементирует счётчик обращений по каждому разговору страницы
// (best-effort телеметрия, без влияния на ответ).
func (s *ConversationService) List(ctx context.Context, requesterID string, page, pageSize int) ([]model.ConversationView, error) {
	limit, offset := pageWindow(page, pageSize)
	convs, err := s.conversations.ListForUser(ctx, requesterID, limit, offset)
	if err != nil {
		return nil, classify(fmt.Errorf("list conversations: %w", err))
	}

	now := time.Now().UTC()
	views := make([]model.ConversationView, 0, len(convs))
	for _, c := range convs {
		view, err := s.enrich(ctx, requesterID, c)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
		if err := s.conversations.RecordAccess(ctx, requesterID, c.ID, now); err != nil {
			logger.Errorf("record access conversation=%s: %v", c.ID, err)
		}
	}
	return views, nil
}

func (s *ConversationService) enrich(ctx context.Context, viewerID string, c model.Conversation) (*model.ConversationView, error) {
	last, err := s.messages.GetLastMessage(ctx, c.ID)
	if err != nil {
		return nil, classify(fmt.Errorf("enrich conversation %s: %w", c.ID, err))
	}
	unread, err := s.receipts.UnreadCount(ctx, viewerID, c.ID)
	if err != nil {
		return nil, classify(fmt.Errorf("enrich conversation %s: %w", c.ID, err))
	}
	users, err := s.conversations.GetParticipants(ctx, c.ID)
	if err != nil {
		return nil, classify(fmt.Errorf("enrich conversation %s: %w", c.ID, err))
	}
	summaries := make([]model.UserSummary, 0, len(users))
	for i := range users {
		summaries = append(summaries, users[i].Summary())
	}
	return &model.ConversationView{
		Conversation: c,
		LastMessage:  last,
		Participants: summaries,
		UnreadCount:  unread,
	}, nil
}

// dedupeWith возвращает participantIDs с гарантированным requesterID и без
// дублей, сохраняя порядок появления.
func dedupeWith(requesterID string, participantIDs []string) []string {
	seen := map[string]bool{requesterID: true}
	out := make([]string, 0, len(participantIDs)+1)
	out = append(out, requesterID)
	for _, id := range participantIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func missingIDs(wanted []string, found []model.User) []string {
	have := make(map[string]bool, len(found))
	for _, u := range found {
		have[u.ID] = true
	}
	var missing []string
	for _, id := range wanted {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pageWindow(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}
