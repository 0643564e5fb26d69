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

// sendBudget ограничивает send по времени: зависший Postgres должен дать
// клиенту таймаут, а не вечное ожидание.
const sendBudget = 5 * time.Second

const maxBodyLen = 4000

type MessageService struct {
	messages      MessageStore
	conversations ConversationStore
	receipts      ReceiptStore
	reactions     ReactionStore
	users         UserStore
	broadcaster   Broadcaster
	push          PushNotifier
	audit         AuditSink
	presence      *PresenceService
}

func NewMessageService(messages MessageStore, conversations ConversationStore, receipts ReceiptStore, reactions ReactionStore, users UserStore, broadcaster Broadcaster, push PushNotifier, audit AuditSink, presence *PresenceService) *MessageService {
	return &MessageService{
		messages:      messages,
		conversations: conversations,
		receipts:      receipts,
		reactions:     reactions,
		users:         users,
		broadcaster:   broadcaster,
		push:          push,
		audit:         audit,
		presence:      presence,
	}
}

type SendMessageRequest struct {
	ConversationID string  `json:"conversation_id"`
	Body           string  `json:"body"`
	FileURL        string  `json:"file_url"`
	Kind           string  `json:"kind"`
	ParentID       *string `json:"parent_id"`
	ThreadID       *string `json:"thread_id"`
}

// Send проводит сообщение через пайплайн: валидация, проверка членства,
// проверка ссылок parent/thread, транзакционная запись с квитанцией
// отправителя, подъём разговора, fan-out и побочные каналы.
//
// Send не идемпотентен: повтор после таймаута может создать дубль.
// Таймаут поэтому отдаётся клиенту отдельным исходом (ErrTimeout), чтобы
// решение о повторе принимал человек, а не автоматика.
func (s *MessageService) Send(ctx context.Context, senderID string, req SendMessageRequest) (*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, sendBudget)
	defer cancel()

	kind := model.MessageKind(req.Kind)
	if kind == "" {
		kind = model.KindText
	}
	if kind != model.KindText && kind != model.KindFile {
		return nil, invalid("unknown message kind %q", req.Kind)
	}
	body := strings.TrimSpace(req.Body)
	if kind == model.KindText && body == "" {
		return nil, invalid("message body is empty")
	}
	if kind == model.KindFile && req.FileURL == "" {
		return nil, invalid("file message needs file_url")
	}
	if len(body) > maxBodyLen {
		return nil, invalid("message body exceeds %d characters", maxBodyLen)
	}

	member, err := s.conversations.IsParticipant(ctx, req.ConversationID, senderID)
	if err != nil {
		return nil, classify(fmt.Errorf("send message: %w", err))
	}
	if !member {
		return nil, ErrForbidden
	}

	threadID := req.ThreadID
	if req.ParentID != nil {
		parent, err := s.resolveRef(ctx, req.ConversationID, *req.ParentID)
		if err != nil {
			return nil, err
		}
		// Ответ на ответ прикрепляется к корню треда родителя.
		if threadID == nil {
			if parent.ThreadID != nil {
				threadID = parent.ThreadID
			} else {
				threadID = &parent.ID
			}
		}
	}
	if threadID != nil {
		if _, err := s.resolveRef(ctx, req.ConversationID, *threadID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		Body:           body,
		FileURL:        req.FileURL,
		Kind:           kind,
		ParentID:       req.ParentID,
		ThreadID:       threadID,
		CreatedAt:      now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, classify(fmt.Errorf("send message: %w", err))
	}

	// Подъём разговора в списке — best-effort: сообщение уже записано,
	// откатывать его из-за устаревшей сортировки нельзя.
	if err := s.conversations.TouchUpdatedAt(ctx, req.ConversationID, now); err != nil {
		logger.Errorf("touch conversation %s: %v", req.ConversationID, err)
	}

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		logger.Errorf("sender summary %s: %v", senderID, err)
	} else {
		summary := sender.Summary()
		msg.Sender = &summary
	}

	s.broadcaster.ToConversation(req.ConversationID, "new-message", msg)
	s.audit.Record("message.sent", senderID, map[string]any{
		"conversation_id": req.ConversationID,
		"message_id":      msg.ID,
		"kind":            string(kind),
	})

	// Отправка — сигнал активности: away поднимается до online.
	if s.presence != nil {
		s.presence.Activity(ctx, senderID)
	}
	s.notifyOffline(ctx, senderID, msg)
	return msg, nil
}

// notifyOffline шлёт Web Push участникам без живого соединения.
func (s *MessageService) notifyOffline(ctx context.Context, senderID string, msg *model.Message) {
	if s.push == nil {
		return
	}
	ids, err := s.conversations.GetParticipantIDs(ctx, msg.ConversationID)
	if err != nil {
		logger.Errorf("push recipients conversation=%s: %v", msg.ConversationID, err)
		return
	}
	offline := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != senderID && !s.broadcaster.IsOnline(id) {
			offline = append(offline, id)
		}
	}
	if len(offline) == 0 {
		return
	}
	conv, err := s.conversations.GetByID(ctx, msg.ConversationID)
	if err != nil {
		logger.Errorf("push conversation=%s: %v", msg.ConversationID, err)
		return
	}
	s.push.NotifyNewMessage(offline, conv, msg)
}

// Edit меняет текст собственного сообщения.
func (s *MessageService) Edit(ctx context.Context, requesterID, messageID, newBody string) (*model.Message, error) {
	body := strings.TrimSpace(newBody)
	if body == "" {
		return nil, invalid("message body is empty")
	}
	if len(body) > maxBodyLen {
		return nil, invalid("message body exceeds %d characters", maxBodyLen)
	}
	msg, err := s.ownMessage(ctx, requesterID, messageID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.messages.UpdateBody(ctx, messageID, body, now); err != nil {
		return nil, classify(fmt.Errorf("edit message: %w", err))
	}
	msg.Body = body
	msg.Edited = true
	msg.EditedAt = &now

	s.broadcaster.ToConversation(msg.ConversationID, "message-updated", msg)
	s.audit.Record("message.edited", requesterID, map[string]any{"message_id": messageID})
	return msg, nil
}

// Delete мягко удаляет собственное сообщение. Событие несёт только
// идентификаторы — содержимое удалённого сообщения наружу не уходит.
func (s *MessageService) Delete(ctx context.Context, requesterID, messageID string) error {
	msg, err := s.ownMessage(ctx, requesterID, messageID)
	if err != nil {
		return err
	}
	if err := s.messages.SoftDelete(ctx, messageID, time.Now().UTC()); err != nil {
		return classify(fmt.Errorf("delete message: %w", err))
	}
	s.broadcaster.ToConversation(msg.ConversationID, "message-deleted", map[string]string{
		"message_id":      messageID,
		"conversation_id": msg.ConversationID,
	})
	s.audit.Record("message.deleted", requesterID, map[string]any{"message_id": messageID})
	return nil
}

// List возвращает страницу сообщений, старые сверху. Без threadID отдаётся
// основная лента (ответы в тредах скрыты); с threadID — корень треда и все
// его ответы. Просмотр помечает чужие сообщения окна прочитанными.
func (s *MessageService) List(ctx context.Context, requesterID, conversationID string, page, pageSize int, threadID *string) ([]model.Message, error) {
	member, err := s.conversations.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return nil, classify(fmt.Errorf("list messages: %w", err))
	}
	if !member {
		return nil, ErrForbidden
	}

	limit, offset := pageWindow(page, pageSize)
	var msgs []model.Message
	if threadID != nil {
		msgs, err = s.messages.ListThread(ctx, conversationID, *threadID, limit, offset)
	} else {
		msgs, err = s.messages.ListRoot(ctx, conversationID, limit, offset)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("list messages: %w", err))
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]string, 0, len(msgs))
	foreign := make([]string, 0, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].ID)
		if msgs[i].SenderID != requesterID {
			foreign = append(foreign, msgs[i].ID)
		}
	}

	if err := s.attachReactions(ctx, msgs, ids); err != nil {
		return nil, err
	}
	s.markViewed(ctx, requesterID, foreign)
	return msgs, nil
}

func (s *MessageService) attachReactions(ctx context.Context, msgs []model.Message, ids []string) error {
	reactions, err := s.reactions.ListByMessages(ctx, ids)
	if err != nil {
		return classify(fmt.Errorf("list reactions: %w", err))
	}
	if len(reactions) == 0 {
		return nil
	}
	byMessage := make(map[string][]model.Reaction, len(ids))
	for _, r := range reactions {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
	}
	for i := range msgs {
		msgs[i].Reactions = byMessage[msgs[i].ID]
	}
	return nil
}

// markViewed вставляет квитанции за чужие непрочитанные сообщения окна.
// Уникальный ключ квитанции даёт at-most-once даже при двух одновременно
// открытых вкладках; ошибка логируется, список всё равно отдаётся.
func (s *MessageService) markViewed(ctx context.Context, requesterID string, foreign []string) {
	if len(foreign) == 0 {
		return
	}
	unread, err := s.receipts.FilterUnread(ctx, requesterID, foreign)
	if err != nil {
		logger.Errorf("filter unread user=%s: %v", requesterID, err)
		return
	}
	if len(unread) == 0 {
		return
	}
	if err := s.receipts.MarkRead(ctx, requesterID, unread, time.Now().UTC()); err != nil {
		logger.Errorf("mark read user=%s: %v", requesterID, err)
	}
}

// ownMessage возвращает живое сообщение, принадлежащее requesterID.
func (s *MessageService) ownMessage(ctx context.Context, requesterID, messageID string) (*model.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("get message: %w", err))
	}
	if msg.SenderID != requesterID {
		return nil, ErrForbidden
	}
	return msg, nil
}

// resolveRef проверяет, что ссылка parent/thread указывает на живое сообщение
// того же разговора.
func (s *MessageService) resolveRef(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	ref, err := s.messages.GetByID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("resolve message ref: %w", err))
	}
	if ref.ConversationID != conversationID {
		return nil, ErrNotFound
	}
	return ref, nil
}
