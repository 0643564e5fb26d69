package service

import (
	"context"
	"time"

	"github.com/teamchat/internal/model"
)

// Интерфейсы хранилищ объявлены на стороне потребителя: сервисы видят ровно
// те операции, которые вызывают, а тесты подставляют память вместо Postgres.

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
	SearchInTenant(ctx context.Context, tenantID, query string, limit int) ([]model.User, error)
	SetStatus(ctx context.Context, userID string, status model.PresenceStatus, at time.Time) error
	PromoteAwayToOnline(ctx context.Context, userID string, at time.Time) (bool, error)
}

type ConversationStore interface {
	Create(ctx context.Context, c *model.Conversation, participantIDs []string) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	FindDirect(ctx context.Context, directKey string) (*model.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	GetParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	GetParticipants(ctx context.Context, conversationID string) ([]model.User, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error)
	TouchUpdatedAt(ctx context.Context, conversationID string, at time.Time) error
	RecordAccess(ctx context.Context, userID, conversationID string, at time.Time) error
}

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListRoot(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
	ListThread(ctx context.Context, conversationID, threadID string, limit, offset int) ([]model.Message, error)
	GetLastMessage(ctx context.Context, conversationID string) (*model.Message, error)
	UpdateBody(ctx context.Context, id, body string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

type ReceiptStore interface {
	MarkRead(ctx context.Context, userID string, messageIDs []string, at time.Time) error
	UnreadCount(ctx context.Context, userID, conversationID string) (int, error)
	FilterUnread(ctx context.Context, userID string, messageIDs []string) ([]string, error)
}

type ReactionStore interface {
	Add(ctx context.Context, messageID, userID, emoji string, at time.Time) (bool, error)
	Remove(ctx context.Context, messageID, userID, emoji string) error
	ListByMessages(ctx context.Context, messageIDs []string) ([]model.Reaction, error)
}

type TypingStore interface {
	Upsert(ctx context.Context, conversationID, userID string, isTyping bool, at time.Time) error
}

// Broadcaster рассылает события по комнатам fan-out. Реализация — realtime.Hub;
// публикация fire-and-forget, ошибок не возвращает.
type Broadcaster interface {
	ToConversation(conversationID, event string, payload any)
	ToTenant(tenantID, event string, payload any)
	JoinConversation(conversationID string, userIDs []string)
	IsOnline(userID string) bool
}

// PushNotifier доставляет Web Push офлайн-участникам. Fire-and-forget.
type PushNotifier interface {
	NotifyNewMessage(userIDs []string, conv *model.Conversation, msg *model.Message)
}

// AuditSink принимает события аудита. Fire-and-forget: недоступность аудита
// не ломает операцию.
type AuditSink interface {
	Record(event string, actorID string, fields map[string]any)
}
