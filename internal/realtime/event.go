package realtime

type EventType string

const (
	EventConversationCreated EventType = "conversation-created"
	EventNewMessage          EventType = "new-message"
	EventMessageUpdated      EventType = "message-updated"
	EventMessageDeleted      EventType = "message-deleted"
	EventReactionAdded       EventType = "reaction-added"
	EventReactionRemoved     EventType = "reaction-removed"
	EventTyping              EventType = "typing-indicator"
	EventUserStatus          EventType = "user-status-changed"
	EventPresence            EventType = "presence"
	EventError               EventType = "error"
)

// Incoming is what the client sends over the socket. Только лёгкие сигналы:
// печать и presence; всё остальное идёт через REST.
type Incoming struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	IsTyping       bool      `json:"is_typing,omitempty"`
	Status         string    `json:"status,omitempty"`
}

// Outgoing is what the server pushes to subscribed clients.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type Outgoing struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Комнаты fan-out: по разговору и по тенанту.
func ConversationRoom(conversationID string) string { return "conversation:" + conversationID }
func TenantRoom(tenantID string) string             { return "tenant:" + tenantID }
