package model

import (
	"strings"
	"time"
)

type Conversation struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Name        string     `json:"name"`
	IsGroup     bool       `json:"is_group"`
	CrossTenant bool       `json:"cross_tenant"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"`
}

// DirectKey derives the order-independent uniqueness key for a non-group
// conversation between two users. The unique index on conversations.direct_key
// makes concurrent duplicate creates resolve to a single row.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// IsDirectKey reports whether key has the sorted-pair shape.
func IsDirectKey(key string) bool {
	i := strings.IndexByte(key, ':')
	return i > 0 && i < len(key)-1 && key[:i] <= key[i+1:]
}

// ConversationView is a conversation annotated for the inbox list:
// last message, unread count for the viewer and participant presence.
type ConversationView struct {
	Conversation Conversation  `json:"conversation"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	Participants []UserSummary `json:"participants"`
	UnreadCount  int           `json:"unread_count"`
}
