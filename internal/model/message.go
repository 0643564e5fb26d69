package model

import "time"

type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)

type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Body           string       `json:"body"`
	FileURL        string       `json:"file_url,omitempty"`
	Kind           MessageKind  `json:"kind"`
	ParentID       *string      `json:"parent_id,omitempty"`
	ThreadID       *string      `json:"thread_id,omitempty"`
	Edited         bool         `json:"edited"`
	EditedAt       *time.Time   `json:"edited_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	DeletedAt      *time.Time   `json:"-"`
	Sender         *UserSummary `json:"sender,omitempty"`
	Reactions      []Reaction   `json:"reactions,omitempty"`
}

type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type TypingIndicator struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	UpdatedAt      time.Time `json:"updated_at"`
}
