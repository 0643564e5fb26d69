package model

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// ValidStatus reports whether s is one of the four presence states.
func ValidStatus(s PresenceStatus) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

type User struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Username   string         `json:"username"`
	Email      string         `json:"email"`
	AvatarURL  string         `json:"avatar_url"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt time.Time      `json:"last_seen_at"`
	CreatedAt  time.Time      `json:"created_at"`
	DisabledAt *time.Time     `json:"-"` // не null = пользователь отключён, не может войти
}

// UserSummary is the lightweight user representation embedded in messages
// and fan-out payloads. Never carries email.
type UserSummary struct {
	ID         string         `json:"id"`
	Username   string         `json:"username"`
	AvatarURL  string         `json:"avatar_url"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt time.Time      `json:"last_seen_at"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:         u.ID,
		Username:   u.Username,
		AvatarURL:  u.AvatarURL,
		Status:     u.Status,
		LastSeenAt: u.LastSeenAt,
	}
}
