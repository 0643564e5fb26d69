package model

import "time"

// PushSubscription — браузерная Web Push подписка пользователя.
// Пара (user_id, endpoint) уникальна: повторная подписка той же вкладки
// перезаписывает ключи.
type PushSubscription struct {
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}
