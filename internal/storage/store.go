package storage

import (
	"context"
	"time"
)

// EphemeralStore — короткоживущее состояние: счётчики rate limit и
// флаги дебаунса presence-переходов.
// Реализации: redis.Client, memory.Client (для -dev и тестов без Redis).
type EphemeralStore interface {
	// IncrWindow увеличивает счётчик key; окно ttl ставится при первом инкременте.
	// Возвращает текущее значение счётчика в окне.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// SetNX ставит key на ttl, если его ещё нет. true — ключ поставлен
	// (действие разрешено), false — ключ уже существовал (подавить).
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}
