package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamchat/internal/logger"
)

type TypingRepository struct {
	pool *pgxpool.Pool
}

func NewTypingRepository(pool *pgxpool.Pool) *TypingRepository {
	return &TypingRepository{pool: pool}
}

// Upsert записывает последнее известное состояние печати. Хранится только
// текущий флаг на пару (разговор, пользователь); срок жизни индикатора —
// забота клиентов, сервер его не гасит.
func (r *TypingRepository) Upsert(ctx context.Context, conversationID, userID string, isTyping bool, at time.Time) error {
	defer logger.DeferLogDuration("typing.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO typing_indicators (conversation_id, user_id, is_typing, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (conversation_id, user_id)
		 DO UPDATE SET is_typing = $3, updated_at = $4`,
		conversationID, userID, isTyping, at,
	)
	if err != nil {
		return fmt.Errorf("typingRepo.Upsert: %w", err)
	}
	return nil
}
