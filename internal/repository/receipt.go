package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamchat/internal/logger"
)

type ReceiptRepository struct {
	pool *pgxpool.Pool
}

func NewReceiptRepository(pool *pgxpool.Pool) *ReceiptRepository {
	return &ReceiptRepository{pool: pool}
}

// MarkRead массово вставляет квитанции, пропуская уже существующие пары.
// Первичный ключ (message_id, user_id) даёт at-most-once при конкурентных
// вызовах (две вкладки, открывшие один разговор).
func (r *ReceiptRepository) MarkRead(ctx context.Context, userID string, messageIDs []string, at time.Time) error {
	defer logger.DeferLogDuration("receipt.MarkRead", time.Now())()
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at)
		 SELECT unnest($1::uuid[]), $2, $3
		 ON CONFLICT DO NOTHING`,
		messageIDs, userID, at,
	)
	if err != nil {
		return fmt.Errorf("receiptRepo.MarkRead: %w", err)
	}
	return nil
}

// UnreadCount считает чужие живые сообщения разговора без квитанции пользователя.
func (r *ReceiptRepository) UnreadCount(ctx context.Context, userID, conversationID string) (int, error) {
	defer logger.DeferLogDuration("receipt.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 WHERE m.conversation_id = $1
		   AND m.sender_id != $2
		   AND m.deleted_at IS NULL
		   AND NOT EXISTS (
		       SELECT 1 FROM message_reads mr
		       WHERE mr.message_id = m.id AND mr.user_id = $2)`,
		conversationID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("receiptRepo.UnreadCount: %w", err)
	}
	return count, nil
}

// FilterUnread возвращает подмножество messageIDs без квитанции пользователя.
// Используется списком сообщений, чтобы вставлять квитанции только за чужие
// непрочитанные сообщения из отданного окна.
func (r *ReceiptRepository) FilterUnread(ctx context.Context, userID string, messageIDs []string) ([]string, error) {
	defer logger.DeferLogDuration("receipt.FilterUnread", time.Now())()
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM unnest($1::uuid[]) AS id
		 WHERE NOT EXISTS (
		     SELECT 1 FROM message_reads mr
		     WHERE mr.message_id = id AND mr.user_id = $2)`,
		messageIDs, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("receiptRepo.FilterUnread query: %w", err)
	}
	defer rows.Close()

	unread := make([]string, 0, len(messageIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("receiptRepo.FilterUnread scan: %w", err)
		}
		unread = append(unread, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receiptRepo.FilterUnread rows: %w", err)
	}
	return unread, nil
}
