package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

type PushRepository struct {
	pool *pgxpool.Pool
}

func NewPushRepository(pool *pgxpool.Pool) *PushRepository {
	return &PushRepository{pool: pool}
}

// Save сохраняет подписку; повторная подписка того же endpoint обновляет ключи.
func (r *PushRepository) Save(ctx context.Context, sub *model.PushSubscription) error {
	defer logger.DeferLogDuration("push.Save", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, endpoint)
		 DO UPDATE SET p256dh = $3, auth = $4`,
		sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pushRepo.Save: %w", err)
	}
	return nil
}

func (r *PushRepository) Delete(ctx context.Context, userID, endpoint string) error {
	defer logger.DeferLogDuration("push.Delete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`,
		userID, endpoint,
	)
	if err != nil {
		return fmt.Errorf("pushRepo.Delete: %w", err)
	}
	return nil
}

// GetByUserIDs возвращает подписки пачки пользователей (офлайн-адресаты сообщения).
func (r *PushRepository) GetByUserIDs(ctx context.Context, userIDs []string) ([]model.PushSubscription, error) {
	defer logger.DeferLogDuration("push.GetByUserIDs", time.Now())()
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, endpoint, p256dh, auth, created_at
		 FROM push_subscriptions WHERE user_id = ANY($1)`, userIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("pushRepo.GetByUserIDs query: %w", err)
	}
	defer rows.Close()

	subs := make([]model.PushSubscription, 0, len(userIDs))
	for rows.Next() {
		var s model.PushSubscription
		if err := rows.Scan(&s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("pushRepo.GetByUserIDs scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pushRepo.GetByUserIDs rows: %w", err)
	}
	return subs, nil
}
