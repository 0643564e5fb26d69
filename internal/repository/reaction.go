package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Add вставляет реакцию, если её ещё нет. Возвращает true при фактической
// вставке: ноль затронутых строк значит, что тройка (message, user, emoji)
// уже существовала, и вызывающий снимает её вместо добавления.
func (r *ReactionRepository) Add(ctx context.Context, messageID, userID, emoji string, at time.Time) (bool, error) {
	defer logger.DeferLogDuration("reaction.Add", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		messageID, userID, emoji, at,
	)
	if err != nil {
		return false, fmt.Errorf("reactionRepo.Add: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ReactionRepository) Remove(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Remove: %w", err)
	}
	return nil
}

// ListByMessages возвращает реакции для пачки сообщений (обогащение ленты).
func (r *ReactionRepository) ListByMessages(ctx context.Context, messageIDs []string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListByMessages", time.Now())()
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT mr.message_id, mr.user_id, mr.emoji, u.username, mr.created_at
		 FROM message_reactions mr
		 JOIN users u ON u.id = mr.user_id
		 WHERE mr.message_id = ANY($1)
		 ORDER BY mr.created_at`, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByMessages query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 16)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.Emoji, &rc.Username, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.ListByMessages scan: %w", err)
		}
		reactions = append(reactions, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.ListByMessages rows: %w", err)
	}
	return reactions, nil
}
