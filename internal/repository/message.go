package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

const msgCols = `m.id, m.conversation_id, m.sender_id, m.body, m.file_url, m.kind,
	        m.parent_id, m.thread_id, m.edited, m.edited_at, m.created_at, m.deleted_at,
	        u.id, u.username, u.avatar_url, u.status, u.last_seen_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }) (*model.Message, error) {
	m := &model.Message{}
	sender := &model.UserSummary{}
	err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.FileURL, &m.Kind,
		&m.ParentID, &m.ThreadID, &m.Edited, &m.EditedAt, &m.CreatedAt, &m.DeletedAt,
		&sender.ID, &sender.Username, &sender.AvatarURL, &sender.Status, &sender.LastSeenAt)
	if err != nil {
		return nil, err
	}
	m.Sender = sender
	return m, nil
}

// Create вставляет сообщение и квитанцию прочтения отправителя в одной
// транзакции: отправитель неявно прочитал своё сообщение, и разрыва между
// этими двумя фактами быть не должно.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, body, file_url, kind, parent_id, thread_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.FileURL, m.Kind, m.ParentID, m.ThreadID, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("msgRepo.Create insert: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		m.ID, m.SenderID, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("msgRepo.Create sender receipt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

// GetByID возвращает сообщение с краткой карточкой отправителя.
// Мягко удалённые сообщения не возвращаются.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1 AND m.deleted_at IS NULL`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListRoot возвращает сообщения основной ленты (без ответов в тредах),
// старые сверху — порядок отображения. Ничья по времени разрешается по id.
func (r *MessageRepository) ListRoot(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListRoot", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = $1 AND m.thread_id IS NULL AND m.deleted_at IS NULL
		 ORDER BY m.created_at, m.id
		 LIMIT $2 OFFSET $3`, conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListRoot query: %w", err)
	}
	return collectMessages(rows, limit, "msgRepo.ListRoot")
}

// ListThread возвращает корень треда и все сообщения с thread_id = threadID,
// старые сверху.
func (r *MessageRepository) ListThread(ctx context.Context, conversationID, threadID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListThread", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = $1 AND (m.id = $2 OR m.thread_id = $2) AND m.deleted_at IS NULL
		 ORDER BY m.created_at, m.id
		 LIMIT $3 OFFSET $4`, conversationID, threadID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListThread query: %w", err)
	}
	return collectMessages(rows, limit, "msgRepo.ListThread")
}

func collectMessages(rows pgx.Rows, capHint int, op string) ([]model.Message, error) {
	defer rows.Close()
	messages := make([]model.Message, 0, capHint)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return messages, nil
}

// GetLastMessage возвращает последнее живое сообщение разговора (nil, если пусто).
func (r *MessageRepository) GetLastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetLastMessage", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = $1 AND m.deleted_at IS NULL
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT 1`, conversationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetLastMessage: %w", err)
	}
	return m, nil
}

// UpdateBody редактирует текст сообщения и выставляет edited/edited_at.
func (r *MessageRepository) UpdateBody(ctx context.Context, id, body string, editedAt time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateBody", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET body = $1, edited = TRUE, edited_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		body, editedAt, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateBody: %w", err)
	}
	return nil
}

// SoftDelete помечает сообщение удалённым и очищает текст. Строка остаётся:
// на неё ссылаются треды, реакции и квитанции.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted_at = $1, body = '' WHERE id = $2 AND deleted_at IS NULL`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return nil
}
