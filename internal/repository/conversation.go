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

const convCols = `id, tenant_id, name, is_group, cross_tenant, created_by, direct_key, created_at, updated_at, deleted_at`

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func scanConversation(s interface{ Scan(dest ...any) error }, c *model.Conversation) error {
	var directKey *string
	return s.Scan(&c.ID, &c.TenantID, &c.Name, &c.IsGroup, &c.CrossTenant, &c.CreatedBy, &directKey, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
}

// Create вставляет разговор вместе с участниками в одной транзакции.
// Для личных диалогов вставка конкурирует на уникальном direct_key: проигравший
// получает ErrConflict и перечитывает победителя через FindDirect.
func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation, participantIDs []string) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var directKey *string
	if !c.IsGroup && len(participantIDs) == 2 {
		k := model.DirectKey(participantIDs[0], participantIDs[1])
		directKey = &k
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO conversations (id, tenant_id, name, is_group, cross_tenant, created_by, direct_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (direct_key) WHERE direct_key IS NOT NULL AND deleted_at IS NULL DO NOTHING`,
		c.ID, c.TenantID, c.Name, c.IsGroup, c.CrossTenant, c.CreatedBy, directKey, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Create insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	for _, uid := range participantIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			c.ID, uid, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("convRepo.Create participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convRepo.Create commit: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+convCols+` FROM conversations WHERE id = $1 AND deleted_at IS NULL`, id,
	), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// FindDirect ищет живой личный диалог по ключу сортированной пары участников.
func (r *ConversationRepository) FindDirect(ctx context.Context, directKey string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.FindDirect", time.Now())()
	c := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+convCols+` FROM conversations
		 WHERE direct_key = $1 AND is_group = FALSE AND deleted_at IS NULL`, directKey,
	), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.FindDirect: %w", err)
	}
	return c, nil
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(
		    SELECT 1 FROM conversation_participants cp
		    JOIN conversations c ON c.id = cp.conversation_id AND c.deleted_at IS NULL
		    WHERE cp.conversation_id = $1 AND cp.user_id = $2)`,
		conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("convRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

func (r *ConversationRepository) GetParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.GetParticipantIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipantIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.GetParticipantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipantIDs rows: %w", err)
	}
	return ids, nil
}

func (r *ConversationRepository) GetParticipants(ctx context.Context, conversationID string) ([]model.User, error) {
	defer logger.DeferLogDuration("conv.GetParticipants", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.tenant_id, u.username, u.email, u.avatar_url, u.status, u.last_seen_at, u.created_at, u.disabled_at
		 FROM users u
		 JOIN conversation_participants cp ON cp.user_id = u.id
		 WHERE cp.conversation_id = $1
		 ORDER BY cp.joined_at`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipants query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 8)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("convRepo.GetParticipants scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipants rows: %w", err)
	}
	return users, nil
}

// ListForUser возвращает страницу разговоров пользователя, свежие сверху
// (updated_at поднимается при каждом новом сообщении).
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.tenant_id, c.name, c.is_group, c.cross_tenant, c.created_by, c.direct_key, c.created_at, c.updated_at, c.deleted_at
		 FROM conversations c
		 JOIN conversation_participants cp ON cp.conversation_id = c.id
		 WHERE cp.user_id = $1 AND c.deleted_at IS NULL
		 ORDER BY c.updated_at DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, limit)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, fmt.Errorf("convRepo.ListForUser scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser rows: %w", err)
	}
	return convs, nil
}

// GetConversationIDsForUser возвращает id всех живых разговоров пользователя
// (для восстановления комнат fan-out при подключении).
func (r *ConversationRepository) GetConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.GetConversationIDsForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id FROM conversations c
		 JOIN conversation_participants cp ON cp.conversation_id = c.id
		 WHERE cp.user_id = $1 AND c.deleted_at IS NULL`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetConversationIDsForUser query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.GetConversationIDsForUser scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.GetConversationIDsForUser rows: %w", err)
	}
	return ids, nil
}

// TouchUpdatedAt поднимает разговор в списке. Best-effort: вызывающий логирует
// ошибку и не откатывает созданное сообщение.
func (r *ConversationRepository) TouchUpdatedAt(ctx context.Context, conversationID string, at time.Time) error {
	defer logger.DeferLogDuration("conv.TouchUpdatedAt", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2 AND updated_at < $1`,
		at, conversationID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.TouchUpdatedAt: %w", err)
	}
	return nil
}

// RecordAccess инкрементирует счётчик обращений (телеметрия частоты доступа,
// потребителя в ядре нет).
func (r *ConversationRepository) RecordAccess(ctx context.Context, userID, conversationID string, at time.Time) error {
	defer logger.DeferLogDuration("conv.RecordAccess", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_access (user_id, conversation_id, access_count, last_accessed_at)
		 VALUES ($1, $2, 1, $3)
		 ON CONFLICT (user_id, conversation_id)
		 DO UPDATE SET access_count = conversation_access.access_count + 1, last_accessed_at = $3`,
		userID, conversationID, at,
	)
	if err != nil {
		return fmt.Errorf("convRepo.RecordAccess: %w", err)
	}
	return nil
}
