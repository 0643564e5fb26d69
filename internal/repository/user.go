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

var ErrNotFound = errors.New("not found")

// ErrConflict возвращается, когда вставка проиграла гонку уникальному индексу
// (например, direct_key у личных диалогов). Вызывающий перечитывает победителя.
var ErrConflict = errors.New("conflict")

// userCols — список колонок для SELECT.
const userCols = `id, tenant_id, username, email, avatar_url, status, last_seen_at, created_at, disabled_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser сканирует строку в model.User (порядок соответствует userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.AvatarURL, &u.Status, &u.LastSeenAt, &u.CreatedAt, &u.DisabledAt)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// GetByIDs возвращает пользователей по списку id (отключённые не фильтруются:
// участник переписки остаётся видимым после отключения).
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.GetByIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, len(ids))
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.GetByIDs scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs rows: %w", err)
	}
	return users, nil
}

// SearchInTenant ищет пользователей тенанта по имени (для выбора участников).
func (r *UserRepository) SearchInTenant(ctx context.Context, tenantID, query string, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.SearchInTenant", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE tenant_id = $1 AND username ILIKE $2 AND disabled_at IS NULL
		 ORDER BY username LIMIT $3`,
		tenantID, "%"+query+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.SearchInTenant query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.SearchInTenant scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.SearchInTenant rows: %w", err)
	}
	return users, nil
}

// SetStatus выставляет presence-статус и last_seen_at.
func (r *UserRepository) SetStatus(ctx context.Context, userID string, status model.PresenceStatus, at time.Time) error {
	defer logger.DeferLogDuration("user.SetStatus", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET status = $1, last_seen_at = $2 WHERE id = $3`,
		status, at, userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetStatus: %w", err)
	}
	return nil
}

// PromoteAwayToOnline поднимает away → online по сигналу активности.
// Уже online, busy и offline не трогаются: активность никогда не понижает
// статус и не отменяет явно выставленный busy. Возвращает true, если статус изменился.
func (r *UserRepository) PromoteAwayToOnline(ctx context.Context, userID string, at time.Time) (bool, error) {
	defer logger.DeferLogDuration("user.PromoteAwayToOnline", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET status = 'online', last_seen_at = $1 WHERE id = $2 AND status = 'away'`,
		at, userID,
	)
	if err != nil {
		return false, fmt.Errorf("userRepo.PromoteAwayToOnline: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
