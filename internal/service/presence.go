package service

import (
	"context"
	"fmt"
	"time"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

// presenceDebounce гасит шторм одинаковых сигналов (клиент дёргает статус на
// каждое событие видимости вкладки): повтор того же статуса внутри окна не
// пишется и не рассылается.
const presenceDebounce = 3 * time.Second

type PresenceService struct {
	users       UserStore
	ephemeral   storage.EphemeralStore
	broadcaster Broadcaster
}

func NewPresenceService(users UserStore, ephemeral storage.EphemeralStore, broadcaster Broadcaster) *PresenceService {
	return &PresenceService{users: users, ephemeral: ephemeral, broadcaster: broadcaster}
}

// Update выставляет явный статус и рассылает его тенанту: доступность видят
// все коллеги, не только собеседники.
func (s *PresenceService) Update(ctx context.Context, userID string, status model.PresenceStatus) error {
	if !model.ValidStatus(status) {
		return invalid("unknown status %q", status)
	}

	key := "presence:" + userID + ":" + string(status)
	fresh, err := s.ephemeral.SetNX(ctx, key, presenceDebounce)
	if err != nil {
		// Debounce — оптимизация: без него работаем, но честно.
		logger.Errorf("presence debounce user=%s: %v", userID, err)
		fresh = true
	}
	if !fresh {
		// Ключ переживает переходы в обход дебаунса (Disconnect при обрыве
		// сокета пишет offline напрямую), поэтому повтор гасим только когда
		// фактический статус уже совпадает с запрошенным.
		u, gerr := s.users.GetByID(ctx, userID)
		if gerr == nil && u.Status == status {
			return nil
		}
	}

	now := time.Now().UTC()
	if err := s.users.SetStatus(ctx, userID, status, now); err != nil {
		return classify(fmt.Errorf("update presence: %w", err))
	}
	s.broadcastStatus(ctx, userID, status, now)
	return nil
}

// Activity — неявный сигнал (пользователь что-то отправил): поднимает
// away → online и никогда не понижает статус. Best-effort.
func (s *PresenceService) Activity(ctx context.Context, userID string) {
	now := time.Now().UTC()
	changed, err := s.users.PromoteAwayToOnline(ctx, userID, now)
	if err != nil {
		logger.Errorf("presence activity user=%s: %v", userID, err)
		return
	}
	if changed {
		s.broadcastStatus(ctx, userID, model.StatusOnline, now)
	}
}

// Disconnect переводит пользователя в offline при обрыве последнего
// соединения. Best-effort: ошибка записи не должна мешать закрытию сокета.
func (s *PresenceService) Disconnect(ctx context.Context, userID string) {
	now := time.Now().UTC()
	if err := s.users.SetStatus(ctx, userID, model.StatusOffline, now); err != nil {
		logger.Errorf("presence disconnect user=%s: %v", userID, err)
		return
	}
	s.broadcastStatus(ctx, userID, model.StatusOffline, now)
}

func (s *PresenceService) broadcastStatus(ctx context.Context, userID string, status model.PresenceStatus, at time.Time) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		logger.Errorf("presence broadcast user=%s: %v", userID, err)
		return
	}
	s.broadcaster.ToTenant(u.TenantID, "user-status-changed", map[string]any{
		"user_id":      userID,
		"status":       status,
		"last_seen_at": at,
	})
}
