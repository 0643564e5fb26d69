package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/repository"
)

// UserService — справочник пользователей для выбора участников разговора.
type UserService struct {
	users UserStore
}

func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("get user: %w", err))
	}
	return u, nil
}

// Search ищет коллег по имени внутри тенанта запрашивающего.
func (s *UserService) Search(ctx context.Context, tenantID, query string, limit int) ([]model.UserSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("empty search query")
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	users, err := s.users.SearchInTenant(ctx, tenantID, query, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("search users: %w", err))
	}
	out := make([]model.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return out, nil
}
