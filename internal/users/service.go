package users

import (
	"context"

	"github.com/unilib/unilib/internal/models"
)

// Service encapsulates user-related business logic
type Service struct {
	repo UserRepository
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r}
}

// UpsertFromClaims creates or updates a user using verified token claims
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)
	if sub == "" {
		return nil, nil
	}
	u := &models.User{
		Sub:   sub,
		Email: email,
		Name:  name,
		Role:  role,
	}
	return s.repo.UpsertBySub(ctx, u)
}

func (s *Service) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return s.repo.GetBySub(ctx, sub)
}

// DisplayName resolves a user's display name, falling back to the sub when
// the user record is missing.
func (s *Service) DisplayName(ctx context.Context, sub string) string {
	u, err := s.repo.GetBySub(ctx, sub)
	if err != nil || u == nil || u.Name == "" {
		return sub
	}
	return u.Name
}

// AddFavorite records a book on the user's favorites mirror.
func (s *Service) AddFavorite(ctx context.Context, sub, bookID string) error {
	return s.repo.AddFavorite(ctx, sub, bookID)
}

// RemoveFavorite removes a book from the user's favorites mirror.
func (s *Service) RemoveFavorite(ctx context.Context, sub, bookID string) error {
	return s.repo.RemoveFavorite(ctx, sub, bookID)
}
