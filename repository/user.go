package repository

import (
	"context"

	"github.com/fastygo/knowledge/domain"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	TouchLastLogin(ctx context.Context, id int64) error
}
