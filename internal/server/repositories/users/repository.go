package users

import (
	"context"

	"github.com/dmitrijs2005/codetime/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, userName string) (*models.User, error)
	GetOrCreate(ctx context.Context, userName string) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
}
