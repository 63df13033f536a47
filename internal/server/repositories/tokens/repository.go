package tokens

import (
	"context"

	"github.com/dmitrijs2005/codetime/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, userID, digest, label string) (*models.Token, error)
	FindActive(ctx context.Context, digest string) (*models.Token, error)
	ListByUser(ctx context.Context, userID string) ([]models.Token, error)
	Revoke(ctx context.Context, userID, tokenID string) error
}
