package projects

import (
	"context"
)

type Repository interface {
	// Ensure returns the id of the user's project, creating it if needed.
	Ensure(ctx context.Context, userID, name string) (int64, error)
	ListNames(ctx context.Context, userID string) ([]string, error)
	// ListActiveNames lists projects with recorded minutes between from and
	// to inclusive (YYYY-MM-DD).
	ListActiveNames(ctx context.Context, userID, from, to string) ([]string, error)
}
