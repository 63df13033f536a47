package projects

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/codetime/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Ensure(ctx context.Context, userID, name string) (int64, error) {
	query := `
		INSERT INTO projects (user_id, name)
		VALUES ($1, $2)
		ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, userID, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) ListNames(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT name FROM projects
		WHERE user_id = $1
		ORDER BY name
	`
	return r.names(ctx, query, userID)
}

func (r *PostgresRepository) ListActiveNames(ctx context.Context, userID, from, to string) ([]string, error) {
	query := `
		SELECT DISTINCT p.name
		FROM usage_daily d
		JOIN projects p ON p.id = d.project_id
		WHERE d.user_id = $1 AND d.date BETWEEN $2 AND $3 AND d.minutes > 0
		ORDER BY p.name
	`
	return r.names(ctx, query, userID, from, to)
}

func (r *PostgresRepository) names(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
