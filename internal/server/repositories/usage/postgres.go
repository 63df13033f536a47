// Package usage stores minute records, per-minute project claims and
// daily totals in PostgreSQL.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/codetime/internal/dbx"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ClaimMinute uses a no-op DO UPDATE so the row lock is taken and
// RETURNING yields the committed owner even when another transaction won
// the insert.
func (r *PostgresRepository) ClaimMinute(ctx context.Context, userID string, minute int64, projectID int64) (int64, error) {
	query := `
		INSERT INTO usage_minute_claims (user_id, minute_ts, project_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, minute_ts) DO UPDATE SET project_id = usage_minute_claims.project_id
		RETURNING project_id
	`
	var owner int64
	if err := r.db.QueryRowContext(ctx, query, userID, minute, projectID).Scan(&owner); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return owner, nil
}

func (r *PostgresRepository) InsertMinute(ctx context.Context, userID string, projectID int64, minute int64) (bool, error) {
	query := `
		INSERT INTO usage_minute (user_id, project_id, minute_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, userID, projectID, minute)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) IncrementDaily(ctx context.Context, userID string, projectID int64, date string) error {
	query := `
		INSERT INTO usage_daily (user_id, project_id, date, minutes)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, project_id, date) DO UPDATE SET minutes = usage_daily.minutes + 1
	`
	if _, err := r.db.ExecContext(ctx, query, userID, projectID, date); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DailyTotals(ctx context.Context, userID, from, to, project string) ([]ledger.DailyTotal, error) {
	query := `
		SELECT p.name, d.date, d.minutes
		FROM usage_daily d
		JOIN projects p ON p.id = d.project_id
		WHERE d.user_id = $1 AND d.date BETWEEN $2 AND $3 AND ($4 = '' OR p.name = $4)
		ORDER BY d.date, p.name
	`
	rows, err := r.db.QueryContext(ctx, query, userID, from, to, project)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.DailyTotal, 0)
	for rows.Next() {
		var (
			row  ledger.DailyTotal
			date time.Time
		)
		if err := rows.Scan(&row.Project, &date, &row.Minutes); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		row.Date = ledger.DateOf(date)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) DailyUsageOn(ctx context.Context, date string) ([]models.DailyUsage, error) {
	query := `
		SELECT u.id, u.username, p.name, d.date, d.minutes
		FROM usage_daily d
		JOIN users u ON u.id = d.user_id
		JOIN projects p ON p.id = d.project_id
		WHERE d.date = $1
		ORDER BY u.username, p.name
	`
	rows, err := r.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]models.DailyUsage, 0)
	for rows.Next() {
		var u models.DailyUsage
		if err := rows.Scan(&u.UserID, &u.UserName, &u.Project, &u.Date, &u.Minutes); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
