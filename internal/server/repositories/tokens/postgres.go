// Package tokens provides a PostgreSQL-backed repository for bearer
// credentials. Rows hold only the credential digest and are revoked by
// timestamp, never deleted.
package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/dbx"
	"github.com/dmitrijs2005/codetime/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create stores a new credential digest for userID.
func (r *PostgresRepository) Create(ctx context.Context, userID, digest, label string) (*models.Token, error) {
	query := `
		INSERT INTO tokens (user_id, token_hash, label)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	t := &models.Token{UserID: userID, Digest: digest, Label: label}
	if err := r.db.QueryRowContext(ctx, query, userID, digest, label).Scan(&t.ID, &t.CreatedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// FindActive returns the non-revoked token with the given digest, or
// common.ErrorNotFound.
func (r *PostgresRepository) FindActive(ctx context.Context, digest string) (*models.Token, error) {
	query := `
		SELECT id, user_id, label, created_at
		FROM tokens
		WHERE token_hash = $1 AND revoked_at IS NULL
	`
	t := &models.Token{Digest: digest}
	if err := r.db.QueryRowContext(ctx, query, digest).Scan(&t.ID, &t.UserID, &t.Label, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// ListByUser returns all tokens of userID, newest first, revoked included.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]models.Token, error) {
	query := `
		SELECT id, label, created_at, revoked_at
		FROM tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]models.Token, 0)
	for rows.Next() {
		t := models.Token{UserID: userID}
		var revoked sql.NullTime
		if err := rows.Scan(&t.ID, &t.Label, &t.CreatedAt, &revoked); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if revoked.Valid {
			ts := revoked.Time
			t.RevokedAt = &ts
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// Revoke marks the token as revoked. Revoking an already revoked token is
// a no-op; a token that does not belong to userID is common.ErrorNotFound.
func (r *PostgresRepository) Revoke(ctx context.Context, userID, tokenID string) error {
	query := `
		UPDATE tokens
		SET revoked_at = COALESCE(revoked_at, now())
		WHERE id = $1 AND user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, tokenID, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
