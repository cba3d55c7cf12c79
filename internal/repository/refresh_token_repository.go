package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mediahub-api/internal/models"
)

const refreshTokenColumns = `id, account_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent`

// RefreshTokenRepository persists refresh token sessions.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create persists a refresh token entry.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (` + refreshTokenColumns + `) VALUES (:id, :account_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindByToken returns a refresh token by its opaque value. sql.ErrNoRows is returned unwrapped.
func (r *RefreshTokenRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := r.db.Rebind(`SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token = ? LIMIT 1`)
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Revoke marks a single token as revoked. It reports false when the token was
// already revoked, which lets rotation detect a concurrent use of the same token.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, revokedAt time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ? WHERE id = ? AND revoked = FALSE`)
	res, err := r.db.ExecContext(ctx, query, revokedAt, id)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return affected == 1, nil
}

// RevokeAllForAccount revokes every live token of an account and returns how many were revoked.
func (r *RefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID string, revokedAt time.Time) (int64, error) {
	query := r.db.Rebind(`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ? WHERE account_id = ? AND revoked = FALSE`)
	res, err := r.db.ExecContext(ctx, query, revokedAt, accountID)
	if err != nil {
		return 0, fmt.Errorf("revoke account refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke account refresh tokens: %w", err)
	}
	return affected, nil
}

// PurgeDead physically deletes tokens revoked or expired before cutoff.
func (r *RefreshTokenRepository) PurgeDead(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM refresh_tokens WHERE (revoked = TRUE AND revoked_at < ?) OR expires_at < ?`)
	res, err := r.db.ExecContext(ctx, query, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return affected, nil
}
