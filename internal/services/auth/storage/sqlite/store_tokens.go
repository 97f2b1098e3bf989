package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
)

func (q queries) CreateRefreshToken(ctx context.Context, token storage.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(token.ID) == "" {
		return fmt.Errorf("refresh token id is required")
	}
	if strings.TrimSpace(token.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(token.TokenHash) == "" {
		return fmt.Errorf("token hash is required")
	}

	revoked := 0
	if token.Revoked {
		revoked = 1
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, account_id, token_hash, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		token.ID, token.AccountID, token.TokenHash,
		toMillis(token.ExpiresAt), revoked, toMillis(token.CreatedAt),
	)
	if err != nil {
		if isDuplicateErr(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (q queries) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (storage.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.RefreshToken{}, err
	}
	if strings.TrimSpace(tokenHash) == "" {
		return storage.RefreshToken{}, fmt.Errorf("token hash is required")
	}

	var token storage.RefreshToken
	var expiresAt int64
	var revoked int
	var createdAt int64
	err := q.db.QueryRowContext(ctx,
		`SELECT id, account_id, token_hash, expires_at, revoked, created_at
		FROM refresh_tokens WHERE token_hash = ?`, tokenHash).Scan(
		&token.ID, &token.AccountID, &token.TokenHash, &expiresAt, &revoked, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RefreshToken{}, storage.ErrNotFound
		}
		return storage.RefreshToken{}, fmt.Errorf("scan refresh token: %w", err)
	}
	token.ExpiresAt = fromMillis(expiresAt)
	token.Revoked = revoked != 0
	token.CreatedAt = fromMillis(createdAt)
	return token, nil
}

// RevokeRefreshToken revokes by digest. The guard on revoked decides the
// rotation race: only one of two concurrent rotations of the same token sees
// an affected row and may insert a replacement.
func (q queries) RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(tokenHash) == "" {
		return false, fmt.Errorf("token hash is required")
	}
	result, err := q.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE token_hash = ? AND revoked = 0`, tokenHash)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows: %w", err)
	}
	return rows == 1, nil
}

func (q queries) CreateResetToken(ctx context.Context, token storage.PasswordResetToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(token.ID) == "" {
		return fmt.Errorf("reset token id is required")
	}
	if strings.TrimSpace(token.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(token.TokenHash) == "" {
		return fmt.Errorf("token hash is required")
	}

	used := 0
	if token.Used {
		used = 1
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO password_reset_tokens (id, account_id, token_hash, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		token.ID, token.AccountID, token.TokenHash,
		toMillis(token.ExpiresAt), used, toMillis(token.CreatedAt),
	)
	if err != nil {
		if isDuplicateErr(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert reset token: %w", err)
	}
	return nil
}

func (q queries) GetResetTokenByHash(ctx context.Context, tokenHash string) (storage.PasswordResetToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasswordResetToken{}, err
	}
	if strings.TrimSpace(tokenHash) == "" {
		return storage.PasswordResetToken{}, fmt.Errorf("token hash is required")
	}

	var token storage.PasswordResetToken
	var expiresAt int64
	var used int
	var createdAt int64
	err := q.db.QueryRowContext(ctx,
		`SELECT id, account_id, token_hash, expires_at, used, created_at
		FROM password_reset_tokens WHERE token_hash = ?`, tokenHash).Scan(
		&token.ID, &token.AccountID, &token.TokenHash, &expiresAt, &used, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasswordResetToken{}, storage.ErrNotFound
		}
		return storage.PasswordResetToken{}, fmt.Errorf("scan reset token: %w", err)
	}
	token.ExpiresAt = fromMillis(expiresAt)
	token.Used = used != 0
	token.CreatedAt = fromMillis(createdAt)
	return token, nil
}

func (q queries) MarkResetTokenUsed(ctx context.Context, tokenID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(tokenID) == "" {
		return false, fmt.Errorf("reset token id is required")
	}
	result, err := q.db.ExecContext(ctx,
		`UPDATE password_reset_tokens SET used = 1 WHERE id = ? AND used = 0`, tokenID)
	if err != nil {
		return false, fmt.Errorf("mark reset token used: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reset token used rows: %w", err)
	}
	return rows == 1, nil
}
