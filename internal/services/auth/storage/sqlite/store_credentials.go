package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
)

const credentialColumns = `id, account_id, credential_id, public_key, sign_count,
	aaguid, transports, created_at, last_used_at, revoked_at`

func (q queries) CreateCredential(ctx context.Context, c storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(c.CredentialID) == "" {
		return fmt.Errorf("external credential id is required")
	}
	if len(c.PublicKey) == 0 {
		return fmt.Errorf("public key is required")
	}

	transports, err := encodeTransports(c.Transports)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO credentials
		(id, account_id, credential_id, public_key, sign_count, aaguid, transports, created_at, last_used_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.CredentialID, c.PublicKey, c.SignCount, c.AAGUID,
		transports, toMillis(c.CreatedAt), nullableMillis(c.LastUsedAt), nullableMillis(c.RevokedAt),
	)
	if err != nil {
		if isDuplicateErr(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (q queries) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}
	return scanCredential(q.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, credentialID))
}

// GetActiveCredentialByExternalID resolves an authenticator-supplied id to a
// live credential. Revoked rows are invisible here so a revoked passkey can
// never authenticate, even while its row is retained for audit.
func (q queries) GetActiveCredentialByExternalID(ctx context.Context, externalID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if strings.TrimSpace(externalID) == "" {
		return storage.Credential{}, fmt.Errorf("external credential id is required")
	}
	return scanCredential(q.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials
		WHERE credential_id = ? AND revoked_at IS NULL`, externalID))
}

func (q queries) ListActiveCredentials(ctx context.Context, accountID string) ([]storage.Credential, error) {
	return q.list(ctx, accountID,
		`SELECT `+credentialColumns+` FROM credentials
		WHERE account_id = ? AND revoked_at IS NULL ORDER BY created_at, id`)
}

func (q queries) listCredentials(ctx context.Context, accountID string) ([]storage.Credential, error) {
	return q.list(ctx, accountID,
		`SELECT `+credentialColumns+` FROM credentials
		WHERE account_id = ? ORDER BY created_at, id`)
}

func (q queries) list(ctx context.Context, accountID, query string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("account id is required")
	}

	rows, err := q.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		c, err := scanCredentialRow(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return credentials, nil
}

func (q queries) CountActiveCredentials(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(accountID) == "" {
		return 0, fmt.Errorf("account id is required")
	}
	var count int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE account_id = ? AND revoked_at IS NULL`,
		accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return count, nil
}

func (q queries) RecordCredentialUse(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	result, err := q.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE id = ?`,
		signCount, toMillis(usedAt), credentialID)
	if err != nil {
		return fmt.Errorf("record credential use: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record credential use rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RevokeCredential soft-deletes a credential. The guard on revoked_at makes
// the transition single-shot: a second revoke in a racing transaction sees
// zero affected rows.
func (q queries) RevokeCredential(ctx context.Context, credentialID string, revokedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(credentialID) == "" {
		return false, fmt.Errorf("credential id is required")
	}
	result, err := q.db.ExecContext(ctx,
		`UPDATE credentials SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		toMillis(revokedAt), credentialID)
	if err != nil {
		return false, fmt.Errorf("revoke credential: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke credential rows: %w", err)
	}
	return rows == 1, nil
}

type credentialScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row *sql.Row) (storage.Credential, error) {
	c, err := scanCredentialRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, err
	}
	return c, nil
}

func scanCredentialRow(scanner credentialScanner) (storage.Credential, error) {
	var c storage.Credential
	var transports string
	var createdAt int64
	var lastUsedAt sql.NullInt64
	var revokedAt sql.NullInt64
	err := scanner.Scan(&c.ID, &c.AccountID, &c.CredentialID, &c.PublicKey, &c.SignCount,
		&c.AAGUID, &transports, &createdAt, &lastUsedAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, err
		}
		return storage.Credential{}, fmt.Errorf("scan credential: %w", err)
	}

	decoded, err := decodeTransports(transports)
	if err != nil {
		return storage.Credential{}, err
	}
	c.Transports = decoded
	c.CreatedAt = fromMillis(createdAt)
	c.LastUsedAt = millisPtr(lastUsedAt)
	c.RevokedAt = millisPtr(revokedAt)
	return c, nil
}

func encodeTransports(transports []string) (string, error) {
	if len(transports) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(transports)
	if err != nil {
		return "", fmt.Errorf("encode transports: %w", err)
	}
	return string(encoded), nil
}

func decodeTransports(stored string) ([]string, error) {
	if strings.TrimSpace(stored) == "" {
		return nil, nil
	}
	var transports []string
	if err := json.Unmarshal([]byte(stored), &transports); err != nil {
		return nil, fmt.Errorf("decode transports: %w", err)
	}
	return transports, nil
}
