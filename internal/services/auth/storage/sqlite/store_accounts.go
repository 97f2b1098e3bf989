package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/keyfold.space/internal/services/auth/account"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
)

// CreateAccount inserts an account row. An empty email is stored as NULL so
// passkey-only accounts do not collide on the unique email constraint.
func (q queries) CreateAccount(ctx context.Context, a account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("account id is required")
	}

	email := sql.NullString{}
	if a.Email != "" {
		email = sql.NullString{String: a.Email, Valid: true}
	}
	passwordHash := sql.NullString{}
	if a.PasswordHash != "" {
		passwordHash = sql.NullString{String: a.PasswordHash, Valid: true}
	}
	role := string(a.Role)
	if role == "" {
		role = string(account.RoleUser)
	}

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, role, scopes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, email, passwordHash, role, account.JoinScopes(a.Scopes),
		toMillis(a.CreatedAt), toMillis(a.CreatedAt),
	)
	if err != nil {
		if isDuplicateErr(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (q queries) GetAccount(ctx context.Context, accountID string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if strings.TrimSpace(accountID) == "" {
		return account.Account{}, fmt.Errorf("account id is required")
	}
	return q.scanAccount(q.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, scopes, created_at
		FROM accounts WHERE id = ?`, accountID))
}

func (q queries) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if strings.TrimSpace(email) == "" {
		return account.Account{}, fmt.Errorf("email is required")
	}
	return q.scanAccount(q.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, scopes, created_at
		FROM accounts WHERE email = ?`, email))
}

func (q queries) CountAccounts(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

// TouchAccount rewrites the account row to acquire it exclusively for the
// remainder of the transaction. The write changes nothing; it exists to
// serialize credential-set decisions for one account.
func (q queries) TouchAccount(ctx context.Context, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	result, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET updated_at = updated_at WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("touch account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch account rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (q queries) UpdateAccountPassword(ctx context.Context, accountID, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("password hash is required")
	}
	result, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ? WHERE id = ?`, passwordHash, accountID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (q queries) scanAccount(row *sql.Row) (account.Account, error) {
	var a account.Account
	var email sql.NullString
	var passwordHash sql.NullString
	var scopes string
	var createdAt int64
	err := row.Scan(&a.ID, &email, &passwordHash, &a.Role, &scopes, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.Email = email.String
	a.PasswordHash = passwordHash.String
	a.Scopes = account.SplitScopes(scopes)
	a.CreatedAt = fromMillis(createdAt)
	return a, nil
}
