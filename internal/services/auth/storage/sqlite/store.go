package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/keyfold.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/keyfold.space/internal/services/auth/account"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullableMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func millisPtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed := fromMillis(value.Int64)
	return &parsed
}

// Store implements auth persistence over SQLite.
//
// One SQLite file backs all credential state so every auth operation can run
// inside a single transaction with shared visibility boundaries. The DSN
// requests immediate transactions, which makes every RunInTx a write
// transaction that serializes with all other writers.
type Store struct {
	sqlDB *sql.DB
	q     queries
}

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements storage.Tx against either a live transaction or the
// bare handle (for read-only callers).
type queries struct {
	db dbtx
}

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = queries{}

// Open opens an auth SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{
		sqlDB: sqlDB,
		q:     queries{db: sqlDB},
	}

	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RunInTx executes fn inside one immediate transaction. Any error from fn
// rolls the whole transaction back, so partial writes never commit.
func (s *Store) RunInTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if fn == nil {
		return fmt.Errorf("transaction body is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(queries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetAccount loads an account outside any transaction.
func (s *Store) GetAccount(ctx context.Context, accountID string) (account.Account, error) {
	if s == nil || s.sqlDB == nil {
		return account.Account{}, fmt.Errorf("storage is not configured")
	}
	return s.q.GetAccount(ctx, accountID)
}

// GetAccountByEmail loads an account by email outside any transaction.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	if s == nil || s.sqlDB == nil {
		return account.Account{}, fmt.Errorf("storage is not configured")
	}
	return s.q.GetAccountByEmail(ctx, email)
}

// ListCredentials lists all credentials for an account, oldest first.
func (s *Store) ListCredentials(ctx context.Context, accountID string) ([]storage.Credential, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	return s.q.listCredentials(ctx, accountID)
}

// DeleteExpiredFlows removes challenge flows whose expiry has passed.
func (s *Store) DeleteExpiredFlows(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteExpired(ctx, "DELETE FROM challenge_flows WHERE expires_at < ?", now)
}

// DeleteExpiredResetTokens removes reset tokens whose expiry has passed.
func (s *Store) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteExpired(ctx, "DELETE FROM password_reset_tokens WHERE expires_at < ?", now)
}

// DeleteExpiredRefreshTokens removes refresh tokens whose expiry has passed.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteExpired(ctx, "DELETE FROM refresh_tokens WHERE expires_at < ?", now)
}

func (s *Store) deleteExpired(ctx context.Context, query string, now time.Time) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx, query, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired rows: %w", err)
	}
	return result.RowsAffected()
}

// isDuplicateErr detects SQLite unique-constraint violations.
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
