package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
)

func (q queries) CreateFlow(ctx context.Context, flow storage.ChallengeFlow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(flow.ID) == "" {
		return fmt.Errorf("flow id is required")
	}
	if strings.TrimSpace(flow.Challenge) == "" {
		return fmt.Errorf("flow challenge is required")
	}
	if flow.Kind == "" {
		return fmt.Errorf("flow kind is required")
	}
	if strings.TrimSpace(flow.RPID) == "" || strings.TrimSpace(flow.Origin) == "" {
		return fmt.Errorf("flow rp id and origin are required")
	}

	accountID := sql.NullString{}
	if flow.AccountID != "" {
		accountID = sql.NullString{String: flow.AccountID, Valid: true}
	}

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO challenge_flows
		(id, challenge, account_id, kind, rp_id, origin, created_at, expires_at, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flow.ID, flow.Challenge, accountID, string(flow.Kind), flow.RPID, flow.Origin,
		toMillis(flow.CreatedAt), toMillis(flow.ExpiresAt), nullableMillis(flow.ConsumedAt),
	)
	if err != nil {
		if isDuplicateErr(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

func (q queries) GetFlow(ctx context.Context, flowID string) (storage.ChallengeFlow, error) {
	if err := ctx.Err(); err != nil {
		return storage.ChallengeFlow{}, err
	}
	if strings.TrimSpace(flowID) == "" {
		return storage.ChallengeFlow{}, fmt.Errorf("flow id is required")
	}

	var flow storage.ChallengeFlow
	var accountID sql.NullString
	var kind string
	var createdAt int64
	var expiresAt int64
	var consumedAt sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		`SELECT id, challenge, account_id, kind, rp_id, origin, created_at, expires_at, consumed_at
		FROM challenge_flows WHERE id = ?`, flowID).Scan(
		&flow.ID, &flow.Challenge, &accountID, &kind, &flow.RPID, &flow.Origin,
		&createdAt, &expiresAt, &consumedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ChallengeFlow{}, storage.ErrNotFound
		}
		return storage.ChallengeFlow{}, fmt.Errorf("scan flow: %w", err)
	}

	flow.AccountID = accountID.String
	flow.Kind = storage.FlowKind(kind)
	flow.CreatedAt = fromMillis(createdAt)
	flow.ExpiresAt = fromMillis(expiresAt)
	flow.ConsumedAt = millisPtr(consumedAt)
	return flow, nil
}

// ConsumeFlow is the single state transition a flow can take. The guard on
// consumed_at decides races: of two transactions finishing the same flow,
// exactly one sees an affected row.
func (q queries) ConsumeFlow(ctx context.Context, flowID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(flowID) == "" {
		return false, fmt.Errorf("flow id is required")
	}
	result, err := q.db.ExecContext(ctx,
		`UPDATE challenge_flows SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		toMillis(now), flowID)
	if err != nil {
		return false, fmt.Errorf("consume flow: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume flow rows: %w", err)
	}
	return rows == 1, nil
}
