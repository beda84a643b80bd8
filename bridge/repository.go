package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
)

var (
	// ErrNotFound is returned when no bridge row exists for the deal.
	ErrNotFound = errors.New("bridge: not found")
	// ErrInvalidSide signals a side other than A or B.
	ErrInvalidSide = errors.New("bridge: invalid side")
)

// Repository defines the data access required by the service. Every method
// runs inside the caller's transaction.
type Repository interface {
	// GetOrCreate returns the deal's bridge, inserting a row with status
	// initial if none exists. The row is locked for the rest of tx.
	GetOrCreate(ctx context.Context, tx pgx.Tx, dealID string, initial Status) (Bridge, error)
	// SetThread writes thread into side's slot only if the slot still holds
	// expected. applied=false means the slot moved.
	SetThread(ctx context.Context, tx pgx.Tx, dealID string, side deal.Side, thread int64, expected *int64, openedAt time.Time) (Bridge, bool, error)
	SetStatus(ctx context.Context, tx pgx.Tx, dealID string, status Status, closedAt *time.Time, closedBy *string) (Bridge, error)
	// FindCandidates lists bridges where threadID is bound to a side owned by
	// partyID, most recently updated first.
	FindCandidates(ctx context.Context, tx pgx.Tx, threadID int64, partyID string, limit int) ([]Candidate, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const bridgeColumns = `id::text, deal_id::text, status, thread_a, thread_b, opened_at_a, opened_at_b, closed_at, closed_by_user_id::text, created_at, updated_at`

func (r *PGRepository) GetOrCreate(ctx context.Context, tx pgx.Tx, dealID string, initial Status) (Bridge, error) {
	if dealID == "" {
		return Bridge{}, fmt.Errorf("bridge: missing deal id")
	}

	const insertSQL = `
INSERT INTO deal_chat_bridges (deal_id, status)
VALUES ($1, $2)
ON CONFLICT (deal_id) DO NOTHING
`
	if _, err := tx.Exec(ctx, insertSQL, dealID, initial); err != nil {
		return Bridge{}, fmt.Errorf("bridge: ensure row: %w", err)
	}

	selectSQL := `SELECT ` + bridgeColumns + ` FROM deal_chat_bridges WHERE deal_id = $1 FOR UPDATE`
	b, err := scanBridge(tx.QueryRow(ctx, selectSQL, dealID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bridge{}, ErrNotFound
		}
		return Bridge{}, fmt.Errorf("bridge: load for update: %w", err)
	}
	return b, nil
}

func (r *PGRepository) SetThread(ctx context.Context, tx pgx.Tx, dealID string, side deal.Side, thread int64, expected *int64, openedAt time.Time) (Bridge, bool, error) {
	var threadCol, openedCol string
	switch side {
	case deal.SideA:
		threadCol, openedCol = "thread_a", "opened_at_a"
	case deal.SideB:
		threadCol, openedCol = "thread_b", "opened_at_b"
	default:
		return Bridge{}, false, ErrInvalidSide
	}

	// The IS NOT DISTINCT FROM guard keeps the write conditional even if the
	// caller's lock backend is misconfigured.
	updateSQL := `
UPDATE deal_chat_bridges
SET ` + threadCol + ` = $2,
    ` + openedCol + ` = $3,
    updated_at = clock_timestamp()
WHERE deal_id = $1
  AND ` + threadCol + ` IS NOT DISTINCT FROM $4
RETURNING ` + bridgeColumns

	b, err := scanBridge(tx.QueryRow(ctx, updateSQL, dealID, thread, openedAt.UTC(), expected))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bridge{}, false, nil
		}
		return Bridge{}, false, fmt.Errorf("bridge: set thread: %w", err)
	}
	return b, true, nil
}

func (r *PGRepository) SetStatus(ctx context.Context, tx pgx.Tx, dealID string, status Status, closedAt *time.Time, closedBy *string) (Bridge, error) {
	updateSQL := `
UPDATE deal_chat_bridges
SET status = $2,
    closed_at = COALESCE(closed_at, $3),
    closed_by_user_id = COALESCE(closed_by_user_id, $4::uuid),
    updated_at = clock_timestamp()
WHERE deal_id = $1
RETURNING ` + bridgeColumns

	b, err := scanBridge(tx.QueryRow(ctx, updateSQL, dealID, status, closedAt, closedBy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bridge{}, ErrNotFound
		}
		return Bridge{}, fmt.Errorf("bridge: set status: %w", err)
	}
	return b, nil
}

func (r *PGRepository) FindCandidates(ctx context.Context, tx pgx.Tx, threadID int64, partyID string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 2
	}

	const query = `
SELECT b.id::text, b.deal_id::text, b.status, b.thread_a, b.thread_b, b.opened_at_a, b.opened_at_b,
       b.closed_at, b.closed_by_user_id::text, b.created_at, b.updated_at,
       CASE WHEN b.thread_a = $1 AND d.advertiser_id::text = $2 THEN 'A' ELSE 'B' END AS side
FROM deal_chat_bridges b
JOIN deals d ON d.id = b.deal_id
WHERE (b.thread_a = $1 AND d.advertiser_id::text = $2)
   OR (b.thread_b = $1 AND d.publisher_id::text = $2)
ORDER BY b.updated_at DESC, b.created_at DESC, b.id DESC
LIMIT $3
`
	rows, err := tx.Query(ctx, query, threadID, partyID, limit)
	if err != nil {
		return nil, fmt.Errorf("bridge: find candidates: %w", err)
	}
	defer rows.Close()

	out := make([]Candidate, 0, limit)
	for rows.Next() {
		var (
			c    Candidate
			side string
		)
		if err := rows.Scan(
			&c.Bridge.ID,
			&c.Bridge.DealID,
			&c.Bridge.Status,
			&c.Bridge.ThreadA,
			&c.Bridge.ThreadB,
			&c.Bridge.OpenedAtA,
			&c.Bridge.OpenedAtB,
			&c.Bridge.ClosedAt,
			&c.Bridge.ClosedByUserID,
			&c.Bridge.CreatedAt,
			&c.Bridge.UpdatedAt,
			&side,
		); err != nil {
			return nil, fmt.Errorf("bridge: scan candidate: %w", err)
		}
		c.Side = deal.Side(side)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bridge: iterate candidates: %w", err)
	}
	return out, nil
}

func scanBridge(row pgx.Row) (Bridge, error) {
	var b Bridge
	err := row.Scan(
		&b.ID,
		&b.DealID,
		&b.Status,
		&b.ThreadA,
		&b.ThreadB,
		&b.OpenedAtA,
		&b.OpenedAtB,
		&b.ClosedAt,
		&b.ClosedByUserID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return Bridge{}, err
	}
	return b, nil
}
