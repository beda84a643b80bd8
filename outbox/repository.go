package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by pgx.Tx, *pgxpool.Pool and *pgx.Conn.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Enqueue writes a message in the caller's transaction so it commits or
// rolls back with the change it describes.
func Enqueue(ctx context.Context, q Execer, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const insertSQL = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := q.Exec(ctx, insertSQL, topic, string(raw)); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}

// Store is the dispatcher's view of the outbox table. Every method runs in
// the caller's transaction.
type Store interface {
	// Claim leases up to limit due messages, skipping rows other dispatchers
	// hold, by pushing their availability lease into the future. A message
	// whose handler never reports back becomes due again when the lease ends.
	Claim(ctx context.Context, tx pgx.Tx, topics []string, limit int, lease time.Duration) ([]Message, error)
	Complete(ctx context.Context, tx pgx.Tx, id int64) error
	// Fail records a failed attempt. A nil retryAt dead-letters the message.
	Fail(ctx context.Context, tx pgx.Tx, id int64, lastErr string, retryAt *time.Time) error
}

type PGStore struct{}

func NewStore() *PGStore {
	return &PGStore{}
}

func (s *PGStore) Claim(ctx context.Context, tx pgx.Tx, topics []string, limit int, lease time.Duration) ([]Message, error) {
	const query = `
UPDATE outbox
SET available_at = now() + make_interval(secs => $3::double precision)
WHERE id IN (
    SELECT id
    FROM outbox
    WHERE processed_at IS NULL
      AND available_at <= now()
      AND topic = ANY($1)
    ORDER BY id
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING id, topic, payload, attempts, created_at
`
	rows, err := tx.Query(ctx, query, topics, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate messages: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *PGStore) Complete(ctx context.Context, tx pgx.Tx, id int64) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET processed_at = now(), attempts = attempts + 1, last_error = NULL WHERE id = $1 AND processed_at IS NULL`, id); err != nil {
		return fmt.Errorf("outbox: complete %d: %w", id, err)
	}
	return nil
}

func (s *PGStore) Fail(ctx context.Context, tx pgx.Tx, id int64, lastErr string, retryAt *time.Time) error {
	const updateSQL = `
UPDATE outbox
SET attempts = attempts + 1,
    last_error = $2,
    available_at = COALESCE($3, available_at),
    processed_at = CASE WHEN $3::timestamptz IS NULL THEN now() ELSE NULL END
WHERE id = $1 AND processed_at IS NULL
`
	if _, err := tx.Exec(ctx, updateSQL, id, lastErr, retryAt); err != nil {
		return fmt.Errorf("outbox: fail %d: %w", id, err)
	}
	return nil
}
