package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

const terminalStatuses = `('COMPLETED','CANCELLED','EXPIRED','REFUNDED','RESOLVED')`

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_closed_has_closed_at",
			SQL:  `SELECT id, deal_id FROM deal_chat_bridges WHERE status = 'CLOSED' AND closed_at IS NULL`,
		},
		{
			Name: "O2_active_has_both_threads",
			SQL: `SELECT id, deal_id FROM deal_chat_bridges
                  WHERE status = 'ACTIVE' AND (thread_a IS NULL OR thread_b IS NULL)`,
		},
		{
			Name: "O3_bound_thread_has_opened_at",
			SQL: `SELECT id, deal_id FROM deal_chat_bridges
                  WHERE (thread_a IS NOT NULL AND opened_at_a IS NULL)
                     OR (thread_b IS NOT NULL AND opened_at_b IS NULL)`,
		},
		{
			Name: "O4_one_bridge_per_thread",
			SQL: `SELECT d.advertiser_id, b.thread_a, COUNT(*) FROM deal_chat_bridges b
                  JOIN deals d ON d.id = b.deal_id
                  WHERE b.thread_a IS NOT NULL
                  GROUP BY d.advertiser_id, b.thread_a HAVING COUNT(*) > 1
                  UNION ALL
                  SELECT d.publisher_id, b.thread_b, COUNT(*) FROM deal_chat_bridges b
                  JOIN deals d ON d.id = b.deal_id
                  WHERE b.thread_b IS NOT NULL
                  GROUP BY d.publisher_id, b.thread_b HAVING COUNT(*) > 1`,
		},
		{
			// A terminal deal whose status change has been fully consumed
			// must have a closed chat.
			Name: "O5_terminal_deal_closed",
			SQL: `SELECT d.id, d.status, b.status FROM deals d
                  JOIN deal_chat_bridges b ON b.deal_id = d.id
                  WHERE d.status IN ` + terminalStatuses + `
                    AND b.status <> 'CLOSED'
                    AND NOT EXISTS (
                        SELECT 1 FROM outbox o
                        WHERE o.topic = 'deal.status_changed'
                          AND o.payload->>'deal_id' = d.id::text
                          AND (o.processed_at IS NULL OR o.last_error IS NOT NULL))`,
		},
		{
			Name: "O6_outbox_stale",
			SQL: `SELECT id, topic, attempts, last_error FROM outbox
                  WHERE processed_at IS NULL
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}

// AllClosed returns deals that are terminal but whose chat is not closed.
// It is meaningful only once the outbox has been drained.
func AllClosed(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
        SELECT d.id::text FROM deals d
        LEFT JOIN deal_chat_bridges b ON b.deal_id = d.id
        WHERE d.status IN `+terminalStatuses+`
          AND (b.id IS NULL OR b.status <> 'CLOSED')`)
	if err != nil {
		return nil, fmt.Errorf("oracle all closed: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
