package deal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when no deal row exists for the provided identifier.
var ErrNotFound = errors.New("deal: not found")

// Querier is the subset of pgx.Tx (and pgxpool.Pool) the reader needs, so a
// deal can be read inside the caller's transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Reader loads deals for the chat bridge.
type Reader interface {
	GetDeal(ctx context.Context, q Querier, dealID string) (Deal, error)
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// GetDeal reads the deal row. When q is a transaction the row is share-locked
// so a concurrent status change cannot slip between derivation and write.
func (r *Repository) GetDeal(ctx context.Context, q Querier, dealID string) (Deal, error) {
	if dealID == "" {
		return Deal{}, fmt.Errorf("deal: missing deal id")
	}

	const query = `
SELECT id::text, advertiser_id::text, publisher_id::text, status, created_at, updated_at
FROM deals
WHERE id = $1
FOR SHARE
`
	var d Deal
	err := q.QueryRow(ctx, query, dealID).Scan(
		&d.ID,
		&d.PartyAID,
		&d.PartyBID,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: get deal: %w", err)
	}
	return d, nil
}
