package migrations

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestAllSortedAndComplete(t *testing.T) {
	all, err := All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Version >= all[i].Version {
			t.Fatalf("migrations out of order: %s before %s", all[i-1].Version, all[i].Version)
		}
	}

	joined := ""
	for _, m := range all {
		joined += m.SQL
	}
	for _, table := range []string{"users", "deals", "deal_chat_bridges", "outbox"} {
		if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Fatalf("missing table %s", table)
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	if _, err := Apply(ctx, pool); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	again, err := Apply(ctx, pool)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second apply re-ran %v", again)
	}
}
