package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/dealchat"
	"github.com/oktaras/ad-marketplace-backend-sub000/identity"
	"github.com/oktaras/ad-marketplace-backend-sub000/lock"
	"github.com/oktaras/ad-marketplace-backend-sub000/outbox"
	"github.com/oktaras/ad-marketplace-backend-sub000/test/actors"
	"github.com/oktaras/ad-marketplace-backend-sub000/test/chaos"
	"github.com/oktaras/ad-marketplace-backend-sub000/test/fakes"
	"github.com/oktaras/ad-marketplace-backend-sub000/test/infra"
	"github.com/oktaras/ad-marketplace-backend-sub000/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 6, "number of concurrent actors of each kind")
	flDeals       = flag.Int("deals", 5, "number of seeded deals")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestDealChatConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+90*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv(infra.DSNEnv) != "":
		dsn = os.Getenv(infra.DSNEnv)
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if errors.Is(err, infra.ErrNoDatabase) {
				t.Skip("no Docker and no local PostgreSQL")
			}
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	w := newWorld(t, ctx, pool)
	dispatcher := outbox.NewDispatcher(pool, nil, (&fakes.LogSink{}).Logger(), outbox.Options{
		BatchSize:   10,
		MaxAttempts: 50,
		Backoff:     func(int) time.Duration { return 50 * time.Millisecond },
	})
	dispatcher.Register(outbox.TopicDealStatusChanged, outbox.DealStatusHandler(func(ctx context.Context, dealID string) error {
		_, err := w.Chat.SyncDealStatus(ctx, dealID)
		return err
	}))

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Opener(ctx2, w, stop) })
		g.Go(func() error { return actors.Relayer(ctx2, w, stop) })
	}
	g.Go(func() error { return actors.Binder(ctx2, w, stop) })
	g.Go(func() error { return actors.Binder(ctx2, w, stop) })
	g.Go(func() error { return actors.ThreadKiller(ctx2, w, stop) })
	g.Go(func() error { return actors.StatusFlipper(ctx2, w, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, dispatcher, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, "dealchat-stress%", stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx2.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				// Chaos may have killed the oracle's own backend.
				t.Logf("oracle error: %v", err)
				continue
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				close(stop)
				_ = g.Wait()
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}

	// Finish every deal, drain the outbox and check the chats followed.
	if _, err := pool.Exec(ctx, `UPDATE deals SET status = 'COMPLETED'
        WHERE status NOT IN ('COMPLETED','CANCELLED','EXPIRED','REFUNDED','RESOLVED')`); err != nil {
		t.Fatalf("finish deals: %v", err)
	}
	drain(t, ctx, dispatcher)

	open, err := oracles.AllClosed(ctx, pool)
	if err != nil {
		t.Fatalf("final oracle: %v", err)
	}
	if len(open) > 0 {
		dumpRecent(t, ctx, pool)
		t.Fatalf("terminal deals with open chats: %v (seed=%d)", open, seed)
	}
	if name, row, err := oracles.Run(ctx, pool); err != nil || name != "" {
		t.Fatalf("final oracle %s: %s %v (seed=%d)", name, row, err, seed)
	}

	t.Logf("opens=%d relays=%d recoveries=%d kills=%d binds=%d lost_binds=%d errors=%d",
		w.Stats.Opens.Load(), w.Stats.Relays.Load(), w.Stats.Recoveries.Load(), w.Stats.Kills.Load(),
		w.Stats.Binds.Load(), w.Stats.LostBinds.Load(), w.Stats.Errors.Load())
}

func newWorld(t *testing.T, ctx context.Context, pool *pgxpool.Pool) *actors.World {
	t.Helper()
	plat := fakes.NewPlatform()
	bridges := bridge.NewService(pool, bridge.NewRepository(), nil, lock.NewAdvisoryLocker())
	ident := identity.NewService(identity.NewRepository(pool))
	chat := dealchat.NewService(bridges, ident, plat, (&fakes.LogSink{}).Logger(), dealchat.Config{
		GraceWindow: 200 * time.Millisecond,
	})

	w := &actors.World{Pool: pool, Bridges: bridges, Chat: chat, Platform: plat}
	base := rand.Int63n(1 << 40)
	for i := 0; i < *flDeals; i++ {
		adv := base + int64(2*i) + 1
		pub := base + int64(2*i) + 2
		var advID, pubID, dealID string
		if err := pool.QueryRow(ctx, `INSERT INTO users (display_name, telegram_user_id) VALUES ($1, $2) RETURNING id::text`,
			fmt.Sprintf("adv-%d", i), adv).Scan(&advID); err != nil {
			t.Fatalf("seed advertiser: %v", err)
		}
		if err := pool.QueryRow(ctx, `INSERT INTO users (display_name, telegram_user_id) VALUES ($1, $2) RETURNING id::text`,
			fmt.Sprintf("pub-%d", i), pub).Scan(&pubID); err != nil {
			t.Fatalf("seed publisher: %v", err)
		}
		if err := pool.QueryRow(ctx, `INSERT INTO deals (advertiser_id, publisher_id, status) VALUES ($1, $2, 'FUNDED') RETURNING id::text`,
			advID, pubID).Scan(&dealID); err != nil {
			t.Fatalf("seed deal: %v", err)
		}
		w.Deals = append(w.Deals, actors.Deal{ID: dealID, Advertiser: adv, Publisher: pub})
	}
	return w
}

func drain(t *testing.T, ctx context.Context, d *outbox.Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	idle := 0
	for time.Now().Before(deadline) && idle < 5 {
		n, err := d.RunOnce(ctx)
		if err != nil {
			t.Logf("drain: %v", err)
		}
		if n == 0 {
			idle++
			time.Sleep(100 * time.Millisecond)
			continue
		}
		idle = 0
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"deal_chat_bridges", `SELECT deal_id, status, thread_a, thread_b, closed_at, updated_at FROM deal_chat_bridges ORDER BY updated_at DESC LIMIT 50`},
		{"deals", `SELECT id, status, updated_at FROM deals ORDER BY updated_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, attempts, last_error, processed_at, created_at FROM outbox ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
