package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/config"
	"github.com/oktaras/ad-marketplace-backend-sub000/db"
	"github.com/oktaras/ad-marketplace-backend-sub000/dealchat"
	"github.com/oktaras/ad-marketplace-backend-sub000/identity"
	"github.com/oktaras/ad-marketplace-backend-sub000/lock"
	"github.com/oktaras/ad-marketplace-backend-sub000/platform/telegram"
)

// app is the fully wired service graph.
type app struct {
	pool     *pgxpool.Pool
	telegram *telegram.Client
	identity *identity.Service
	chat     *dealchat.Service
	linking  bool // link tokens are configured
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (c *cli) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, c.cfg.Database.URL, c.cfg.Database.MaxConns)
}

// newLocker picks the bridge lock backend. The returned func releases the
// backend's resources.
func newLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, func(), error) {
	switch cfg.Backend {
	case config.LockLocal:
		return lock.NewLocalLocker(), func() {}, nil
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return lock.NewRedisLocker(client, cfg.RedisTTL), func() { _ = client.Close() }, nil
	case config.LockAdvisory, "":
		return lock.NewAdvisoryLocker(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// linkTokens returns nil when account linking by token is disabled.
func (c *cli) linkTokens() *identity.LinkTokens {
	if c.cfg.Link.Secret == "" {
		return nil
	}
	return identity.NewLinkTokens(c.cfg.Link.Secret, c.cfg.Link.TTL)
}

func (c *cli) newTelegram() *telegram.Client {
	return telegram.New(telegram.Options{
		Token:        c.cfg.Telegram.Token,
		BaseURL:      c.cfg.Telegram.BaseURL,
		HTTPClient:   &http.Client{Timeout: c.cfg.Telegram.HTTPTimeout},
		Logger:       c.logger.With("component", "telegram"),
		ThreadFields: c.cfg.Telegram.ThreadFields,
	})
}

// build wires the chat service. The Telegram client is connected before
// return.
func (c *cli) build(ctx context.Context) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	pool, err := c.openPool(ctx)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)

	locker, release, err := newLocker(ctx, c.cfg.Lock)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, release)

	a.telegram = c.newTelegram()
	if err := a.telegram.Connect(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.telegram.Close() })

	bridges := bridge.NewService(pool, bridge.NewRepository(), nil, locker)
	a.identity = identity.NewService(identity.NewRepository(pool))
	if tokens := c.linkTokens(); tokens != nil {
		a.identity.WithLinkTokens(tokens)
		a.linking = true
	}
	a.chat = dealchat.NewService(bridges, a.identity, a.telegram, c.logger.With("component", "dealchat"), dealchat.Config{
		GraceWindow:   c.cfg.Chat.GraceWindow,
		DeleteOnClose: c.cfg.Chat.DeleteOnClose,
		RoleLabelA:    c.cfg.Chat.RoleLabelA,
		RoleLabelB:    c.cfg.Chat.RoleLabelB,
	})

	c.logger.Info("dealchat_wired", "lock_backend", c.cfg.Lock.Backend, "token_linking", a.linking)
	ok = true
	return a, nil
}
