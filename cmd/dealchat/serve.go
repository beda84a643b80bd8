package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
	"github.com/oktaras/ad-marketplace-backend-sub000/dealchat"
	"github.com/oktaras/ad-marketplace-backend-sub000/outbox"
	"github.com/oktaras/ad-marketplace-backend-sub000/platform/telegram"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram relay and the deal status consumer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireTelegram(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := c.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			bot := dealchat.NewBot(a.chat)
			if a.linking {
				bot.WithLinker(a.identity)
			}
			poller := telegram.NewPoller(a.telegram, bot, c.cfg.Telegram.PollTimeout, c.cfg.Telegram.MaxConcurrency)

			dispatcher := outbox.NewDispatcher(a.pool, outbox.NewStore(), c.logger.With("component", "outbox"), outbox.Options{
				PollInterval: c.cfg.Outbox.PollInterval,
				BatchSize:    c.cfg.Outbox.BatchSize,
				MaxAttempts:  c.cfg.Outbox.MaxAttempts,
				Lease:        c.cfg.Outbox.Lease,
			})
			dispatcher.Register(outbox.TopicDealStatusChanged, outbox.DealStatusHandler(syncDeal(a.chat)))

			c.logger.Info("dealchat_serving",
				"poll_timeout", c.cfg.Telegram.PollTimeout,
				"max_concurrency", c.cfg.Telegram.MaxConcurrency,
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := poller.Run(gctx); err != nil {
					return fmt.Errorf("poller: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				if err := dispatcher.Run(gctx); err != nil {
					return fmt.Errorf("outbox: %w", err)
				}
				return nil
			})
			err = g.Wait()
			c.logger.Info("dealchat_stopped", "error", err)
			return err
		},
	}
}

// syncDeal adapts SyncDealStatus to the outbox handler. A deal that no
// longer exists will never sync.
func syncDeal(chat *dealchat.Service) func(ctx context.Context, dealID string) error {
	return func(ctx context.Context, dealID string) error {
		_, err := chat.SyncDealStatus(ctx, dealID)
		if errors.Is(err, deal.ErrNotFound) {
			return outbox.Permanent(err)
		}
		return err
	}
}
