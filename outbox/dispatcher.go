// Package outbox delivers rows of the transactional outbox table to
// in-process handlers. Delivery is at least once; handlers must be
// idempotent.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// Handler processes one message.
type Handler func(ctx context.Context, msg Message) error

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Options struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// Lease is how long a claimed message stays hidden from other
	// dispatchers while its handler runs. Defaults to one minute.
	Lease time.Duration
	// Backoff is the delay before retry n (1-based). Defaults to n seconds
	// squared, capped at five minutes.
	Backoff func(attempt int) time.Duration
}

type Dispatcher struct {
	pool     TxBeginner
	store    Store
	logger   *slog.Logger
	opts     Options
	handlers map[string]Handler
	now      func() time.Time
}

func NewDispatcher(pool TxBeginner, store Store, logger *slog.Logger, opts Options) *Dispatcher {
	if store == nil {
		store = NewStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Lease <= 0 {
		opts.Lease = time.Minute
	}
	if opts.Backoff == nil {
		opts.Backoff = defaultBackoff
	}
	return &Dispatcher{
		pool:     pool,
		store:    store,
		logger:   logger,
		opts:     opts,
		handlers: make(map[string]Handler),
		now:      time.Now,
	}
}

func defaultBackoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// Register routes topic to h. Messages of unregistered topics are left in
// the table for other consumers.
func (d *Dispatcher) Register(topic string, h Handler) {
	d.handlers[topic] = h
}

func (d *Dispatcher) topics() []string {
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.handlers) == 0 {
		return errors.New("outbox: no handlers registered")
	}
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		n, err := d.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("outbox_poll_failed", "error", err)
		}
		// A full batch suggests a backlog; poll again right away.
		if err == nil && n == d.opts.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and dispatches it. It returns the number of
// messages claimed. Handlers run outside any transaction; each outcome is
// recorded in its own short one.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	var msgs []Message
	err := d.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		msgs, err = d.store.Claim(ctx, tx, d.topics(), d.opts.BatchSize, d.opts.Lease)
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, msg := range msgs {
		if err := d.dispatch(ctx, msg); err != nil {
			return len(msgs), err
		}
	}
	return len(msgs), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) error {
	h := d.handlers[msg.Topic]
	if h == nil {
		return d.fail(ctx, msg.ID, "no handler for topic", nil)
	}

	herr := h(ctx, msg)
	if herr == nil {
		d.logger.Debug("outbox_message_processed", "id", msg.ID, "topic", msg.Topic)
		return d.inTx(ctx, func(tx pgx.Tx) error {
			return d.store.Complete(ctx, tx, msg.ID)
		})
	}

	attempt := msg.Attempts + 1
	if errors.Is(herr, ErrPermanent) || attempt >= d.opts.MaxAttempts {
		d.logger.Error("outbox_message_dead",
			"id", msg.ID,
			"topic", msg.Topic,
			"attempts", attempt,
			"error", herr,
		)
		return d.fail(ctx, msg.ID, herr.Error(), nil)
	}

	retryAt := d.now().Add(d.opts.Backoff(attempt))
	d.logger.Warn("outbox_message_retry",
		"id", msg.ID,
		"topic", msg.Topic,
		"attempts", attempt,
		"retry_at", retryAt,
		"error", herr,
	)
	return d.fail(ctx, msg.ID, herr.Error(), &retryAt)
}

func (d *Dispatcher) fail(ctx context.Context, id int64, lastErr string, retryAt *time.Time) error {
	return d.inTx(ctx, func(tx pgx.Tx) error {
		return d.store.Fail(ctx, tx, id, lastErr, retryAt)
	})
}

func (d *Dispatcher) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox: commit tx: %w", err)
	}
	return nil
}

// DealStatusHandler decodes TopicDealStatusChanged payloads and hands the deal
// id to sync. Malformed payloads are dead-lettered.
func DealStatusHandler(sync func(ctx context.Context, dealID string) error) Handler {
	return func(ctx context.Context, msg Message) error {
		var ev DealStatusChanged
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return Permanent(fmt.Errorf("outbox: decode %s: %w", msg.Topic, err))
		}
		if ev.DealID == "" {
			return Permanent(fmt.Errorf("outbox: %s without deal_id", msg.Topic))
		}
		return sync(ctx, ev.DealID)
	}
}
