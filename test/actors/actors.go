// Package actors drives the chat relay concurrently against a real database
// for the stress suite. Actors tolerate the failures chaos injects and
// report only invariant violations they can see in-process.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
	"github.com/oktaras/ad-marketplace-backend-sub000/dealchat"
	"github.com/oktaras/ad-marketplace-backend-sub000/outbox"
	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
	"github.com/oktaras/ad-marketplace-backend-sub000/test/fakes"
)

// Deal is a seeded deal and the Telegram ids of its parties.
type Deal struct {
	ID         string
	Advertiser int64
	Publisher  int64
}

func (d Deal) user(side deal.Side) int64 {
	if side == deal.SideA {
		return d.Advertiser
	}
	return d.Publisher
}

// World is the system under test shared by all actors.
type World struct {
	Pool     *pgxpool.Pool
	Bridges  *bridge.Service
	Chat     *dealchat.Service
	Platform *fakes.Platform
	Deals    []Deal
	Stats    Stats
}

// Stats counts what actors observed.
type Stats struct {
	Opens      atomic.Int64
	Relays     atomic.Int64
	Recoveries atomic.Int64
	Kills      atomic.Int64
	Binds      atomic.Int64
	LostBinds  atomic.Int64
	Errors     atomic.Int64
}

func (w *World) pick() (Deal, deal.Side) {
	d := w.Deals[rand.Intn(len(w.Deals))]
	if rand.Intn(2) == 0 {
		return d, deal.SideA
	}
	return d, deal.SideB
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(minMS, spreadMS int) {
	time.Sleep(time.Duration(minMS+rand.Intn(spreadMS)) * time.Millisecond)
}

// tolerate counts unexpected errors. A terminated backend surfaces as many
// different driver errors, so none of them fail the run by itself.
func (w *World) tolerate(err error) {
	if err == nil || errors.Is(err, dealchat.ErrChatClosed) || errors.Is(err, context.Canceled) {
		return
	}
	w.Stats.Errors.Add(1)
}

// Opener opens chats for random parties.
func Opener(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d, side := w.pick()
		res, err := w.Chat.OpenChat(ctx, d.ID, d.user(side))
		w.tolerate(err)
		if err == nil {
			w.Stats.Opens.Add(1)
			if res.Status == bridge.StatusActive && res.Thread == nil {
				return fmt.Errorf("opener: deal %s active without a %s thread", d.ID, side)
			}
		}
		pause(10, 30)
	}
	return nil
}

// Relayer posts messages into whatever thread the sender currently has.
func Relayer(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d, side := w.pick()
		snap, err := w.Bridges.Refresh(ctx, d.ID)
		if err != nil {
			w.tolerate(err)
			pause(10, 20)
			continue
		}
		thread := snap.Bridge.Thread(side)
		if thread == nil {
			pause(10, 20)
			continue
		}
		out, err := w.Chat.HandleInbound(ctx, platform.Inbound{
			SenderID: d.user(side),
			ChatID:   d.user(side),
			ThreadID: *thread,
			Text:     fmt.Sprintf("msg %d", rand.Int63()),
		})
		switch out {
		case dealchat.OutcomeRelayed:
			w.Stats.Relays.Add(1)
		case dealchat.OutcomeRecovered:
			w.Stats.Recoveries.Add(1)
		case dealchat.OutcomeRejected:
			// The sender's own thread was rebound between the read and the
			// post.
		default:
			w.tolerate(err)
		}
		pause(5, 20)
	}
	return nil
}

// ThreadKiller deletes bound threads behind the relay's back.
func ThreadKiller(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d, side := w.pick()
		snap, err := w.Bridges.Refresh(ctx, d.ID)
		if err == nil {
			if thread := snap.Bridge.Thread(side); thread != nil {
				w.Platform.Kill(d.user(side), *thread)
				w.Stats.Kills.Add(1)
			}
		} else {
			w.tolerate(err)
		}
		pause(100, 200)
	}
	return nil
}

// Binder races raw compare-and-swap binds against the relay.
func Binder(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d, side := w.pick()
		snap, err := w.Bridges.Refresh(ctx, d.ID)
		if err != nil {
			w.tolerate(err)
			continue
		}
		expected := snap.Bridge.Thread(side)
		candidate := w.Platform.AddThread(d.user(side), "binder")
		res, err := w.Bridges.BindThread(ctx, d.ID, side, candidate, expected)
		if err != nil {
			w.tolerate(err)
			continue
		}
		switch {
		case res.Applied:
			w.Stats.Binds.Add(1)
			if res.Current == nil || *res.Current != candidate {
				return fmt.Errorf("binder: applied bind on %s/%s reports %v", d.ID, side, res.Current)
			}
		default:
			w.Stats.LostBinds.Add(1)
			if sameThread(res.Current, expected) {
				return fmt.Errorf("binder: bind on %s/%s lost against its own expectation %v", d.ID, side, expected)
			}
		}
		pause(40, 80)
	}
	return nil
}

func sameThread(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var workflow = []deal.Status{
	deal.StatusFunded,
	deal.StatusCreativeReview,
	deal.StatusScheduled,
	deal.StatusPosted,
	deal.StatusVerified,
}

// StatusFlipper walks deals through the workflow and finishes them with a
// random terminal status. The outbox trigger announces every change.
func StatusFlipper(ctx context.Context, w *World, stop <-chan struct{}) error {
	terminals := []deal.Status{deal.StatusCompleted, deal.StatusCancelled, deal.StatusRefunded}
	for !stopped(ctx, stop) {
		d, _ := w.pick()
		next := workflow[rand.Intn(len(workflow))]
		if rand.Intn(8) == 0 {
			next = terminals[rand.Intn(len(terminals))]
		}
		// Terminal deals stay terminal.
		_, err := w.Pool.Exec(ctx, `
            UPDATE deals SET status = $2, updated_at = now()
            WHERE id = $1
              AND status NOT IN ('COMPLETED', 'CANCELLED', 'EXPIRED', 'REFUNDED', 'RESOLVED')`,
			d.ID, string(next))
		w.tolerate(err)
		pause(150, 250)
	}
	return nil
}

// OutboxWorker feeds deal status changes to the relay.
func OutboxWorker(ctx context.Context, d *outbox.Dispatcher, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if n, err := d.RunOnce(ctx); err != nil || n == 0 {
			pause(50, 50)
		}
	}
	return nil
}
