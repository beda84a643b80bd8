package dealchat

import (
	"context"
	"fmt"
	"time"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
)

type EnsureOptions struct {
	// Recreate allows creating a thread when none is bound or the bound one
	// fails the strict probe. Without it only a cheap probe runs.
	Recreate bool
	// BypassGrace recreates even a thread bound within the grace window.
	BypassGrace bool
}

type EnsureResult struct {
	Thread             *int64
	Recreated          bool
	Reachable          bool
	Status             bridge.Status
	CounterpartyThread *int64
}

// EnsureThread makes sure side has a live thread for the deal. It probes the
// bound thread, and when allowed creates a replacement and binds it with a
// compare-and-swap against the value it read. A thread that loses the swap is
// renamed as a stale duplicate and the canonical binding is probed once more.
func (s *Service) EnsureThread(ctx context.Context, dealID string, side deal.Side, opts EnsureOptions) (EnsureResult, error) {
	if !side.Valid() {
		return EnsureResult{}, bridge.ErrInvalidSide
	}

	var (
		last   EnsureResult
		chatID int64
	)
	for attempt := 1; attempt <= maxEnsureAttempts; attempt++ {
		snap, err := s.refresh(ctx, dealID)
		if err != nil {
			return EnsureResult{}, fmt.Errorf("dealchat: refresh bridge: %w", err)
		}
		b := snap.Bridge
		current := b.Thread(side)
		last = EnsureResult{
			Thread:             current,
			Status:             b.Status,
			CounterpartyThread: b.Thread(side.Counterparty()),
		}

		if chatID == 0 {
			chatID, err = s.identity.ChatIDForParty(ctx, snap.Deal.PartyID(side))
			if err != nil {
				return last, fmt.Errorf("dealchat: chat for side %s: %w", side, err)
			}
		}

		if current != nil {
			reachable, err := s.probe(ctx, chatID, *current, opts.Recreate)
			if err != nil {
				return last, err
			}
			last.Reachable = reachable
			if reachable || !opts.Recreate {
				return last, nil
			}
			if !opts.BypassGrace && s.withinGrace(b.OpenedAt(side)) {
				s.logger.Info("deal_chat_thread_grace_skip",
					"deal_id", dealID,
					"side", side,
					"thread_id", *current,
				)
				return last, nil
			}
		} else if !opts.Recreate {
			return last, nil
		}

		if b.Status == bridge.StatusClosed {
			return last, nil
		}

		created, err := s.platform.CreateThread(ctx, chatID, s.threadTitle(dealID, side))
		if err != nil {
			return last, fmt.Errorf("dealchat: create thread: %w", err)
		}

		bind, err := s.bridges.BindThread(ctx, dealID, side, created, current)
		if err != nil {
			// The write may have landed; leave the thread as it is.
			s.logger.Warn("deal_chat_thread_bind_failed",
				"deal_id", dealID,
				"side", side,
				"thread_id", created,
				"error", err,
			)
			return last, fmt.Errorf("dealchat: bind thread: %w", err)
		}
		if !bind.Applied {
			s.suppressDuplicate(ctx, chatID, created, dealID, side, bind.Current)
			continue
		}

		if bind.Status == bridge.StatusClosed {
			s.closedDuringBind(ctx, bind, side, chatID, created)
			return EnsureResult{
				Thread:             bind.Current,
				Recreated:          true,
				Status:             bind.Status,
				CounterpartyThread: bind.Bridge.Thread(side.Counterparty()),
			}, nil
		}

		if current == nil {
			s.notify(ctx, chatID, created, s.welcomeNotice(dealID, side))
		} else {
			s.logger.Info("deal_chat_thread_recreated",
				"deal_id", dealID,
				"side", side,
				"old_thread_id", *current,
				"thread_id", created,
			)
			s.notify(ctx, chatID, created, s.restoredNotice(dealID, side))
		}

		if bind.Activated() {
			s.announceConnected(ctx, snap.Deal, bind.Bridge)
		}

		return EnsureResult{
			Thread:             bind.Current,
			Recreated:          true,
			Reachable:          true,
			Status:             bind.Status,
			CounterpartyThread: bind.Bridge.Thread(side.Counterparty()),
		}, nil
	}

	s.logger.Warn("deal_chat_thread_ensure_exhausted",
		"deal_id", dealID,
		"side", side,
		"attempts", maxEnsureAttempts,
	)
	return last, ErrEnsureExhausted
}

// probe reports liveness. strict sends and deletes a throwaway message and
// checks where it landed; otherwise a cheap probe is used. Only the
// thread-missing class counts as unreachable; other failures are returned.
func (s *Service) probe(ctx context.Context, chatID, threadID int64, strict bool) (bool, error) {
	var err error
	if strict {
		err = s.platform.VerifyThread(ctx, chatID, threadID)
	} else {
		err = s.platform.ProbeThread(ctx, chatID, threadID)
	}
	switch {
	case err == nil:
		return true, nil
	case platform.IsThreadMissing(err):
		return false, nil
	default:
		return false, fmt.Errorf("dealchat: probe thread: %w", err)
	}
}

func (s *Service) withinGrace(openedAt *time.Time) bool {
	if openedAt == nil {
		return false
	}
	return s.now().Sub(*openedAt) < s.cfg.GraceWindow
}

// suppressDuplicate renames a thread that lost the binding race so it stays
// auditable instead of silently orphaned.
func (s *Service) suppressDuplicate(ctx context.Context, chatID, threadID int64, dealID string, side deal.Side, winner *int64) {
	attrs := []any{
		"deal_id", dealID,
		"side", side,
		"thread_id", threadID,
	}
	if winner != nil {
		attrs = append(attrs, "canonical_thread_id", *winner)
	}
	if err := s.platform.RenameThread(ctx, chatID, threadID, duplicateTitle(dealID)); err != nil {
		attrs = append(attrs, "error", err)
	}
	s.logger.Warn("deal_chat_thread_duplicate_suppressed", attrs...)
}

// closedDuringBind handles a bind that landed on a closed bridge. When the
// bind itself closed it, the whole chat is archived here; otherwise the
// closer already archived the other threads and only the new one is left.
func (s *Service) closedDuringBind(ctx context.Context, bind bridge.BindResult, side deal.Side, chatID, threadID int64) {
	notice := dealFinishedNotice(bind.Deal.ID, bind.Deal.Status)
	if bind.ClosedNow() {
		s.logger.Info("deal_chat_closed",
			"deal_id", bind.Deal.ID,
			"reason", "deal_terminal",
			"deal_status", bind.Deal.Status,
		)
		s.archive(ctx, bridge.Snapshot{Bridge: bind.Bridge, Deal: bind.Deal}, notice)
		return
	}
	if !bind.Deal.Status.IsTerminal() {
		notice = noticeChatClosed
	}
	s.archiveThread(ctx, bind.Deal.ID, side, chatID, threadID, notice)
}

// announceConnected tells both parties, once, that the chat became active.
func (s *Service) announceConnected(ctx context.Context, d deal.Deal, b bridge.Bridge) {
	for _, side := range []deal.Side{deal.SideA, deal.SideB} {
		thread := b.Thread(side)
		if thread == nil {
			continue
		}
		chatID, err := s.identity.ChatIDForParty(ctx, d.PartyID(side))
		if err != nil {
			s.logger.Warn("deal_chat_notice_failed", "deal_id", d.ID, "side", side, "error", err)
			continue
		}
		s.notify(ctx, chatID, *thread, s.connectedNotice(d.ID, side))
	}
	s.logger.Info("deal_chat_active", "deal_id", d.ID)
}
