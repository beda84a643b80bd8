package dealchat

import (
	"context"
	"errors"
	"fmt"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
)

type OpenResult struct {
	Status        bridge.Status
	ThreadCreated bool
	Thread        *int64
}

// OpenChat makes sure the requester has a live thread for the deal, creating
// one on first open. Re-opening an open chat leaves it untouched.
func (s *Service) OpenChat(ctx context.Context, dealID string, requesterID int64) (OpenResult, error) {
	d, err := s.bridges.LoadDeal(ctx, dealID)
	if err != nil {
		return OpenResult{}, s.mapDealErr(err)
	}
	_, side, err := s.participant(ctx, requesterID, d)
	if err != nil {
		return OpenResult{}, err
	}

	snap, err := s.refresh(ctx, dealID)
	if err != nil {
		return OpenResult{}, s.mapDealErr(err)
	}
	if snap.Bridge.Status == bridge.StatusClosed {
		return OpenResult{Status: bridge.StatusClosed, Thread: snap.Bridge.Thread(side)}, ErrChatClosed
	}

	res, err := s.EnsureThread(ctx, dealID, side, EnsureOptions{Recreate: true})
	if err != nil {
		return OpenResult{Status: res.Status}, fmt.Errorf("dealchat: open chat: %w", err)
	}
	if res.Status == bridge.StatusClosed {
		return OpenResult{Status: res.Status, Thread: res.Thread}, ErrChatClosed
	}
	return OpenResult{
		Status:        res.Status,
		ThreadCreated: res.Recreated,
		Thread:        res.Thread,
	}, nil
}

// CloseChat closes the deal chat on behalf of a participant. Closing a
// closed chat is a no-op.
func (s *Service) CloseChat(ctx context.Context, dealID string, requesterID int64) (bridge.Status, error) {
	d, err := s.bridges.LoadDeal(ctx, dealID)
	if err != nil {
		return "", s.mapDealErr(err)
	}
	partyID, _, err := s.participant(ctx, requesterID, d)
	if err != nil {
		return "", err
	}

	res, err := s.bridges.Close(ctx, dealID, partyID)
	if err != nil {
		return "", fmt.Errorf("dealchat: close chat: %w", err)
	}
	if res.ClosedNow() {
		s.logger.Info("deal_chat_closed", "deal_id", dealID, "reason", "closed_by_party", "party_id", partyID)
		s.archive(ctx, res.Snapshot, closedByPartyNotice(dealID))
	}
	return res.Bridge.Status, nil
}

// SyncDealStatus recomputes the bridge after a deal status change and closes
// the chat when the deal became terminal. Safe to call repeatedly.
func (s *Service) SyncDealStatus(ctx context.Context, dealID string) (bridge.Status, error) {
	res, err := s.refresh(ctx, dealID)
	if err != nil {
		return "", s.mapDealErr(err)
	}
	return res.Bridge.Status, nil
}

// refresh recomputes the bridge. The caller that observes the transition
// into CLOSED archives the threads.
func (s *Service) refresh(ctx context.Context, dealID string) (bridge.RefreshResult, error) {
	res, err := s.bridges.Refresh(ctx, dealID)
	if err != nil {
		return res, err
	}
	if res.ClosedNow() {
		s.logger.Info("deal_chat_closed", "deal_id", dealID, "reason", "deal_terminal", "deal_status", res.Deal.Status)
		s.archive(ctx, res.Snapshot, dealFinishedNotice(dealID, res.Deal.Status))
	}
	return res, nil
}

// archive tells both parties the chat is over and retires their threads.
func (s *Service) archive(ctx context.Context, snap bridge.Snapshot, notice string) {
	for _, side := range []deal.Side{deal.SideA, deal.SideB} {
		thread := snap.Bridge.Thread(side)
		if thread == nil {
			continue
		}
		chatID, err := s.identity.ChatIDForParty(ctx, snap.Deal.PartyID(side))
		if err != nil {
			s.logger.Warn("deal_chat_archive_failed", "deal_id", snap.Deal.ID, "side", side, "error", err)
			continue
		}
		s.archiveThread(ctx, snap.Deal.ID, side, chatID, *thread, notice)
	}
}

// archiveThread posts notice and retires one thread: deleted when configured
// and supported, otherwise renamed.
func (s *Service) archiveThread(ctx context.Context, dealID string, side deal.Side, chatID, thread int64, notice string) {
	if s.cfg.DeleteOnClose {
		err := s.platform.DeleteThread(ctx, chatID, thread)
		if err == nil || platform.IsThreadMissing(err) {
			s.notify(ctx, chatID, 0, notice)
			return
		}
		if !errors.Is(err, platform.ErrCapabilityUnavailable) {
			s.logger.Warn("deal_chat_archive_failed", "deal_id", dealID, "side", side, "op", "delete", "error", err)
		}
	}

	if !s.notify(ctx, chatID, thread, notice) {
		s.notify(ctx, chatID, 0, notice)
	}
	if err := s.platform.RenameThread(ctx, chatID, thread, s.closedTitle(dealID, side)); err != nil && !platform.IsThreadMissing(err) {
		s.logger.Warn("deal_chat_archive_failed", "deal_id", dealID, "side", side, "op", "rename", "error", err)
	}
}

func (s *Service) mapDealErr(err error) error {
	if errors.Is(err, deal.ErrNotFound) {
		return err
	}
	return fmt.Errorf("dealchat: load deal: %w", err)
}
