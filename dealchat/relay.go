package dealchat

import (
	"context"
	"errors"
	"fmt"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
)

// Outcome is what happened to one inbound message.
type Outcome string

const (
	OutcomeRelayed         Outcome = "relayed"
	OutcomeRecovered       Outcome = "relayed_after_recovery"
	OutcomeResendRequested Outcome = "resend_requested"
	OutcomeClosed          Outcome = "chat_closed"
	OutcomeNotPermitted    Outcome = "counterparty_not_open"
	OutcomeRejected        Outcome = "rejected"
	OutcomeFailed          Outcome = "failed"
)

// HandleInbound relays one message posted by a party into their deal thread.
// Every outcome other than a relay is reported back to the sender.
func (s *Service) HandleInbound(ctx context.Context, in platform.Inbound) (Outcome, error) {
	route, err := s.ResolveRoute(ctx, in.SenderID, in.ThreadID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotParticipant):
			s.notify(ctx, in.ChatID, in.ThreadID, noticeAccessDenied)
			return OutcomeRejected, err
		case errors.Is(err, ErrNoRoute):
			s.notify(ctx, in.ChatID, in.ThreadID, noticeNoRoute)
			return OutcomeRejected, err
		default:
			s.notify(ctx, in.ChatID, in.ThreadID, noticeRelayFailed)
			return OutcomeFailed, err
		}
	}

	if route.Status == bridge.StatusClosed {
		s.notify(ctx, in.ChatID, in.ThreadID, noticeChatClosed)
		return OutcomeClosed, nil
	}
	if !route.RelayPermitted {
		s.notify(ctx, in.ChatID, in.ThreadID, s.waitingNotice(route.Side))
		return OutcomeNotPermitted, nil
	}

	fail := func(err error) (Outcome, error) {
		s.logger.Error("deal_chat_relay_failed",
			"deal_id", route.DealID,
			"side", route.Side,
			"error", err,
		)
		s.notify(ctx, in.ChatID, in.ThreadID, noticeRelayFailed)
		return OutcomeFailed, err
	}

	destChat, err := s.identity.ChatIDForParty(ctx, route.CounterpartyPartyID)
	if err != nil {
		return fail(fmt.Errorf("dealchat: counterparty chat: %w", err))
	}

	dest, err := s.EnsureThread(ctx, route.DealID, route.Counterparty, EnsureOptions{})
	if err != nil {
		return fail(err)
	}

	payload := s.relayPayload(route, in)

	if dest.Reachable && dest.Thread != nil {
		err := s.deliver(ctx, destChat, *dest.Thread, payload)
		if err == nil {
			return OutcomeRelayed, nil
		}
		if !platform.IsThreadMissing(err) {
			return fail(err)
		}
		s.logger.Warn("deal_chat_relay_thread_missing",
			"deal_id", route.DealID,
			"side", route.Counterparty,
			"thread_id", *dest.Thread,
			"error", err,
		)
	}

	// One recovery: force a fresh destination thread and retry once.
	recovered, err := s.EnsureThread(ctx, route.DealID, route.Counterparty, EnsureOptions{Recreate: true, BypassGrace: true})
	if err == nil && recovered.Status == bridge.StatusClosed {
		s.notify(ctx, in.ChatID, in.ThreadID, noticeChatClosed)
		return OutcomeClosed, nil
	}
	if err == nil && recovered.Thread != nil && recovered.Reachable {
		err = s.deliver(ctx, destChat, *recovered.Thread, payload)
		if err == nil {
			s.logger.Info("deal_chat_relay_recovered",
				"deal_id", route.DealID,
				"side", route.Counterparty,
				"thread_id", *recovered.Thread,
				"recreated", recovered.Recreated,
			)
			return OutcomeRecovered, nil
		}
	} else if err == nil {
		err = fmt.Errorf("dealchat: destination thread still unavailable")
	}

	s.logger.Warn("deal_chat_relay_resend_requested",
		"deal_id", route.DealID,
		"side", route.Counterparty,
		"error", err,
	)
	s.notify(ctx, in.ChatID, in.ThreadID, s.resendNotice(route.Side))
	return OutcomeResendRequested, err
}

// deliver sends payload and treats a message that lands outside threadID as
// a missing thread.
func (s *Service) deliver(ctx context.Context, chatID, threadID int64, payload platform.Payload) error {
	got, err := s.platform.SendToThread(ctx, chatID, threadID, payload)
	if err != nil {
		return err
	}
	if got != threadID {
		return fmt.Errorf("%w: delivered to thread %d instead of %d", platform.ErrThreadMissing, got, threadID)
	}
	return nil
}

func (s *Service) relayPayload(route Route, in platform.Inbound) platform.Payload {
	if in.HasMedia {
		return platform.Payload{
			Copy:    &platform.MessageRef{ChatID: in.ChatID, MessageID: in.MessageID},
			Caption: s.prefixed(route.Side, in.Text),
		}
	}
	return platform.Payload{Text: s.prefixed(route.Side, in.Text)}
}
