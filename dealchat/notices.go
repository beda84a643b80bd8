package dealchat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
)

// User-facing texts.
const (
	noticeAccessDenied = "Access denied: you are not a participant of this deal."
	noticeNoRoute      = "This topic is not linked to a deal chat. Use /open <deal id> to start one."
	noticeChatClosed   = "This deal chat is closed. Messages are no longer relayed."
	noticeRelayFailed  = "Failed to relay your message, please try again."
	noticeOpenFailed   = "Failed to open the chat, please try again later."
	noticeLinked       = "Your account is linked. Use /open <deal id> to start a deal chat."
	noticeLinkInvalid  = "This link is invalid or has expired. Request a new one from the marketplace."
	noticeLinkTaken    = "This Telegram account is already linked to another marketplace user."
	noticeHelp         = "Commands:\n/open <deal id> open the chat for a deal\n/close <deal id> close it\n/status <deal id> show its state"
)

func shortDealID(dealID string) string {
	id := strings.ReplaceAll(dealID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

func (s *Service) label(side deal.Side) string {
	if side == deal.SideA {
		return s.cfg.RoleLabelA
	}
	return s.cfg.RoleLabelB
}

func (s *Service) threadTitle(dealID string, side deal.Side) string {
	return fmt.Sprintf("Deal #%s · %s", shortDealID(dealID), s.label(side.Counterparty()))
}

func (s *Service) closedTitle(dealID string, side deal.Side) string {
	return s.threadTitle(dealID, side) + " (closed)"
}

// duplicateTitle marks a thread that lost the binding race. The suffix keeps
// every suppressed thread distinguishable in audits.
func duplicateTitle(dealID string) string {
	return fmt.Sprintf("Deal #%s · stale duplicate %s", shortDealID(dealID), uuid.NewString()[:8])
}

func (s *Service) welcomeNotice(dealID string, side deal.Side) string {
	return fmt.Sprintf("This topic is your private chat for deal #%s. Messages posted here are relayed anonymously to the %s.",
		shortDealID(dealID), strings.ToLower(s.label(side.Counterparty())))
}

func (s *Service) restoredNotice(dealID string, side deal.Side) string {
	return fmt.Sprintf("The chat topic for deal #%s was restored. Messages posted here are relayed to the %s again.",
		shortDealID(dealID), strings.ToLower(s.label(side.Counterparty())))
}

func (s *Service) connectedNotice(dealID string, side deal.Side) string {
	return fmt.Sprintf("The %s has joined the chat for deal #%s. You can start talking.",
		strings.ToLower(s.label(side.Counterparty())), shortDealID(dealID))
}

func (s *Service) waitingNotice(side deal.Side) string {
	return fmt.Sprintf("The %s has not opened the chat yet, so your message was not delivered. Please send it again once they join.",
		strings.ToLower(s.label(side.Counterparty())))
}

func (s *Service) resendNotice(side deal.Side) string {
	return fmt.Sprintf("The %s's chat topic was unavailable. We restored it, please resend your message.",
		strings.ToLower(s.label(side.Counterparty())))
}

func closedByPartyNotice(dealID string) string {
	return fmt.Sprintf("The chat for deal #%s was closed.", shortDealID(dealID))
}

func dealFinishedNotice(dealID string, status deal.Status) string {
	return fmt.Sprintf("Deal #%s is %s, so its chat is now closed.", shortDealID(dealID), strings.ToLower(string(status)))
}

// prefixed renders relayed text with the sender's role so the recipient
// knows who is speaking without learning their identity.
func (s *Service) prefixed(side deal.Side, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return s.label(side)
	}
	return s.label(side) + ": " + text
}
