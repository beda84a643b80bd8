package dealchat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
	"github.com/oktaras/ad-marketplace-backend-sub000/identity"
	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
)

// Bot turns inbound platform messages into chat operations: commands are
// handled here, everything else posted in a thread is relayed.
type Bot struct {
	svc    *Service
	linker Linker
}

var _ platform.Handler = (*Bot)(nil)

// Linker links the sender's Telegram account from a token the marketplace
// issued, sent to the bot as "/start <token>". *identity.Service implements it.
type Linker interface {
	LinkWithToken(ctx context.Context, token string, telegramUserID int64) (*identity.User, error)
}

func NewBot(svc *Service) *Bot {
	return &Bot{svc: svc}
}

// WithLinker enables "/start <token>" account linking.
func (b *Bot) WithLinker(l Linker) *Bot {
	b.linker = l
	return b
}

func (b *Bot) HandleUpdate(ctx context.Context, in platform.Inbound) {
	cmd, args := parseCommand(in.Text)
	if in.HasMedia {
		cmd = ""
	}

	switch cmd {
	case "/start":
		if len(args) > 0 && b.linker != nil {
			b.link(ctx, in, args[0])
			return
		}
		b.reply(ctx, in, noticeHelp)
	case "/help":
		b.reply(ctx, in, noticeHelp)
	case "/open":
		b.open(ctx, in, args)
	case "/close":
		b.close(ctx, in, args)
	case "/status":
		b.status(ctx, in, args)
	default:
		if !in.InThread() {
			b.reply(ctx, in, noticeHelp)
			return
		}
		outcome, err := b.svc.HandleInbound(ctx, in)
		attrs := []any{
			"update_id", in.UpdateID,
			"sender_id", in.SenderID,
			"thread_id", in.ThreadID,
			"outcome", outcome,
		}
		if err != nil {
			b.svc.logger.Info("deal_chat_inbound_handled", append(attrs, "error", err)...)
			return
		}
		b.svc.logger.Debug("deal_chat_inbound_handled", attrs...)
	}
}

func (b *Bot) link(ctx context.Context, in platform.Inbound, token string) {
	user, err := b.linker.LinkWithToken(ctx, token, in.SenderID)
	switch {
	case err == nil:
		b.svc.logger.Info("identity_linked", "user_id", user.ID, "telegram_user_id", in.SenderID)
		b.reply(ctx, in, noticeLinked)
	case errors.Is(err, identity.ErrInvalidLinkToken):
		b.svc.logger.Info("identity_link_rejected", "telegram_user_id", in.SenderID, "error", err)
		b.reply(ctx, in, noticeLinkInvalid)
	case errors.Is(err, identity.ErrTelegramAlreadyLinked):
		b.reply(ctx, in, noticeLinkTaken)
	default:
		b.svc.logger.Error("identity_link_failed", "telegram_user_id", in.SenderID, "error", err)
		b.reply(ctx, in, "Failed to link your account, please try again.")
	}
}

func (b *Bot) open(ctx context.Context, in platform.Inbound, args []string) {
	dealID, ok := b.dealArg(ctx, in, args)
	if !ok {
		return
	}
	res, err := b.svc.OpenChat(ctx, dealID, in.SenderID)
	switch {
	case err == nil && res.ThreadCreated:
		b.reply(ctx, in, fmt.Sprintf("Chat for deal #%s is open: use the new topic to talk to the %s.",
			shortDealID(dealID), strings.ToLower(b.counterpartyLabel(ctx, dealID, in.SenderID))))
	case err == nil:
		b.reply(ctx, in, fmt.Sprintf("Chat for deal #%s is already open (%s).", shortDealID(dealID), statusText(res.Status)))
	default:
		b.replyErr(ctx, in, err, noticeOpenFailed)
	}
}

func (b *Bot) close(ctx context.Context, in platform.Inbound, args []string) {
	dealID, ok := b.dealArg(ctx, in, args)
	if !ok {
		return
	}
	if _, err := b.svc.CloseChat(ctx, dealID, in.SenderID); err != nil {
		b.replyErr(ctx, in, err, "Failed to close the chat, please try again.")
		return
	}
	if in.InThread() {
		// The thread has just been archived; answer in the chat root.
		in.ThreadID = 0
	}
	b.reply(ctx, in, closedByPartyNotice(dealID))
}

func (b *Bot) status(ctx context.Context, in platform.Inbound, args []string) {
	dealID, ok := b.dealArg(ctx, in, args)
	if !ok {
		return
	}
	diag, err := b.svc.Diagnostics(ctx, dealID, in.SenderID)
	if err != nil {
		b.replyErr(ctx, in, err, "Failed to read the chat state, please try again.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Deal #%s (%s)\nChat: %s\n", shortDealID(dealID), strings.ToLower(string(diag.DealStatus)), statusText(diag.Status))
	switch {
	case diag.Thread == nil:
		sb.WriteString("Your topic: not opened\n")
	case diag.ThreadReachable:
		sb.WriteString("Your topic: reachable\n")
	default:
		sb.WriteString("Your topic: unreachable, use /open to restore it\n")
	}
	if diag.CounterpartyOpened {
		sb.WriteString("Counterparty: joined")
	} else {
		sb.WriteString("Counterparty: not joined yet")
	}
	b.reply(ctx, in, sb.String())
}

// dealArg takes the deal id from the command arguments, or from the thread
// the command was posted in.
func (b *Bot) dealArg(ctx context.Context, in platform.Inbound, args []string) (string, bool) {
	if len(args) > 0 {
		return args[0], true
	}
	if in.InThread() {
		route, err := b.svc.ResolveRoute(ctx, in.SenderID, in.ThreadID)
		if err == nil {
			return route.DealID, true
		}
	}
	b.reply(ctx, in, "Please pass a deal id, e.g. /open <deal id>.")
	return "", false
}

func (b *Bot) counterpartyLabel(ctx context.Context, dealID string, senderID int64) string {
	d, err := b.svc.bridges.LoadDeal(ctx, dealID)
	if err != nil {
		return "counterparty"
	}
	_, side, err := b.svc.participant(ctx, senderID, d)
	if err != nil {
		return "counterparty"
	}
	return b.svc.label(side.Counterparty())
}

func (b *Bot) replyErr(ctx context.Context, in platform.Inbound, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotParticipant):
		b.reply(ctx, in, noticeAccessDenied)
	case errors.Is(err, deal.ErrNotFound):
		b.reply(ctx, in, "Deal not found.")
	case errors.Is(err, ErrChatClosed):
		b.reply(ctx, in, noticeChatClosed)
	default:
		b.svc.logger.Error("deal_chat_command_failed",
			"sender_id", in.SenderID,
			"text", in.Text,
			"error", err,
		)
		b.reply(ctx, in, fallback)
	}
}

func (b *Bot) reply(ctx context.Context, in platform.Inbound, text string) {
	b.svc.notify(ctx, in.ChatID, in.ThreadID, text)
}

// parseCommand splits "/cmd@bot arg1 arg2". Non-commands return "".
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:]
}

func statusText(st bridge.Status) string {
	switch st {
	case bridge.StatusActive:
		return "active"
	case bridge.StatusClosed:
		return "closed"
	default:
		return "waiting for the counterparty"
	}
}
