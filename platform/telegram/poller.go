package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
)

// Poller long-polls getUpdates and hands each message to the handler on its
// own goroutine, bounded by MaxConcurrency.
type Poller struct {
	client         *Client
	handler        platform.Handler
	timeout        time.Duration
	maxConcurrency int
	retryDelay     time.Duration
}

func NewPoller(client *Client, handler platform.Handler, timeout time.Duration, maxConcurrency int) *Poller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &Poller{
		client:         client,
		handler:        handler,
		timeout:        timeout,
		maxConcurrency: maxConcurrency,
		retryDelay:     time.Second,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
func (p *Poller) Run(ctx context.Context) error {
	logger := p.client.logger
	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	var offset int64
	for {
		updates, next, err := p.client.api.getUpdates(ctx, offset, p.timeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Info("telegram_stop", "reason", "context_canceled")
				return nil
			}
			if isPollTimeoutError(err) {
				logger.Debug("telegram_get_updates_timeout", "error", err.Error())
			} else {
				logger.Warn("telegram_get_updates_error", "error", err.Error())
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.retryDelay):
			}
			continue
		}
		offset = next

		for _, u := range updates {
			in, ok := p.toInbound(u)
			if !ok {
				continue
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func(in platform.Inbound) {
				defer wg.Done()
				defer func() { <-sem }()
				p.handler.HandleUpdate(ctx, in)
			}(in)
		}
	}
}

func (p *Poller) toInbound(u update) (platform.Inbound, bool) {
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return platform.Inbound{}, false
	}
	if msg.From.IsBot || msg.isService() {
		return platform.Inbound{}, false
	}
	if !strings.EqualFold(msg.Chat.Type, "private") {
		return platform.Inbound{}, false
	}

	in := platform.Inbound{
		UpdateID:  u.UpdateID,
		SenderID:  msg.From.ID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      strings.TrimSpace(msg.Text),
		HasMedia:  msg.hasMedia(),
	}
	if msg.IsTopicMessage || msg.MessageThreadID != 0 {
		in.ThreadID = msg.MessageThreadID
	}
	if in.HasMedia && in.Text == "" {
		in.Text = strings.TrimSpace(msg.Caption)
	}
	return in, true
}
