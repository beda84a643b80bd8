// Package telegram implements platform.Adapter on top of the Telegram Bot
// API, using forum topics inside the user's private chat with the bot as
// threads.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
)

const maxTopicNameRunes = 128

type Options struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	// ThreadFields overrides the thread-id request field candidates.
	ThreadFields []string
}

// Client is a platform.Adapter backed by the Bot API.
type Client struct {
	api    *api
	logger *slog.Logger
	fields *fieldNegotiator

	verify    singleflight.Group
	capWarned sync.Map

	mu sync.RWMutex
	me *user
}

var _ platform.Adapter = (*Client)(nil)

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    newAPI(opts.HTTPClient, opts.BaseURL, opts.Token),
		logger: logger,
		fields: newFieldNegotiator(opts.ThreadFields),
	}
}

// Connect checks the token with getMe.
func (c *Client) Connect(ctx context.Context) error {
	if strings.TrimSpace(c.api.token) == "" {
		return fmt.Errorf("telegram: missing bot token")
	}
	me, err := c.api.getMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: connect: %w", err)
	}
	c.mu.Lock()
	c.me = me
	c.mu.Unlock()
	c.logger.Info("telegram_connected", "bot_id", me.ID, "username", me.Username)
	return nil
}

func (c *Client) Close() error {
	c.api.http.CloseIdleConnections()
	return nil
}

// BotID returns the bot's own user id once connected.
func (c *Client) BotID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.me == nil {
		return 0
	}
	return c.me.ID
}

func (c *Client) CreateThread(ctx context.Context, chatID int64, title string) (int64, error) {
	var raw json.RawMessage
	err := c.api.call(ctx, "createForumTopic", map[string]any{
		"chat_id": chatID,
		"name":    topicName(title),
	}, &raw)
	if err != nil {
		return 0, c.classify("createForumTopic", err)
	}
	id, ok := threadIDFrom(raw)
	if !ok {
		return 0, fmt.Errorf("telegram createForumTopic: no thread id in result")
	}
	return id, nil
}

// SendToThread delivers payload into threadID (0 addresses the root of the
// chat). The returned id is the thread the platform reports the message in.
func (c *Client) SendToThread(ctx context.Context, chatID, threadID int64, payload platform.Payload) (int64, error) {
	delivered, _, err := c.deliver(ctx, chatID, threadID, payload, false)
	return delivered, err
}

func (c *Client) ProbeThread(ctx context.Context, chatID, threadID int64) error {
	body := map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}
	body[c.fields.order(chatID)[0]] = threadID
	if err := c.api.call(ctx, "sendChatAction", body, nil); err != nil {
		return c.classify("sendChatAction", err)
	}
	return nil
}

// VerifyThread posts a silent probe, checks where it landed and removes it.
// Concurrent verifications of the same thread share one probe.
func (c *Client) VerifyThread(ctx context.Context, chatID, threadID int64) error {
	key := fmt.Sprintf("%d:%d", chatID, threadID)
	_, err, _ := c.verify.Do(key, func() (any, error) {
		probe := platform.Payload{Text: "… " + uuid.NewString()[:8]}
		delivered, messageID, err := c.deliver(ctx, chatID, threadID, probe, true)
		if messageID != 0 {
			if derr := c.deleteMessage(ctx, chatID, messageID); derr != nil {
				c.logger.Warn("telegram_probe_cleanup_failed", "chat_id", chatID, "message_id", messageID, "error", derr)
			}
		}
		if err != nil {
			return nil, err
		}
		if delivered != threadID {
			return nil, fmt.Errorf("%w: probe for thread %d landed in %d", platform.ErrThreadMissing, threadID, delivered)
		}
		return nil, nil
	})
	return err
}

func (c *Client) RenameThread(ctx context.Context, chatID, threadID int64, title string) error {
	err := c.api.call(ctx, "editForumTopic", map[string]any{
		"chat_id":           chatID,
		"message_thread_id": threadID,
		"name":              topicName(title),
	}, nil)
	if err != nil {
		return c.classify("editForumTopic", err)
	}
	return nil
}

func (c *Client) DeleteThread(ctx context.Context, chatID, threadID int64) error {
	err := c.api.call(ctx, "deleteForumTopic", map[string]any{
		"chat_id":           chatID,
		"message_thread_id": threadID,
	}, nil)
	if err != nil {
		return c.classify("deleteForumTopic", err)
	}
	return nil
}

// deliver sends payload, walking the thread-field candidates until the
// message lands in threadID. A message that lands elsewhere while the chat's
// field is still unconfirmed is withdrawn before the next candidate is tried.
func (c *Client) deliver(ctx context.Context, chatID, threadID int64, payload platform.Payload, silent bool) (int64, int64, error) {
	method := "sendMessage"
	if payload.IsCopy() {
		method = "copyMessage"
	}

	if threadID == 0 {
		raw, err := c.sendOnce(ctx, method, chatID, "", 0, payload, silent)
		if err != nil {
			return 0, 0, c.classify(method, err)
		}
		got, _ := threadIDFrom(raw)
		return got, messageIDFrom(raw), nil
	}

	fields := c.fields.order(chatID)
	for i, field := range fields {
		last := i == len(fields)-1
		raw, err := c.sendOnce(ctx, method, chatID, field, threadID, payload, silent)
		if err != nil {
			if isFieldRejected(err) && !last {
				if i == 0 && c.fields.confirmed(chatID) {
					// The cached field stopped working; negotiate again.
					c.fields.forget(chatID)
				}
				c.logger.Debug("telegram_thread_field_rejected", "chat_id", chatID, "field", field)
				continue
			}
			return 0, 0, c.classify(method, err)
		}

		messageID := messageIDFrom(raw)
		got, ok := threadIDFrom(raw)
		if !ok && payload.IsCopy() {
			// copyMessage only returns the new message id.
			got = threadID
		}
		if got == threadID {
			if !c.fields.confirmed(chatID) {
				c.fields.confirm(chatID, field)
				c.logger.Debug("telegram_thread_field_confirmed", "chat_id", chatID, "field", field)
			}
			return got, messageID, nil
		}
		if !c.fields.confirmed(chatID) && !last {
			if messageID != 0 {
				_ = c.deleteMessage(ctx, chatID, messageID)
			}
			continue
		}
		return got, messageID, nil
	}
	return 0, 0, fmt.Errorf("telegram %s: no thread field candidates", method)
}

func (c *Client) sendOnce(ctx context.Context, method string, chatID int64, field string, threadID int64, payload platform.Payload, silent bool) (json.RawMessage, error) {
	body := map[string]any{"chat_id": chatID}
	if field != "" && threadID != 0 {
		body[field] = threadID
	}
	if silent {
		body["disable_notification"] = true
	}
	if payload.IsCopy() {
		body["from_chat_id"] = payload.Copy.ChatID
		body["message_id"] = payload.Copy.MessageID
		if payload.Caption != "" {
			body["caption"] = payload.Caption
		}
	} else {
		text := strings.TrimSpace(payload.Text)
		if text == "" {
			text = "(empty)"
		}
		body["text"] = text
		body["disable_web_page_preview"] = true
	}

	var raw json.RawMessage
	if err := c.api.call(ctx, method, body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) deleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.api.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// classify maps err to the platform classes and logs capability gaps once
// per method for the life of the process.
func (c *Client) classify(method string, err error) error {
	out := classify(err)
	if errors.Is(out, platform.ErrCapabilityUnavailable) {
		if _, seen := c.capWarned.LoadOrStore(method, struct{}{}); !seen {
			c.logger.Warn("telegram_capability_unavailable", "method", method, "error", err.Error())
		}
	}
	return out
}

func topicName(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Deal chat"
	}
	if utf8.RuneCountInString(title) <= maxTopicNameRunes {
		return title
	}
	r := []rune(title)
	return string(r[:maxTopicNameRunes])
}
