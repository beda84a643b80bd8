package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
	"github.com/oktaras/ad-marketplace-backend-sub000/test/fakes"
)

type recordedCall struct {
	Method string
	Body   map[string]any
}

// botServer answers Bot API calls through per-method handlers and records
// every request.
type botServer struct {
	t        *testing.T
	mu       sync.Mutex
	calls    []recordedCall
	handlers map[string]func(body map[string]any) (int, string)
}

func newBotServer(t *testing.T) (*botServer, *httptest.Server) {
	t.Helper()
	b := &botServer{t: t, handlers: map[string]func(map[string]any) (int, string){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		method := path.Base(r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		body := map[string]any{}
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode %s body: %v", method, err)
		}

		b.mu.Lock()
		b.calls = append(b.calls, recordedCall{Method: method, Body: body})
		h := b.handlers[method]
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if h == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
			return
		}
		status, resp := h(body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *botServer) handle(method string, h func(body map[string]any) (int, string)) {
	b.mu.Lock()
	b.handlers[method] = h
	b.mu.Unlock()
}

func (b *botServer) callsTo(method string) []recordedCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedCall
	for _, c := range b.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestClient(srv *httptest.Server) *Client {
	return New(Options{Token: "TOKEN", BaseURL: srv.URL, HTTPClient: srv.Client()})
}

func TestConnectRequiresToken(t *testing.T) {
	c := New(Options{})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect() without token should fail")
	}
}

func TestConnectStoresBotIdentity(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("getMe", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":{"id":4242,"is_bot":true,"username":"deal_bot"}}`
	})

	c := newTestClient(srv)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.BotID() != 4242 {
		t.Fatalf("BotID() = %d, want 4242", c.BotID())
	}
}

func TestCreateThreadReturnsTopicID(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("createForumTopic", func(body map[string]any) (int, string) {
		return 200, `{"ok":true,"result":{"message_thread_id":77,"name":"x","icon_color":0}}`
	})

	c := newTestClient(srv)
	long := strings.Repeat("ü", 200)
	id, err := c.CreateThread(context.Background(), 10, long)
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if id != 77 {
		t.Fatalf("CreateThread() = %d, want 77", id)
	}
	name, _ := bot.callsTo("createForumTopic")[0].Body["name"].(string)
	if got := len([]rune(name)); got != maxTopicNameRunes {
		t.Fatalf("topic name has %d runes, want %d", got, maxTopicNameRunes)
	}
}

func TestCreateThreadCapabilityUnavailable(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("createForumTopic", func(map[string]any) (int, string) {
		return 400, `{"ok":false,"error_code":400,"description":"Bad Request: the chat is not a forum"}`
	})

	c := newTestClient(srv)
	_, err := c.CreateThread(context.Background(), 10, "Deal")
	if !errors.Is(err, platform.ErrCapabilityUnavailable) {
		t.Fatalf("CreateThread() error = %v, want capability unavailable", err)
	}
}

func TestCapabilityUnavailableLoggedOncePerMethod(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("createForumTopic", func(map[string]any) (int, string) {
		return 400, `{"ok":false,"error_code":400,"description":"Bad Request: the chat is not a forum"}`
	})

	logs := &fakes.LogSink{}
	c := New(Options{Token: "TOKEN", BaseURL: srv.URL, HTTPClient: srv.Client(), Logger: logs.Logger()})
	for i := 0; i < 2; i++ {
		if _, err := c.CreateThread(context.Background(), int64(10+i), "Deal"); !errors.Is(err, platform.ErrCapabilityUnavailable) {
			t.Fatalf("CreateThread() #%d error = %v, want capability unavailable", i+1, err)
		}
	}
	if n := len(bot.callsTo("createForumTopic")); n != 2 {
		t.Fatalf("expected 2 createForumTopic calls, got %d", n)
	}
	if n := logs.Count("telegram_capability_unavailable"); n != 1 {
		t.Fatalf("telegram_capability_unavailable logged %d times, want 1", n)
	}
}

func TestSendToThreadClassifiesMissingThread(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("sendMessage", func(map[string]any) (int, string) {
		return 400, `{"ok":false,"error_code":400,"description":"Bad Request: message thread not found"}`
	})

	c := newTestClient(srv)
	_, err := c.SendToThread(context.Background(), 10, 5, platform.Payload{Text: "hi"})
	if !platform.IsThreadMissing(err) {
		t.Fatalf("SendToThread() error = %v, want thread missing", err)
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.ErrorCode != 400 {
		t.Fatalf("expected wrapped RequestError, got %v", err)
	}
}

func TestSendToThreadOtherErrorsStayUnclassified(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("sendMessage", func(map[string]any) (int, string) {
		return 429, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3"}`
	})

	c := newTestClient(srv)
	_, err := c.SendToThread(context.Background(), 10, 5, platform.Payload{Text: "hi"})
	if err == nil || platform.IsThreadMissing(err) || errors.Is(err, platform.ErrCapabilityUnavailable) {
		t.Fatalf("SendToThread() error = %v, want plain error", err)
	}
}

func TestSendToThreadNegotiatesFieldAndCachesIt(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("sendMessage", func(body map[string]any) (int, string) {
		if v, ok := body["direct_messages_topic_id"].(float64); ok {
			return 200, `{"ok":true,"result":{"message_id":2,"direct_messages_topic":{"topic_id":` + jsonNumber(v) + `}}}`
		}
		// message_thread_id is ignored: the message lands in the root chat.
		return 200, `{"ok":true,"result":{"message_id":1}}`
	})
	bot.handle("deleteMessage", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":true}`
	})

	c := newTestClient(srv)
	ctx := context.Background()

	got, err := c.SendToThread(ctx, 10, 55, platform.Payload{Text: "first"})
	if err != nil {
		t.Fatalf("SendToThread() error = %v", err)
	}
	if got != 55 {
		t.Fatalf("delivered thread = %d, want 55", got)
	}
	if n := len(bot.callsTo("deleteMessage")); n != 1 {
		t.Fatalf("expected misrouted message to be withdrawn once, got %d deletes", n)
	}

	if _, err := c.SendToThread(ctx, 10, 55, platform.Payload{Text: "second"}); err != nil {
		t.Fatalf("SendToThread() error = %v", err)
	}
	sends := bot.callsTo("sendMessage")
	if len(sends) != 3 {
		t.Fatalf("expected 3 sendMessage calls (2 negotiating + 1 cached), got %d", len(sends))
	}
	if _, ok := sends[2].Body["direct_messages_topic_id"]; !ok {
		t.Fatalf("cached field not used: %v", sends[2].Body)
	}
}

func TestSendToThreadRenegotiatesRejectedField(t *testing.T) {
	bot, srv := newBotServer(t)
	var mu sync.Mutex
	directRejected := false
	bot.handle("sendMessage", func(body map[string]any) (int, string) {
		mu.Lock()
		defer mu.Unlock()
		if v, ok := body["direct_messages_topic_id"].(float64); ok {
			if directRejected {
				return 400, `{"ok":false,"error_code":400,"description":"Bad Request: unknown parameter direct_messages_topic_id"}`
			}
			return 200, `{"ok":true,"result":{"message_id":2,"direct_messages_topic":{"topic_id":` + jsonNumber(v) + `}}}`
		}
		if v, ok := body["message_thread_id"].(float64); ok && directRejected {
			return 200, `{"ok":true,"result":{"message_id":3,"message_thread_id":` + jsonNumber(v) + `}}`
		}
		return 200, `{"ok":true,"result":{"message_id":1}}`
	})
	bot.handle("deleteMessage", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":true}`
	})

	c := newTestClient(srv)
	ctx := context.Background()
	if _, err := c.SendToThread(ctx, 10, 55, platform.Payload{Text: "first"}); err != nil {
		t.Fatalf("SendToThread() error = %v", err)
	}
	if got := c.fields.order(10)[0]; got != "direct_messages_topic_id" {
		t.Fatalf("preferred field = %q, want direct_messages_topic_id", got)
	}

	mu.Lock()
	directRejected = true
	mu.Unlock()

	got, err := c.SendToThread(ctx, 10, 55, platform.Payload{Text: "second"})
	if err != nil {
		t.Fatalf("SendToThread() after rejection error = %v", err)
	}
	if got != 55 {
		t.Fatalf("delivered thread = %d, want 55", got)
	}
	if pref := c.fields.order(10)[0]; pref != "message_thread_id" {
		t.Fatalf("preferred field after rejection = %q, want message_thread_id", pref)
	}
}

func TestSendToThreadCopyUsesCaption(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("copyMessage", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":{"message_id":9}}`
	})

	c := newTestClient(srv)
	ref := &platform.MessageRef{ChatID: 1, MessageID: 2}
	got, err := c.SendToThread(context.Background(), 10, 3, platform.Payload{Copy: ref, Caption: "Advertiser: look"})
	if err != nil {
		t.Fatalf("SendToThread() error = %v", err)
	}
	if got != 3 {
		t.Fatalf("delivered thread = %d, want 3", got)
	}
	body := bot.callsTo("copyMessage")[0].Body
	if body["caption"] != "Advertiser: look" || body["message_thread_id"] != float64(3) {
		t.Fatalf("unexpected copyMessage body: %v", body)
	}
}

func TestVerifyThreadDetectsMisroutedMessage(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("sendMessage", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":{"message_id":5,"message_thread_id":1}}`
	})
	bot.handle("deleteMessage", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":true}`
	})

	c := New(Options{Token: "TOKEN", BaseURL: srv.URL, HTTPClient: srv.Client(), ThreadFields: []string{"message_thread_id"}})
	err := c.VerifyThread(context.Background(), 10, 99)
	if !platform.IsThreadMissing(err) {
		t.Fatalf("VerifyThread() error = %v, want thread missing", err)
	}
	if n := len(bot.callsTo("deleteMessage")); n != 1 {
		t.Fatalf("probe should be deleted, got %d deletes", n)
	}
	if silent := bot.callsTo("sendMessage")[0].Body["disable_notification"]; silent != true {
		t.Fatalf("probe should be silent, got %v", silent)
	}
}

func TestVerifyThreadReachable(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("sendMessage", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":{"message_id":5,"message_thread_id":99,"is_topic_message":true}}`
	})
	bot.handle("deleteMessage", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":true}`
	})

	c := newTestClient(srv)
	if err := c.VerifyThread(context.Background(), 10, 99); err != nil {
		t.Fatalf("VerifyThread() error = %v", err)
	}
}

func TestCheapThreadCheckUsesChatAction(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("sendChatAction", func(body map[string]any) (int, string) {
		if body["message_thread_id"] == float64(404) {
			return 400, `{"ok":false,"error_code":400,"description":"Bad Request: TOPIC_DELETED"}`
		}
		return 200, `{"ok":true,"result":true}`
	})

	c := newTestClient(srv)
	if err := c.ProbeThread(context.Background(), 10, 1); err != nil {
		t.Fatalf("ProbeThread() error = %v", err)
	}
	if err := c.ProbeThread(context.Background(), 10, 404); !platform.IsThreadMissing(err) {
		t.Fatalf("ProbeThread() error = %v, want thread missing", err)
	}
}

func TestDeleteThreadUnsupportedMethod(t *testing.T) {
	_, srv := newBotServer(t)

	c := newTestClient(srv)
	err := c.DeleteThread(context.Background(), 10, 1)
	if !errors.Is(err, platform.ErrCapabilityUnavailable) {
		t.Fatalf("DeleteThread() error = %v, want capability unavailable", err)
	}
}

func TestRenameThread(t *testing.T) {
	bot, srv := newBotServer(t)
	bot.handle("editForumTopic", func(map[string]any) (int, string) {
		return 200, `{"ok":true,"result":true}`
	})

	c := newTestClient(srv)
	if err := c.RenameThread(context.Background(), 10, 7, "Deal #1 (closed)"); err != nil {
		t.Fatalf("RenameThread() error = %v", err)
	}
	body := bot.callsTo("editForumTopic")[0].Body
	if body["name"] != "Deal #1 (closed)" || body["message_thread_id"] != float64(7) {
		t.Fatalf("unexpected editForumTopic body: %v", body)
	}
}

func TestThreadIDFromFallbacks(t *testing.T) {
	cases := map[string]int64{
		`{"message_thread_id":5}`:                  5,
		`{"topic_id":"6"}`:                         6,
		`{"direct_messages_topic":{"topic_id":7}}`: 7,
		`{"message_id":1}`:                         0,
		`{"message_thread_id":0,"thread_id":8}`:    8,
	}
	for raw, want := range cases {
		got, _ := threadIDFrom(json.RawMessage(raw))
		if got != want {
			t.Errorf("threadIDFrom(%s) = %d, want %d", raw, got, want)
		}
	}
}

func jsonNumber(v float64) string {
	b, _ := json.Marshal(int64(v))
	return string(b)
}
