package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
)

type collectHandler struct {
	mu  sync.Mutex
	got []platform.Inbound
	hit chan struct{}
}

func (h *collectHandler) HandleUpdate(ctx context.Context, in platform.Inbound) {
	h.mu.Lock()
	h.got = append(h.got, in)
	h.mu.Unlock()
	h.hit <- struct{}{}
}

func TestPollerToInbound(t *testing.T) {
	p := NewPoller(New(Options{Token: "T"}), nil, 0, 0)

	in, ok := p.toInbound(update{UpdateID: 1, Message: &message{
		MessageID:       10,
		MessageThreadID: 7,
		IsTopicMessage:  true,
		Chat:            &chat{ID: 500, Type: "private"},
		From:            &user{ID: 500},
		Text:            " hello ",
	}})
	if !ok {
		t.Fatal("expected private topic message to be accepted")
	}
	if in.ThreadID != 7 || in.SenderID != 500 || in.Text != "hello" || in.HasMedia {
		t.Fatalf("unexpected inbound: %+v", in)
	}

	in, ok = p.toInbound(update{UpdateID: 2, Message: &message{
		MessageID: 11,
		Chat:      &chat{ID: 500, Type: "private"},
		From:      &user{ID: 500},
		Caption:   "see attached",
		Photo:     []byte(`[{"file_id":"x"}]`),
	}})
	if !ok || !in.HasMedia || in.Text != "see attached" || in.InThread() {
		t.Fatalf("unexpected media inbound: %+v ok=%v", in, ok)
	}

	rejected := []update{
		{UpdateID: 3},
		{UpdateID: 4, Message: &message{Chat: &chat{ID: 1, Type: "group"}, From: &user{ID: 1}, Text: "x"}},
		{UpdateID: 5, Message: &message{Chat: &chat{ID: 1, Type: "private"}, From: &user{ID: 1, IsBot: true}, Text: "x"}},
		{UpdateID: 6, Message: &message{Chat: &chat{ID: 1, Type: "private"}, From: &user{ID: 1}, ForumTopicCreated: []byte(`{"name":"x"}`)}},
	}
	for _, u := range rejected {
		if _, ok := p.toInbound(u); ok {
			t.Fatalf("update %d should be ignored", u.UpdateID)
		}
	}
}

func TestPollerRunDispatchesAndAdvancesOffset(t *testing.T) {
	bot, srv := newBotServer(t)
	var (
		mu      sync.Mutex
		offsets []float64
	)
	bot.handle("getUpdates", func(body map[string]any) (int, string) {
		off, _ := body["offset"].(float64)
		mu.Lock()
		offsets = append(offsets, off)
		n := len(offsets)
		mu.Unlock()
		if n == 1 {
			return 200, `{"ok":true,"result":[{"update_id":41,"message":{"message_id":1,"chat":{"id":9,"type":"private"},"from":{"id":9},"text":"/status d1"}}]}`
		}
		time.Sleep(20 * time.Millisecond)
		return 200, `{"ok":true,"result":[]}`
	})

	h := &collectHandler{hit: make(chan struct{}, 1)}
	p := NewPoller(newTestClient(srv), h, time.Second, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-h.hit:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
	// Let at least one follow-up poll carry the new offset.
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(offsets)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(offsets) < 2 || offsets[1] != 42 {
		t.Fatalf("offsets = %v, want second poll at 42", offsets)
	}
	if h.got[0].Text != "/status d1" || h.got[0].ChatID != 9 {
		t.Fatalf("unexpected inbound: %+v", h.got[0])
	}
}
