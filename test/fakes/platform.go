package fakes

import (
	"context"
	"sync"

	"github.com/oktaras/ad-marketplace-backend-sub000/platform"
)

type threadKey struct {
	chat   int64
	thread int64
}

// Sent is one delivered message.
type Sent struct {
	ChatID   int64
	ThreadID int64
	Payload  platform.Payload
}

// Platform is an in-memory messaging platform. Threads live until Kill or
// DeleteThread; sends into dead threads fail with platform.ErrThreadMissing.
type Platform struct {
	mu      sync.Mutex
	next    int64
	alive   map[threadKey]bool
	titles  map[threadKey]string
	sent    []Sent
	created []int64

	// CreateErr fails every CreateThread call.
	CreateErr error
	// DeleteUnsupported makes DeleteThread report ErrCapabilityUnavailable.
	DeleteUnsupported bool
	// BeforeSend may fail a send before it is delivered.
	BeforeSend func(p *Platform, chatID, threadID int64, payload platform.Payload) error
	// AfterCreate runs after every CreateThread, outside the lock.
	AfterCreate func(p *Platform, chatID, threadID int64)
	// ProbeErr overrides ProbeThread and VerifyThread results when set.
	ProbeErr error

	Probes   int
	Verifies int
	Renames  int
	Deletes  int
}

var _ platform.Adapter = (*Platform)(nil)

func NewPlatform() *Platform {
	return &Platform{
		next:   1000,
		alive:  make(map[threadKey]bool),
		titles: make(map[threadKey]string),
	}
}

func (p *Platform) Connect(ctx context.Context) error { return nil }
func (p *Platform) Close() error                      { return nil }

func (p *Platform) CreateThread(ctx context.Context, chatID int64, title string) (int64, error) {
	p.mu.Lock()
	if p.CreateErr != nil {
		p.mu.Unlock()
		return 0, p.CreateErr
	}
	id := p.addLocked(chatID, title)
	hook := p.AfterCreate
	p.mu.Unlock()

	if hook != nil {
		hook(p, chatID, id)
	}
	return id, nil
}

// AddThread creates a live thread without running hooks, as another
// process sharing the bot would.
func (p *Platform) AddThread(chatID int64, title string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(chatID, title)
}

func (p *Platform) addLocked(chatID int64, title string) int64 {
	p.next++
	k := threadKey{chatID, p.next}
	p.alive[k] = true
	p.titles[k] = title
	p.created = append(p.created, p.next)
	return p.next
}

func (p *Platform) SendToThread(ctx context.Context, chatID, threadID int64, payload platform.Payload) (int64, error) {
	p.mu.Lock()
	hook := p.BeforeSend
	p.mu.Unlock()
	if hook != nil {
		if err := hook(p, chatID, threadID, payload); err != nil {
			return 0, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if threadID != 0 && !p.alive[threadKey{chatID, threadID}] {
		return 0, platform.ErrThreadMissing
	}
	p.sent = append(p.sent, Sent{ChatID: chatID, ThreadID: threadID, Payload: payload})
	return threadID, nil
}

func (p *Platform) ProbeThread(ctx context.Context, chatID, threadID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Probes++
	return p.liveness(chatID, threadID)
}

func (p *Platform) VerifyThread(ctx context.Context, chatID, threadID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Verifies++
	return p.liveness(chatID, threadID)
}

func (p *Platform) liveness(chatID, threadID int64) error {
	if p.ProbeErr != nil {
		return p.ProbeErr
	}
	if !p.alive[threadKey{chatID, threadID}] {
		return platform.ErrThreadMissing
	}
	return nil
}

func (p *Platform) RenameThread(ctx context.Context, chatID, threadID int64, title string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := threadKey{chatID, threadID}
	if _, ok := p.titles[k]; !ok {
		return platform.ErrThreadMissing
	}
	p.titles[k] = title
	p.Renames++
	return nil
}

func (p *Platform) DeleteThread(ctx context.Context, chatID, threadID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DeleteUnsupported {
		return platform.ErrCapabilityUnavailable
	}
	k := threadKey{chatID, threadID}
	if !p.alive[k] {
		return platform.ErrThreadMissing
	}
	p.alive[k] = false
	p.Deletes++
	return nil
}

// Kill makes a thread disappear without telling anyone, as when a user
// deletes the topic.
func (p *Platform) Kill(chatID, threadID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive[threadKey{chatID, threadID}] = false
}

// Created returns the ids of every thread created so far.
func (p *Platform) Created() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.created...)
}

// Title returns the current title of a thread.
func (p *Platform) Title(chatID, threadID int64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.titles[threadKey{chatID, threadID}]
}

// Texts returns the text (or caption) of every message delivered into the
// thread, in order. threadID 0 addresses the chat root.
func (p *Platform) Texts(chatID, threadID int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, s := range p.sent {
		if s.ChatID != chatID || s.ThreadID != threadID {
			continue
		}
		if s.Payload.IsCopy() {
			out = append(out, s.Payload.Caption)
		} else {
			out = append(out, s.Payload.Text)
		}
	}
	return out
}

// SentTo returns every delivery into chatID.
func (p *Platform) SentTo(chatID int64) []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Sent
	for _, s := range p.sent {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}
