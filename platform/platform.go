// Package platform defines the messaging platform contract used by the deal
// chat relay. Implementations live in subpackages.
package platform

import (
	"context"
	"errors"
)

var (
	// ErrThreadMissing covers every "thread not found / deleted / invalid id"
	// answer from the platform.
	ErrThreadMissing = errors.New("platform: thread missing")
	// ErrCapabilityUnavailable is returned when the platform build does not
	// support the requested thread operation.
	ErrCapabilityUnavailable = errors.New("platform: capability unavailable")
)

// MessageRef addresses an existing platform message.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Payload is what gets delivered into a thread: either plain text, or a copy
// of an existing message with an optional caption.
type Payload struct {
	Text    string
	Copy    *MessageRef
	Caption string
}

// IsCopy reports whether the payload copies an existing message.
func (p Payload) IsCopy() bool {
	return p.Copy != nil
}

// Adapter is the narrow surface the relay needs from the platform. Thread
// identifiers are scoped to chatID.
type Adapter interface {
	Connect(ctx context.Context) error
	Close() error

	CreateThread(ctx context.Context, chatID int64, title string) (int64, error)
	// SendToThread delivers payload and returns the thread id the platform
	// reports the message landed in.
	SendToThread(ctx context.Context, chatID, threadID int64, payload Payload) (int64, error)
	// ProbeThread is a cheap liveness check. A nil error means reachable.
	ProbeThread(ctx context.Context, chatID, threadID int64) error
	// VerifyThread sends and deletes a throwaway message and checks that it
	// landed in threadID.
	VerifyThread(ctx context.Context, chatID, threadID int64) error
	RenameThread(ctx context.Context, chatID, threadID int64, title string) error
	// DeleteThread may return ErrCapabilityUnavailable; callers fall back to
	// RenameThread.
	DeleteThread(ctx context.Context, chatID, threadID int64) error
}

// Inbound is one message received from a user.
type Inbound struct {
	UpdateID  int64
	SenderID  int64
	ChatID    int64
	ThreadID  int64
	MessageID int64
	Text      string
	// HasMedia is set for anything that is not plain text (photos, files,
	// stickers, voice...).
	HasMedia bool
}

// InThread reports whether the message was posted inside a thread rather than
// the root of the chat.
func (in Inbound) InThread() bool {
	return in.ThreadID != 0
}

// Handler consumes inbound messages.
type Handler interface {
	HandleUpdate(ctx context.Context, in Inbound)
}

// IsThreadMissing reports whether err belongs to the thread-missing class.
func IsThreadMissing(err error) bool {
	return errors.Is(err, ErrThreadMissing)
}
