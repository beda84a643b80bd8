package bridge

import (
	"time"

	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
)

// Status is the canonical relay status of a deal chat.
type Status string

const (
	StatusPendingOpen Status = "PENDING_OPEN"
	StatusActive      Status = "ACTIVE"
	StatusClosed      Status = "CLOSED"
)

// Bridge mirrors the deal_chat_bridges table: one row per deal holding both
// parties' platform thread bindings.
type Bridge struct {
	ID             string
	DealID         string
	Status         Status
	ThreadA        *int64
	ThreadB        *int64
	OpenedAtA      *time.Time
	OpenedAtB      *time.Time
	ClosedAt       *time.Time
	ClosedByUserID *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Thread returns the thread bound to side, or nil.
func (b Bridge) Thread(side deal.Side) *int64 {
	if side == deal.SideA {
		return b.ThreadA
	}
	return b.ThreadB
}

// OpenedAt returns when side's current thread was bound, or nil.
func (b Bridge) OpenedAt(side deal.Side) *time.Time {
	if side == deal.SideA {
		return b.OpenedAtA
	}
	return b.OpenedAtB
}

// Candidate is a bridge matched by an inbound thread id together with the
// side whose slot matched.
type Candidate struct {
	Bridge Bridge
	Side   deal.Side
}

// Snapshot is a consistent read of a bridge and its deal.
type Snapshot struct {
	Bridge Bridge
	Deal   deal.Deal
}

// RefreshResult reports a status recomputation.
type RefreshResult struct {
	Snapshot
	Previous Status
}

// Changed reports whether the stored status moved during the refresh.
func (r RefreshResult) Changed() bool {
	return r.Previous != r.Bridge.Status
}

// ClosedNow reports whether this refresh performed the transition into CLOSED.
func (r RefreshResult) ClosedNow() bool {
	return r.Changed() && r.Bridge.Status == StatusClosed
}

// BindResult is the outcome of a compare-and-swap thread assignment.
type BindResult struct {
	Applied bool
	// Current is the slot value after the call: the candidate when applied,
	// otherwise the value that defeated the expectation.
	Current  *int64
	Status   Status
	Previous Status
	Bridge   Bridge
	// Deal is the deal as read under the lock.
	Deal deal.Deal
}

// Activated reports whether this bind moved the bridge into ACTIVE.
func (r BindResult) Activated() bool {
	return r.Applied && r.Previous != StatusActive && r.Status == StatusActive
}

// ClosedNow reports whether this bind moved the bridge into CLOSED, which
// happens when the deal turned terminal after the caller last refreshed.
func (r BindResult) ClosedNow() bool {
	return r.Applied && r.Previous != StatusClosed && r.Status == StatusClosed
}

func sameThread(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
