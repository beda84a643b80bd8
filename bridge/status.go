package bridge

import (
	"time"

	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
)

// DeriveStatus computes the canonical bridge status. CLOSED is absorbing: a
// closed bridge stays closed whatever the thread bindings look like.
func DeriveStatus(dealStatus deal.Status, current Status, threadA, threadB *int64) Status {
	switch {
	case dealStatus.IsTerminal():
		return StatusClosed
	case current == StatusClosed:
		return StatusClosed
	case threadA != nil && threadB != nil:
		return StatusActive
	default:
		return StatusPendingOpen
	}
}

// statusUpdate is the write needed to move a bridge to next, or ok=false when
// the stored status already matches. closedAt is stamped only on the first
// transition into CLOSED.
type statusUpdate struct {
	status   Status
	closedAt *time.Time
	closedBy *string
}

func planStatus(b Bridge, next Status, now time.Time, closedBy *string) (statusUpdate, bool) {
	if b.Status == next {
		return statusUpdate{}, false
	}
	upd := statusUpdate{status: next}
	if next == StatusClosed && b.ClosedAt == nil {
		ts := now.UTC()
		upd.closedAt = &ts
		upd.closedBy = closedBy
	}
	return upd, true
}
