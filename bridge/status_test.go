package bridge

import (
	"testing"
	"time"

	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
)

var allDealStatuses = []deal.Status{
	deal.StatusCreated, deal.StatusNegotiating, deal.StatusAwaitingPayment, deal.StatusFunded,
	deal.StatusCreativeReview, deal.StatusScheduled, deal.StatusPosted, deal.StatusVerified,
	deal.StatusDisputed, deal.StatusCompleted, deal.StatusCancelled, deal.StatusExpired,
	deal.StatusRefunded, deal.StatusResolved,
}

func TestDeriveStatusClosedIsSticky(t *testing.T) {
	one, two := int64(1), int64(2)
	threads := [][2]*int64{{nil, nil}, {&one, nil}, {nil, &two}, {&one, &two}}

	for _, ds := range allDealStatuses {
		for _, th := range threads {
			if got := DeriveStatus(ds, StatusClosed, th[0], th[1]); got != StatusClosed {
				t.Fatalf("DeriveStatus(%s, CLOSED, %v, %v) = %s, want CLOSED", ds, th[0], th[1], got)
			}
		}
	}
}

func TestDeriveStatusTable(t *testing.T) {
	one, two := int64(1), int64(2)
	cases := []struct {
		name    string
		deal    deal.Status
		current Status
		a, b    *int64
		want    Status
	}{
		{"no threads", deal.StatusFunded, StatusPendingOpen, nil, nil, StatusPendingOpen},
		{"one thread", deal.StatusFunded, StatusPendingOpen, &one, nil, StatusPendingOpen},
		{"both threads", deal.StatusFunded, StatusPendingOpen, &one, &two, StatusActive},
		{"active loses a thread", deal.StatusFunded, StatusActive, nil, &two, StatusPendingOpen},
		{"terminal deal", deal.StatusCompleted, StatusActive, &one, &two, StatusClosed},
		{"terminal without threads", deal.StatusCancelled, StatusPendingOpen, nil, nil, StatusClosed},
	}
	for _, tc := range cases {
		if got := DeriveStatus(tc.deal, tc.current, tc.a, tc.b); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}

	for _, ds := range allDealStatuses {
		got := DeriveStatus(ds, StatusPendingOpen, &one, &two)
		if ds.IsTerminal() && got != StatusClosed {
			t.Errorf("terminal %s derived %s", ds, got)
		}
		if !ds.IsTerminal() && got != StatusActive {
			t.Errorf("non-terminal %s derived %s", ds, got)
		}
	}
}

func TestPlanStatusStampsClosedAtOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	closer := "user-1"

	b := Bridge{Status: StatusActive}
	upd, ok := planStatus(b, StatusClosed, now, &closer)
	if !ok {
		t.Fatal("expected a write for ACTIVE -> CLOSED")
	}
	if upd.closedAt == nil || !upd.closedAt.Equal(now) {
		t.Fatalf("closedAt = %v, want %v", upd.closedAt, now)
	}
	if upd.closedBy == nil || *upd.closedBy != closer {
		t.Fatalf("closedBy = %v", upd.closedBy)
	}

	b.Status = StatusClosed
	b.ClosedAt = upd.closedAt
	if _, ok := planStatus(b, StatusClosed, now.Add(time.Hour), nil); ok {
		t.Fatal("expected no write when already CLOSED")
	}

	if upd, ok := planStatus(Bridge{Status: StatusPendingOpen}, StatusActive, now, nil); !ok || upd.closedAt != nil {
		t.Fatalf("PENDING_OPEN -> ACTIVE: ok=%v closedAt=%v", ok, upd.closedAt)
	}
}

func TestBindResultActivated(t *testing.T) {
	if !(BindResult{Applied: true, Previous: StatusPendingOpen, Status: StatusActive}).Activated() {
		t.Fatal("expected activation")
	}
	if (BindResult{Applied: true, Previous: StatusActive, Status: StatusActive}).Activated() {
		t.Fatal("rebind on an active bridge is not an activation")
	}
	if (BindResult{Applied: false, Previous: StatusPendingOpen, Status: StatusActive}).Activated() {
		t.Fatal("lost bind is not an activation")
	}
}
