package fakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
)

// Store keeps deals and bridges in memory and implements deal.Reader and
// bridge.Repository. Writes apply immediately; rollbacks are not simulated.
// Timestamps come from a logical clock so ordering is deterministic.
type Store struct {
	mu      sync.Mutex
	deals   map[string]deal.Deal
	bridges map[string]bridge.Bridge
	tick    int64
	base    time.Time

	// Writes counts SetThread and SetStatus calls that changed a row.
	Writes int
}

func NewStore() *Store {
	return &Store{
		deals:   make(map[string]deal.Deal),
		bridges: make(map[string]bridge.Bridge),
		base:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddDeal registers a deal between partyA and partyB and returns its id.
func (s *Store) AddDeal(partyA, partyB string, status deal.Status) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nextLocked()
	d := deal.Deal{
		ID:        uuid.NewString(),
		PartyAID:  partyA,
		PartyBID:  partyB,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.deals[d.ID] = d
	return d.ID
}

func (s *Store) SetDealStatus(dealID string, status deal.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.deals[dealID]
	d.Status = status
	d.UpdatedAt = s.nextLocked()
	s.deals[dealID] = d
}

// PutBridge stores b as-is, stamping missing timestamps.
func (s *Store) PutBridge(b bridge.Bridge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.nextLocked()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = s.nextLocked()
	}
	s.bridges[b.DealID] = cloneBridge(b)
}

// Bridge returns a copy of the stored bridge for dealID.
func (s *Store) Bridge(dealID string) (bridge.Bridge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bridges[dealID]
	return cloneBridge(b), ok
}

func (s *Store) GetDeal(ctx context.Context, q deal.Querier, dealID string) (deal.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[dealID]
	if !ok {
		return deal.Deal{}, deal.ErrNotFound
	}
	return d, nil
}

func (s *Store) GetOrCreate(ctx context.Context, tx pgx.Tx, dealID string, initial bridge.Status) (bridge.Bridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bridges[dealID]; ok {
		return cloneBridge(b), nil
	}
	now := s.nextLocked()
	b := bridge.Bridge{
		ID:        uuid.NewString(),
		DealID:    dealID,
		Status:    initial,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.bridges[dealID] = b
	return cloneBridge(b), nil
}

func (s *Store) SetThread(ctx context.Context, tx pgx.Tx, dealID string, side deal.Side, thread int64, expected *int64, openedAt time.Time) (bridge.Bridge, bool, error) {
	if !side.Valid() {
		return bridge.Bridge{}, false, bridge.ErrInvalidSide
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bridges[dealID]
	if !ok {
		return bridge.Bridge{}, false, nil
	}
	cur := b.Thread(side)
	if !equalThread(cur, expected) {
		return bridge.Bridge{}, false, nil
	}
	v := thread
	ts := openedAt.UTC()
	if side == deal.SideA {
		b.ThreadA, b.OpenedAtA = &v, &ts
	} else {
		b.ThreadB, b.OpenedAtB = &v, &ts
	}
	b.UpdatedAt = s.nextLocked()
	s.bridges[dealID] = b
	s.Writes++
	return cloneBridge(b), true, nil
}

func (s *Store) SetStatus(ctx context.Context, tx pgx.Tx, dealID string, status bridge.Status, closedAt *time.Time, closedBy *string) (bridge.Bridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bridges[dealID]
	if !ok {
		return bridge.Bridge{}, bridge.ErrNotFound
	}
	b.Status = status
	if b.ClosedAt == nil && closedAt != nil {
		ts := *closedAt
		b.ClosedAt = &ts
	}
	if b.ClosedByUserID == nil && closedBy != nil {
		by := *closedBy
		b.ClosedByUserID = &by
	}
	b.UpdatedAt = s.nextLocked()
	s.bridges[dealID] = b
	s.Writes++
	return cloneBridge(b), nil
}

func (s *Store) FindCandidates(ctx context.Context, tx pgx.Tx, threadID int64, partyID string, limit int) ([]bridge.Candidate, error) {
	if limit <= 0 {
		limit = 2
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []bridge.Candidate
	for _, b := range s.bridges {
		d, ok := s.deals[b.DealID]
		if !ok {
			continue
		}
		switch {
		case b.ThreadA != nil && *b.ThreadA == threadID && d.PartyAID == partyID:
			out = append(out, bridge.Candidate{Bridge: cloneBridge(b), Side: deal.SideA})
		case b.ThreadB != nil && *b.ThreadB == threadID && d.PartyBID == partyID:
			out = append(out, bridge.Candidate{Bridge: cloneBridge(b), Side: deal.SideB})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Bridge, out[j].Bridge
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) nextLocked() time.Time {
	s.tick++
	return s.base.Add(time.Duration(s.tick) * time.Millisecond)
}

func equalThread(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneBridge(b bridge.Bridge) bridge.Bridge {
	out := b
	out.ThreadA = clonePtr(b.ThreadA)
	out.ThreadB = clonePtr(b.ThreadB)
	out.OpenedAtA = clonePtr(b.OpenedAtA)
	out.OpenedAtB = clonePtr(b.OpenedAtB)
	out.ClosedAt = clonePtr(b.ClosedAt)
	out.ClosedByUserID = clonePtr(b.ClosedByUserID)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
