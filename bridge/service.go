package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
	"github.com/oktaras/ad-marketplace-backend-sub000/lock"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service owns every mutation of deal_chat_bridges. Each operation is one
// short transaction holding a lock from the lock package; no platform call is
// ever made while a lock is held.
type Service struct {
	pool   TxBeginner
	repo   Repository
	deals  deal.Reader
	locker lock.Locker
	now    func() time.Time
}

func NewService(pool TxBeginner, repo Repository, deals deal.Reader, locker lock.Locker) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if deals == nil {
		deals = deal.NewRepository()
	}
	if locker == nil {
		locker = lock.NewAdvisoryLocker()
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		deals:  deals,
		locker: locker,
		now:    time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Refresh reads the bridge (creating it if absent), recomputes the canonical
// status from the deal and persists it when it moved. It runs under the
// deal's GLOBAL lock.
func (s *Service) Refresh(ctx context.Context, dealID string) (RefreshResult, error) {
	var out RefreshResult
	err := s.inTx(ctx, lock.GlobalKey(dealID), func(tx pgx.Tx) error {
		snap, prev, err := s.refreshTx(ctx, tx, dealID, nil, false)
		if err != nil {
			return err
		}
		out = RefreshResult{Snapshot: snap, Previous: prev}
		return nil
	})
	if err != nil {
		return RefreshResult{}, err
	}
	return out, nil
}

// Close moves the bridge to CLOSED on behalf of closedBy. Closing an already
// closed bridge is a no-op that keeps the original closedAt and closer.
func (s *Service) Close(ctx context.Context, dealID, closedBy string) (RefreshResult, error) {
	var by *string
	if closedBy != "" {
		by = &closedBy
	}

	var out RefreshResult
	err := s.inTx(ctx, lock.GlobalKey(dealID), func(tx pgx.Tx) error {
		snap, prev, err := s.refreshTx(ctx, tx, dealID, by, true)
		if err != nil {
			return err
		}
		out = RefreshResult{Snapshot: snap, Previous: prev}
		return nil
	})
	if err != nil {
		return RefreshResult{}, err
	}
	return out, nil
}

// BindThread assigns candidate to side's slot only if the slot still holds
// expected. It is the only way a platform thread becomes canonical for a
// (deal, side). A lost race returns Applied=false with the winning value; the
// caller owns the candidate thread and must suppress it as a stale duplicate.
func (s *Service) BindThread(ctx context.Context, dealID string, side deal.Side, candidate int64, expected *int64) (BindResult, error) {
	if !side.Valid() {
		return BindResult{}, ErrInvalidSide
	}

	var out BindResult
	err := s.inTx(ctx, lock.SideKey(dealID, side), func(tx pgx.Tx) error {
		d, err := s.deals.GetDeal(ctx, tx, dealID)
		if err != nil {
			return err
		}
		b, err := s.repo.GetOrCreate(ctx, tx, dealID, DeriveStatus(d.Status, StatusPendingOpen, nil, nil))
		if err != nil {
			return err
		}

		out.Previous = b.Status
		out.Deal = d
		if !sameThread(b.Thread(side), expected) {
			out.Applied = false
			out.Current = b.Thread(side)
			out.Status = b.Status
			out.Bridge = b
			return nil
		}

		updated, applied, err := s.repo.SetThread(ctx, tx, dealID, side, candidate, expected, s.now())
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("bridge: slot %s of deal %s moved under lock", side, dealID)
		}

		next := DeriveStatus(d.Status, updated.Status, updated.ThreadA, updated.ThreadB)
		if upd, ok := planStatus(updated, next, s.now(), nil); ok {
			updated, err = s.repo.SetStatus(ctx, tx, dealID, upd.status, upd.closedAt, upd.closedBy)
			if err != nil {
				return err
			}
		}

		out.Applied = true
		out.Current = updated.Thread(side)
		out.Status = updated.Status
		out.Bridge = updated
		return nil
	})
	if err != nil {
		return BindResult{}, err
	}
	return out, nil
}

// LoadDeal reads the deal without touching the bridge.
func (s *Service) LoadDeal(ctx context.Context, dealID string) (deal.Deal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return deal.Deal{}, fmt.Errorf("bridge: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.deals.GetDeal(ctx, tx, dealID)
	if err != nil {
		return deal.Deal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return deal.Deal{}, fmt.Errorf("bridge: commit tx: %w", err)
	}
	return d, nil
}

// Candidates lists at most limit bridges whose side owned by partyID is bound
// to threadID, in routing order.
func (s *Service) Candidates(ctx context.Context, threadID int64, partyID string, limit int) ([]Candidate, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bridge: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	out, err := s.repo.FindCandidates(ctx, tx, threadID, partyID, limit)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("bridge: commit tx: %w", err)
	}
	return out, nil
}

func (s *Service) refreshTx(ctx context.Context, tx pgx.Tx, dealID string, closedBy *string, forceClose bool) (Snapshot, Status, error) {
	d, err := s.deals.GetDeal(ctx, tx, dealID)
	if err != nil {
		return Snapshot{}, "", err
	}
	b, err := s.repo.GetOrCreate(ctx, tx, dealID, DeriveStatus(d.Status, StatusPendingOpen, nil, nil))
	if err != nil {
		return Snapshot{}, "", err
	}
	prev := b.Status

	next := DeriveStatus(d.Status, b.Status, b.ThreadA, b.ThreadB)
	if forceClose {
		next = StatusClosed
	}
	if upd, ok := planStatus(b, next, s.now(), closedBy); ok {
		b, err = s.repo.SetStatus(ctx, tx, dealID, upd.status, upd.closedAt, upd.closedBy)
		if err != nil {
			return Snapshot{}, "", err
		}
	}
	return Snapshot{Bridge: b, Deal: d}, prev, nil
}

func (s *Service) inTx(ctx context.Context, key lock.Key, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bridge: begin tx: %w", err)
	}

	release, err := s.locker.Acquire(ctx, tx, key)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	defer release()
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bridge: commit tx: %w", err)
	}
	return nil
}
