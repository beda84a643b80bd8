// Package lock provides named mutual-exclusion regions scoped to a single
// bridge transaction. Keys are per (deal, side) for thread binding and per
// (deal, GLOBAL) for status recomputation, so the two parties of a deal never
// serialize against each other.
package lock

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5"

	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
)

// Scope is either a deal side or ScopeGlobal.
type Scope string

const ScopeGlobal Scope = "GLOBAL"

type Key struct {
	DealID string
	Scope  Scope
}

func SideKey(dealID string, side deal.Side) Key {
	return Key{DealID: dealID, Scope: Scope(side)}
}

func GlobalKey(dealID string) Key {
	return Key{DealID: dealID, Scope: ScopeGlobal}
}

func (k Key) String() string {
	return "deal_chat:" + k.DealID + ":" + string(k.Scope)
}

// Hash folds the key into the signed 64-bit space used by Postgres advisory
// locks. It must stay stable across releases: every node derives the same
// value for the same key.
func (k Key) Hash() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k.String()))
	return int64(h.Sum64())
}

// Locker acquires the region for key. The returned release func must be
// called once the transaction has finished; backends tied to the transaction
// return a no-op.
type Locker interface {
	Acquire(ctx context.Context, tx pgx.Tx, key Key) (release func(), err error)
}
