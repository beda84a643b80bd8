// Package fakes holds in-memory stand-ins for the database, the identity
// directory and the messaging platform, shared by package tests.
package fakes

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool hands out Tx values and counts how they finished.
type Pool struct {
	mu        sync.Mutex
	BeginErr  error
	begun     int
	committed int
	rolled    int
}

func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	p.begun++
	return &Tx{pool: p}, nil
}

// Counts returns how many transactions were begun, committed and rolled back
// without a prior commit.
func (p *Pool) Counts() (begun, committed, rolled int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.begun, p.committed, p.rolled
}

// Tx is a no-op transaction. Store methods ignore it.
type Tx struct {
	pool      *Pool
	committed bool
	done      bool
}

func (f *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakes: nested transactions not supported")
}

func (f *Tx) Commit(context.Context) error {
	if f.done {
		return pgx.ErrTxClosed
	}
	f.done = true
	f.committed = true
	if f.pool != nil {
		f.pool.mu.Lock()
		f.pool.committed++
		f.pool.mu.Unlock()
	}
	return nil
}

func (f *Tx) Rollback(context.Context) error {
	if f.done {
		return pgx.ErrTxClosed
	}
	f.done = true
	if f.pool != nil {
		f.pool.mu.Lock()
		f.pool.rolled++
		f.pool.mu.Unlock()
	}
	return nil
}

func (f *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *Tx) Conn() *pgx.Conn {
	return nil
}
