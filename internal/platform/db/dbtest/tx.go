// Package dbtest provides in-memory stand-ins for the transaction boundary.
package dbtest

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory repositories that can roll back.
// Snapshot captures state and returns a function restoring it.
type Snapshotter interface {
	Snapshot() (restore func())
}

type joinedKey struct{}

// Transactor emulates db.Transactor: on error every registered store is
// restored to its state at transaction start. Nested calls join the outer one.
type Transactor struct {
	mu     sync.Mutex
	stores []Snapshotter
	// Commits and Rollbacks count outermost transactions.
	Commits   int
	Rollbacks int
}

// NewTransactor registers the stores that participate in transactions.
func NewTransactor(stores ...Snapshotter) *Transactor {
	return &Transactor{stores: stores}
}

// WithinTx runs fn and restores all stores if it fails.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	restores := make([]func(), 0, len(t.stores))
	for _, s := range t.stores {
		restores = append(restores, s.Snapshot())
	}
	err := fn(context.WithValue(ctx, joinedKey{}, true))
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		for _, restore := range restores {
			restore()
		}
		t.Rollbacks++
		return err
	}
	t.Commits++
	return nil
}

// InTx reports whether ctx belongs to a transaction opened by a Transactor.
func InTx(ctx context.Context) bool {
	return ctx.Value(joinedKey{}) != nil
}
