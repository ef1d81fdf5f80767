// pkg/engine/tx.go
package engine

import (
	"context"
	"errors"
	"sync"

	"tur/pkg/mvcc"
)

// ErrTxDone is returned when a transaction has already been committed
// or rolled back.
var ErrTxDone = errors.New("engine: transaction has already been committed or rolled back")

// Tx represents an open transaction against an Engine. A Tx must end
// with a call to Commit or Rollback; after either, further operations
// fail with ErrTxDone.
type Tx struct {
	mu    sync.Mutex
	db    *Engine
	xid   uint64
	level mvcc.Isolation
	done  bool
}

// Begin starts a new transaction at Read Committed isolation.
func (e *Engine) Begin() (*Tx, error) {
	return e.BeginContext(context.Background(), mvcc.ReadCommitted)
}

// BeginLevel starts a new transaction at the given isolation level.
func (e *Engine) BeginLevel(level mvcc.Isolation) (*Tx, error) {
	return e.BeginContext(context.Background(), level)
}

// BeginContext starts a new transaction at the given isolation level,
// honoring ctx cancellation both before and after taking the engine's
// bookkeeping lock.
func (e *Engine) BeginContext(ctx context.Context, level mvcc.Isolation) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrDatabaseClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	xid, err := e.BeginXID(level)
	if err != nil {
		return nil, err
	}

	return &Tx{db: e, xid: xid, level: level}, nil
}

// XID returns the transaction's identifier.
func (tx *Tx) XID() uint64 {
	return tx.xid
}

// Read returns the bytes visible to this transaction at uid.
func (tx *Tx) Read(ctx context.Context, uid uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, ErrTxDone
	}
	return tx.db.Read(tx.xid, uid)
}

// Insert creates a new entry under this transaction and returns its uid.
func (tx *Tx) Insert(ctx context.Context, data []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return 0, ErrTxDone
	}
	return tx.db.Insert(tx.xid, data)
}

// Delete marks uid deleted under this transaction.
func (tx *Tx) Delete(ctx context.Context, uid uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return false, ErrTxDone
	}
	return tx.db.Delete(tx.xid, uid)
}

// Commit commits the transaction. After Commit returns, the
// transaction is no longer valid.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return ErrTxDone
	}
	if err := tx.db.Commit(tx.xid); err != nil {
		return err
	}
	tx.done = true
	return nil
}

// Rollback aborts the transaction. Calling Rollback on an already
// committed or rolled back transaction returns ErrTxDone, allowing the
// common `defer tx.Rollback()` pattern to be a safe no-op after a
// successful Commit by ignoring that error.
func (tx *Tx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return ErrTxDone
	}
	if err := tx.db.Abort(tx.xid); err != nil {
		return err
	}
	tx.done = true
	return nil
}
