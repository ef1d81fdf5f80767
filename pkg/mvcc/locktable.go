// pkg/mvcc/locktable.go
package mvcc

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrDeadlock is returned by Acquire when granting the requested wait
// would close a cycle in the wait-for graph. Deadlock detection here
// is preventive: Acquire either succeeds immediately, blocks, or fails
// immediately — there is no timeout-based resolution.
var ErrDeadlock = errors.New("mvcc: deadlock detected")

// Waiter is a one-shot latch: Wait blocks until Signal is called (or
// returns immediately if Signal already ran). Replaces the
// allocate-and-lock-a-mutex-per-waiter idiom with a channel closed on
// release, avoiding any lifetime complications around re-locking a
// mutex from a different goroutine.
type Waiter struct {
	done chan struct{}
}

func newWaiter() *Waiter {
	return &Waiter{done: make(chan struct{})}
}

// Signal releases the waiter. Safe to call at most once.
func (w *Waiter) Signal() { close(w.done) }

// Wait blocks until Signal is called.
func (w *Waiter) Wait() { <-w.done }

// LockTable manages exclusive per-uid write locks with deadlock
// prevention via DFS cycle detection over the wait-for graph
// `xid -> waitingFor[xid] -> owner[uid]`.
type LockTable struct {
	mu         sync.Mutex
	held       map[uint64][]uint64 // xid -> uids held
	owner      map[uint64]uint64   // uid -> holding xid
	waiters    map[uint64][]uint64 // uid -> waiting xids, LIFO (push front, pop front)
	waitingFor map[uint64]uint64   // xid -> uid it is blocked on
	waitLock   map[uint64]*Waiter  // xid -> its latch, while blocked
	log        *logrus.Logger
}

// NewLockTable creates an empty LockTable.
func NewLockTable(log *logrus.Logger) *LockTable {
	if log == nil {
		log = logrus.New()
		log.SetOutput(noopWriter{})
	}
	return &LockTable{
		held:       make(map[uint64][]uint64),
		owner:      make(map[uint64]uint64),
		waiters:    make(map[uint64][]uint64),
		waitingFor: make(map[uint64]uint64),
		waitLock:   make(map[uint64]*Waiter),
		log:        log,
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// Acquire attempts to take the exclusive lock on uid for xid. It
// returns (nil, nil) if the lock was granted immediately (including
// the re-entrant case where xid already holds it), (waiter, nil) if
// the caller must block on waiter.Wait(), or (nil, ErrDeadlock) if
// granting the wait would close a cycle.
func (t *LockTable) Acquire(xid, uid uint64) (*Waiter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, u := range t.held[xid] {
		if u == uid {
			return nil, nil
		}
	}

	owner, busy := t.owner[uid]
	if !busy {
		t.owner[uid] = xid
		t.held[xid] = append(t.held[xid], uid)
		return nil, nil
	}
	if owner == xid {
		return nil, nil
	}

	t.waitingFor[xid] = uid
	t.waiters[uid] = append([]uint64{xid}, t.waiters[uid]...)

	if t.hasCycle() {
		t.undoWaitLocked(xid, uid)
		t.log.WithFields(logrus.Fields{"xid": xid, "uid": uid}).Warn("mvcc: deadlock detected on acquire")
		return nil, ErrDeadlock
	}

	w := newWaiter()
	t.waitLock[xid] = w
	return w, nil
}

// undoWaitLocked reverts the bookkeeping recorded for a wait that will
// not be granted (either because it was found to deadlock or the
// caller otherwise abandons it). Must be called with t.mu held.
func (t *LockTable) undoWaitLocked(xid, uid uint64) {
	delete(t.waitingFor, xid)
	ws := t.waiters[uid]
	for i, w := range ws {
		if w == xid {
			t.waiters[uid] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

// hasCycle runs a DFS from every xid that currently holds at least one
// lock, following xid -> waitingFor[xid] -> owner[uid], using a
// per-scan visited stamp. Must be called with t.mu held.
func (t *LockTable) hasCycle() bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[uint64]int)

	var visit func(xid uint64) bool
	visit = func(xid uint64) bool {
		switch state[xid] {
		case visiting:
			return true
		case done:
			return false
		}
		state[xid] = visiting

		if uid, blocked := t.waitingFor[xid]; blocked {
			if owner, held := t.owner[uid]; held {
				if visit(owner) {
					return true
				}
			}
		}

		state[xid] = done
		return false
	}

	for xid := range t.held {
		if state[xid] == unvisited {
			if visit(xid) {
				return true
			}
		}
	}
	for xid := range t.waitingFor {
		if state[xid] == unvisited {
			if visit(xid) {
				return true
			}
		}
	}
	return false
}

// Release drops every lock xid holds, promoting the first live waiter
// (one still registered in waitLock) on each uid to ownership and
// signaling it.
func (t *LockTable) Release(xid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, uid := range t.held[xid] {
		ws := t.waiters[uid]
		var promoted *uint64
		for len(ws) > 0 {
			candidate := ws[0]
			ws = ws[1:]
			if _, stillWaiting := t.waitLock[candidate]; stillWaiting {
				promoted = &candidate
				break
			}
		}
		t.waiters[uid] = ws

		if promoted != nil {
			t.owner[uid] = *promoted
			t.held[*promoted] = append(t.held[*promoted], uid)
			delete(t.waitingFor, *promoted)
			w := t.waitLock[*promoted]
			delete(t.waitLock, *promoted)
			w.Signal()
		} else {
			delete(t.owner, uid)
		}
	}

	delete(t.held, xid)
	delete(t.waitingFor, xid)
	delete(t.waitLock, xid)
}
