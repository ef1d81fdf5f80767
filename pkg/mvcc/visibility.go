// pkg/mvcc/visibility.go
package mvcc

import "tur/pkg/xidstore"

// Isolation identifies the isolation level a transaction was opened
// with.
type Isolation int

const (
	ReadCommitted  Isolation = 0
	RepeatableRead Isolation = 1
)

// Snapshot is the set of xids that were active at a transaction's
// begin time, consulted only at Repeatable Read.
type Snapshot map[uint64]struct{}

// NewSnapshot copies active into a Snapshot.
func NewSnapshot(active []uint64) Snapshot {
	s := make(Snapshot, len(active))
	for _, xid := range active {
		s[xid] = struct{}{}
	}
	return s
}

// Contains reports whether xid was in the snapshot.
func (s Snapshot) Contains(xid uint64) bool {
	_, ok := s[xid]
	return ok
}

// View carries the transaction state Visibility needs: its xid,
// isolation level, and (for RR) the snapshot taken at begin.
type View struct {
	XID      uint64
	Level    Isolation
	Snapshot Snapshot
}

// Visibility evaluates the RC/RR predicates of spec.md §4.9 against an
// XIDStore for committed-status lookups.
type Visibility struct {
	xids *xidstore.Store
}

// New creates a Visibility evaluator over xids.
func New(xids *xidstore.Store) *Visibility {
	return &Visibility{xids: xids}
}

func (v *Visibility) committed(xid uint64) bool {
	ok, err := v.xids.IsCommitted(xid)
	return err == nil && ok
}

// IsVisible reports whether entry is visible to the transaction
// described by t.
func (v *Visibility) IsVisible(t View, entry *Entry) bool {
	xcrt := entry.XCRT()
	xdel := entry.XDEL()

	if xcrt == t.XID && xdel == 0 {
		return true
	}

	switch t.Level {
	case ReadCommitted:
		if !v.committed(xcrt) {
			return false
		}
		if xdel == 0 {
			return true
		}
		return xdel != t.XID && !v.committed(xdel)

	case RepeatableRead:
		c := func(x uint64) bool {
			return v.committed(x) && x < t.XID && !t.Snapshot.Contains(x)
		}
		if !c(xcrt) {
			return false
		}
		if xdel == 0 {
			return true
		}
		return xdel != t.XID && !c(xdel)
	}

	return false
}

// IsVersionSkip reports whether an RR transaction's snapshot missed an
// overwrite: committed(XDEL) and (XDEL > t.XID or XDEL in snapshot).
// Callers may choose to auto-abort when this holds. Only meaningful at
// Repeatable Read.
func (v *Visibility) IsVersionSkip(t View, entry *Entry) bool {
	xdel := entry.XDEL()
	if xdel == 0 || !v.committed(xdel) {
		return false
	}
	return xdel > t.XID || t.Snapshot.Contains(xdel)
}
