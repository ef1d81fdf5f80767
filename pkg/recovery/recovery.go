// Package recovery implements crash recovery: a three-pass replay of
// the WAL driven by the XID status file (spec.md §4.8).
package recovery

import (
	"tur/pkg/pager"
	"tur/pkg/record"
	"tur/pkg/wal"
	"tur/pkg/xidstore"

	"github.com/sirupsen/logrus"
)

// Recover replays the WAL against pages and xids. It is invoked by the
// engine at open iff the header page's clean-shutdown check fails.
type Recover struct {
	pages *pager.BufferCache
	log   *wal.Logger
	xids  *xidstore.Store
	l     *logrus.Logger
}

// New creates a Recover bound to the given WAL, page cache, and XID
// store.
func New(pages *pager.BufferCache, log *wal.Logger, xids *xidstore.Store, l *logrus.Logger) *Recover {
	if l == nil {
		l = logrus.New()
		l.SetOutput(noopWriter{})
	}
	return &Recover{pages: pages, log: log, xids: xids, l: l}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// Run executes all three passes in order: truncate, redo, undo.
func (r *Recover) Run() error {
	maxPage, err := r.scanMaxPageNumber()
	if err != nil {
		return err
	}
	r.l.WithField("maxPage", maxPage).Info("recovery: truncating heap to referenced pages")
	if err := r.pages.Truncate(maxPage); err != nil {
		return err
	}

	if err := r.redoCommitted(); err != nil {
		return err
	}
	return r.undoActive()
}

// scanMaxPageNumber is pass 0: find the largest page number referenced
// by any record in the log, defaulting to 1 if the log is empty. This
// guarantees later redo/undo writes never address a page past the end
// of the (possibly truncated) heap file.
func (r *Recover) scanMaxPageNumber() (uint64, error) {
	it, err := r.log.Iterate()
	if err != nil {
		return 0, err
	}

	maxPage := uint64(0)
	for {
		payload, ok, err := it.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		switch record.PayloadType(payload) {
		case record.LogTypeInsert:
			il := record.DecodeInsertLog(payload)
			if il.PageNumber > maxPage {
				maxPage = il.PageNumber
			}
		case record.LogTypeUpdate:
			ul := record.DecodeUpdateLog(payload)
			if ul.PageNumber > maxPage {
				maxPage = ul.PageNumber
			}
		}
	}
	if maxPage == 0 {
		maxPage = 1
	}
	return maxPage, nil
}

// redoCommitted is pass 1: replay, in log order, every record whose xid
// is committed. Unlike the original source, which redoes anything "not
// active" (spec.md §9), records of xids that were already aborted
// before the crash are not redone. Pass 2 does not undo them either: it
// only handles xids that are still active, so an aborted xid's records
// are left as they are on disk.
func (r *Recover) redoCommitted() error {
	it, err := r.log.Iterate()
	if err != nil {
		return err
	}
	for {
		payload, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		xid := recordXID(payload)
		committed, err := r.xids.IsCommitted(xid)
		if err != nil {
			return err
		}
		if !committed {
			continue
		}
		if err := r.applyRedo(payload); err != nil {
			return err
		}
	}
	return nil
}

// undoActive is pass 2: collect every record belonging to a still-
// active xid, then for each xid replay its records in reverse order,
// undoing them, and finally mark the xid aborted.
func (r *Recover) undoActive() error {
	it, err := r.log.Iterate()
	if err != nil {
		return err
	}

	byXID := make(map[uint64][][]byte)
	order := make([]uint64, 0)

	for {
		payload, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		xid := recordXID(payload)
		active, err := r.xids.IsActive(xid)
		if err != nil {
			return err
		}
		if !active {
			continue
		}
		if _, seen := byXID[xid]; !seen {
			order = append(order, xid)
		}
		byXID[xid] = append(byXID[xid], payload)
	}

	for _, xid := range order {
		records := byXID[xid]
		for i := len(records) - 1; i >= 0; i-- {
			if err := r.applyUndo(records[i]); err != nil {
				return err
			}
		}
		if err := r.xids.Abort(xid); err != nil {
			return err
		}
	}
	return nil
}

func recordXID(payload []byte) uint64 {
	switch record.PayloadType(payload) {
	case record.LogTypeInsert:
		return record.DecodeInsertLog(payload).XID
	default:
		return record.DecodeUpdateLog(payload).XID
	}
}

// applyRedo re-applies a committed record's change to its page,
// advancing FSO as needed.
func (r *Recover) applyRedo(payload []byte) error {
	switch record.PayloadType(payload) {
	case record.LogTypeInsert:
		il := record.DecodeInsertLog(payload)
		return r.writeAt(il.PageNumber, il.Offset, il.Raw, true)
	default:
		ul := record.DecodeUpdateLog(payload)
		return r.writeAt(ul.PageNumber, ul.Offset, ul.NewRaw, true)
	}
}

// applyUndo reverts an active (uncommitted) xid's record: an insert is
// undone by forcing the slot's valid byte to 1 (logical delete) rather
// than physically erasing it; an update is undone by restoring oldRaw.
func (r *Recover) applyUndo(payload []byte) error {
	switch record.PayloadType(payload) {
	case record.LogTypeInsert:
		il := record.DecodeInsertLog(payload)
		raw := append([]byte(nil), il.Raw...)
		if len(raw) > 0 {
			raw[0] = 1
		}
		return r.writeAt(il.PageNumber, il.Offset, raw, false)
	default:
		ul := record.DecodeUpdateLog(payload)
		return r.writeAt(ul.PageNumber, ul.Offset, ul.OldRaw, false)
	}
}

// writeAt writes raw at page[offset:] and, for redo only, advances FSO
// to max(FSO, 2+offset+len(raw)) so subsequent inserts never overlap
// replayed data.
func (r *Recover) writeAt(pageNumber uint64, offset uint16, raw []byte, advanceFSO bool) error {
	page, err := r.pages.Get(pageNumber)
	if err != nil {
		return err
	}
	defer r.pages.Release(pageNumber)

	page.SetDirty(true)
	b := page.Bytes()
	copy(b[offset:int(offset)+len(raw)], raw)

	if advanceFSO {
		newEnd := uint16(2 + int(offset) + len(raw))
		if newEnd > page.FSO() {
			page.SetFSO(newEnd)
		}
	}
	return nil
}
