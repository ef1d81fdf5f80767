// Package record implements the DataItem slotted-record layer: fixed
// [valid:1][size:2][payload] slots embedded in a pager.Page, with the
// before/after/unBefore write protocol that emits update log records
// to the WAL under a write lock.
package record

import (
	"encoding/binary"
	"sync"

	"tur/pkg/pager"
)

const (
	validFlagLen = 1
	sizeFieldLen = 2
	headerLen    = validFlagLen + sizeFieldLen
)

// Construct wraps user data into the on-disk DataItem shape:
// [valid=0][size=len(data)][data].
func Construct(data []byte) []byte {
	out := make([]byte, headerLen+len(data))
	out[0] = 0
	binary.LittleEndian.PutUint16(out[validFlagLen:headerLen], uint16(len(data)))
	copy(out[headerLen:], data)
	return out
}

// UID packs a page number and in-page offset into a single record
// identifier: uid = (pageNumber << 32) | offset.
func UID(pageNumber uint64, offset uint16) uint64 {
	return (pageNumber << 32) | uint64(offset)
}

// SplitUID recovers the page number and offset encoded in a uid.
func SplitUID(uid uint64) (pageNumber uint64, offset uint16) {
	return uid >> 32, uint16(uid & 0xFFFF)
}

// DataItem is a live view into a slot on a pinned pager.Page. Bytes
// alias the page directly; the caller must keep the page pinned
// (BufferCache refcount) for the DataItem's lifetime.
type DataItem struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	page    *pager.Page
	uid     uint64
	offset  uint16
	bytes   []byte // slice of page.Bytes()[offset : offset+3+size]
	old     []byte // snapshot captured by Before(), sized lazily
}

// Parse constructs a DataItem view over the slot at offset on page.
func Parse(page *pager.Page, offset uint16) *DataItem {
	b := page.Bytes()
	size := binary.LittleEndian.Uint16(b[int(offset)+validFlagLen : int(offset)+headerLen])
	full := b[offset : int(offset)+headerLen+int(size)]
	return &DataItem{
		page:   page,
		uid:    UID(page.PageNo(), offset),
		offset: offset,
		bytes:  full,
	}
}

// UID returns this DataItem's record identifier.
func (d *DataItem) UID() uint64 { return d.uid }

// Page returns the owning page.
func (d *DataItem) Page() *pager.Page { return d.page }

// IsValid reports whether the slot's valid byte marks it live (0).
// Readers must treat a slot with valid==1 as logically absent.
func (d *DataItem) IsValid() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bytes[0] == 0
}

// SetValid sets the slot's valid byte: valid=true -> 0, false -> 1.
func (d *DataItem) SetValid(valid bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if valid {
		d.bytes[0] = 0
	} else {
		d.bytes[0] = 1
	}
}

// Data returns the user-data payload region of the slot. Callers doing
// an atomic observation of a versioned payload (e.g. XCRT/XDEL) should
// hold via the read lock window described in spec.md §4.5; Data itself
// does no locking so callers can compose it with Before/After.
func (d *DataItem) Data() []byte {
	return d.bytes[headerLen:]
}

// Raw returns the full on-disk slot bytes ([valid][size][data]).
func (d *DataItem) Raw() []byte {
	return d.bytes
}

// Before begins an in-place modification: takes the write lock, marks
// the owning page dirty, and snapshots the current bytes into the old
// buffer for later undo/logging.
func (d *DataItem) Before() {
	d.mu.Lock()
	d.page.SetDirty(true)
	d.old = append(d.old[:0], d.bytes...)
}

// UnBefore restores the slot's bytes from the Before() snapshot and
// releases the write lock, used when the caller rolls back an in-flight
// edit before calling After.
func (d *DataItem) UnBefore() {
	copy(d.bytes, d.old)
	d.mu.Unlock()
}

// After finalizes a modification begun with Before(): builds an update
// log record from (xid, uid, old, new), appends it to the WAL, and
// releases the write lock. The caller supplies the append function
// (typically wal.Logger.Append) to keep this package independent of
// the WAL wire format's package boundary.
func (d *DataItem) After(xid uint64, appendLog func([]byte) error) error {
	logRecord := EncodeUpdateLog(xid, d.uid, d.old, d.bytes)
	if err := appendLog(logRecord); err != nil {
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()
	return nil
}

// ReadLock/ReadUnlock bracket an atomic observation of the slot's
// bytes (used by MVCC visibility checks reading XCRT/XDEL).
func (d *DataItem) ReadLock()   { d.mu.RLock() }
func (d *DataItem) ReadUnlock() { d.mu.RUnlock() }
