// Package mvcc implements the MVCC entry layer (version stamps and
// visibility predicates) and the deadlock-detecting lock table.
package mvcc

import (
	"encoding/binary"

	"tur/pkg/datamanager"
	"tur/pkg/record"
	"tur/pkg/sfcache"
	"tur/pkg/wal"
)

const (
	xcrtLen  = 8
	xdelLen  = 8
	entryHdr = xcrtLen + xdelLen
)

// MakeEntry encodes a user payload with its creating xid:
// [XCRT=xid:8][XDEL=0:8][data].
func MakeEntry(data []byte, xid uint64) []byte {
	out := make([]byte, entryHdr+len(data))
	binary.LittleEndian.PutUint64(out[0:8], xid)
	binary.LittleEndian.PutUint64(out[8:16], 0)
	copy(out[entryHdr:], data)
	return out
}

// Entry is a live view over an Entry-encoded DataItem.
type Entry struct {
	item *record.DataItem
}

// XCRT returns the creating xid, fixed at creation.
func (e *Entry) XCRT() uint64 {
	e.item.ReadLock()
	defer e.item.ReadUnlock()
	return binary.LittleEndian.Uint64(e.item.Data()[0:8])
}

// XDEL returns the deleting xid, or 0 if the entry is live.
func (e *Entry) XDEL() uint64 {
	e.item.ReadLock()
	defer e.item.ReadUnlock()
	return binary.LittleEndian.Uint64(e.item.Data()[8:16])
}

// UserData returns the payload carried after the XCRT/XDEL prefix.
func (e *Entry) UserData() []byte {
	e.item.ReadLock()
	defer e.item.ReadUnlock()
	data := e.item.Data()[entryHdr:]
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// SetXDEL atomically marks this entry deleted by xid, using the
// DataItem before/after write protocol so the mutation is logged to
// the WAL before being made durable-visible.
func (e *Entry) SetXDEL(xid uint64, log *wal.Logger) error {
	e.item.Before()
	binary.LittleEndian.PutUint64(e.item.Data()[8:16], xid)
	return e.item.After(xid, log.Append)
}

// Cache is the EntryCache: a reference-counted, single-flight cache of
// Entry views keyed by uid, mirroring pager.BufferCache and
// datamanager.Manager's own cache. Releasing an entry at refcount zero
// releases the underlying DataItem (and, transitively, its page).
type Cache struct {
	dm      *datamanager.Manager
	entries *sfcache.Cache[uint64, *Entry]
}

// NewCache creates an EntryCache backed by dm.
func NewCache(dm *datamanager.Manager) *Cache {
	c := &Cache{dm: dm}
	c.entries = sfcache.New(c.load, c.evict)
	return c
}

func (c *Cache) load(uid uint64) (*Entry, error) {
	item, err := c.dm.Read(uid)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	return &Entry{item: item}, nil
}

func (c *Cache) evict(uid uint64, entry *Entry) {
	if entry != nil {
		c.dm.Release(uid)
	}
}

// Get returns the Entry for uid, or nil if its DataItem is invalid
// (logically deleted at the storage layer). The caller must call
// Release(uid) exactly once per non-error Get, even when the returned
// Entry is nil.
func (c *Cache) Get(uid uint64) (*Entry, error) {
	return c.entries.Get(uid)
}

// Release drops the reference taken by Get.
func (c *Cache) Release(uid uint64) {
	c.entries.Release(uid)
}

// Insert wraps data as a new entry created by xid and delegates to the
// DataManager, returning the new uid.
func (c *Cache) Insert(xid uint64, data []byte) (uint64, error) {
	return c.dm.Insert(xid, MakeEntry(data, xid))
}
