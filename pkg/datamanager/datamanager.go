// Package datamanager implements the entry point for inserting and
// reading DataItem-encoded records, integrating the WAL, BufferCache,
// and FreeSpaceIndex (spec.md component C6).
package datamanager

import (
	"errors"

	"tur/pkg/pager"
	"tur/pkg/record"
	"tur/pkg/sfcache"
	"tur/pkg/wal"
)

// maxInsertRetries bounds the free-space-index / new-page retry loop.
const maxInsertRetries = 10

// ErrInsertFailed is returned if a suitable page could not be found or
// created within maxInsertRetries attempts.
var ErrInsertFailed = errors.New("datamanager: failed to find or create a page for insert")

// Manager is the DataManager: it owns a reference-counted cache of
// DataItem views keyed by uid (the same single-flight pattern as
// pager.BufferCache), backed by the BufferCache for page I/O, the
// FreeSpaceIndex for page selection, and the WAL for durability.
type Manager struct {
	pages *pager.BufferCache
	free  *pager.FreeSpaceIndex
	log   *wal.Logger
	items *sfcache.Cache[uint64, *record.DataItem]
}

// New creates a DataManager over the given pager and WAL.
func New(pages *pager.BufferCache, free *pager.FreeSpaceIndex, log *wal.Logger) *Manager {
	m := &Manager{pages: pages, free: free, log: log}
	m.items = sfcache.New(m.loadItem, m.evictItem)
	return m
}

func (m *Manager) loadItem(uid uint64) (*record.DataItem, error) {
	pageNumber, offset := record.SplitUID(uid)
	page, err := m.pages.Get(pageNumber)
	if err != nil {
		return nil, err
	}
	return record.Parse(page, offset), nil
}

func (m *Manager) evictItem(uid uint64, item *record.DataItem) {
	pageNumber, _ := record.SplitUID(uid)
	m.pages.Release(pageNumber)
}

// Read fetches and pins the DataItem for uid and returns it, or nil if
// the slot's valid bit marks it logically absent (the pin is then
// already dropped). The caller must call Release(uid) when done with a
// non-nil returned item.
func (m *Manager) Read(uid uint64) (*record.DataItem, error) {
	item, err := m.items.Get(uid)
	if err != nil {
		return nil, err
	}
	if !item.IsValid() {
		m.items.Release(uid)
		return nil, nil
	}
	return item, nil
}

// Release drops the reference taken by a Read that returned an item.
// Insert takes no item reference, so Release after Insert has no
// effect.
func (m *Manager) Release(uid uint64) {
	m.items.Release(uid)
}

// Insert wraps data via record.Construct and finds (or creates) a page
// with enough free space, logging the insert to the WAL before the
// page bytes are modified (write-ahead ordering), then returns the new
// uid.
func (m *Manager) Insert(xid uint64, data []byte) (uint64, error) {
	wrapped := record.Construct(data)

	var pageNumber uint64
	found := false

	for attempt := 0; attempt < maxInsertRetries; attempt++ {
		info := m.free.Select(len(wrapped))
		if info.PageNumber != 0 {
			pageNumber = info.PageNumber
			found = true
			break
		}

		newPageNumber, err := m.pages.NewPage()
		if err != nil {
			return 0, err
		}
		page, err := m.pages.Get(newPageNumber)
		if err != nil {
			return 0, err
		}
		m.free.Add(newPageNumber, page.FreeSpace())
		m.pages.Release(newPageNumber)
	}

	if !found {
		return 0, ErrInsertFailed
	}

	page, err := m.pages.Get(pageNumber)
	if err != nil {
		return 0, err
	}
	defer m.pages.Release(pageNumber)

	offset := page.FSO()
	logRecord := record.EncodeInsertLog(xid, pageNumber, offset, wrapped)
	if err := m.log.Append(logRecord); err != nil {
		return 0, err
	}

	page.SetDirty(true)
	b := page.Bytes()
	copy(b[offset:int(offset)+len(wrapped)], wrapped)
	newOffset := offset + uint16(len(wrapped))
	page.SetFSO(newOffset)
	m.free.Add(pageNumber, page.FreeSpace())

	return record.UID(pageNumber, offset), nil
}

// pageScan returns the free space currently recorded in a page's FSO,
// for FreeSpaceIndex.Rebuild.
func (m *Manager) pageScan(pageNumber uint64) (int, error) {
	page, err := m.pages.Get(pageNumber)
	if err != nil {
		return 0, err
	}
	defer m.pages.Release(pageNumber)
	return page.FreeSpace(), nil
}

// RebuildFreeSpaceIndex scans every data page (2..pageCount) and
// repopulates the FreeSpaceIndex, matching the original engine's
// behavior of never persisting the index across opens.
func (m *Manager) RebuildFreeSpaceIndex() error {
	return m.free.Rebuild(m.pages.PageCount(), m.pageScan)
}
