// pkg/pager/page.go
package pager

import "sync"

// pageSize is the fixed page size of the heap file. All pages,
// including the header/control page, are exactly this many bytes.
const pageSize = 4096

// headerPageNumber is the 1-based page number of the control page.
const headerPageNumber = uint64(1)

// controlCheckLength is the number of nonce bytes written at startup
// and, on clean shutdown, copied into the following controlCheckLength
// bytes for next-open verification.
const controlCheckLength = 64

// Page is an in-memory handle to one page's bytes. The bytes are a
// private copy, independent of the PageStore's memory mapping: nothing
// a caller does to Page.Bytes() reaches the mapped file (and therefore
// disk) until PageStore.WritePage copies it back in. This is what lets
// the WAL-before-data-page write-ahead ordering hold even though
// mappedFile.Sync flushes the entire mapping rather than one page — an
// unrelated page being evicted can never drag an unlogged mutation of
// this page out to disk, since this page's bytes were never written
// into the mapping in the first place. A Page must not be evicted from
// the BufferCache while any DataItem view into it is outstanding —
// callers enforce this via the BufferCache refcount, not Page itself.
type Page struct {
	mu       sync.RWMutex
	pageNo   uint64
	data     []byte
	dirty    bool
	refCount int
}

func newPage(pageNo uint64, data []byte) *Page {
	return &Page{pageNo: pageNo, data: data}
}

// NewTestPage constructs a standalone Page over the given bytes,
// outside of any PageStore/BufferCache. It exists so other packages'
// tests (record, datamanager, mvcc) can exercise page-shaped data
// without needing a real heap file.
func NewTestPage(pageNo uint64, data []byte) *Page {
	return newPage(pageNo, data)
}

// PageNo returns the 1-based page number.
func (p *Page) PageNo() uint64 {
	return p.pageNo
}

// Bytes returns the page's raw bytes. The caller is responsible for
// holding the page pinned (via BufferCache) for the duration of use.
func (p *Page) Bytes() []byte {
	return p.data
}

// Dirty reports whether the page has unflushed modifications.
func (p *Page) Dirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirty
}

// SetDirty marks or clears the page's dirty flag.
func (p *Page) SetDirty(dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = dirty
}

// FSO returns the free-space offset stored in the first two bytes of a
// data page. Callers must not call this on the header page.
func (p *Page) FSO() uint16 {
	return leUint16(p.data[0:2])
}

// SetFSO writes the free-space offset into the first two bytes of a
// data page.
func (p *Page) SetFSO(offset uint16) {
	putLEUint16(p.data[0:2], offset)
}

// FreeSpace returns the number of bytes available after FSO.
func (p *Page) FreeSpace() int {
	return len(p.data) - int(p.FSO())
}

// InitDataPage resets a freshly appended page to an empty data page:
// FSO = 2 (the offset field itself), rest zeroed.
func (p *Page) InitDataPage() {
	for i := range p.data {
		p.data[i] = 0
	}
	p.SetFSO(2)
}

// InitControlPage fills the first controlCheckLength bytes with the
// supplied nonce and zeroes the clean-shutdown copy region, leaving
// the page looking like an unclean-shutdown state until Close writes
// the copy.
func (p *Page) InitControlPage(nonce []byte) {
	for i := range p.data {
		p.data[i] = 0
	}
	copy(p.data[0:controlCheckLength], nonce)
}

// MarkCleanShutdown copies the first controlCheckLength bytes into the
// following controlCheckLength bytes, per spec.md §9's corrected
// PageManager::close behavior (the original source copies 0..63 into
// 0..63, a no-op that leaves the shutdown check trivially true; here
// we copy 0..64 into 64..128 as intended).
func (p *Page) MarkCleanShutdown() {
	copy(p.data[controlCheckLength:2*controlCheckLength], p.data[0:controlCheckLength])
}

// CleanShutdown reports whether the last close wrote a matching copy:
// true iff bytes [0,64) equal bytes [64,128).
func (p *Page) CleanShutdown() bool {
	a := p.data[0:controlCheckLength]
	b := p.data[controlCheckLength : 2*controlCheckLength]
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func putLEUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
