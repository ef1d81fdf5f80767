// pkg/pager/store.go
package pager

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

// ErrInitFailure names the init-failure condition (the first page of
// the heap file is not page 1). No function in this package returns
// it: OpenPageStore creates page 1 itself when the file is new and
// does not check an existing file's first page.
var ErrInitFailure = errors.New("pager: init failure, first page is not page 1")

// PageStore serializes fixed-size page I/O against a single
// memory-mapped data file. All operations are serialized on a single
// file mutex; writePage/appendPage flush before returning so recovery
// always observes durable bytes.
type PageStore struct {
	mu        sync.Mutex
	mf        *mappedFile
	pageCount uint64
}

// OpenPageStore opens (creating if absent) the heap file at path. A
// brand new file is initialized with one control page carrying a
// random nonce in its first 64 bytes.
func OpenPageStore(path string) (*PageStore, error) {
	mf, err := openMappedFile(path, pageSize)
	if err != nil {
		return nil, err
	}

	ps := &PageStore{mf: mf, pageCount: uint64(mf.Size()) / pageSize}
	if ps.pageCount == 0 {
		ps.pageCount = 1
	}

	if ps.pageCount == 1 && isZero(mf.Slice(0, pageSize)) {
		nonce := make([]byte, controlCheckLength)
		if _, err := rand.Read(nonce); err != nil {
			mf.Close()
			return nil, err
		}
		p := newPage(headerPageNumber, make([]byte, pageSize))
		p.InitControlPage(nonce)
		copy(mf.Slice(0, pageSize), p.Bytes())
		if err := mf.Sync(); err != nil {
			mf.Close()
			return nil, err
		}
	}

	return ps, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// PageCount returns the number of pages currently in the heap file.
func (s *PageStore) PageCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCount
}

// ReadPage returns a Page holding a private copy of the bytes of page
// n (1-based).
func (s *PageStore) ReadPage(n uint64) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPageLocked(n)
}

func (s *PageStore) readPageLocked(n uint64) (*Page, error) {
	if n < 1 || n > s.pageCount {
		return nil, fmt.Errorf("pager: page %d out of range (count=%d)", n, s.pageCount)
	}
	off := int64(n-1) * pageSize
	b := s.mf.Slice(int(off), pageSize)
	if b == nil {
		return nil, fmt.Errorf("pager: page %d not mapped", n)
	}
	data := make([]byte, pageSize)
	copy(data, b)
	return newPage(n, data), nil
}

// WritePage copies page n's private buffer back into the memory
// mapping at its offset and msyncs, making it durable. This is the
// only path by which a Page's bytes reach the mapped file: callers
// (BufferCache eviction, FlushAll) must only call it once the page's
// corresponding WAL record has already been appended and flushed, so
// that a crash between the copy and the msync still leaves recovery
// with a log record to redo.
func (s *PageStore) WritePage(n uint64, page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > s.pageCount {
		return fmt.Errorf("pager: page %d out of range (count=%d)", n, s.pageCount)
	}
	off := int64(n-1) * pageSize
	b := s.mf.Slice(int(off), pageSize)
	if b == nil {
		return fmt.Errorf("pager: page %d not mapped", n)
	}
	copy(b, page.Bytes())
	return s.mf.Sync()
}

// AppendPage grows the heap file by one page, zeroes it as a fresh
// data page, flushes, and returns its new 1-based page number.
func (s *PageStore) AppendPage() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCount := s.pageCount + 1
	if err := s.mf.Grow(int64(newCount) * pageSize); err != nil {
		return 0, err
	}
	s.pageCount = newCount

	p := newPage(newCount, make([]byte, pageSize))
	p.InitDataPage()
	off := int64(newCount-1) * pageSize
	b := s.mf.Slice(int(off), pageSize)
	if b == nil {
		return 0, fmt.Errorf("pager: page %d not mapped", newCount)
	}
	copy(b, p.Bytes())
	if err := s.mf.Sync(); err != nil {
		return 0, err
	}
	return newCount, nil
}

// TruncateToPageCount extends or shrinks the heap file to exactly n
// pages. Used by recovery's pass 0 to guarantee redo writes never
// address missing pages, and capable of shrinking back down if the
// file is longer than necessary.
func (s *PageStore) TruncateToPageCount(n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 {
		n = 1
	}
	target := int64(n) * pageSize
	switch {
	case target > s.mf.Size():
		if err := s.mf.Grow(target); err != nil {
			return err
		}
	case target < s.mf.Size():
		if err := s.mf.Shrink(target); err != nil {
			return err
		}
	default:
		return nil
	}
	s.pageCount = n
	return s.mf.Sync()
}

// Close flushes and unmaps the heap file.
func (s *PageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mf.Sync(); err != nil {
		s.mf.Close()
		return err
	}
	return s.mf.Close()
}
