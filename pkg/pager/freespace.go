// pkg/pager/freespace.go
package pager

import "sync"

// freeSpaceBuckets is the number of buckets in the index (0..100
// inclusive); bucket 100 is the overflow bucket.
const freeSpaceBuckets = 101

// freeSpaceInterval is the span of free space, in bytes, each bucket
// below the overflow bucket represents.
const freeSpaceInterval = pageSize / 100

// PageInfo names a page and the free space it held when last indexed.
type PageInfo struct {
	PageNumber uint64
	FreeSpace  int
}

// noFreePage is the sentinel returned by Select when no page can
// satisfy the request.
var noFreePage = PageInfo{PageNumber: 0, FreeSpace: 0}

// FreeSpaceIndex buckets pages by how much free space they have so a
// caller can quickly find a page able to hold a new record without
// scanning the whole heap file.
type FreeSpaceIndex struct {
	mu      sync.Mutex
	buckets [freeSpaceBuckets][]PageInfo
}

// NewFreeSpaceIndex creates an empty index.
func NewFreeSpaceIndex() *FreeSpaceIndex {
	return &FreeSpaceIndex{}
}

func bucketOf(free int) int {
	b := free / freeSpaceInterval
	if b >= freeSpaceBuckets {
		b = freeSpaceBuckets - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}

// Add records that pageNumber currently has free bytes of free space.
func (idx *FreeSpaceIndex) Add(pageNumber uint64, free int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	b := bucketOf(free)
	idx.buckets[b] = append(idx.buckets[b], PageInfo{PageNumber: pageNumber, FreeSpace: free})
}

// Select removes and returns a page with at least need bytes free, or
// the sentinel {0,0} if none is indexed. It first tries the bucket
// just above need (guaranteeing every entry found there satisfies the
// request without inspection), then falls back to a linear scan of
// the overflow bucket for the first entry that actually has enough
// room.
func (idx *FreeSpaceIndex) Select(need int) PageInfo {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := need/freeSpaceInterval + 1
	if start > freeSpaceBuckets-1 {
		start = freeSpaceBuckets - 1
	}
	if start < 0 {
		start = 0
	}

	for b := start; b < freeSpaceBuckets-1; b++ {
		if n := len(idx.buckets[b]); n > 0 {
			info := idx.buckets[b][n-1]
			idx.buckets[b] = idx.buckets[b][:n-1]
			return info
		}
	}

	overflow := idx.buckets[freeSpaceBuckets-1]
	for i, info := range overflow {
		if info.FreeSpace >= need {
			idx.buckets[freeSpaceBuckets-1] = append(overflow[:i], overflow[i+1:]...)
			return info
		}
	}

	return noFreePage
}

// Rebuild discards all entries and re-populates the index by scanning
// every data page from 2 through pageCount via scan(n), which must
// return the page's current free space. Page 1 (the control page) is
// never indexed. This mirrors the original engine's behavior of
// rebuilding the index from scratch on every open rather than
// persisting it.
func (idx *FreeSpaceIndex) Rebuild(pageCount uint64, scan func(uint64) (int, error)) error {
	idx.mu.Lock()
	for i := range idx.buckets {
		idx.buckets[i] = nil
	}
	idx.mu.Unlock()

	for n := uint64(2); n <= pageCount; n++ {
		free, err := scan(n)
		if err != nil {
			return err
		}
		idx.Add(n, free)
	}
	return nil
}
