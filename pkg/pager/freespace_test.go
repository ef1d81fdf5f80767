package pager

import "testing"

func TestFreeSpaceIndex_SelectFindsSufficientBucket(t *testing.T) {
	idx := NewFreeSpaceIndex()
	idx.Add(5, 1000)
	idx.Add(6, 50)

	info := idx.Select(500)
	if info.PageNumber != 5 {
		t.Fatalf("expected page 5 selected, got %d", info.PageNumber)
	}
}

func TestFreeSpaceIndex_SelectEmptyReturnsSentinel(t *testing.T) {
	idx := NewFreeSpaceIndex()
	info := idx.Select(100)
	if info != noFreePage {
		t.Fatalf("expected sentinel for empty index, got %+v", info)
	}
}

func TestFreeSpaceIndex_OverflowBucketLinearScan(t *testing.T) {
	idx := NewFreeSpaceIndex()
	// pageSize/100 * 100 = near-max free space lands in the overflow bucket.
	idx.Add(7, pageSize-10)

	info := idx.Select(pageSize - 20)
	if info.PageNumber != 7 {
		t.Fatalf("expected page 7 from overflow bucket, got %+v", info)
	}
}

func TestFreeSpaceIndex_SelectRemovesEntry(t *testing.T) {
	idx := NewFreeSpaceIndex()
	idx.Add(1, 1000)

	if info := idx.Select(500); info.PageNumber != 1 {
		t.Fatalf("expected page 1 on first select, got %+v", info)
	}
	if info := idx.Select(500); info != noFreePage {
		t.Fatalf("expected sentinel after page consumed, got %+v", info)
	}
}

func TestFreeSpaceIndex_Rebuild(t *testing.T) {
	idx := NewFreeSpaceIndex()
	idx.Add(9, 9999) // should be discarded by Rebuild

	free := map[uint64]int{2: 100, 3: 2000}
	err := idx.Rebuild(3, func(n uint64) (int, error) {
		return free[n], nil
	})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if info := idx.Select(1500); info.PageNumber != 3 {
		t.Fatalf("expected page 3 after rebuild, got %+v", info)
	}
	if info := idx.Select(9000); info != noFreePage {
		t.Fatalf("expected stale page 9 entry to be gone, got %+v", info)
	}
}
