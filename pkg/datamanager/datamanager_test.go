package datamanager

import (
	"path/filepath"
	"testing"

	"tur/pkg/pager"
	"tur/pkg/wal"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()

	store, err := pager.OpenPageStore(filepath.Join(dir, "heap.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pages := pager.NewBufferCache(store, 16)
	free := pager.NewFreeSpaceIndex()

	log, err := wal.Open(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	return New(pages, free, log)
}

func TestManager_InsertAndRead(t *testing.T) {
	m := newTestManager(t)

	uid, err := m.Insert(1, []byte("row-one"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	item, err := m.Read(uid)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if item == nil {
		t.Fatal("expected item to be found")
	}
	defer m.Release(uid)

	if string(item.Data()) != "row-one" {
		t.Fatalf("got %q", item.Data())
	}
}

func TestManager_InsertAllocatesNewPageWhenNoneFree(t *testing.T) {
	m := newTestManager(t)

	var last uint64
	for i := 0; i < 200; i++ {
		uid, err := m.Insert(1, []byte("xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		last = uid
		m.Release(uid)
	}
	if last == 0 {
		t.Fatal("expected inserts to succeed across multiple pages")
	}
}

func TestManager_RebuildFreeSpaceIndex(t *testing.T) {
	m := newTestManager(t)

	uid, err := m.Insert(1, []byte("abc"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	m.Release(uid)

	if err := m.RebuildFreeSpaceIndex(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	// After rebuild, another insert should still find room without error.
	uid2, err := m.Insert(1, []byte("def"))
	if err != nil {
		t.Fatalf("insert after rebuild: %v", err)
	}
	m.Release(uid2)
}
