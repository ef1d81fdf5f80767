package recovery

import (
	"path/filepath"
	"testing"

	"tur/pkg/pager"
	"tur/pkg/record"
	"tur/pkg/wal"
	"tur/pkg/xidstore"
)

type testEnv struct {
	dir   string
	store *pager.PageStore
	pages *pager.BufferCache
	log   *wal.Logger
	xids  *xidstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := pager.OpenPageStore(filepath.Join(dir, "heap.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pages := pager.NewBufferCache(store, 16)

	log, err := wal.Open(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	xids, err := xidstore.Open(filepath.Join(dir, "test.xid"))
	if err != nil {
		t.Fatalf("open xidstore: %v", err)
	}
	t.Cleanup(func() { xids.Close() })

	return &testEnv{dir: dir, store: store, pages: pages, log: log, xids: xids}
}

// reopenFromDisk simulates a crash: it closes the current PageStore
// (without flushing any dirty BufferCache pages — there is nothing to
// flush, since a real crash never gets the chance either) and opens a
// brand new PageStore/BufferCache over the same heap file, so the
// following recovery run observes only what genuinely reached disk via
// earlier WritePage/AppendPage calls, not whatever happened to still
// be resident in the old process's memory.
func (e *testEnv) reopenFromDisk(t *testing.T) *pager.BufferCache {
	t.Helper()
	if err := e.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	store, err := pager.OpenPageStore(filepath.Join(e.dir, "heap.db"))
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	e.store = store
	return pager.NewBufferCache(store, 16)
}

// writeRawInsert appends a new page, writes raw at its start, logs an
// insert record, and returns the page number and offset used.
func (e *testEnv) writeRawInsert(t *testing.T, xid uint64, raw []byte) (pageNumber uint64, offset uint16) {
	t.Helper()
	pn, err := e.pages.NewPage()
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	page, err := e.pages.Get(pn)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	defer e.pages.Release(pn)

	offset = page.FSO()
	copy(page.Bytes()[offset:int(offset)+len(raw)], raw)
	page.SetFSO(offset + uint16(len(raw)))
	page.SetDirty(true)

	logRecord := record.EncodeInsertLog(xid, pn, offset, raw)
	if err := e.log.Append(logRecord); err != nil {
		t.Fatalf("append log: %v", err)
	}
	return pn, offset
}

func TestRecover_RedoesCommittedInsert(t *testing.T) {
	env := newTestEnv(t)

	xid, err := env.xids.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	wrapped := record.Construct([]byte("durable"))
	pn, offset := env.writeRawInsert(t, xid, wrapped)
	if err := env.xids.Commit(xid); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Simulate a crash: the page write never made it to disk (the
	// BufferCache never evicted or flushed it), but the log record
	// survives. Reopen the heap file from scratch so the insert isn't
	// resident in any in-memory cache any more.
	fresh := env.reopenFromDisk(t)

	r := New(fresh, env.log, env.xids, nil)
	if err := r.Run(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	page, err := fresh.Get(pn)
	if err != nil {
		t.Fatalf("get recovered page: %v", err)
	}
	defer fresh.Release(pn)

	item := record.Parse(page, offset)
	if !item.IsValid() {
		t.Fatal("expected redone insert to be valid")
	}
	if string(item.Data()) != "durable" {
		t.Fatalf("got %q", item.Data())
	}
}

func TestRecover_UndoesActiveInsertAndMarksAborted(t *testing.T) {
	env := newTestEnv(t)

	xid, err := env.xids.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	wrapped := record.Construct([]byte("uncommitted"))
	pn, offset := env.writeRawInsert(t, xid, wrapped)
	// xid is left active (crash before commit).

	fresh := env.reopenFromDisk(t)
	r := New(fresh, env.log, env.xids, nil)
	if err := r.Run(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	page, err := fresh.Get(pn)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	defer fresh.Release(pn)

	item := record.Parse(page, offset)
	if item.IsValid() {
		t.Fatal("expected uncommitted insert to be undone (marked invalid)")
	}

	aborted, err := env.xids.IsAborted(xid)
	if err != nil || !aborted {
		t.Fatalf("expected xid marked aborted by recovery, got aborted=%v err=%v", aborted, err)
	}
}
