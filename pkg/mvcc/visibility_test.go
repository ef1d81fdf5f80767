package mvcc

import (
	"path/filepath"
	"testing"

	"tur/pkg/pager"
	"tur/pkg/record"
	"tur/pkg/wal"
	"tur/pkg/xidstore"
)

func newTestWAL(t *testing.T) *wal.Logger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	log, err := wal.Open(path)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func newEntryOn(t *testing.T, xid uint64, data []byte) *Entry {
	t.Helper()
	page := pager.NewTestPage(2, make([]byte, 4096))
	page.InitDataPage()

	wrapped := record.Construct(MakeEntry(data, xid))
	offset := page.FSO()
	copy(page.Bytes()[offset:int(offset)+len(wrapped)], wrapped)
	page.SetFSO(offset + uint16(len(wrapped)))

	item := record.Parse(page, offset)
	return &Entry{item: item}
}

func newTestXIDStore(t *testing.T) *xidstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.xid")
	store, err := xidstore.Open(path)
	if err != nil {
		t.Fatalf("open xidstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestVisibility_OwnUncommittedRowIsVisibleToCreator(t *testing.T) {
	xids := newTestXIDStore(t)
	xid, err := xids.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	entry := newEntryOn(t, xid, []byte("row"))

	vis := New(xids)
	view := View{XID: xid, Level: ReadCommitted}
	if !vis.IsVisible(view, entry) {
		t.Fatal("expected creator to see its own uncommitted row")
	}
}

func TestVisibility_ReadCommitted_InvisibleUntilCommitted(t *testing.T) {
	xids := newTestXIDStore(t)
	creator, err := xids.Begin()
	if err != nil {
		t.Fatalf("begin creator: %v", err)
	}
	reader, err := xids.Begin()
	if err != nil {
		t.Fatalf("begin reader: %v", err)
	}
	entry := newEntryOn(t, creator, []byte("row"))

	vis := New(xids)
	readerView := View{XID: reader, Level: ReadCommitted}
	if vis.IsVisible(readerView, entry) {
		t.Fatal("expected row to be invisible before creator commits")
	}

	if err := xids.Commit(creator); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !vis.IsVisible(readerView, entry) {
		t.Fatal("expected row to become visible after creator commits")
	}
}

func TestVisibility_RepeatableRead_SnapshotHidesLaterCommit(t *testing.T) {
	xids := newTestXIDStore(t)
	creator, err := xids.Begin()
	if err != nil {
		t.Fatalf("begin creator: %v", err)
	}
	// Reader begins before creator commits, so creator is in its snapshot.
	reader, err := xids.Begin()
	if err != nil {
		t.Fatalf("begin reader: %v", err)
	}
	if err := xids.Commit(creator); err != nil {
		t.Fatalf("commit creator: %v", err)
	}

	entry := newEntryOn(t, creator, []byte("row"))
	vis := New(xids)

	readerView := View{XID: reader, Level: RepeatableRead, Snapshot: NewSnapshot([]uint64{creator})}
	if vis.IsVisible(readerView, entry) {
		t.Fatal("expected RR snapshot to hide a row created by a tx active at begin time")
	}
}

func TestVisibility_DeletedRowHiddenOnceDeleterCommits(t *testing.T) {
	xids := newTestXIDStore(t)
	creator, err := xids.Begin()
	if err != nil {
		t.Fatalf("begin creator: %v", err)
	}
	if err := xids.Commit(creator); err != nil {
		t.Fatalf("commit creator: %v", err)
	}

	deleter, err := xids.Begin()
	if err != nil {
		t.Fatalf("begin deleter: %v", err)
	}
	entry := newEntryOn(t, creator, []byte("row"))

	vis := New(xids)
	reader, err := xids.Begin()
	if err != nil {
		t.Fatalf("begin reader: %v", err)
	}
	readerView := View{XID: reader, Level: ReadCommitted}

	log := newTestWAL(t)
	if err := entry.SetXDEL(deleter, log); err != nil {
		t.Fatalf("set xdel: %v", err)
	}

	if !vis.IsVisible(readerView, entry) {
		t.Fatal("expected row still visible before deleter commits")
	}

	if err := xids.Commit(deleter); err != nil {
		t.Fatalf("commit deleter: %v", err)
	}
	if vis.IsVisible(readerView, entry) {
		t.Fatal("expected row hidden after deleter commits")
	}
}
