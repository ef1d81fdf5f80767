package xidstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_BeginCommitAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.xid")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	xid, err := store.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if xid != 1 {
		t.Fatalf("expected first xid to be 1, got %d", xid)
	}

	active, err := store.IsActive(xid)
	if err != nil || !active {
		t.Fatalf("expected xid %d active, got active=%v err=%v", xid, active, err)
	}

	if err := store.Commit(xid); err != nil {
		t.Fatalf("commit: %v", err)
	}
	committed, err := store.IsCommitted(xid)
	if err != nil || !committed {
		t.Fatalf("expected xid %d committed, got committed=%v err=%v", xid, committed, err)
	}

	xid2, err := store.Begin()
	if err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	if err := store.Abort(xid2); err != nil {
		t.Fatalf("abort: %v", err)
	}
	aborted, err := store.IsAborted(xid2)
	if err != nil || !aborted {
		t.Fatalf("expected xid %d aborted, got aborted=%v err=%v", xid2, aborted, err)
	}
}

func TestStore_SuperXIDAlwaysCommitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.xid")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	committed, err := store.IsCommitted(SuperXID)
	if err != nil || !committed {
		t.Fatalf("expected super xid always committed, got committed=%v err=%v", committed, err)
	}
	active, err := store.IsActive(SuperXID)
	if err != nil || active {
		t.Fatalf("expected super xid never active, got active=%v err=%v", active, err)
	}
}

func TestStore_ReopenPreservesStatuses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.xid")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	xid, err := store.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Commit(xid); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Counter() != xid {
		t.Fatalf("expected counter %d after reopen, got %d", xid, reopened.Counter())
	}
	committed, err := reopened.IsCommitted(xid)
	if err != nil || !committed {
		t.Fatalf("expected xid %d still committed after reopen, got committed=%v err=%v", xid, committed, err)
	}
}

func TestOpen_RejectsSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.xid")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Truncate the file so its size no longer matches the counter.
	if err := os.Truncate(path, counterLen); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if _, err := Open(path); err != ErrSizeMismatch {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
}
