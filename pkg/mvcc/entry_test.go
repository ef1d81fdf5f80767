package mvcc

import "testing"

func TestMakeEntry_EncodesXCRTAndZeroXDEL(t *testing.T) {
	out := MakeEntry([]byte("payload"), 42)
	if len(out) != entryHdr+len("payload") {
		t.Fatalf("unexpected length %d", len(out))
	}

	entry := newEntryOn(t, 42, []byte("payload"))
	if entry.XCRT() != 42 {
		t.Fatalf("expected XCRT 42, got %d", entry.XCRT())
	}
	if entry.XDEL() != 0 {
		t.Fatalf("expected XDEL 0 for fresh entry, got %d", entry.XDEL())
	}
	if string(entry.UserData()) != "payload" {
		t.Fatalf("got %q", entry.UserData())
	}
}
