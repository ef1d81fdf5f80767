package record

import (
	"testing"

	"tur/pkg/pager"
)

func newTestDataPage(t *testing.T) *pager.Page {
	t.Helper()
	return pager.NewTestPage(1, make([]byte, 4096))
}

func TestConstructAndParse(t *testing.T) {
	page := newTestDataPage(t)
	page.InitDataPage()

	wrapped := Construct([]byte("hello"))
	offset := page.FSO()
	copy(page.Bytes()[offset:int(offset)+len(wrapped)], wrapped)
	page.SetFSO(offset + uint16(len(wrapped)))

	item := Parse(page, offset)
	if !item.IsValid() {
		t.Fatal("expected newly constructed item to be valid")
	}
	if string(item.Data()) != "hello" {
		t.Fatalf("got %q want %q", item.Data(), "hello")
	}
}

func TestDataItem_SetValid(t *testing.T) {
	page := newTestDataPage(t)
	page.InitDataPage()

	wrapped := Construct([]byte("x"))
	offset := page.FSO()
	copy(page.Bytes()[offset:int(offset)+len(wrapped)], wrapped)
	page.SetFSO(offset + uint16(len(wrapped)))

	item := Parse(page, offset)
	item.SetValid(false)
	if item.IsValid() {
		t.Fatal("expected item to be invalid after SetValid(false)")
	}
}

func TestDataItem_BeforeAfterLogsUpdate(t *testing.T) {
	page := newTestDataPage(t)
	page.InitDataPage()

	wrapped := Construct([]byte("ab"))
	offset := page.FSO()
	copy(page.Bytes()[offset:int(offset)+len(wrapped)], wrapped)
	page.SetFSO(offset + uint16(len(wrapped)))

	item := Parse(page, offset)

	var logged []byte
	item.Before()
	item.Data()[0] = 'z'
	err := item.After(7, func(payload []byte) error {
		logged = payload
		return nil
	})
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if logged == nil {
		t.Fatal("expected a log record to be produced")
	}

	decoded := DecodeUpdateLog(logged)
	if decoded.XID != 7 {
		t.Fatalf("expected xid 7, got %d", decoded.XID)
	}
	if string(decoded.OldRaw) == string(decoded.NewRaw) {
		t.Fatal("expected old and new raw to differ")
	}
}

func TestDataItem_UnBeforeRestores(t *testing.T) {
	page := newTestDataPage(t)
	page.InitDataPage()

	wrapped := Construct([]byte("ab"))
	offset := page.FSO()
	copy(page.Bytes()[offset:int(offset)+len(wrapped)], wrapped)
	page.SetFSO(offset + uint16(len(wrapped)))

	item := Parse(page, offset)
	original := append([]byte(nil), item.Data()...)

	item.Before()
	item.Data()[0] = 'z'
	item.UnBefore()

	if string(item.Data()) != string(original) {
		t.Fatalf("expected UnBefore to restore original bytes, got %q", item.Data())
	}
}

func TestUIDRoundTrip(t *testing.T) {
	uid := UID(42, 100)
	pn, off := SplitUID(uid)
	if pn != 42 || off != 100 {
		t.Fatalf("got pageNumber=%d offset=%d, want 42/100", pn, off)
	}
}

func TestInsertLogRoundTrip(t *testing.T) {
	payload := EncodeInsertLog(3, 9, 200, []byte("payload"))
	if PayloadType(payload) != LogTypeInsert {
		t.Fatalf("expected insert type tag, got %d", PayloadType(payload))
	}
	decoded := DecodeInsertLog(payload)
	if decoded.XID != 3 || decoded.PageNumber != 9 || decoded.Offset != 200 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
	if string(decoded.Raw) != "payload" {
		t.Fatalf("got raw %q", decoded.Raw)
	}
}

func TestUpdateLogRoundTrip_NonEmptyBuffers(t *testing.T) {
	payload := EncodeUpdateLog(5, UID(2, 10), []byte("old-value"), []byte("new-value!"))
	decoded := DecodeUpdateLog(payload)

	if len(decoded.OldRaw) != len("old-value") {
		t.Fatalf("expected sized oldRaw buffer, got len %d", len(decoded.OldRaw))
	}
	if string(decoded.OldRaw) != "old-value" {
		t.Fatalf("got oldRaw %q", decoded.OldRaw)
	}
	if string(decoded.NewRaw) != "new-value!" {
		t.Fatalf("got newRaw %q", decoded.NewRaw)
	}
	if decoded.PageNumber != 2 || decoded.Offset != 10 {
		t.Fatalf("expected uid to decode back to page 2 offset 10, got %d/%d", decoded.PageNumber, decoded.Offset)
	}
}
