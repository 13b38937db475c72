package manifest

import "testing"

func TestEncodeDecodeSegmentRoundTrip(t *testing.T) {
	records := []Record{
		{Key: []byte("a"), Op: OpPut, Value: []byte("1")},
		{Key: []byte("b"), Op: OpDel},
		{Key: []byte("c"), Op: OpPut, Value: []byte("")},
	}
	body := encodeSegment(42, records)

	txnID, got, err := decodeSegment(body)
	if err != nil {
		t.Fatal(err)
	}
	if txnID != 42 {
		t.Fatalf("got txnID=%d, want 42", txnID)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i, r := range got {
		if string(r.Key) != string(records[i].Key) || r.Op != records[i].Op || string(r.Value) != string(records[i].Value) {
			t.Fatalf("record %d: got %+v, want %+v", i, r, records[i])
		}
	}
}

func TestDecodeSegmentRejectsBadChecksum(t *testing.T) {
	body := encodeSegment(1, []Record{{Key: []byte("a"), Op: OpPut, Value: []byte("1")}})
	body[len(body)-1] ^= 0xFF // corrupt the trailing checksum byte

	if _, _, err := decodeSegment(body); err == nil {
		t.Fatal("expected a checksum error")
	}
}

func TestDecodeSegmentRejectsShortBody(t *testing.T) {
	if _, _, err := decodeSegment([]byte("short")); err == nil {
		t.Fatal("expected an error for a too-short body")
	}
}
