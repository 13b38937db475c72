package manifest

import "testing"

func TestEncodeDecodeCheckpointPayloadRoundTrip(t *testing.T) {
	entries := map[string]CheckpointEntry{
		"a": {Op: OpPut, Value: []byte("1")},
		"b": {Op: OpDel},
		"c": {Op: OpPut, Value: []byte("")},
	}

	raw, err := encodeCheckpointPayload(entries)
	if err != nil {
		t.Fatal(err)
	}

	got, err := decodeCheckpointPayload(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for k, want := range entries {
		e, ok := got[k]
		if !ok {
			t.Fatalf("missing key %q", k)
		}
		if e.Op != want.Op || string(e.Value) != string(want.Value) {
			t.Fatalf("key %q: got %+v, want %+v", k, e, want)
		}
	}
}

func TestDecodeCheckpointPayloadRejectsBadChecksum(t *testing.T) {
	raw, err := encodeCheckpointPayload(map[string]CheckpointEntry{"a": {Op: OpPut, Value: []byte("1")}})
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xFF

	if _, err := decodeCheckpointPayload(raw); err == nil {
		t.Fatal("expected a checksum error")
	}
}
