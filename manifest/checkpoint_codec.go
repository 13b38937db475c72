package manifest

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/OneOfOne/xxhash"
	lz4 "github.com/pierrec/lz4/v3"
	pkgerrors "github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// CheckpointEntry is one key's consolidated state as of a checkpoint's
// upto_txn_id: its latest value, or a tombstone if it was deleted within
// range. §9 open question (b) is resolved here as explicit tombstones
// rather than omission, so checkpoint-vs-segment equivalence (§3's
// invariant) doesn't depend on set-difference against the full keyspace —
// a lookup miss against the payload is unambiguous.
type CheckpointEntry struct {
	Op    Op
	Value []byte // set only when Op == OpPut
}

// checkpoint payload wire format: version(1) compressed_flag(1) body
// checksum(8), where body is either raw msgp bytes (compressed_flag=0) or
// lz4-framed msgp bytes (compressed_flag=1). The version byte is the format
// evolution hook named in §9; only one version exists today.
const (
	ckptFormatV1   byte = 1
	ckptHeaderLen       = 2
	ckptChecksumLen = 8
)

// encodeCheckpointPayload serializes entries as a msgp map keyed by the raw
// key bytes (msgp map keys may be arbitrary strings, so keys are carried as
// strings — checkpoint keys are always valid manifest keys, which are
// themselves opaque byte strings per §1, so this is a lossless round trip
// in practice because Go strings are just byte slices with a type tag).
func encodeCheckpointPayload(entries map[string]CheckpointEntry) ([]byte, error) {
	var body []byte
	body = msgp.AppendMapHeader(body, uint32(len(entries)))
	for k, e := range entries {
		body = msgp.AppendString(body, k)
		if e.Op == OpPut {
			body = msgp.AppendMapHeader(body, 2)
			body = msgp.AppendString(body, "op")
			body = msgp.AppendUint8(body, uint8(e.Op))
			body = msgp.AppendString(body, "value")
			body = msgp.AppendBytes(body, e.Value)
		} else {
			body = msgp.AppendMapHeader(body, 1)
			body = msgp.AppendString(body, "op")
			body = msgp.AppendUint8(body, uint8(e.Op))
		}
	}

	compressed, err := lz4Compress(body)
	if err != nil {
		return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: lz4 compress: "+err.Error())
	}

	out := make([]byte, ckptHeaderLen, ckptHeaderLen+len(compressed)+ckptChecksumLen)
	out[0] = ckptFormatV1
	out[1] = 1 // compressed
	out = append(out, compressed...)
	sum := xxhash.Checksum64(out)
	var sumBuf [ckptChecksumLen]byte
	binary.BigEndian.PutUint64(sumBuf[:], sum)
	return append(out, sumBuf[:]...), nil
}

// decodeCheckpointPayload validates the checksum, decompresses, and parses
// the msgp map back into entries.
func decodeCheckpointPayload(raw []byte) (map[string]CheckpointEntry, error) {
	if len(raw) < ckptHeaderLen+ckptChecksumLen {
		return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: short body")
	}
	head, sumBytes := raw[:len(raw)-ckptChecksumLen], raw[len(raw)-ckptChecksumLen:]
	wantSum := binary.BigEndian.Uint64(sumBytes)
	if gotSum := xxhash.Checksum64(head); gotSum != wantSum {
		return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: checksum mismatch")
	}
	version, compressed := head[0], head[1]
	if version != ckptFormatV1 {
		return nil, pkgerrors.Wrapf(ErrCorrupted, "checkpoint: unsupported version %d", version)
	}
	body := head[ckptHeaderLen:]
	if compressed == 1 {
		var err error
		body, err = lz4Decompress(body)
		if err != nil {
			return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: lz4 decompress: "+err.Error())
		}
	}

	sz, body, err := msgp.ReadMapHeaderBytes(body)
	if err != nil {
		return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: map header: "+err.Error())
	}
	entries := make(map[string]CheckpointEntry, sz)
	for i := uint32(0); i < sz; i++ {
		var key string
		key, body, err = msgp.ReadStringBytes(body)
		if err != nil {
			return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: key: "+err.Error())
		}
		fieldCount, rest, err := msgp.ReadMapHeaderBytes(body)
		if err != nil {
			return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: entry header: "+err.Error())
		}
		body = rest
		var entry CheckpointEntry
		for f := uint32(0); f < fieldCount; f++ {
			var field string
			field, body, err = msgp.ReadStringBytes(body)
			if err != nil {
				return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: field name: "+err.Error())
			}
			switch field {
			case "op":
				var op uint8
				op, body, err = msgp.ReadUint8Bytes(body)
				if err != nil {
					return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: op: "+err.Error())
				}
				entry.Op = Op(op)
			case "value":
				var value []byte
				value, body, err = msgp.ReadBytesBytes(body, nil)
				if err != nil {
					return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: value: "+err.Error())
				}
				entry.Value = value
			default:
				return nil, pkgerrors.Wrap(ErrCorrupted, "checkpoint: unknown field "+field)
			}
		}
		entries[key] = entry
	}
	return entries, nil
}

func lz4Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	return io.ReadAll(r)
}
