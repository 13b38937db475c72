package manifest

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	pkgerrors "github.com/pkg/errors"
)

// Op is the kind of mutation one record carries.
type Op uint8

const (
	OpPut Op = iota
	OpDel
)

// Record is one staged mutation within a segment, in the order it was
// applied by its writing transaction (§3: "ordered sequence").
type Record struct {
	Key   []byte
	Op    Op
	Value []byte // meaningful only when Op == OpPut
}

// segment wire format (§6, §9 "format evolution"):
//
//	magic(4="FSG1") version(1) txn_id(8) record_count(4) records... checksum(8)
//
// Each record: key_len(4) key_bytes op_tag(1) value_len(4) value_bytes
// (value_len is 0 and value_bytes absent when op_tag == OpDel).
//
// The checksum is xxhash64 over everything from magic through the last
// record byte, inclusive — matching the teacher's own default checksum
// algorithm. Readers MUST reject a segment that fails checksum and treat it
// as absent (§6); see segment.go's get/list callers.
const (
	segMagic        = "FSG1"
	segFormatV1 byte = 1
	segHeaderLen     = 4 + 1 + 8 + 4 // magic + version + txn_id + record_count
	segChecksumLen   = 8
)

func encodeSegment(txnID uint64, records []Record) []byte {
	body := make([]byte, 0, segHeaderLen+64*len(records))
	body = append(body, segMagic...)
	body = append(body, segFormatV1)
	body = appendU64(body, txnID)
	body = appendU32(body, uint32(len(records)))
	for _, r := range records {
		body = appendU32(body, uint32(len(r.Key)))
		body = append(body, r.Key...)
		body = append(body, byte(r.Op))
		if r.Op == OpPut {
			body = appendU32(body, uint32(len(r.Value)))
			body = append(body, r.Value...)
		} else {
			body = appendU32(body, 0)
		}
	}
	sum := xxhash.Checksum64(body)
	out := make([]byte, len(body)+segChecksumLen)
	copy(out, body)
	binary.BigEndian.PutUint64(out[len(body):], sum)
	return out
}

// decodeSegment validates magic, version, and checksum before parsing
// records; a failure of any of these is ErrCorrupted, never a partial
// parse (§6: "readers MUST reject a segment that fails checksum").
func decodeSegment(raw []byte) (txnID uint64, records []Record, err error) {
	if len(raw) < segHeaderLen+segChecksumLen {
		return 0, nil, pkgerrors.Wrap(ErrCorrupted, "segment: short body")
	}
	body, sumBytes := raw[:len(raw)-segChecksumLen], raw[len(raw)-segChecksumLen:]
	wantSum := binary.BigEndian.Uint64(sumBytes)
	if gotSum := xxhash.Checksum64(body); gotSum != wantSum {
		return 0, nil, pkgerrors.Wrap(ErrCorrupted, "segment: checksum mismatch")
	}
	if string(body[:4]) != segMagic {
		return 0, nil, pkgerrors.Wrap(ErrCorrupted, "segment: bad magic")
	}
	version := body[4]
	if version != segFormatV1 {
		return 0, nil, pkgerrors.Wrapf(ErrCorrupted, "segment: unsupported version %d", version)
	}
	txnID = binary.BigEndian.Uint64(body[5:13])
	count := binary.BigEndian.Uint32(body[13:17])
	off := segHeaderLen
	records = make([]Record, 0, count)
	for i := uint32(0); i < count; i++ {
		r, next, ok := decodeRecord(body, off)
		if !ok {
			return 0, nil, pkgerrors.Wrap(ErrCorrupted, "segment: truncated record")
		}
		records = append(records, r)
		off = next
	}
	return txnID, records, nil
}

func decodeRecord(body []byte, off int) (Record, int, bool) {
	if off+4 > len(body) {
		return Record{}, 0, false
	}
	klen := int(binary.BigEndian.Uint32(body[off:]))
	off += 4
	if off+klen+1 > len(body) {
		return Record{}, 0, false
	}
	key := body[off : off+klen]
	off += klen
	op := Op(body[off])
	off++
	if off+4 > len(body) {
		return Record{}, 0, false
	}
	vlen := int(binary.BigEndian.Uint32(body[off:]))
	off += 4
	if off+vlen > len(body) {
		return Record{}, 0, false
	}
	var value []byte
	if op == OpPut {
		value = body[off : off+vlen]
	}
	off += vlen
	return Record{Key: key, Op: op, Value: value}, off, true
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
