package onion

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// RecordKind tags a bookkeeping Record's shape, mirroring the
// (id, serial, parent_id) tables spec section 6 calls for: tables and
// fields are rows in their own logical tables, linked by ParentID.
type RecordKind string

const (
	RecordTable RecordKind = "table"
	RecordField RecordKind = "field"
)

// Record is the compact, self-describing unit of bookkeeping
// persistence: one logical table or field, plus enough attributes to
// rebuild it without consulting anything else but the master key.
// Every attribute is stored as text — base64 for byte strings, decimal
// for integers — so a Record round-trips through Encode/Decode without
// any schema beyond this file.
type Record struct {
	Kind     RecordKind
	ID       uint64
	ParentID uint64 // 0 for a RecordTable; the owning table's ID for a RecordField
	Serial   uint64 // write tag set by the caller; Schema writes 1 on create, 2 on peel, 3 on a salt lease, 0 on a tombstone (not a per-row counter)
	Attrs    map[string]string
}

// compressionThreshold is the encoded-body size above which Encode
// wraps the record in a zstd frame (spec section 6: "an optional zstd
// compression envelope for records whose encoded body exceeds a
// threshold"), reusing the codec the teacher's compress.go already
// pulls in for ciphertext envelopes.
const compressionThreshold = 1024

const (
	flagPlain      byte = 0x00
	flagCompressed byte = 0x01
)

// Encode renders rec into the wire format: one line per attribute,
// sorted by key for determinism, preceded by four header lines (kind,
// id, parent_id, serial), optionally
// zstd-compressed behind a single leading flag byte.
func Encode(rec Record) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "kind=%s\n", rec.Kind)
	fmt.Fprintf(&b, "id=%d\n", rec.ID)
	fmt.Fprintf(&b, "parent_id=%d\n", rec.ParentID)
	fmt.Fprintf(&b, "serial=%d\n", rec.Serial)

	keys := make([]string, 0, len(rec.Attrs))
	for k := range rec.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "a.%s=%s\n", k, base64.StdEncoding.EncodeToString([]byte(rec.Attrs[k])))
	}

	body := []byte(b.String())
	if len(body) <= compressionThreshold {
		return append([]byte{flagPlain}, body...), nil
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, backendErr(err, "constructing zstd encoder")
	}
	defer enc.Close()
	compressed := enc.EncodeAll(body, nil)
	return append([]byte{flagCompressed}, compressed...), nil
}

// Decode reverses Encode.
func Decode(data []byte) (Record, error) {
	if len(data) == 0 {
		return Record{}, corruptionErr("record: empty payload")
	}
	flag, body := data[0], data[1:]
	switch flag {
	case flagPlain:
	case flagCompressed:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return Record{}, backendErr(err, "constructing zstd decoder")
		}
		defer dec.Close()
		plain, err := dec.DecodeAll(body, nil)
		if err != nil {
			return Record{}, corruptionErr("record: zstd decode failed: %v", err)
		}
		body = plain
	default:
		return Record{}, corruptionErr("record: unknown envelope flag 0x%02x", flag)
	}

	rec := Record{Attrs: make(map[string]string)}
	for _, line := range strings.Split(strings.TrimRight(string(body), "\n"), "\n") {
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return Record{}, corruptionErr("record: malformed line %q", line)
		}
		key, val := line[:eq], line[eq+1:]
		switch {
		case key == "kind":
			rec.Kind = RecordKind(val)
		case key == "id":
			v, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return Record{}, corruptionErr("record: bad id %q: %v", val, err)
			}
			rec.ID = v
		case key == "parent_id":
			v, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return Record{}, corruptionErr("record: bad parent_id %q: %v", val, err)
			}
			rec.ParentID = v
		case key == "serial":
			v, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return Record{}, corruptionErr("record: bad serial %q: %v", val, err)
			}
			rec.Serial = v
		case strings.HasPrefix(key, "a."):
			decoded, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				return Record{}, corruptionErr("record: bad attribute %q: %v", key, err)
			}
			rec.Attrs[strings.TrimPrefix(key, "a.")] = string(decoded)
		default:
			return Record{}, corruptionErr("record: unknown field %q", key)
		}
	}
	if rec.Kind == "" {
		return Record{}, corruptionErr("record: missing kind")
	}
	return rec, nil
}
