// Package record implements IronBase's storage record framing:
// a 4-byte little-endian length prefix followed by that many bytes of
// UTF-8 JSON. Grounded on internal/docdb/datafile.go's framing,
// minus the per-record CRC/verification-flag trailer datafile.go adds —
// this store's on-disk frame is exactly length-prefix + JSON bytes;
// per-record integrity beyond that is the WAL's job (internal/wal), not
// the storage log's.
package record

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// LengthPrefixSize is the size in bytes of the frame's length prefix.
const LengthPrefixSize = 4

// MaxPayloadSize bounds a single record's JSON payload to guard against a
// corrupt length prefix causing an unbounded read.
const MaxPayloadSize = 64 * 1024 * 1024

// ErrZeroLength is returned when a frame's length prefix is zero: a
// boundary behavior, "zero-byte JSON is invalid".
var ErrZeroLength = errors.New("record: zero-length frame is not valid JSON")

// ErrPayloadTooLarge is returned when a frame's declared length exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("record: payload exceeds maximum frame size")

// ErrIncompleteFrame is returned by ReadFrame when fewer than LengthPrefixSize
// bytes remain, or the declared payload is truncated — both are the
// "short read after a length prefix" case, treated as a normal
// end-of-log condition for a writable log being reopened.
var ErrIncompleteFrame = errors.New("record: incomplete trailing frame")

// TombstoneKey is the reserved document attribute marking a tombstone record.
const TombstoneKey = "_tombstone"

// IDKey is the reserved document identifier attribute.
const IDKey = "_id"

// MetaKey is the reserved key identifying a metadata record.
const MetaKey = "__meta__"

// Encode frames a JSON document: u32_le(len) || bytes.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrZeroLength
	}
	if uint64(len(payload)) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf, nil
}

// MarshalDoc serializes a document to its bare JSON payload (no frame).
func MarshalDoc(doc map[string]interface{}) ([]byte, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("record: marshal document: %w", err)
	}
	return payload, nil
}

// EncodeDoc marshals a document to JSON and frames it.
func EncodeDoc(doc map[string]interface{}) ([]byte, error) {
	payload, err := MarshalDoc(doc)
	if err != nil {
		return nil, err
	}
	return Encode(payload)
}

// ReadFrame reads a single frame from r, returning the raw JSON payload.
// io.EOF at the length prefix boundary is returned verbatim (normal
// end-of-log). A short read after a valid length prefix returns
// ErrIncompleteFrame, the "truncate trailing partial write" case.
func ReadFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, LengthPrefixSize)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrIncompleteFrame
	}

	length := binary.LittleEndian.Uint32(lenBuf)
	if length == 0 {
		return nil, ErrZeroLength
	}
	if uint64(length) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, ErrIncompleteFrame
	}
	return payload, nil
}

// DecodeDoc parses a frame's payload as a JSON object.
func DecodeDoc(payload []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("record: unmarshal document: %w", err)
	}
	return doc, nil
}

// IsTombstone reports whether doc is a tombstone marker.
func IsTombstone(doc map[string]interface{}) bool {
	v, ok := doc[TombstoneKey]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// IsMeta reports whether doc is a collection-metadata record.
func IsMeta(doc map[string]interface{}) bool {
	_, ok := doc[MetaKey]
	return ok
}

// NewTombstone builds a tombstone document superseding id.
func NewTombstone(id uint64) map[string]interface{} {
	return map[string]interface{}{
		IDKey:         id,
		TombstoneKey: true,
	}
}

// DocID extracts the _id attribute as a uint64, if present and numeric.
func DocID(doc map[string]interface{}) (uint64, bool) {
	v, ok := doc[IDKey]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		return uint64(n), true
	default:
		return 0, false
	}
}
