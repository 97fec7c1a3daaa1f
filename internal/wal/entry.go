// Package wal implements IronBase's write-ahead log: one
// entry per Begin/Op/Commit/Abort, CRC-32 checked, replayed on open.
// Grounded on internal/wal's format.go (length-
// prefixed, CRC-trailed record shape; writer.go/reader.go's
// Writer/Reader split; recovery.go's segment-replay-with-handler
// pattern) but narrowed to one WAL type
// byte per Begin/Op/Commit/Abort rather than a richer
// per-document OperationType multiplexed into the same byte.
package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Type is the WAL entry kind: one byte.
type Type byte

const (
	Begin  Type = 0x01
	Op     Type = 0x02
	Commit Type = 0x03
	Abort  Type = 0x04
)

func (t Type) String() string {
	switch t {
	case Begin:
		return "Begin"
	case Op:
		return "Op"
	case Commit:
		return "Commit"
	case Abort:
		return "Abort"
	default:
		return "Unknown"
	}
}

const (
	txIDSize   = 8
	typeSize   = 1
	lenSize    = 4
	crcSize    = 4
	HeaderSize = txIDSize + typeSize + lenSize
)

// MaxPayloadSize bounds a single WAL entry's payload.
const MaxPayloadSize = 64 * 1024 * 1024

var (
	ErrCorruptEntry    = errors.New("wal: corrupt entry: invalid length or format")
	ErrCRCMismatch     = errors.New("wal: CRC mismatch")
	ErrPayloadTooLarge = errors.New("wal: payload exceeds maximum size")
)

// Entry is one WAL record: (tx_id, type, payload_len, payload, crc32).
// Checksum covers tx_id || type || payload_len || payload.
type Entry struct {
	TxID    uint64
	Type    Type
	Payload []byte
}

// Encode serializes e to its on-disk wire layout.
func Encode(e Entry) ([]byte, error) {
	if uint64(len(e.Payload)) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	total := HeaderSize + len(e.Payload) + crcSize
	buf := make([]byte, total)

	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], e.TxID)
	offset += txIDSize

	buf[offset] = byte(e.Type)
	offset += typeSize

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(e.Payload)))
	offset += lenSize

	copy(buf[offset:], e.Payload)
	offset += len(e.Payload)

	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:], crc)

	return buf, nil
}

// Decode parses a full on-disk entry (header + payload + crc) previously
// produced by Encode, validating its CRC.
func Decode(data []byte) (Entry, error) {
	if len(data) < HeaderSize+crcSize {
		return Entry{}, ErrCorruptEntry
	}

	offset := 0
	txID := binary.LittleEndian.Uint64(data[offset:])
	offset += txIDSize

	typ := Type(data[offset])
	offset += typeSize

	payloadLen := binary.LittleEndian.Uint32(data[offset:])
	offset += lenSize

	if uint64(offset)+uint64(payloadLen)+crcSize != uint64(len(data)) {
		return Entry{}, ErrCorruptEntry
	}

	payload := data[offset : offset+int(payloadLen)]
	offset += int(payloadLen)

	storedCRC := binary.LittleEndian.Uint32(data[offset:])
	computedCRC := crc32.ChecksumIEEE(data[:offset])
	if storedCRC != computedCRC {
		return Entry{}, ErrCRCMismatch
	}

	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return Entry{TxID: txID, Type: typ, Payload: payloadCopy}, nil
}
