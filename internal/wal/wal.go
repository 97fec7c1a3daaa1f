package wal

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/petitan/ironbase/internal/ironerr"
	"github.com/petitan/ironbase/internal/logger"
)

// WAL is the write-ahead log file.
type WAL struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *logger.Logger
}

// Open opens (creating if absent) the WAL file at path.
func Open(path string, log *logger.Logger) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	return &WAL{path: path, file: file, logger: log}, nil
}

// Append writes entry to the end of the WAL and returns its offset.
func (w *WAL) Append(e Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, err := Encode(e)
	if err != nil {
		return 0, ironerr.Wrap(ironerr.CodeSerializationError, err)
	}

	offset, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	if _, err := w.file.Write(buf); err != nil {
		return 0, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	return uint64(offset), nil
}

// Flush is the WAL's durability point: fsync.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	return nil
}

// Close performs a best-effort flush and closes the file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.file.Sync()
	return w.file.Close()
}

// Size returns the current WAL file size.
func (w *WAL) Size() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := w.file.Stat()
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

// Tx is one committed transaction as reconstructed by Replay: the Begin's
// tx id plus every Op payload between it and its Commit, in order.
type Tx struct {
	TxID uint64
	Ops  [][]byte
}

// readEntry reads one raw (undecoded) entry from r, returning the decoded
// Entry and the number of bytes consumed. io.EOF signals a clean end of
// file. Any other error means a truncated or corrupt trailing entry,
// which Replay discards ("validate each entry's CRC,
// discarding anything past the first corrupted frame").
func readEntry(r io.Reader) (Entry, int, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, 0, io.EOF
		}
		return Entry{}, 0, ErrCorruptEntry
	}

	payloadLen := binary.LittleEndian.Uint32(header[txIDSize+typeSize:])
	if uint64(payloadLen) > MaxPayloadSize {
		return Entry{}, 0, ErrCorruptEntry
	}

	rest := make([]byte, int(payloadLen)+crcSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Entry{}, 0, ErrCorruptEntry
	}

	full := make([]byte, 0, len(header)+len(rest))
	full = append(full, header...)
	full = append(full, rest...)

	e, err := Decode(full)
	if err != nil {
		return Entry{}, 0, err
	}
	return e, len(full), nil
}

// Replay reads the WAL from offset 0, validates every entry's CRC
// (discarding anything past the first corrupted entry), groups entries by
// tx_id, and returns only transactions whose final entry is Commit.
// A transaction with no Commit entry — whether
// because it was Aborted or simply never finished — is omitted entirely,
// matching the invariant that "a transaction with no Commit entry
// in the WAL is logically nonexistent").
func (w *WAL) Replay() ([]Tx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}

	type building struct {
		ops       [][]byte
		committed bool
	}
	order := make([]uint64, 0)
	txs := make(map[uint64]*building)

	var consumedOffset int64
	for {
		e, n, err := readEntry(w.file)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			w.logger.Warn("wal: discarding trailing entries after corruption at offset %d: %v", consumedOffset, err)
			break
		}
		consumedOffset += int64(n)

		b, ok := txs[e.TxID]
		if !ok {
			b = &building{}
			txs[e.TxID] = b
			order = append(order, e.TxID)
		}

		switch e.Type {
		case Begin:
			// no-op: presence of any entry already registers the tx
		case Op:
			b.ops = append(b.ops, e.Payload)
		case Commit:
			b.committed = true
		case Abort:
			b.committed = false
			b.ops = nil
		}
	}

	result := make([]Tx, 0, len(order))
	for _, id := range order {
		b := txs[id]
		if b.committed {
			result = append(result, Tx{TxID: id, Ops: b.ops})
		}
	}
	return result, nil
}

// Checkpoint rewrites the WAL, keeping only entries whose tx_id is not in
// committedIDs: the set of transactions
// already durably applied to storage can be dropped; anything else
// (in-flight, which in this single-writer model should be empty between
// operations) survives. Atomic rename commits the swap.
func (w *WAL) Checkpoint(committedIDs map[uint64]struct{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}

	tmpPath := w.path + ".checkpoint.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}

	for {
		header := make([]byte, HeaderSize)
		if _, err := io.ReadFull(w.file, header); err != nil {
			break
		}
		payloadLen := binary.LittleEndian.Uint32(header[txIDSize+typeSize:])
		rest := make([]byte, int(payloadLen)+crcSize)
		if _, err := io.ReadFull(w.file, rest); err != nil {
			break
		}
		txID := binary.LittleEndian.Uint64(header)
		if _, drop := committedIDs[txID]; drop {
			continue
		}
		if _, err := tmp.Write(header); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return ironerr.Wrap(ironerr.CodeIoError, err)
		}
		if _, err := tmp.Write(rest); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return ironerr.Wrap(ironerr.CodeIoError, err)
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}

	if err := w.file.Close(); err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}

	file, err := os.OpenFile(w.path, os.O_RDWR, 0644)
	if err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	w.file = file
	return nil
}

// Truncate drops the entire WAL content, used after a compaction has
// folded every op into the storage log and a fresh checkpoint baseline is
// established.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}
