// Package storage implements IronBase's append-only storage log:
// strictly monotonic offsets, flush/fsync, full-log iteration and
// compaction. Grounded on internal/docdb/datafile.go, with
// the per-record verification-flag trailer removed (this store's frame is
// length-prefix + JSON only; datafile.go's extra trailer byte belongs to
// a layer this store doesn't carry) and Read switched from
// offset+length addressing to a streamed record.ReadFrame so out-of-band
// JSON decode errors surface the same way as truncated frames.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/petitan/ironbase/internal/ironerr"
	"github.com/petitan/ironbase/internal/logger"
	"github.com/petitan/ironbase/internal/record"
)

// Entry is one decoded record yielded by ReadAll: a document, a
// tombstone or a __meta__ record.
type Entry struct {
	Offset uint64
	Doc    map[string]interface{}
}

// Log is the append-only storage file.
type Log struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	offset uint64
	logger *logger.Logger
	retry  *ironerr.RetryController
}

// Open opens (creating if absent) the storage log at path, truncating any
// trailing partial frame left by a crash mid-write ("a partial
// frame is treated as an incomplete trailing write and ignored").
func Open(path string, log *logger.Logger) (*Log, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}

	l := &Log{path: path, file: file, logger: log, retry: ironerr.NewRetryController()}
	if err := l.truncateTrailingPartialFrame(); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

// truncateTrailingPartialFrame scans the whole log once on open, finds the
// offset following the last complete frame, and truncates anything after
// it — a short read after a length prefix is an incomplete write, not
// corruption, and recovery must not choke on it.
func (l *Log) truncateTrailingPartialFrame() error {
	info, err := l.file.Stat()
	if err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	size := info.Size()
	if size == 0 {
		l.offset = 0
		return nil
	}

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}

	r := io.Reader(l.file)
	var validEnd int64
	for {
		before := validEnd
		payload, err := record.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				validEnd = before
				break
			}
			// Incomplete trailing frame or bad length: stop here, keep
			// everything decoded so far.
			validEnd = before
			break
		}
		validEnd = before + int64(record.LengthPrefixSize) + int64(len(payload))
	}

	if validEnd < size {
		l.logger.Warn("storage: truncating trailing partial frame at offset %d (file size %d)", validEnd, size)
		if err := l.file.Truncate(validEnd); err != nil {
			return ironerr.Wrap(ironerr.CodeIoError, err)
		}
	}
	l.offset = uint64(validEnd)
	return nil
}

// Append writes a frame to the end of the log, returning its byte offset.
func (l *Log) Append(payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	frame, err := record.Encode(payload)
	if err != nil {
		return 0, ironerr.Wrap(ironerr.CodeSerializationError, err)
	}

	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return 0, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	offset := l.offset
	if _, err := l.file.Write(frame); err != nil {
		return 0, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	l.offset += uint64(len(frame))
	return offset, nil
}

// AppendDoc marshals and appends doc.
func (l *Log) AppendDoc(doc map[string]interface{}) (uint64, error) {
	payload, err := record.MarshalDoc(doc)
	if err != nil {
		return 0, ironerr.Wrap(ironerr.CodeSerializationError, err)
	}
	return l.Append(payload)
}

// ReadAt reads and decodes the single frame beginning at offset.
func (l *Log) ReadAt(offset uint64) (map[string]interface{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	payload, err := record.ReadFrame(l.file)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.CodeCorruptionDetected, err)
	}
	doc, err := record.DecodeDoc(payload)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.CodeCorruptionDetected, err)
	}
	return doc, nil
}

// ReadAll streams every frame in the log from offset 0, in order.
func (l *Log) ReadAll(fn func(Entry) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}

	offset := int64(0)
	for {
		payload, err := record.ReadFrame(l.file)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return ironerr.Wrap(ironerr.CodeCorruptionDetected, err)
		}
		doc, err := record.DecodeDoc(payload)
		if err != nil {
			return ironerr.Wrap(ironerr.CodeCorruptionDetected, err)
		}
		if err := fn(Entry{Offset: uint64(offset), Doc: doc}); err != nil {
			return err
		}
		offset += int64(record.LengthPrefixSize) + int64(len(payload))
	}
}

// LiveVersionMap materializes the "_id -> (latest doc, offset)" projection
// of the log, removing an id from the map entirely
// when a tombstone for it is encountered rather than replacing it.
type LiveVersionMap struct {
	Docs    map[uint64]map[string]interface{}
	Offsets map[uint64]uint64
}

// BuildLiveVersionMap streams the whole log once and returns the live
// projection. O(N) in log records; callers should
// cache the result for the scope of one logical operation.
func (l *Log) BuildLiveVersionMap() (*LiveVersionMap, error) {
	lvm := &LiveVersionMap{
		Docs:    make(map[uint64]map[string]interface{}),
		Offsets: make(map[uint64]uint64),
	}
	err := l.ReadAll(func(e Entry) error {
		if record.IsMeta(e.Doc) {
			return nil
		}
		id, ok := record.DocID(e.Doc)
		if !ok {
			return nil
		}
		if record.IsTombstone(e.Doc) {
			delete(lvm.Docs, id)
			delete(lvm.Offsets, id)
			return nil
		}
		lvm.Docs[id] = e.Doc
		lvm.Offsets[id] = e.Offset
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lvm, nil
}

// Flush fsyncs the log file ("flush issues fsync_all"), retrying with
// backoff since a momentary fsync failure (e.g. an EINTR or a
// transient disk-pressure error) need not be fatal.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retry.Retry(func() error {
		if err := l.file.Sync(); err != nil {
			return ironerr.Wrap(ironerr.CodeIoError, err)
		}
		return nil
	})
}

// Len returns the current byte length of the log.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

// Close performs a best-effort flush and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.file.Sync()
	return l.file.Close()
}

// Compact rewrites the log to contain only the latest live records,
// eliminating tombstones and superseded versions. On any
// error the original file is left untouched: the temp file is written
// and synced first, and only an atomic rename commits the swap.
//
// Returns the new offset for every surviving document id, so callers can
// update their index without a second full scan.
func (l *Log) Compact() (map[uint64]uint64, error) {
	lvm, err := l.BuildLiveVersionMap()
	if err != nil {
		return nil, fmt.Errorf("storage: compact: build live version map: %w", err)
	}

	tmpPath := l.path + ".compact.tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}

	newOffsets := make(map[uint64]uint64, len(lvm.Docs))
	var cursor int64
	for id, doc := range lvm.Docs {
		payload, err := record.EncodeDoc(doc)
		if err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return nil, fmt.Errorf("storage: compact: encode doc %d: %w", id, err)
		}
		if _, err := tmpFile.Write(payload); err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return nil, ironerr.Wrap(ironerr.CodeIoError, err)
		}
		newOffsets[id] = uint64(cursor)
		cursor += int64(len(payload))
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}

	file, err := os.OpenFile(l.path, os.O_RDWR, 0644)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	l.file = file
	l.offset = uint64(cursor)

	return newOffsets, nil
}
