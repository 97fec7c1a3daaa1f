// Package ironbase is an embedded, single-process, document-oriented
// datastore with a MongoDB-compatible query/update/aggregation surface,
// WAL-based durability, and in-memory ordered-tree secondary indexes.
// This file implements the top-level Database handle: Open, collection
// discovery and WAL replay on startup, and the database-wide operations
// (flush, compact, list/drop collections, stats, health validation).
//
// Grounded on internal/docdb/core.go's LogicalDB: directory
// ownership, a lockfile guarding single-process access, a shared WAL
// replayed on open, and collections opened lazily/concurrently via a
// worker pool, adapted from bundoc's multi-partition MVCC engine down to
// this module's single-writer, append-only-log-per-collection model.
package ironbase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/petitan/ironbase/internal/collection"
	"github.com/petitan/ironbase/internal/ironerr"
	"github.com/petitan/ironbase/internal/lockfile"
	"github.com/petitan/ironbase/internal/logger"
	"github.com/petitan/ironbase/internal/metrics"
	"github.com/petitan/ironbase/internal/taskpool"
	"github.com/petitan/ironbase/internal/transaction"
	"github.com/petitan/ironbase/internal/wal"
)

const logSuffix = ".log"

// Database is one opened IronBase datastore: a directory holding one
// storage log per collection, a shared write-ahead log, and a lockfile
// guarding the directory against a second concurrent Open.
type Database struct {
	dir    string
	lock   *lockfile.Lock
	wal    *wal.WAL
	txs    *transaction.Manager
	pool   *taskpool.Pool
	stats  *metrics.Registry
	logger *logger.Logger

	mu          sync.RWMutex
	collections map[string]*collection.Collection

	checkpointInterval int
	checkpointMu        sync.Mutex
	commitsSinceCheckpoint int
}

// Open opens (creating if absent) the database rooted at dir: it acquires
// the directory's lockfile, opens the shared WAL, discovers and opens
// every pre-existing collection's storage log (concurrently, via a
// bounded worker pool), and replays every committed transaction still in
// the WAL, including ones whose ops were already folded into storage —
// the crash-recovery path
// describes. Opening the same directory twice in one process is an error.
func Open(dir string, opts Options) (*Database, error) {
	opts = opts.withDefaults()
	log := logger.New(opts.LogOutput, opts.LogLevel, "ironbase").With("db", dir)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}

	lock, err := lockfile.Acquire(filepath.Join(dir, "db.lock"))
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(filepath.Join(dir, "db.wal"), log)
	if err != nil {
		lock.Release()
		return nil, err
	}

	txs := transaction.NewManager(w, log)
	txs.SetDurability(opts.Durability, opts.BatchSize)
	txs.SetOpCap(opts.TransactionOpCap)

	db := &Database{
		dir:                dir,
		lock:               lock,
		wal:                w,
		txs:                txs,
		pool:               taskpool.New(opts.Workers, log),
		stats:              metrics.New(),
		logger:             log,
		collections:        make(map[string]*collection.Collection),
		checkpointInterval: opts.WALCheckpointInterval,
	}

	names, err := discoverCollections(dir)
	if err != nil {
		db.closeQuiet()
		return nil, err
	}

	if err := db.openCollectionsConcurrently(names); err != nil {
		db.closeQuiet()
		return nil, err
	}

	if err := db.replayWAL(); err != nil {
		db.closeQuiet()
		return nil, err
	}

	return db, nil
}

// discoverCollections lists every "<name>.log" file directly under dir.
func discoverCollections(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), logSuffix) {
			names = append(names, strings.TrimSuffix(e.Name(), logSuffix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// openCollectionsConcurrently opens every named collection's storage log
// in parallel on the database's worker pool, the way LogicalDB opens
// LogicalDB partitions.
func (db *Database) openCollectionsConcurrently(names []string) error {
	if len(names) == 0 {
		return nil
	}
	var mu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup
	wg.Add(len(names))
	for _, name := range names {
		name := name
		db.pool.Submit(func() {
			defer wg.Done()
			col, err := collection.Open(db.dir, name, db.logger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			col.SetMetrics(db.stats)
			db.collections[name] = col
		})
	}
	wg.Wait()
	return firstErr
}

// openOrCreateCollectionLocked returns the named collection, opening it on
// demand. Callers must hold db.mu for write.
func (db *Database) openOrCreateCollectionLocked(name string) (*collection.Collection, error) {
	if col, ok := db.collections[name]; ok {
		return col, nil
	}
	col, err := collection.Open(db.dir, name, db.logger)
	if err != nil {
		return nil, err
	}
	col.SetMetrics(db.stats)
	db.collections[name] = col
	return col, nil
}

// replayWAL reapplies every committed transaction's operations to their
// collections' storage/index state, seeding the transaction manager's id
// counter past the highest replayed transaction id in the process.
// Re-applying an op whose storage effects are
// already present is the accepted at-least-once commit tradeoff
// document: the storage log is append-only, so a replayed insert simply
// appends a duplicate version of an already-live document, which the live
// version map collapses back down to the latest record on the next open.
func (db *Database) replayWAL() error {
	txs, err := db.wal.Replay()
	if err != nil {
		return err
	}

	var maxTxID uint64
	for _, tx := range txs {
		if tx.TxID > maxTxID {
			maxTxID = tx.TxID
		}
		for _, payload := range tx.Ops {
			op, err := transaction.DecodeOp(payload)
			if err != nil {
				db.logger.Warn("wal replay: skipping malformed op in tx %d: %v", tx.TxID, err)
				continue
			}
			db.mu.Lock()
			col, err := db.openOrCreateCollectionLocked(op.Collection)
			db.mu.Unlock()
			if err != nil {
				return err
			}
			if err := col.Apply(op); err != nil {
				return err
			}
		}
	}
	db.txs.SeedTxID(maxTxID)
	return nil
}

// Collection returns a handle to the named collection, creating it (and
// its storage log) on first use.
func (db *Database) Collection(name string) (*Collection, error) {
	db.mu.Lock()
	col, err := db.openOrCreateCollectionLocked(name)
	db.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &Collection{db: db, inner: col}, nil
}

// ListCollections returns the name of every collection currently open,
// sorted.
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropCollection closes and permanently deletes a collection's storage
// log, index sidecars, and in-memory state.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	col, ok := db.collections[name]
	if !ok {
		return ironerr.Wrap(ironerr.CodeCollectionNotFound, fmt.Errorf("collection %q does not exist", name))
	}
	if err := col.Close(); err != nil {
		return err
	}
	delete(db.collections, name)

	if err := os.Remove(filepath.Join(db.dir, name+logSuffix)); err != nil && !os.IsNotExist(err) {
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	matches, _ := filepath.Glob(filepath.Join(db.dir, name+".*.idx"))
	for _, m := range matches {
		os.Remove(m)
	}
	return nil
}

// Flush forces an unconditional WAL fsync, regardless of the configured
// durability mode.
func (db *Database) Flush() error {
	return db.txs.Flush()
}

// Compact rewrites every open collection's storage log to contain only
// live documents and checkpoints the WAL, dropping the entries for
// transactions whose effects are now durably reflected in storage.
func (db *Database) Compact() error {
	db.mu.RLock()
	cols := make([]*collection.Collection, 0, len(db.collections))
	for _, col := range db.collections {
		cols = append(cols, col)
	}
	db.mu.RUnlock()

	for _, col := range cols {
		if err := col.Compact(); err != nil {
			return err
		}
	}
	db.stats.CompactionsTotal.Inc()
	return db.wal.Truncate()
}

// noteCommitForCheckpoint counts a successful commit toward
// WALCheckpointInterval, triggering an automatic Compact once that many
// commits have accumulated since the last one.
func (db *Database) noteCommitForCheckpoint() {
	if db.checkpointInterval <= 0 {
		return
	}
	db.checkpointMu.Lock()
	db.commitsSinceCheckpoint++
	due := db.commitsSinceCheckpoint >= db.checkpointInterval
	if due {
		db.commitsSinceCheckpoint = 0
	}
	db.checkpointMu.Unlock()

	if due {
		if err := db.Compact(); err != nil {
			db.logger.Warn("automatic WAL checkpoint compaction failed: %v", err)
		}
	}
}

// Stats reports aggregate counters across every open collection
// grounded on LogicalDB.Stats().
type Stats struct {
	Collections   int
	TotalDocs     int
	WALSizeBytes  uint64
	PerCollection map[string]int
}

// Stats returns the database's current aggregate statistics.
func (db *Database) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	s := Stats{
		Collections:   len(db.collections),
		WALSizeBytes:  db.wal.Size(),
		PerCollection: make(map[string]int, len(db.collections)),
	}
	db.stats.WALSizeBytes.Set(float64(s.WALSizeBytes))
	for name, col := range db.collections {
		n := col.Len()
		s.PerCollection[name] = n
		s.TotalDocs += n
		db.stats.DocumentsTotal.WithLabelValues(name).Set(float64(n))
		db.stats.StorageSizeBytes.WithLabelValues(name).Set(float64(col.StorageSize()))
		for idxName, count := range col.IndexEntryCounts() {
			db.stats.IndexEntriesTotal.WithLabelValues(name, idxName).Set(float64(count))
		}
	}
	return s
}

// Metrics exposes the database's Prometheus registry for wiring into an
// embedding application's own /metrics endpoint.
func (db *Database) Metrics() *metrics.Registry {
	return db.stats
}

// BeginTransaction acquires the database's single write lock and returns a
// fresh Tx, or ErrLockTimeout if ctx is cancelled first.
func (db *Database) BeginTransaction(ctx context.Context) (*Tx, error) {
	tx, err := db.txs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{db: db, inner: tx}, nil
}

func (db *Database) closeQuiet() {
	db.mu.Lock()
	for _, col := range db.collections {
		col.Close()
	}
	db.mu.Unlock()
	db.wal.Close()
	db.pool.Release()
	db.lock.Release()
}

// Close flushes and closes every open collection and the shared WAL, then
// releases the directory lock so another Open in this process can
// succeed.
func (db *Database) Close() error {
	db.mu.Lock()
	var firstErr error
	for _, col := range db.collections {
		if err := col.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	db.mu.Unlock()

	if err := db.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	db.pool.Release()
	if err := db.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
