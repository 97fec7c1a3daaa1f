// Package transaction implements IronBase's single-writer transaction
// manager: one database-wide write lock, WAL-backed
// Begin/Op/Commit/Abort lifecycle, and an operation cap per transaction.
// Grounded on docdb's internal/transaction package for the
// lock-then-log shape, narrowed from its multi-writer/MVCC snapshot
// machinery (explicitly out of scope for this store) down to a
// single exclusive writer with no concurrent in-flight transactions.
package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petitan/ironbase/internal/ironerr"
	"github.com/petitan/ironbase/internal/logger"
	"github.com/petitan/ironbase/internal/wal"
)

// OpType identifies the kind of mutation an Op record describes.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// OpRecord is one buffered mutation within a transaction: insert/update
// carry the full resulting document; delete carries only the id, a
// tombstone being reconstructable from it alone.
type OpRecord struct {
	Type       OpType                 `json:"type"`
	Collection string                 `json:"collection"`
	ID         uint64                 `json:"id"`
	Doc        map[string]interface{} `json:"doc,omitempty"`
}

// DefaultOpCap is the per-transaction operation-count cap a Manager
// starts with, keeping one runaway transaction from growing the
// in-memory op buffer and the WAL without limit. Callers override it
// per database via SetOpCap.
const DefaultOpCap = 1000

type txState int

const (
	stateOpen txState = iota
	stateCommitted
	stateAborted
)

// Durability selects how aggressively Commit fsyncs the WAL: safe,
// batch(n), or unsafe.
type Durability int

const (
	// DurabilitySafe flushes the WAL on every commit (the default).
	DurabilitySafe Durability = iota
	// DurabilityBatch flushes every BatchSize commits, trading a bounded
	// window of possibly-lost-but-never-torn commits for throughput.
	DurabilityBatch
	// DurabilityUnsafe never flushes implicitly; only an explicit Flush
	// (or Close) persists the WAL.
	DurabilityUnsafe
)

// Manager owns the WAL and the single database-wide write lock. Only one
// Tx may be open at a time; Begin blocks (or times out) until the
// previous transaction commits or rolls back.
type Manager struct {
	wal       *wal.WAL
	writeLock sync.Mutex
	nextTxID  uint64
	logger    *logger.Logger

	durMu      sync.Mutex
	durability Durability
	batchSize  int
	sinceFlush int

	opCap int32
}

// NewManager builds a transaction manager backed by w, defaulting to
// DurabilitySafe and DefaultOpCap.
func NewManager(w *wal.WAL, log *logger.Logger) *Manager {
	return &Manager{wal: w, logger: log, durability: DurabilitySafe, batchSize: 1, opCap: DefaultOpCap}
}

// SetOpCap overrides the per-transaction operation cap. n <= 0 is a no-op,
// leaving the previous cap (or DefaultOpCap) in place.
func (m *Manager) SetOpCap(n int) {
	if n <= 0 {
		return
	}
	atomic.StoreInt32(&m.opCap, int32(n))
}

func (m *Manager) opCapValue() int {
	return int(atomic.LoadInt32(&m.opCap))
}

// SetDurability installs the commit-flush policy. batchSize is only
// meaningful for DurabilityBatch and is clamped to at least 1.
func (m *Manager) SetDurability(mode Durability, batchSize int) {
	if batchSize < 1 {
		batchSize = 1
	}
	m.durMu.Lock()
	m.durability = mode
	m.batchSize = batchSize
	m.sinceFlush = 0
	m.durMu.Unlock()
}

// Flush fsyncs the WAL unconditionally, for explicit db.flush() calls and
// for DurabilityBatch/DurabilityUnsafe modes where Commit doesn't.
func (m *Manager) Flush() error {
	m.durMu.Lock()
	m.sinceFlush = 0
	m.durMu.Unlock()
	return m.wal.Flush()
}

// shouldFlushOnCommit reports whether this commit should fsync the WAL
// immediately, advancing the batch counter as a side effect.
func (m *Manager) shouldFlushOnCommit() bool {
	m.durMu.Lock()
	defer m.durMu.Unlock()
	switch m.durability {
	case DurabilityUnsafe:
		return false
	case DurabilityBatch:
		m.sinceFlush++
		if m.sinceFlush >= m.batchSize {
			m.sinceFlush = 0
			return true
		}
		return false
	default: // DurabilitySafe
		return true
	}
}

// SeedTxID advances the manager's id counter past the highest id observed
// during WAL replay, so newly begun transactions never reuse an id that
// appears in the log (transaction ids are unique for the
// lifetime of the database file).
func (m *Manager) SeedTxID(highest uint64) {
	for {
		cur := atomic.LoadUint64(&m.nextTxID)
		if highest < cur {
			return
		}
		if atomic.CompareAndSwapUint64(&m.nextTxID, cur, highest+1) {
			return
		}
	}
}

// Begin acquires the write lock and opens a new transaction, or returns
// ErrLockTimeout if ctx is cancelled first ("begin_transaction
// blocks for at most the caller's deadline").
func (m *Manager) Begin(ctx context.Context) (*Tx, error) {
	acquired := make(chan struct{})
	go func() {
		m.writeLock.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		go func() {
			<-acquired
			m.writeLock.Unlock()
		}()
		return nil, ironerr.Wrap(ironerr.CodeLockTimeout, ctx.Err())
	}

	id := atomic.AddUint64(&m.nextTxID, 1)
	if _, err := m.wal.Append(wal.Entry{TxID: id, Type: wal.Begin}); err != nil {
		m.writeLock.Unlock()
		return nil, err
	}

	return &Tx{manager: m, id: id, state: stateOpen}, nil
}

// Tx is one open, single-writer transaction.
type Tx struct {
	manager *Manager
	id      uint64
	mu      sync.Mutex
	ops     []OpRecord
	state   txState
}

// ID returns the transaction's unique identifier.
func (t *Tx) ID() uint64 {
	return t.id
}

// AddOp appends one buffered mutation to the transaction and appends it
// to the WAL as an Op entry without flushing the WAL (not yet committed — a crash before Commit
// leaves it unreplayed, per the invariant that "no Commit entry means logically
// nonexistent").
func (t *Tx) AddOp(op OpRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateOpen {
		return ironerr.Wrap(ironerr.CodeTransactionClosed, fmt.Errorf("transaction %d is not open", t.id))
	}
	if cap := t.manager.opCapValue(); len(t.ops) >= cap {
		return ironerr.Wrap(ironerr.CodeInvalidArgument, fmt.Errorf("transaction %d exceeds the per-transaction operation cap (%d)", t.id, cap))
	}

	payload, err := json.Marshal(op)
	if err != nil {
		return ironerr.Wrap(ironerr.CodeSerializationError, err)
	}
	if _, err := t.manager.wal.Append(wal.Entry{TxID: t.id, Type: wal.Op, Payload: payload}); err != nil {
		return err
	}
	t.ops = append(t.ops, op)
	return nil
}

// DecodeOp decodes a WAL Op entry's payload (as written by AddOp) back
// into an OpRecord, for replaying committed transactions found on open.
func DecodeOp(payload []byte) (OpRecord, error) {
	var op OpRecord
	if err := json.Unmarshal(payload, &op); err != nil {
		return OpRecord{}, ironerr.Wrap(ironerr.CodeSerializationError, err)
	}
	return op, nil
}

// Ops returns the transaction's buffered operations, in application order.
func (t *Tx) Ops() []OpRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]OpRecord, len(t.ops))
	copy(out, t.ops)
	return out
}

// Commit appends a Commit WAL entry and flushes the WAL when the
// durability mode calls for a flush on this commit (every commit under
// DurabilitySafe, every BatchSize-th under DurabilityBatch, never under
// DurabilityUnsafe); once flushed, that entry is the transaction's
// durability point. Commit then invokes apply to fold its buffered ops
// into storage and indexes. If apply fails, the Commit entry stays in the
// WAL and the transaction is replayed on the next open once that entry
// is on disk (the documented at-least-once tradeoff): Commit returns apply's error, wrapped as a storage
// error, but does NOT roll back the WAL entry already written.
func (t *Tx) Commit(apply func(ops []OpRecord) error) error {
	t.mu.Lock()
	if t.state != stateOpen {
		t.mu.Unlock()
		return ironerr.Wrap(ironerr.CodeTransactionClosed, fmt.Errorf("transaction %d is not open", t.id))
	}
	ops := make([]OpRecord, len(t.ops))
	copy(ops, t.ops)
	t.mu.Unlock()

	if _, err := t.manager.wal.Append(wal.Entry{TxID: t.id, Type: wal.Commit}); err != nil {
		return err
	}
	if t.manager.shouldFlushOnCommit() {
		if err := t.manager.wal.Flush(); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.state = stateCommitted
	t.mu.Unlock()
	defer t.manager.writeLock.Unlock()

	if err := apply(ops); err != nil {
		t.manager.logger.Warn("transaction %d committed to the WAL but failed to apply to storage: %v", t.id, err)
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	return nil
}

// Rollback appends and flushes an Abort WAL entry and discards the
// transaction's buffered ops without applying them.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	if t.state != stateOpen {
		t.mu.Unlock()
		return ironerr.Wrap(ironerr.CodeTransactionClosed, fmt.Errorf("transaction %d is not open", t.id))
	}
	t.ops = nil
	t.state = stateAborted
	t.mu.Unlock()
	defer t.manager.writeLock.Unlock()

	if _, err := t.manager.wal.Append(wal.Entry{TxID: t.id, Type: wal.Abort}); err != nil {
		return err
	}
	return t.manager.wal.Flush()
}

// Aborted reports whether the transaction has already been rolled back.
func (t *Tx) Aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateAborted
}
