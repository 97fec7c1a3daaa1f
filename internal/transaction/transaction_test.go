package transaction

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/petitan/ironbase/internal/logger"
	"github.com/petitan/ironbase/internal/wal"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	w, err := wal.Open(filepath.Join(t.TempDir(), "test.wal"), logger.Default())
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	return NewManager(w, logger.Default())
}

func TestBeginAddOpCommitApplies(t *testing.T) {
	mgr := newTestManager(t)

	tx, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.AddOp(OpRecord{Type: OpInsert, Collection: "users", ID: 1, Doc: map[string]interface{}{"name": "alice"}}); err != nil {
		t.Fatalf("add op: %v", err)
	}

	var applied []OpRecord
	if err := tx.Commit(func(ops []OpRecord) error {
		applied = ops
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(applied) != 1 || applied[0].ID != 1 {
		t.Fatalf("unexpected applied ops: %v", applied)
	}
}

func TestRollbackDiscardsOps(t *testing.T) {
	mgr := newTestManager(t)
	tx, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.AddOp(OpRecord{Type: OpInsert, Collection: "users", ID: 1}); err != nil {
		t.Fatalf("add op: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !tx.Aborted() {
		t.Fatal("expected transaction to be marked aborted")
	}
}

func TestSecondBeginBlocksUntilFirstReleases(t *testing.T) {
	mgr := newTestManager(t)
	tx1, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := mgr.Begin(ctx); err == nil {
		t.Fatal("expected second Begin to time out while the first transaction is open")
	}

	if err := tx1.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	tx2, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin after release: %v", err)
	}
	_ = tx2.Rollback()
}

func TestCommitAfterCommitFails(t *testing.T) {
	mgr := newTestManager(t)
	tx, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Commit(func(ops []OpRecord) error { return nil }); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Commit(func(ops []OpRecord) error { return nil }); err == nil {
		t.Fatal("expected second commit on the same transaction to fail")
	}
}

func TestDurabilityBatchDefersFlush(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "test.wal")
	w, err := wal.Open(walPath, logger.Default())
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	defer w.Close()
	mgr := NewManager(w, logger.Default())
	mgr.SetDurability(DurabilityBatch, 2)

	commitOnce := func() {
		tx, err := mgr.Begin(context.Background())
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := tx.Commit(func(ops []OpRecord) error { return nil }); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	commitOnce()
	if mgr.sinceFlush != 1 {
		t.Fatalf("expected first commit under batch(2) to defer its flush, sinceFlush=%d", mgr.sinceFlush)
	}
	commitOnce()
	if mgr.sinceFlush != 0 {
		t.Fatalf("expected second commit under batch(2) to flush and reset the counter, sinceFlush=%d", mgr.sinceFlush)
	}
}

func TestDurabilityUnsafeNeverFlushesOnCommit(t *testing.T) {
	mgr := newTestManager(t)
	mgr.SetDurability(DurabilityUnsafe, 1)

	tx, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Commit(func(ops []OpRecord) error { return nil }); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mgr.Flush(); err != nil {
		t.Fatalf("explicit flush: %v", err)
	}
}

func TestWALReplayOnlyIncludesCommittedTx(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "test.wal")
	w, err := wal.Open(walPath, logger.Default())
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	mgr := NewManager(w, logger.Default())

	committed, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = committed.AddOp(OpRecord{Type: OpInsert, Collection: "users", ID: 1})
	if err := committed.Commit(func(ops []OpRecord) error { return nil }); err != nil {
		t.Fatalf("commit: %v", err)
	}

	aborted, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = aborted.AddOp(OpRecord{Type: OpInsert, Collection: "users", ID: 2})
	if err := aborted.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	reopened, err := wal.Open(walPath, logger.Default())
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	defer reopened.Close()

	txs, err := reopened.Replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected exactly 1 committed transaction, got %d", len(txs))
	}
	if txs[0].TxID != committed.ID() {
		t.Fatalf("expected replayed tx id %d, got %d", committed.ID(), txs[0].TxID)
	}
}
