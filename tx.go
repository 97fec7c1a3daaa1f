package ironbase

import (
	"context"

	"github.com/petitan/ironbase/internal/query/update"
	"github.com/petitan/ironbase/internal/transaction"
)

// Tx is one open, single-writer transaction spanning possibly many
// collections: every Insert/Update/Delete called against it
// stages a buffered op rather than mutating storage, until Commit folds
// the whole batch in after the WAL's durability-point fsync.
type Tx struct {
	db    *Database
	inner *transaction.Tx
}

// ID returns the transaction's unique identifier.
func (tx *Tx) ID() uint64 { return tx.inner.ID() }

// Insert stages an insert of doc into col and returns its assigned id.
// The id and document are not visible to reads until Commit succeeds.
func (tx *Tx) Insert(col *Collection, doc map[string]interface{}) (uint64, error) {
	op, err := col.inner.PrepareInsert(doc)
	if err != nil {
		return 0, err
	}
	if err := tx.inner.AddOp(op); err != nil {
		return 0, err
	}
	return op.ID, nil
}

// Update stages an update of id in col via a compiled update document.
func (tx *Tx) Update(col *Collection, id uint64, upd *update.Update) error {
	op, err := col.inner.PrepareUpdate(id, upd)
	if err != nil {
		return err
	}
	return tx.inner.AddOp(op)
}

// UpdateSpec compiles updSpec and stages the resulting update of id in
// col, the form most callers outside this package will use.
func (tx *Tx) UpdateSpec(col *Collection, id uint64, updSpec map[string]interface{}) error {
	upd, err := update.Compile(updSpec)
	if err != nil {
		return err
	}
	return tx.Update(col, id, upd)
}

// Delete stages a delete of id in col.
func (tx *Tx) Delete(col *Collection, id uint64) error {
	op, err := col.inner.PrepareDelete(id)
	if err != nil {
		return err
	}
	return tx.inner.AddOp(op)
}

// Commit appends the transaction's Commit WAL entry (flushing the WAL when
// the durability mode calls for it), then folds every staged op into its
// collection's storage log, indexes, and cache. A storage-side failure
// after the Commit entry is written leaves the transaction committed in
// the WAL but not yet applied — it is replayed on the next Open once that
// entry is on disk (the documented at-least-once commit tradeoff).
func (tx *Tx) Commit() error {
	db := tx.db
	err := tx.inner.Commit(func(ops []transaction.OpRecord) error {
		db.mu.Lock()
		defer db.mu.Unlock()
		for _, op := range ops {
			col, err := db.openOrCreateCollectionLocked(op.Collection)
			if err != nil {
				return err
			}
			if err := col.Apply(op); err != nil {
				return err
			}
		}
		return nil
	})
	outcome := "commit"
	if err != nil {
		outcome = "commit_failed"
	}
	db.stats.TransactionsTotal.WithLabelValues(outcome).Inc()
	if err == nil {
		db.noteCommitForCheckpoint()
	}
	return err
}

// Rollback discards every staged op without touching storage or indexes.
func (tx *Tx) Rollback() error {
	err := tx.inner.Rollback()
	tx.db.stats.TransactionsTotal.WithLabelValues("rollback").Inc()
	return err
}

// withImplicitTx runs fn inside a transaction that this call begins and
// commits itself, the implicit single-operation transaction form
// describes for writes issued outside an explicit begin_transaction.
func (db *Database) withImplicitTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
