package collection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/petitan/ironbase/internal/logger"
	"github.com/petitan/ironbase/internal/query/update"
	"github.com/petitan/ironbase/internal/transaction"
	"github.com/petitan/ironbase/internal/wal"
)

// harness bundles a collection with the transaction manager its tests
// commit through, mirroring how the root package will wire them.
type harness struct {
	col *Collection
	txs *transaction.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	log := logger.Default()

	w, err := wal.Open(filepath.Join(dir, "db.wal"), log)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	col, err := Open(dir, "widgets", log)
	if err != nil {
		t.Fatalf("open collection: %v", err)
	}
	return &harness{col: col, txs: transaction.NewManager(w, log)}
}

func (h *harness) insert(t *testing.T, doc map[string]interface{}) uint64 {
	t.Helper()
	tx, err := h.txs.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	op, err := h.col.PrepareInsert(doc)
	if err != nil {
		tx.Rollback()
		t.Fatalf("prepare insert: %v", err)
	}
	if err := tx.AddOp(op); err != nil {
		tx.Rollback()
		t.Fatalf("add op: %v", err)
	}
	if err := tx.Commit(func(ops []transaction.OpRecord) error {
		for _, o := range ops {
			if err := h.col.Apply(o); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return op.ID
}

func TestInsertAndFindByID(t *testing.T) {
	h := newHarness(t)
	id := h.insert(t, map[string]interface{}{"name": "widget-a", "qty": float64(3)})

	doc, ok := h.col.FindByID(id)
	if !ok {
		t.Fatal("expected document to be found")
	}
	if doc["name"] != "widget-a" {
		t.Fatalf("unexpected document: %v", doc)
	}
}

func TestInsertRejectsUniqueViolation(t *testing.T) {
	h := newHarness(t)
	if err := h.col.CreateIndex("by_sku", []string{"sku"}, true); err != nil {
		t.Fatalf("create index: %v", err)
	}
	h.insert(t, map[string]interface{}{"sku": "abc"})

	tx, err := h.txs.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := h.col.PrepareInsert(map[string]interface{}{"sku": "abc"}); err == nil {
		t.Fatal("expected unique violation")
	}
}

func TestUpdateAppliesOperators(t *testing.T) {
	h := newHarness(t)
	id := h.insert(t, map[string]interface{}{"qty": float64(3)})

	upd, err := update.Compile(map[string]interface{}{"$inc": map[string]interface{}{"qty": float64(2)}})
	if err != nil {
		t.Fatalf("compile update: %v", err)
	}

	tx, err := h.txs.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	op, err := h.col.PrepareUpdate(id, upd)
	if err != nil {
		tx.Rollback()
		t.Fatalf("prepare update: %v", err)
	}
	tx.AddOp(op)
	if err := tx.Commit(func(ops []transaction.OpRecord) error {
		for _, o := range ops {
			h.col.Apply(o)
		}
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	doc, _ := h.col.FindByID(id)
	if doc["qty"] != float64(5) {
		t.Fatalf("expected qty=5, got %v", doc["qty"])
	}
}

func TestDeleteRemovesDocument(t *testing.T) {
	h := newHarness(t)
	id := h.insert(t, map[string]interface{}{"name": "gone"})

	tx, err := h.txs.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	op, err := h.col.PrepareDelete(id)
	if err != nil {
		tx.Rollback()
		t.Fatalf("prepare delete: %v", err)
	}
	tx.AddOp(op)
	if err := tx.Commit(func(ops []transaction.OpRecord) error {
		for _, o := range ops {
			h.col.Apply(o)
		}
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, ok := h.col.FindByID(id); ok {
		t.Fatal("expected document to be gone")
	}
}

func TestFindUsesIndexForEquality(t *testing.T) {
	h := newHarness(t)
	if err := h.col.CreateIndex("by_dept", []string{"dept"}, false); err != nil {
		t.Fatalf("create index: %v", err)
	}
	h.insert(t, map[string]interface{}{"dept": "eng"})
	h.insert(t, map[string]interface{}{"dept": "sales"})
	h.insert(t, map[string]interface{}{"dept": "eng"})

	docs, explain, err := h.col.Find(map[string]interface{}{"dept": "eng"}, FindOptions{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(docs))
	}
	if explain.Kind != "IndexScan" {
		t.Fatalf("expected an index scan, got %v", explain)
	}
}

func TestFindFallsBackToCollectionScan(t *testing.T) {
	h := newHarness(t)
	h.insert(t, map[string]interface{}{"dept": "eng"})

	docs, explain, err := h.col.Find(map[string]interface{}{"dept": "eng"}, FindOptions{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 match, got %d", len(docs))
	}
	if explain.Kind != "CollectionScan" {
		t.Fatalf("expected a collection scan, got %v", explain)
	}
}

func TestAggregateGroupAndCount(t *testing.T) {
	h := newHarness(t)
	h.insert(t, map[string]interface{}{"dept": "eng", "salary": float64(100)})
	h.insert(t, map[string]interface{}{"dept": "eng", "salary": float64(200)})
	h.insert(t, map[string]interface{}{"dept": "sales", "salary": float64(50)})

	out, err := h.col.Aggregate([]map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id":   "$dept",
			"total": map[string]interface{}{"$sum": "$salary"},
		}},
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d: %v", len(out), out)
	}
}

func TestDistinctAcrossDocuments(t *testing.T) {
	h := newHarness(t)
	h.insert(t, map[string]interface{}{"dept": "eng"})
	h.insert(t, map[string]interface{}{"dept": "sales"})
	h.insert(t, map[string]interface{}{"dept": "eng"})

	vals, err := h.col.Distinct("dept", nil)
	if err != nil {
		t.Fatalf("distinct: %v", err)
	}
	if len(vals) != 2 {
		t.Fatalf("expected 2 distinct values, got %v", vals)
	}
}

func TestSchemaViolationRejectsInsert(t *testing.T) {
	h := newHarness(t)
	if err := h.col.SetSchema(`{"type":"object","required":["name"]}`); err != nil {
		t.Fatalf("set schema: %v", err)
	}

	tx, err := h.txs.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := h.col.PrepareInsert(map[string]interface{}{"qty": float64(1)}); err == nil {
		t.Fatal("expected schema violation")
	}
}

func TestCompactPreservesLiveDocuments(t *testing.T) {
	h := newHarness(t)
	id := h.insert(t, map[string]interface{}{"name": "keeper"})
	h.insert(t, map[string]interface{}{"name": "temp"})

	tx, err := h.txs.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	op, err := h.col.PrepareDelete(id + 1)
	if err != nil {
		tx.Rollback()
		t.Fatalf("prepare delete: %v", err)
	}
	tx.AddOp(op)
	if err := tx.Commit(func(ops []transaction.OpRecord) error {
		for _, o := range ops {
			h.col.Apply(o)
		}
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := h.col.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if h.col.Len() != 1 {
		t.Fatalf("expected 1 surviving document, got %d", h.col.Len())
	}
}
