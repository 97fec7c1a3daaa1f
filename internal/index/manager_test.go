package index

import (
	"testing"

	"github.com/petitan/ironbase/internal/logger"
)

func TestManagerCreateAndInsertAll(t *testing.T) {
	mgr := NewManager(t.TempDir(), "users", logger.Default())

	docs := map[uint64]map[string]interface{}{
		1: doc(1, "alice", 30),
	}
	idx, err := mgr.Create("by_age", []string{"age"}, false, docs)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected prepopulated index, got len %d", idx.Len())
	}

	if err := mgr.InsertAll(doc(2, "bob", 40), 2); err != nil {
		t.Fatalf("insert all: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", idx.Len())
	}

	mgr.RemoveAll(1)
	if idx.Len() != 1 {
		t.Fatalf("expected 1 entry after remove, got %d", idx.Len())
	}
}

func TestManagerInsertAllRollsBackOnUniqueViolation(t *testing.T) {
	mgr := NewManager(t.TempDir(), "users", logger.Default())
	ageIdx, _ := mgr.Create("by_age", []string{"age"}, false, nil)
	nameIdx, _ := mgr.Create("by_name", []string{"name"}, true, nil)

	if err := mgr.InsertAll(doc(1, "alice", 30), 1); err != nil {
		t.Fatalf("insert all: %v", err)
	}

	err := mgr.InsertAll(doc(2, "alice", 40), 2)
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if ageIdx.Len() != 1 {
		t.Fatalf("expected age index untouched by rollback, got len %d", ageIdx.Len())
	}
	if nameIdx.Len() != 1 {
		t.Fatalf("expected name index untouched by rollback, got len %d", nameIdx.Len())
	}
}

func TestManagerForField(t *testing.T) {
	mgr := NewManager(t.TempDir(), "users", logger.Default())
	mgr.Create("by_age", []string{"age"}, false, nil)

	if mgr.ForField([]string{"age"}) == nil {
		t.Fatal("expected to find index for [age]")
	}
	if mgr.ForField([]string{"name"}) != nil {
		t.Fatal("expected no index for [name]")
	}
}

func TestManagerDrop(t *testing.T) {
	mgr := NewManager(t.TempDir(), "users", logger.Default())
	mgr.Create("by_age", []string{"age"}, false, nil)

	if err := mgr.Drop("by_age"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if mgr.Get("by_age") != nil {
		t.Fatal("expected index to be gone after drop")
	}
	if err := mgr.Drop("by_age"); err == nil {
		t.Fatal("expected error dropping a non-existent index")
	}
}

func TestManagerSaveAndLoadOrRebuild(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir, "users", logger.Default())
	mgr.Create("by_age", []string{"age"}, false, map[uint64]map[string]interface{}{
		1: doc(1, "alice", 30),
	})
	mgr.SaveAll()

	mgr2 := NewManager(dir, "users", logger.Default())
	idx, err := mgr2.LoadOrRebuild("by_age", []string{"age"}, false, nil)
	if err != nil {
		t.Fatalf("load or rebuild: %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected sidecar-loaded index to have 1 entry, got %d", idx.Len())
	}
}

func TestManagerLoadOrRebuildFallsBackWithoutSidecar(t *testing.T) {
	mgr := NewManager(t.TempDir(), "users", logger.Default())
	docs := map[uint64]map[string]interface{}{
		1: doc(1, "alice", 30),
		2: doc(2, "bob", 40),
	}
	idx, err := mgr.LoadOrRebuild("by_age", []string{"age"}, false, docs)
	if err != nil {
		t.Fatalf("load or rebuild: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected scan-rebuilt index to have 2 entries, got %d", idx.Len())
	}
}
