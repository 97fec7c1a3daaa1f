package planner

import (
	"testing"

	"github.com/petitan/ironbase/internal/docmodel"
	"github.com/petitan/ironbase/internal/index"
	"github.com/petitan/ironbase/internal/logger"
	"github.com/petitan/ironbase/internal/query/filter"
)

func TestPlanChoosesIndexScanOnEquality(t *testing.T) {
	mgr := index.NewManager(t.TempDir(), "users", logger.Default())
	mgr.Create("by_age", []string{"age"}, false, map[uint64]map[string]interface{}{
		1: {"_id": float64(1), "age": float64(30)},
		2: {"_id": float64(2), "age": float64(40)},
	})

	p, explain := Plan(map[string]interface{}{"age": float64(30)}, nil, mgr)
	if p.Kind != IndexScan {
		t.Fatalf("expected IndexScan, got %s", p.Kind)
	}
	if explain.IndexName != "by_age" {
		t.Fatalf("expected explain to name by_age, got %+v", explain)
	}
	if !p.FullySolved {
		t.Fatal("expected a single equality clause to be fully solved by the index")
	}
}

func TestPlanFallsBackToCollectionScan(t *testing.T) {
	mgr := index.NewManager(t.TempDir(), "users", logger.Default())
	p, explain := Plan(map[string]interface{}{"name": "alice"}, nil, mgr)
	if p.Kind != CollectionScan {
		t.Fatalf("expected CollectionScan, got %s", p.Kind)
	}
	if explain.Kind != string(CollectionScan) {
		t.Fatalf("unexpected explain: %+v", explain)
	}
}

func TestPlanRangeNotFullySolved(t *testing.T) {
	mgr := index.NewManager(t.TempDir(), "users", logger.Default())
	mgr.Create("by_age", []string{"age"}, false, nil)

	p, _ := Plan(map[string]interface{}{"age": map[string]interface{}{"$gte": float64(18)}}, nil, mgr)
	if p.Kind != IndexScan {
		t.Fatalf("expected IndexScan, got %s", p.Kind)
	}
	if p.FullySolved {
		t.Fatal("expected range scan to still require a filter re-check")
	}
}

func TestRunIndexScanReChecksFilter(t *testing.T) {
	mgr := index.NewManager(t.TempDir(), "users", logger.Default())
	docsByID := map[uint64]map[string]interface{}{
		1: {"_id": float64(1), "age": float64(20), "status": "active"},
		2: {"_id": float64(2), "age": float64(25), "status": "banned"},
	}
	idx, _ := mgr.Create("by_age", []string{"age"}, false, docsByID)

	query := map[string]interface{}{
		"age":    map[string]interface{}{"$gte": float64(18)},
		"status": "active",
	}
	p, _ := Plan(query, nil, mgr)
	f, err := filter.Compile(query)
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}

	fetch := func(id uint64) (map[string]interface{}, bool) {
		d, ok := docsByID[id]
		return d, ok
	}
	ids := RunIndexScan(idx, p, f, fetch, p.FullySolved)
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected only id 1 to survive the re-check, got %v", ids)
	}
}

func TestPlanUsesCompoundIndexOnLeadingPrefix(t *testing.T) {
	mgr := index.NewManager(t.TempDir(), "users", logger.Default())
	mgr.Create("by_dept_age", []string{"dept", "age"}, false, map[uint64]map[string]interface{}{
		1: {"_id": float64(1), "dept": "eng", "age": float64(30)},
		2: {"_id": float64(2), "dept": "eng", "age": float64(40)},
		3: {"_id": float64(3), "dept": "sales", "age": float64(25)},
	})

	p, explain := Plan(map[string]interface{}{"dept": "eng"}, nil, mgr)
	if p.Kind != IndexScan {
		t.Fatalf("expected a leading-prefix query to use the compound index, got %s", p.Kind)
	}
	if explain.IndexName != "by_dept_age" {
		t.Fatalf("expected explain to name by_dept_age, got %+v", explain)
	}
	if p.FullySolved {
		t.Fatal("a prefix-only match doesn't fully solve a compound index's filter")
	}
}

func TestPlanChoosesIndexForSortWithNoFilter(t *testing.T) {
	mgr := index.NewManager(t.TempDir(), "users", logger.Default())
	mgr.Create("by_age", []string{"age"}, false, nil)

	p, explain := Plan(map[string]interface{}{}, []docmodel.SortKey{{Field: "age"}}, mgr)
	if p.Kind != IndexScan {
		t.Fatalf("expected the sort order to select an index, got %s", p.Kind)
	}
	if explain.IndexName != "by_age" {
		t.Fatalf("expected explain to name by_age, got %+v", explain)
	}
}
