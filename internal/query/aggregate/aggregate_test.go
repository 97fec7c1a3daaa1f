package aggregate

import "testing"

func docs() []map[string]interface{} {
	return []map[string]interface{}{
		{"_id": float64(1), "dept": "eng", "salary": float64(100)},
		{"_id": float64(2), "dept": "eng", "salary": float64(200)},
		{"_id": float64(3), "dept": "sales", "salary": float64(50)},
	}
}

func mustCompile(t *testing.T, spec []map[string]interface{}) *Pipeline {
	t.Helper()
	p, err := Compile(spec)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return p
}

func TestMatchStage(t *testing.T) {
	p := mustCompile(t, []map[string]interface{}{
		{"$match": map[string]interface{}{"dept": "eng"}},
	})
	out, err := p.Run(docs())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(out))
	}
}

func TestSortSkipLimit(t *testing.T) {
	p := mustCompile(t, []map[string]interface{}{
		{"$sort": map[string]interface{}{"salary": float64(-1)}},
		{"$skip": float64(1)},
		{"$limit": float64(1)},
	})
	out, err := p.Run(docs())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(out))
	}
	if out[0]["salary"] != float64(100) {
		t.Errorf("expected second-highest salary 100, got %v", out[0]["salary"])
	}
}

func TestGroupSumAvgMinMax(t *testing.T) {
	p := mustCompile(t, []map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id":   "$dept",
			"total": map[string]interface{}{"$sum": "$salary"},
			"avg":   map[string]interface{}{"$avg": "$salary"},
			"max":   map[string]interface{}{"$max": "$salary"},
			"min":   map[string]interface{}{"$min": "$salary"},
		}},
	})
	out, err := p.Run(docs())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(out))
	}
	byDept := make(map[interface{}]map[string]interface{})
	for _, d := range out {
		byDept[d["_id"]] = d
	}
	eng := byDept["eng"]
	if eng["total"] != float64(300) {
		t.Errorf("expected eng total=300, got %v", eng["total"])
	}
	if eng["avg"] != float64(150) {
		t.Errorf("expected eng avg=150, got %v", eng["avg"])
	}
	if eng["max"] != float64(200) {
		t.Errorf("expected eng max=200, got %v", eng["max"])
	}
	if eng["min"] != float64(100) {
		t.Errorf("expected eng min=100, got %v", eng["min"])
	}
}

func TestProjectInclusionAndExclusion(t *testing.T) {
	p := mustCompile(t, []map[string]interface{}{
		{"$project": map[string]interface{}{"dept": true}},
	})
	out, err := p.Run(docs())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, d := range out {
		if _, ok := d["salary"]; ok {
			t.Errorf("expected salary excluded from inclusion projection, got %v", d)
		}
		if _, ok := d["dept"]; !ok {
			t.Errorf("expected dept included, got %v", d)
		}
	}

	p = mustCompile(t, []map[string]interface{}{
		{"$project": map[string]interface{}{"salary": false}},
	})
	out, err = p.Run(docs())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, d := range out {
		if _, ok := d["salary"]; ok {
			t.Errorf("expected salary excluded, got %v", d)
		}
		if _, ok := d["dept"]; !ok {
			t.Errorf("expected dept to survive exclusion projection, got %v", d)
		}
	}
}

func TestFullPipeline(t *testing.T) {
	p := mustCompile(t, []map[string]interface{}{
		{"$match": map[string]interface{}{"dept": "eng"}},
		{"$group": map[string]interface{}{
			"_id":   "$dept",
			"total": map[string]interface{}{"$sum": "$salary"},
		}},
		{"$sort": map[string]interface{}{"total": float64(-1)}},
	})
	out, err := p.Run(docs())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0]["total"] != float64(300) {
		t.Fatalf("unexpected pipeline result: %v", out)
	}
}

func TestUnknownStageRejected(t *testing.T) {
	_, err := Compile([]map[string]interface{}{{"$bogus": map[string]interface{}{}}})
	if err == nil {
		t.Fatal("expected error for unknown stage")
	}
}
