package docmodel

import "testing"

func TestCounterNextAndObserve(t *testing.T) {
	c := NewCounter(0)
	if got := c.Next(); got != 1 {
		t.Fatalf("expected first id 1, got %d", got)
	}
	c.Observe(100)
	if got := c.Next(); got != 101 {
		t.Fatalf("expected id 101 after observing 100, got %d", got)
	}
}

func TestWithIDDoesNotMutateOriginal(t *testing.T) {
	doc := map[string]interface{}{"name": "alice"}
	out := WithID(doc, 5)
	if _, exists := doc[IDKey]; exists {
		t.Fatal("expected original document to be unmodified")
	}
	if out[IDKey] != float64(5) {
		t.Fatalf("expected _id=5, got %v", out[IDKey])
	}
}

func TestCloneDeepCopiesNested(t *testing.T) {
	doc := map[string]interface{}{
		"profile": map[string]interface{}{"score": float64(1)},
		"tags":    []interface{}{"a", "b"},
	}
	clone := Clone(doc)
	clone["profile"].(map[string]interface{})["score"] = float64(2)
	clone["tags"].([]interface{})[0] = "z"

	if doc["profile"].(map[string]interface{})["score"] != float64(1) {
		t.Fatal("expected original nested object to be unaffected by clone mutation")
	}
	if doc["tags"].([]interface{})[0] != "a" {
		t.Fatal("expected original array to be unaffected by clone mutation")
	}
}

func TestDistinct(t *testing.T) {
	docs := []map[string]interface{}{
		{"dept": "eng"},
		{"dept": "sales"},
		{"dept": "eng"},
		{"dept": "ops"},
	}
	got := Distinct(docs, "dept")
	want := []interface{}{"eng", "sales", "ops"}
	if len(got) != len(want) {
		t.Fatalf("unexpected distinct result: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected distinct result: %v", got)
		}
	}
}

func TestDistinctNestedPath(t *testing.T) {
	docs := []map[string]interface{}{
		{"profile": map[string]interface{}{"tier": "gold"}},
		{"profile": map[string]interface{}{"tier": "gold"}},
		{"profile": map[string]interface{}{"tier": "silver"}},
	}
	got := Distinct(docs, "profile.tier")
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct tiers, got %v", got)
	}
}
