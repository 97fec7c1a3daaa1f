package filter

import "testing"

func mustCompile(t *testing.T, q map[string]interface{}) *Filter {
	t.Helper()
	f, err := Compile(q)
	if err != nil {
		t.Fatalf("compile %v: %v", q, err)
	}
	return f
}

func TestImplicitEq(t *testing.T) {
	f := mustCompile(t, map[string]interface{}{"status": "active"})
	if !f.Matches(map[string]interface{}{"status": "active"}) {
		t.Error("expected match")
	}
	if f.Matches(map[string]interface{}{"status": "inactive"}) {
		t.Error("expected no match")
	}
}

func TestComparisonOperators(t *testing.T) {
	f := mustCompile(t, map[string]interface{}{"age": map[string]interface{}{"$gte": float64(18), "$lt": float64(65)}})
	cases := []struct {
		age  float64
		want bool
	}{
		{17, false},
		{18, true},
		{30, true},
		{65, false},
	}
	for _, c := range cases {
		doc := map[string]interface{}{"age": c.age}
		if got := f.Matches(doc); got != c.want {
			t.Errorf("age=%v: got %v want %v", c.age, got, c.want)
		}
	}
}

func TestExists(t *testing.T) {
	f := mustCompile(t, map[string]interface{}{"nickname": map[string]interface{}{"$exists": true}})
	if f.Matches(map[string]interface{}{"name": "alice"}) {
		t.Error("expected no match without nickname")
	}
	if !f.Matches(map[string]interface{}{"name": "alice", "nickname": "al"}) {
		t.Error("expected match with nickname")
	}
}

func TestInNin(t *testing.T) {
	f := mustCompile(t, map[string]interface{}{"tier": map[string]interface{}{"$in": []interface{}{"gold", "platinum"}}})
	if !f.Matches(map[string]interface{}{"tier": "gold"}) {
		t.Error("expected match")
	}
	if f.Matches(map[string]interface{}{"tier": "bronze"}) {
		t.Error("expected no match")
	}
}

func TestAndOr(t *testing.T) {
	q := map[string]interface{}{
		"$or": []interface{}{
			map[string]interface{}{"status": "active"},
			map[string]interface{}{"age": map[string]interface{}{"$gt": float64(60)}},
		},
	}
	f := mustCompile(t, q)
	if !f.Matches(map[string]interface{}{"status": "active", "age": float64(20)}) {
		t.Error("expected match via status")
	}
	if !f.Matches(map[string]interface{}{"status": "inactive", "age": float64(70)}) {
		t.Error("expected match via age")
	}
	if f.Matches(map[string]interface{}{"status": "inactive", "age": float64(20)}) {
		t.Error("expected no match")
	}
}

func TestRegex(t *testing.T) {
	f := mustCompile(t, map[string]interface{}{"email": map[string]interface{}{"$regex": "^a.*@example\\.com$"}})
	if !f.Matches(map[string]interface{}{"email": "alice@example.com"}) {
		t.Error("expected match")
	}
	if f.Matches(map[string]interface{}{"email": "bob@example.com"}) {
		t.Error("expected no match")
	}
}

func TestAllAndSize(t *testing.T) {
	f := mustCompile(t, map[string]interface{}{
		"tags": map[string]interface{}{"$all": []interface{}{"a", "b"}, "$size": float64(2)},
	})
	if !f.Matches(map[string]interface{}{"tags": []interface{}{"a", "b"}}) {
		t.Error("expected match")
	}
	if f.Matches(map[string]interface{}{"tags": []interface{}{"a", "b", "c"}}) {
		t.Error("expected no match due to $size")
	}
	if f.Matches(map[string]interface{}{"tags": []interface{}{"a"}}) {
		t.Error("expected no match due to $all")
	}
}

func TestElemMatch(t *testing.T) {
	q := map[string]interface{}{
		"scores": map[string]interface{}{
			"$elemMatch": map[string]interface{}{
				"subject": "math",
				"score":   map[string]interface{}{"$gte": float64(90)},
			},
		},
	}
	f := mustCompile(t, q)
	doc := map[string]interface{}{
		"scores": []interface{}{
			map[string]interface{}{"subject": "math", "score": float64(80)},
			map[string]interface{}{"subject": "math", "score": float64(95)},
		},
	}
	if !f.Matches(doc) {
		t.Error("expected match")
	}
}

func TestNot(t *testing.T) {
	f := mustCompile(t, map[string]interface{}{"status": map[string]interface{}{"$not": map[string]interface{}{"$eq": "banned"}}})
	if !f.Matches(map[string]interface{}{"status": "active"}) {
		t.Error("expected match")
	}
	if f.Matches(map[string]interface{}{"status": "banned"}) {
		t.Error("expected no match")
	}
}

func TestNestedDotPath(t *testing.T) {
	f := mustCompile(t, map[string]interface{}{"profile.score": map[string]interface{}{"$gt": float64(50)}})
	doc := map[string]interface{}{"profile": map[string]interface{}{"score": float64(60)}}
	if !f.Matches(doc) {
		t.Error("expected match")
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f := mustCompile(t, map[string]interface{}{})
	if !f.Matches(map[string]interface{}{"anything": true}) {
		t.Error("expected empty filter to match")
	}
}

func TestUnknownOperatorRejected(t *testing.T) {
	_, err := Compile(map[string]interface{}{"age": map[string]interface{}{"$bogus": 1}})
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
}
