package update

import (
	"reflect"
	"testing"
)

func mustCompile(t *testing.T, spec map[string]interface{}) *Update {
	t.Helper()
	u, err := Compile(spec)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return u
}

func TestSetAndUnset(t *testing.T) {
	u := mustCompile(t, map[string]interface{}{
		"$set":   map[string]interface{}{"status": "active"},
		"$unset": map[string]interface{}{"legacy": ""},
	})
	doc := map[string]interface{}{"status": "new", "legacy": true}
	out, err := u.Apply(doc)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out["status"] != "active" {
		t.Errorf("expected status=active, got %v", out["status"])
	}
	if _, exists := out["legacy"]; exists {
		t.Error("expected legacy to be unset")
	}
	// original untouched
	if doc["status"] != "new" {
		t.Error("expected original document to be unmodified")
	}
}

func TestInc(t *testing.T) {
	u := mustCompile(t, map[string]interface{}{"$inc": map[string]interface{}{"views": float64(5)}})
	out, err := u.Apply(map[string]interface{}{"views": float64(10)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out["views"] != float64(15) {
		t.Errorf("expected views=15, got %v", out["views"])
	}
}

func TestIncOnMissingField(t *testing.T) {
	u := mustCompile(t, map[string]interface{}{"$inc": map[string]interface{}{"views": float64(3)}})
	out, err := u.Apply(map[string]interface{}{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out["views"] != float64(3) {
		t.Errorf("expected views=3, got %v", out["views"])
	}
}

func TestPushPullAddToSetPop(t *testing.T) {
	u := mustCompile(t, map[string]interface{}{"$push": map[string]interface{}{"tags": "c"}})
	out, err := u.Apply(map[string]interface{}{"tags": []interface{}{"a", "b"}})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !reflect.DeepEqual(out["tags"], []interface{}{"a", "b", "c"}) {
		t.Fatalf("unexpected tags: %v", out["tags"])
	}

	u = mustCompile(t, map[string]interface{}{"$pull": map[string]interface{}{"tags": "b"}})
	out, err = u.Apply(map[string]interface{}{"tags": []interface{}{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if !reflect.DeepEqual(out["tags"], []interface{}{"a", "c"}) {
		t.Fatalf("unexpected tags after pull: %v", out["tags"])
	}

	u = mustCompile(t, map[string]interface{}{"$addToSet": map[string]interface{}{"tags": "a"}})
	out, err = u.Apply(map[string]interface{}{"tags": []interface{}{"a", "b"}})
	if err != nil {
		t.Fatalf("addToSet: %v", err)
	}
	if !reflect.DeepEqual(out["tags"], []interface{}{"a", "b"}) {
		t.Fatalf("expected no duplicate add, got %v", out["tags"])
	}

	u = mustCompile(t, map[string]interface{}{"$pop": map[string]interface{}{"tags": float64(1)}})
	out, err = u.Apply(map[string]interface{}{"tags": []interface{}{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if !reflect.DeepEqual(out["tags"], []interface{}{"a", "b"}) {
		t.Fatalf("expected last element popped, got %v", out["tags"])
	}
}

func TestNestedDotPathSet(t *testing.T) {
	u := mustCompile(t, map[string]interface{}{"$set": map[string]interface{}{"profile.score": float64(99)}})
	out, err := u.Apply(map[string]interface{}{"profile": map[string]interface{}{"score": float64(1)}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	profile := out["profile"].(map[string]interface{})
	if profile["score"] != float64(99) {
		t.Errorf("expected score=99, got %v", profile["score"])
	}
}

func TestFixedApplicationOrder(t *testing.T) {
	// $set then $inc must run in that order regardless of map iteration:
	// set count=10 first, then inc by 5 -> 15.
	u := mustCompile(t, map[string]interface{}{
		"$set": map[string]interface{}{"count": float64(10)},
		"$inc": map[string]interface{}{"count": float64(5)},
	})
	out, err := u.Apply(map[string]interface{}{"count": float64(1)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out["count"] != float64(15) {
		t.Errorf("expected count=15, got %v", out["count"])
	}
}

func TestUnknownOperatorRejected(t *testing.T) {
	_, err := Compile(map[string]interface{}{"$bogus": map[string]interface{}{"x": 1}})
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
}
