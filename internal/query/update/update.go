// Package update compiles and applies a MongoDB-dialect update document:
// $set, $unset, $inc, $push, $pull, $addToSet, $pop, applied
// to a copy of the target document in a fixed order so the result of a
// multi-operator update is independent of map iteration order. docdb has
// no update-operator precedent, so this package follows the dot-path
// traversal idiom established in internal/query/filter instead.
package update

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/petitan/ironbase/internal/index"
	"github.com/petitan/ironbase/internal/ironerr"
)

// applyOrder is the fixed evaluation order required: within one
// update document, $set runs before $unset, before $inc, and so on,
// regardless of how the caller wrote the document's keys.
var applyOrder = []string{"$set", "$unset", "$inc", "$push", "$pull", "$addToSet", "$pop"}

// op is one compiled (path -> argument) pair for a single operator.
type op struct {
	path string
	arg  interface{}
}

// Update is a compiled update document, ready to apply to any number of
// target documents.
type Update struct {
	ops map[string][]op
}

// Compile validates and compiles an update document.
func Compile(spec map[string]interface{}) (*Update, error) {
	u := &Update{ops: make(map[string][]op)}
	for key, val := range spec {
		if !isKnownOperator(key) {
			return nil, ironerr.Wrap(ironerr.CodeQueryError, fmt.Errorf("update: unknown operator %q", key))
		}
		fields, ok := val.(map[string]interface{})
		if !ok {
			return nil, ironerr.Wrap(ironerr.CodeQueryError, fmt.Errorf("update: %s requires an object of field paths", key))
		}
		for path, arg := range fields {
			u.ops[key] = append(u.ops[key], op{path: path, arg: arg})
		}
	}
	return u, nil
}

func isKnownOperator(key string) bool {
	for _, k := range applyOrder {
		if k == key {
			return true
		}
	}
	return false
}

// Apply returns a new document with every operator applied to a deep
// copy of doc, in the fixed order, leaving doc itself untouched.
func (u *Update) Apply(doc map[string]interface{}) (map[string]interface{}, error) {
	result := deepCopy(doc)

	for _, opName := range applyOrder {
		ops, ok := u.ops[opName]
		if !ok {
			continue
		}
		for _, o := range ops {
			var err error
			switch opName {
			case "$set":
				err = applySet(result, o.path, o.arg)
			case "$unset":
				applyUnset(result, o.path)
			case "$inc":
				err = applyInc(result, o.path, o.arg)
			case "$push":
				err = applyPush(result, o.path, o.arg)
			case "$pull":
				err = applyPull(result, o.path, o.arg)
			case "$addToSet":
				err = applyAddToSet(result, o.path, o.arg)
			case "$pop":
				err = applyPop(result, o.path, o.arg)
			}
			if err != nil {
				return nil, ironerr.Wrap(ironerr.CodeQueryError, fmt.Errorf("update: %s %s: %w", opName, o.path, err))
			}
		}
	}
	return result, nil
}

func deepCopy(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopy(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// navigate walks path against doc, creating intermediate objects as
// needed, and returns the parent map and final key so the caller can
// read or write the leaf value directly.
func navigate(doc map[string]interface{}, path string, create bool) (map[string]interface{}, string, bool) {
	segments := strings.Split(path, ".")
	current := doc
	for i, seg := range segments[:len(segments)-1] {
		next, exists := current[seg]
		if !exists {
			if !create {
				return nil, "", false
			}
			m := make(map[string]interface{})
			current[seg] = m
			current = m
			continue
		}
		m, ok := next.(map[string]interface{})
		if !ok {
			return nil, "", false
		}
		_ = i
		current = m
	}
	return current, segments[len(segments)-1], true
}

func applySet(doc map[string]interface{}, path string, val interface{}) error {
	parent, key, ok := navigate(doc, path, true)
	if !ok {
		return fmt.Errorf("path traverses a non-object value")
	}
	parent[key] = val
	return nil
}

func applyUnset(doc map[string]interface{}, path string) {
	parent, key, ok := navigate(doc, path, false)
	if !ok {
		return
	}
	delete(parent, key)
}

func applyInc(doc map[string]interface{}, path string, arg interface{}) error {
	delta, ok := toFloat(arg)
	if !ok {
		return fmt.Errorf("$inc requires a numeric argument")
	}
	parent, key, ok := navigate(doc, path, true)
	if !ok {
		return fmt.Errorf("path traverses a non-object value")
	}
	current, exists := parent[key]
	if !exists {
		parent[key] = delta
		return nil
	}
	cur, ok := toFloat(current)
	if !ok {
		return fmt.Errorf("existing value is not numeric")
	}
	parent[key] = cur + delta
	return nil
}

func applyPush(doc map[string]interface{}, path string, val interface{}) error {
	parent, key, ok := navigate(doc, path, true)
	if !ok {
		return fmt.Errorf("path traverses a non-object value")
	}
	current, exists := parent[key]
	if !exists {
		parent[key] = []interface{}{val}
		return nil
	}
	arr, ok := current.([]interface{})
	if !ok {
		return fmt.Errorf("existing value is not an array")
	}
	parent[key] = append(arr, val)
	return nil
}

func applyPull(doc map[string]interface{}, path string, val interface{}) error {
	parent, key, ok := navigate(doc, path, false)
	if !ok {
		return nil
	}
	current, exists := parent[key]
	if !exists {
		return nil
	}
	arr, ok := current.([]interface{})
	if !ok {
		return fmt.Errorf("existing value is not an array")
	}
	out := make([]interface{}, 0, len(arr))
	for _, e := range arr {
		if index.CompareValues(e, val) != 0 {
			out = append(out, e)
		}
	}
	parent[key] = out
	return nil
}

func applyAddToSet(doc map[string]interface{}, path string, val interface{}) error {
	parent, key, ok := navigate(doc, path, true)
	if !ok {
		return fmt.Errorf("path traverses a non-object value")
	}
	current, exists := parent[key]
	if !exists {
		parent[key] = []interface{}{val}
		return nil
	}
	arr, ok := current.([]interface{})
	if !ok {
		return fmt.Errorf("existing value is not an array")
	}
	for _, e := range arr {
		if index.CompareValues(e, val) == 0 {
			return nil
		}
	}
	parent[key] = append(arr, val)
	return nil
}

// applyPop removes the first (-1) or last (1) element of an array field.
func applyPop(doc map[string]interface{}, path string, arg interface{}) error {
	parent, key, ok := navigate(doc, path, false)
	if !ok {
		return nil
	}
	current, exists := parent[key]
	if !exists {
		return nil
	}
	arr, ok := current.([]interface{})
	if !ok {
		return fmt.Errorf("existing value is not an array")
	}
	if len(arr) == 0 {
		return nil
	}
	dir, ok := toFloat(arg)
	if !ok {
		return fmt.Errorf("$pop requires a numeric direction")
	}
	if dir < 0 {
		parent[key] = arr[1:]
	} else {
		parent[key] = arr[:len(arr)-1]
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
