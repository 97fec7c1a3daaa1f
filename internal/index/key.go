// Package index implements IronBase's in-memory ordered index layer
// single-field and compound keys, unique enforcement, range
// scans, and a disk sidecar. The ordered container is
// github.com/google/btree (named in this repo's reference pack by both
// erigon and warren's go.mod), used for: "a
// balanced ordered tree" in memory, persisted to a sidecar on demand.
package index

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// topValue sentinels the highest possible rank in the type order, used
// to fill the unconstrained trailing fields of a compound-index
// prefix-range scan's upper bound (pairing with nil, already rank 0, as
// the matching lower-bound filler).
type topValue struct{}

// Top compares greater than every real document value under
// CompareValues/Key.Compare. Never stored in an index; only ever used to
// build a Range's Hi bound.
var Top interface{} = topValue{}

// typeRank orders index-key component types: null < bool < number <
// string < array < object < Top.
func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, int, int64, uint64:
		return 2
	case string:
		return 3
	case []interface{}:
		return 4
	case map[string]interface{}:
		return 5
	case topValue:
		return 6
	default:
		return 7
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// CompareValues implements a total order across JSON value types: type rank
// first, then value. Numbers compare numerically across int/double after
// conversion to float64; two numbers that convert to the same float64
// compare equal, with no further byte-exact tiebreak.
func CompareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case 0: // null
		return 0
	case 1: // bool
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba {
			return -1
		}
		return 1
	case 2: // number
		fa, _ := asFloat(a)
		fb, _ := asFloat(b)
		if fa < fb {
			return -1
		}
		if fa > fb {
			return 1
		}
		return 0
	case 3: // string
		sa, sb := a.(string), b.(string)
		return strings.Compare(sa, sb)
	case 4: // array
		aa, ab := a.([]interface{}), b.([]interface{})
		return compareArrays(aa, ab)
	case 5: // object
		return compareObjects(a.(map[string]interface{}), b.(map[string]interface{}))
	default:
		return 0
	}
}

func compareArrays(a, b []interface{}) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareObjects(a, b map[string]interface{}) int {
	// Deterministic, if arbitrary, ordering for a type rarely used as an
	// index key: compare by sorted-key/value pairs.
	ka := sortedKeys(a)
	kb := sortedKeys(b)
	n := len(ka)
	if len(kb) < n {
		n = len(kb)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := CompareValues(a[ka[i]], b[kb[i]]); c != 0 {
			return c
		}
	}
	switch {
	case len(ka) < len(kb):
		return -1
	case len(ka) > len(kb):
		return 1
	default:
		return 0
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key is a tuple of field values: length 1 for a single-field index,
// length N for a compound index over N fields, compared lexicographically
// across indexed fields.
type Key []interface{}

// Compare orders k against other lexicographically by CompareValues.
func (k Key) Compare(other Key) int {
	n := len(k)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(k[i], other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k) < len(other):
		return -1
	case len(k) > len(other):
		return 1
	default:
		return 0
	}
}

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strconv.Quote(strings.Join(parts, "\x1f"))
}

// ExtractKey builds the index key for doc per the index's declared field
// paths, using dot-path lookups ("single-field: extracted by
// dot-path... Compound: tuple of dot-path lookups in declaration order").
// A missing field yields a null component.
func ExtractKey(doc map[string]interface{}, fields []string) Key {
	key := make(Key, len(fields))
	for i, path := range fields {
		v, ok := lookupDotPath(doc, path)
		if !ok {
			key[i] = nil
			continue
		}
		key[i] = v
	}
	return key
}

// lookupDotPath resolves a dot-separated path ("Profile.Score") against a
// nested document, traversing object fields only (the documented examples
// traverse nested objects; array-index traversal is not part of index
// key extraction).
func lookupDotPath(doc map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = doc
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, exists := m[seg]
		if !exists {
			return nil, false
		}
		current = v
	}
	return current, true
}
