package filter

import "strings"

// lookup resolves a dot-separated path against doc, descending through
// nested objects only, as index key extraction does: a path that would
// descend into an array does not resolve. When the final segment resolves
// to an array, the array is returned whole and per-element matching is
// handled by the caller (matchesEqual, matchesAny, ...), mirroring
// Mongo's "match if any element matches" semantics for array fields.
func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
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
