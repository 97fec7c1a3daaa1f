// Package docmodel holds document-shaped helpers shared across the
// collection, query, and storage layers: id assignment, deep copying,
// and distinct-value extraction. Kept separate from
// internal/record (the on-disk framing) because these helpers operate on
// already-decoded documents regardless of where they came from.
package docmodel

import (
	"sort"
	"sync/atomic"

	"github.com/petitan/ironbase/internal/index"
)

// IDKey is the reserved primary-key attribute on every document.
const IDKey = "_id"

// Counter hands out strictly increasing document ids for one collection,
// seeded from the highest id observed during storage-log replay
// ("last_id counter, restored from the live version map on open").
type Counter struct {
	next uint64
}

// NewCounter returns a counter that will hand out highest+1 next.
func NewCounter(highest uint64) *Counter {
	return &Counter{next: highest}
}

// Next returns the next unused id.
func (c *Counter) Next() uint64 {
	return atomic.AddUint64(&c.next, 1)
}

// Observe advances the counter past id if id is higher than anything
// seen so far, used when replaying existing documents into a fresh
// counter.
func (c *Counter) Observe(id uint64) {
	for {
		cur := atomic.LoadUint64(&c.next)
		if id <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&c.next, cur, id) {
			return
		}
	}
}

// WithID returns a copy of doc with its _id field set.
func WithID(doc map[string]interface{}, id uint64) map[string]interface{} {
	out := Clone(doc)
	out[IDKey] = float64(id)
	return out
}

// Clone deep-copies a document so callers never accidentally alias a
// document still referenced by an index or another transaction's
// buffered ops.
func Clone(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return Clone(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Distinct returns the unique values found at path across docs, in
// first-seen order, matching the distinct() operation's contract.
func Distinct(docs []map[string]interface{}, path string) []interface{} {
	var out []interface{}
	for _, doc := range docs {
		v, ok := lookupDotPath(doc, path)
		if !ok {
			continue
		}
		if !containsValue(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func containsValue(haystack []interface{}, v interface{}) bool {
	for _, h := range haystack {
		if index.CompareValues(h, v) == 0 {
			return true
		}
	}
	return false
}

// SortKey is one field/direction pair in a find's requested sort order,
// applied left to right as tiebreakers.
type SortKey struct {
	Field string
	Desc  bool
}

// Sort stably orders docs in place by keys, missing fields sorting as
// null (the lowest rank, matching a compound index's own field
// extraction — "a missing field yields a null component").
func Sort(docs []map[string]interface{}, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			vi, _ := lookupDotPath(docs[i], k.Field)
			vj, _ := lookupDotPath(docs[j], k.Field)
			c := index.CompareValues(vi, vj)
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Paginate applies skip then limit to docs, clamping both to the slice's
// bounds. limit <= 0 means unbounded.
func Paginate(docs []map[string]interface{}, skip, limit int) []map[string]interface{} {
	if skip > 0 {
		if skip >= len(docs) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// Project applies a Mongo-style inclusion/exclusion projection: a spec
// whose values are all truthy keeps only those fields (plus _id, always
// kept unless explicitly excluded), while a spec whose values are all
// falsy keeps everything except those fields. A nil or empty spec
// returns doc unchanged.
func Project(doc map[string]interface{}, spec map[string]bool) map[string]interface{} {
	if len(spec) == 0 {
		return doc
	}
	if isExclusionSpec(spec) {
		out := Clone(doc)
		for field := range spec {
			delete(out, field)
		}
		return out
	}
	out := make(map[string]interface{})
	if id, ok := doc[IDKey]; ok {
		if include, set := spec[IDKey]; !set || include {
			out[IDKey] = id
		}
	}
	for field, include := range spec {
		if !include {
			continue
		}
		if v, ok := lookupDotPath(doc, field); ok {
			out[field] = cloneValue(v)
		}
	}
	return out
}

func isExclusionSpec(spec map[string]bool) bool {
	for _, include := range spec {
		if include {
			return false
		}
	}
	return true
}

func lookupDotPathSegments(doc map[string]interface{}, segments []string) (interface{}, bool) {
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

func lookupDotPath(doc map[string]interface{}, path string) (interface{}, bool) {
	return lookupDotPathSegments(doc, splitPath(path))
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}
