// Package planner chooses between an IndexScan and a CollectionScan for
// a compiled filter, and produces an explain() trace
// describing the choice. Grounded on docdb's query engine
// (internal/docdb's former cost-free "does an index exist for this
// field" selection) generalized to single-field and compound indexes
// via leading-prefix matching, and to choosing an index purely from a
// requested sort order when no filter clause narrows the scan.
package planner

import (
	"strings"

	"github.com/petitan/ironbase/internal/docmodel"
	"github.com/petitan/ironbase/internal/index"
	"github.com/petitan/ironbase/internal/query/filter"
)

// PlanKind identifies which scan strategy a Plan chose.
type PlanKind string

const (
	IndexScan      PlanKind = "IndexScan"
	CollectionScan PlanKind = "CollectionScan"
)

// Plan is the result of planning one query: how to fetch candidate
// documents, to be narrowed (for IndexScan, possibly fully satisfied) by
// the raw filter.
type Plan struct {
	Kind        PlanKind
	IndexName   string
	Fields      []string
	Range       index.Range
	FullySolved bool // true if the index range alone satisfies the filter
	Reverse     bool // scan the index back-to-front to satisfy a descending sort
}

// Explain describes a plan in a structured shape:
// an explain() trace showing the chosen strategy and why.
type Explain struct {
	Kind      string   `json:"kind"`
	IndexName string   `json:"index_name,omitempty"`
	Fields    []string `json:"fields,omitempty"`
	Reason    string   `json:"reason"`
}

// Plan inspects a raw (uncompiled) query document's top-level equality
// and range clauses against the collection's registered indexes and
// picks an IndexScan over the longest matching leading prefix of some
// compound (or single-field) index; failing that, it looks for an index
// whose field order satisfies sort with no filter narrowing at all;
// otherwise it falls back to a full CollectionScan.
func Plan(query map[string]interface{}, sort []docmodel.SortKey, indexes *index.Manager) (*Plan, Explain) {
	if p, e, ok := planFromFilter(query, indexes); ok {
		return p, e
	}
	if p, e, ok := planFromSort(sort, indexes); ok {
		return p, e
	}
	return &Plan{Kind: CollectionScan}, Explain{Kind: string(CollectionScan), Reason: "no usable index for this filter or sort"}
}

// clause is one top-level field's compiled equality or range constraint.
type clause struct {
	eq    interface{}
	eqSet bool
	rng   index.Range
}

func collectClauses(query map[string]interface{}) map[string]clause {
	out := make(map[string]clause, len(query))
	for field, raw := range query {
		if len(field) > 0 && field[0] == '$' {
			continue // logical operator at top level: not indexable by this planner
		}
		if v, ok := asEquality(raw); ok {
			out[field] = clause{eq: v, eqSet: true}
			continue
		}
		if r, ok := asRange(raw); ok {
			out[field] = clause{rng: r}
		}
	}
	return out
}

func planFromFilter(query map[string]interface{}, indexes *index.Manager) (*Plan, Explain, bool) {
	clauses := collectClauses(query)
	if len(clauses) == 0 {
		return nil, Explain{}, false
	}

	var best *index.Index
	var bestMatched int
	var bestRangeAtEnd bool

	for _, idx := range indexes.All() {
		matched := 0
		rangeAtEnd := false
		for _, f := range idx.Fields {
			c, ok := clauses[f]
			if !ok {
				break
			}
			matched++
			if !c.eqSet {
				rangeAtEnd = true
				break // a range bound only narrows the one field it's on
			}
		}
		if matched == 0 {
			continue
		}
		if matched > bestMatched || (matched == bestMatched && best != nil && idx.Unique && !best.Unique) {
			best, bestMatched, bestRangeAtEnd = idx, matched, rangeAtEnd
		}
	}

	if best == nil {
		return nil, Explain{}, false
	}

	lo := make(index.Key, len(best.Fields))
	hi := make(index.Key, len(best.Fields))
	inclusiveLo, inclusiveHi := true, true
	for i := range best.Fields {
		if i >= bestMatched {
			lo[i], hi[i] = nil, index.Top
			continue
		}
		c := clauses[best.Fields[i]]
		if c.eqSet {
			lo[i], hi[i] = c.eq, c.eq
			continue
		}
		if len(c.rng.Lo) > 0 {
			lo[i], inclusiveLo = c.rng.Lo[0], c.rng.InclusiveLo
		} else {
			lo[i] = nil
		}
		if len(c.rng.Hi) > 0 {
			hi[i], inclusiveHi = c.rng.Hi[0], c.rng.InclusiveHi
		} else {
			hi[i] = index.Top
		}
	}

	fullySolved := !bestRangeAtEnd && bestMatched == len(best.Fields) && len(query) == bestMatched
	reason := "equality match on indexed field(s) " + strings.Join(best.Fields[:bestMatched], ",")
	if bestRangeAtEnd {
		reason = "range bound on indexed field " + best.Fields[bestMatched-1]
	}

	p := &Plan{
		Kind:        IndexScan,
		IndexName:   best.Name,
		Fields:      best.Fields,
		Range:       index.Range{Lo: lo, Hi: hi, InclusiveLo: inclusiveLo, InclusiveHi: inclusiveHi},
		FullySolved: fullySolved,
	}
	return p, Explain{Kind: string(IndexScan), IndexName: best.Name, Fields: best.Fields, Reason: reason}, true
}

// planFromSort picks an index whose field order satisfies sort's leading
// keys, with no filter narrowing at all, so an ordered find(filter, opts)
// with no usable filter clause can still avoid a full buffer sort.
func planFromSort(sortKeys []docmodel.SortKey, indexes *index.Manager) (*Plan, Explain, bool) {
	if len(sortKeys) == 0 {
		return nil, Explain{}, false
	}
	reverse, uniform := sortDirection(sortKeys)
	if !uniform {
		return nil, Explain{}, false
	}

	for _, idx := range indexes.All() {
		if len(idx.Fields) < len(sortKeys) {
			continue
		}
		match := true
		for i, sk := range sortKeys {
			if idx.Fields[i] != sk.Field {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		return &Plan{Kind: IndexScan, IndexName: idx.Name, Fields: idx.Fields, Reverse: reverse},
			Explain{Kind: string(IndexScan), IndexName: idx.Name, Fields: idx.Fields, Reason: "index field order matches requested sort"},
			true
	}
	return nil, Explain{}, false
}

// sortDirection reports whether every key points the same direction, and
// whether that direction runs opposite the index's natural ascending
// order.
func sortDirection(keys []docmodel.SortKey) (reverse, uniform bool) {
	reverse = keys[0].Desc
	for _, k := range keys {
		if k.Desc != reverse {
			return false, false
		}
	}
	return reverse, true
}

// asEquality reports whether raw is a bare scalar (implicit $eq) or an
// explicit {"$eq": v} clause.
func asEquality(raw interface{}) (interface{}, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return raw, true
	}
	if len(m) == 1 {
		if v, ok := m["$eq"]; ok {
			return v, true
		}
	}
	return nil, false
}

// asRange recognizes a single-field clause built purely from
// $gt/$gte/$lt/$lte, folding them into one bounded index.Range.
func asRange(raw interface{}) (index.Range, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return index.Range{}, false
	}
	var r index.Range
	found := false
	for op, v := range m {
		switch op {
		case "$gt":
			r.Lo, r.InclusiveLo = index.Key{v}, false
		case "$gte":
			r.Lo, r.InclusiveLo = index.Key{v}, true
		case "$lt":
			r.Hi, r.InclusiveHi = index.Key{v}, false
		case "$lte":
			r.Hi, r.InclusiveHi = index.Key{v}, true
		default:
			return index.Range{}, false
		}
		found = true
	}
	return r, found
}

// RunIndexScan executes an IndexScan plan, returning candidate document
// ids in index order (reversed when the plan satisfies a descending
// sort), re-checked against the full compiled filter unless the plan is
// already FullySolved.
func RunIndexScan(idx *index.Index, p *Plan, f *filter.Filter, fetch func(id uint64) (map[string]interface{}, bool), fullySolvedOK bool) []uint64 {
	var ids []uint64
	idx.Scan(p.Range, func(key index.Key, id uint64) bool {
		if fullySolvedOK {
			ids = append(ids, id)
			return true
		}
		doc, ok := fetch(id)
		if ok && f.Matches(doc) {
			ids = append(ids, id)
		}
		return true
	})
	if p.Reverse {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	return ids
}
