// Package aggregate implements IronBase's aggregation pipeline:
// $match, $project, $sort, $skip, $limit, $group with
// $sum/$avg/$min/$max/$first/$last accumulators, run stage by stage over
// an in-memory document slice. Grounded on the same dot-path and
// operator-map idiom established in internal/query/filter; docdb has no
// aggregation precedent of its own.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/petitan/ironbase/internal/index"
	"github.com/petitan/ironbase/internal/ironerr"
	"github.com/petitan/ironbase/internal/query/filter"
)

// Stage is one compiled pipeline stage.
type Stage interface {
	Run(docs []map[string]interface{}) ([]map[string]interface{}, error)
}

// Pipeline is a compiled, ordered sequence of stages.
type Pipeline struct {
	stages []Stage
}

// Run executes every stage in order against docs.
func (p *Pipeline) Run(docs []map[string]interface{}) ([]map[string]interface{}, error) {
	current := docs
	for _, s := range p.stages {
		next, err := s.Run(current)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// Compile parses a pipeline document list, one object per stage, each
// naming exactly one of $match/$project/$sort/$skip/$limit/$group.
func Compile(pipeline []map[string]interface{}) (*Pipeline, error) {
	p := &Pipeline{}
	for _, stageSpec := range pipeline {
		if len(stageSpec) != 1 {
			return nil, ironerr.Wrap(ironerr.CodeAggregationError, fmt.Errorf("aggregate: stage must have exactly one operator"))
		}
		for name, body := range stageSpec {
			stage, err := compileStage(name, body)
			if err != nil {
				return nil, ironerr.Wrap(ironerr.CodeAggregationError, err)
			}
			p.stages = append(p.stages, stage)
		}
	}
	return p, nil
}

func compileStage(name string, body interface{}) (Stage, error) {
	switch name {
	case "$match":
		m, ok := body.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("$match requires an object")
		}
		f, err := filter.Compile(m)
		if err != nil {
			return nil, err
		}
		return matchStage{filter: f}, nil
	case "$project":
		m, ok := body.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("$project requires an object")
		}
		return projectStage{spec: m}, nil
	case "$sort":
		m, ok := body.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("$sort requires an object")
		}
		keys := make([]sortKey, 0, len(m))
		for field, dir := range m {
			d, ok := toFloat(dir)
			if !ok {
				return nil, fmt.Errorf("$sort direction must be numeric")
			}
			keys = append(keys, sortKey{field: field, desc: d < 0})
		}
		return sortStage{keys: keys}, nil
	case "$skip":
		n, ok := toFloat(body)
		if !ok || n < 0 {
			return nil, fmt.Errorf("$skip requires a non-negative number")
		}
		return skipStage{n: int(n)}, nil
	case "$limit":
		n, ok := toFloat(body)
		if !ok || n < 0 {
			return nil, fmt.Errorf("$limit requires a non-negative number")
		}
		return limitStage{n: int(n)}, nil
	case "$group":
		m, ok := body.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("$group requires an object")
		}
		return compileGroupStage(m)
	default:
		return nil, fmt.Errorf("aggregate: unknown stage %q", name)
	}
}

type matchStage struct {
	filter *filter.Filter
}

func (s matchStage) Run(docs []map[string]interface{}) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		if s.filter.Matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// projectStage includes (1/true) or excludes (0/false) fields, or
// computes a literal/field-reference value when the spec value isn't a
// plain inclusion flag.
type projectStage struct {
	spec map[string]interface{}
}

func (s projectStage) Run(docs []map[string]interface{}) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, len(docs))
	exclusionMode := isExclusionSpec(s.spec)
	for i, d := range docs {
		if exclusionMode {
			out[i] = projectExclude(d, s.spec)
		} else {
			out[i] = projectInclude(d, s.spec)
		}
	}
	return out, nil
}

func isExclusionSpec(spec map[string]interface{}) bool {
	for _, v := range spec {
		if truthy(v) {
			return false
		}
	}
	return true
}

func projectInclude(doc, spec map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	if id, ok := doc["_id"]; ok {
		out["_id"] = id
	}
	for field, v := range spec {
		if path, ok := v.(string); ok && strings.HasPrefix(path, "$") {
			if val, exists := lookupPath(doc, strings.TrimPrefix(path, "$")); exists {
				out[field] = val
			}
			continue
		}
		if !truthy(v) {
			continue
		}
		if val, exists := lookupPath(doc, field); exists {
			out[field] = val
		}
	}
	return out
}

func projectExclude(doc, spec map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for field := range spec {
		delete(out, field)
	}
	return out
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return true
	}
}

type sortKey struct {
	field string
	desc  bool
}

type sortStage struct {
	keys []sortKey
}

func (s sortStage) Run(docs []map[string]interface{}) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range s.keys {
			vi, _ := lookupPath(out[i], k.field)
			vj, _ := lookupPath(out[j], k.field)
			c := index.CompareValues(vi, vj)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out, nil
}

type skipStage struct{ n int }

func (s skipStage) Run(docs []map[string]interface{}) ([]map[string]interface{}, error) {
	if s.n >= len(docs) {
		return nil, nil
	}
	return docs[s.n:], nil
}

type limitStage struct{ n int }

func (s limitStage) Run(docs []map[string]interface{}) ([]map[string]interface{}, error) {
	if s.n >= len(docs) {
		return docs, nil
	}
	return docs[:s.n], nil
}

func lookupPath(doc map[string]interface{}, path string) (interface{}, bool) {
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

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
