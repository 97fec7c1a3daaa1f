package aggregate

import (
	"fmt"
	"strings"
)

// accumulator applies one field's running aggregate across every
// document in a group.
type accumulator interface {
	Add(doc map[string]interface{})
	Result() interface{}
}

type groupStage struct {
	idSpec    interface{}
	fieldSpec map[string]accumulatorSpec
}

type accumulatorSpec struct {
	op   string
	path string
}

func compileGroupStage(m map[string]interface{}) (Stage, error) {
	idSpec, hasID := m["_id"]
	if !hasID {
		return nil, fmt.Errorf("$group requires an _id")
	}

	fields := make(map[string]accumulatorSpec)
	for field, v := range m {
		if field == "_id" {
			continue
		}
		opMap, ok := v.(map[string]interface{})
		if !ok || len(opMap) != 1 {
			return nil, fmt.Errorf("$group field %q must name exactly one accumulator", field)
		}
		for op, arg := range opMap {
			path, ok := arg.(string)
			if !ok || !strings.HasPrefix(path, "$") {
				return nil, fmt.Errorf("$group accumulator %q requires a field reference", op)
			}
			switch op {
			case "$sum", "$avg", "$min", "$max", "$first", "$last":
				fields[field] = accumulatorSpec{op: op, path: strings.TrimPrefix(path, "$")}
			default:
				return nil, fmt.Errorf("unknown accumulator %q", op)
			}
		}
	}
	return groupStage{idSpec: idSpec, fieldSpec: fields}, nil
}

func (s groupStage) Run(docs []map[string]interface{}) ([]map[string]interface{}, error) {
	type bucket struct {
		key   interface{}
		accs  map[string]accumulator
		order int
	}
	order := make([]interface{}, 0)
	buckets := make(map[string]*bucket)

	for _, doc := range docs {
		key := s.evalGroupKey(doc)
		bucketKey := fmt.Sprintf("%v", key)
		b, exists := buckets[bucketKey]
		if !exists {
			b = &bucket{key: key, accs: make(map[string]accumulator)}
			for field, spec := range s.fieldSpec {
				b.accs[field] = newAccumulator(spec.op, spec.path)
			}
			buckets[bucketKey] = b
			order = append(order, bucketKey)
		}
		for _, acc := range b.accs {
			acc.Add(doc)
		}
	}

	out := make([]map[string]interface{}, 0, len(order))
	for _, k := range order {
		b := buckets[k.(string)]
		doc := map[string]interface{}{"_id": b.key}
		for field, acc := range b.accs {
			doc[field] = acc.Result()
		}
		out = append(out, doc)
	}
	return out, nil
}

// evalGroupKey resolves the _id expression: a literal value, or a single
// field reference string like "$status".
func (s groupStage) evalGroupKey(doc map[string]interface{}) interface{} {
	if path, ok := s.idSpec.(string); ok && strings.HasPrefix(path, "$") {
		v, _ := lookupPath(doc, strings.TrimPrefix(path, "$"))
		return v
	}
	return s.idSpec
}

func newAccumulator(op, path string) accumulator {
	switch op {
	case "$sum":
		return &sumAcc{path: path}
	case "$avg":
		return &avgAcc{path: path}
	case "$min":
		return &minMaxAcc{path: path, min: true}
	case "$max":
		return &minMaxAcc{path: path, min: false}
	case "$first":
		return &firstLastAcc{path: path, first: true}
	case "$last":
		return &firstLastAcc{path: path, first: false}
	default:
		return &sumAcc{path: path}
	}
}

type sumAcc struct {
	path string
	sum  float64
}

func (a *sumAcc) Add(doc map[string]interface{}) {
	if v, ok := lookupPath(doc, a.path); ok {
		if f, ok := toFloat(v); ok {
			a.sum += f
		}
	}
}
func (a *sumAcc) Result() interface{} { return a.sum }

type avgAcc struct {
	path string
	sum  float64
	n    int
}

func (a *avgAcc) Add(doc map[string]interface{}) {
	if v, ok := lookupPath(doc, a.path); ok {
		if f, ok := toFloat(v); ok {
			a.sum += f
			a.n++
		}
	}
}
func (a *avgAcc) Result() interface{} {
	if a.n == 0 {
		return float64(0)
	}
	return a.sum / float64(a.n)
}

type minMaxAcc struct {
	path  string
	min   bool
	val   interface{}
	valid bool
}

func (a *minMaxAcc) Add(doc map[string]interface{}) {
	v, ok := lookupPath(doc, a.path)
	if !ok {
		return
	}
	f, ok := toFloat(v)
	if !ok {
		return
	}
	if !a.valid {
		a.val, a.valid = f, true
		return
	}
	cur := a.val.(float64)
	if (a.min && f < cur) || (!a.min && f > cur) {
		a.val = f
	}
}
func (a *minMaxAcc) Result() interface{} {
	if !a.valid {
		return nil
	}
	return a.val
}

type firstLastAcc struct {
	path  string
	first bool
	val   interface{}
	seen  bool
}

func (a *firstLastAcc) Add(doc map[string]interface{}) {
	v, ok := lookupPath(doc, a.path)
	if !ok {
		return
	}
	if a.first && a.seen {
		return
	}
	a.val = v
	a.seen = true
}
func (a *firstLastAcc) Result() interface{} { return a.val }
