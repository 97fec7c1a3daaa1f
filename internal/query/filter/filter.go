// Package filter compiles a MongoDB-dialect filter document into an AST
// and evaluates it against documents. Grounded on
// docdb's internal/query package (ast.go's FieldNode/LogicalNode split,
// Parse's implicit-$eq handling, and the Matcher interface) broadened
// from docdb's six comparison operators to the full operator set
// MongoDB's query language names.
package filter

import (
	"fmt"
	"regexp"

	"github.com/petitan/ironbase/internal/index"
	"github.com/petitan/ironbase/internal/ironerr"
)

// Matcher is satisfied by every node in a compiled filter.
type Matcher interface {
	Matches(doc map[string]interface{}) bool
}

// Filter is a compiled, reusable query predicate.
type Filter struct {
	root Matcher
}

// Matches reports whether doc satisfies the compiled filter.
func (f *Filter) Matches(doc map[string]interface{}) bool {
	if f.root == nil {
		return true
	}
	return f.root.Matches(doc)
}

// Compile parses a query document into a reusable Filter.
// An empty query matches every document.
func Compile(query map[string]interface{}) (*Filter, error) {
	if len(query) == 0 {
		return &Filter{root: andNode{}}, nil
	}
	root, err := parseObject(query)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.CodeQueryError, err)
	}
	return &Filter{root: root}, nil
}

// andNode is an implicit conjunction of sibling clauses, the default for
// a top-level query object or a $and/$nor/$elemMatch body.
type andNode struct {
	children []Matcher
}

func (n andNode) Matches(doc map[string]interface{}) bool {
	for _, c := range n.children {
		if !c.Matches(doc) {
			return false
		}
	}
	return true
}

type orNode struct {
	children []Matcher
}

func (n orNode) Matches(doc map[string]interface{}) bool {
	for _, c := range n.children {
		if c.Matches(doc) {
			return true
		}
	}
	return false
}

type notNode struct {
	child Matcher
}

func (n notNode) Matches(doc map[string]interface{}) bool {
	return !n.child.Matches(doc)
}

// fieldNode evaluates one or more operators against the value(s) at a
// dot-path, mirroring Mongo's "an array field matches if any element
// matches" semantics.
type fieldNode struct {
	path string
	ops  []fieldOp
}

type fieldOp struct {
	op  string
	arg interface{}
	// re caches $regex's compiled pattern at Compile time, so matching
	// never recompiles the same pattern per document.
	re *regexp.Regexp
}

func (n fieldNode) Matches(doc map[string]interface{}) bool {
	val, exists := lookup(doc, n.path)
	return matchFieldOps(n.ops, val, exists)
}

func matchFieldOps(ops []fieldOp, val interface{}, exists bool) bool {
	for _, o := range ops {
		if !evalOp(o, val, exists) {
			return false
		}
	}
	return true
}

func parseObject(obj map[string]interface{}) (Matcher, error) {
	var clauses []Matcher
	for key, val := range obj {
		switch key {
		case "$and":
			list, ok := val.([]interface{})
			if !ok {
				return nil, fmt.Errorf("filter: %s requires an array", key)
			}
			children, err := parseClauseList(list)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, andNode{children: children})
		case "$or":
			list, ok := val.([]interface{})
			if !ok {
				return nil, fmt.Errorf("filter: %s requires an array", key)
			}
			children, err := parseClauseList(list)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, orNode{children: children})
		case "$nor":
			list, ok := val.([]interface{})
			if !ok {
				return nil, fmt.Errorf("filter: %s requires an array", key)
			}
			children, err := parseClauseList(list)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, notNode{child: orNode{children: children}})
		default:
			node, err := parseField(key, val)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, node)
		}
	}
	return andNode{children: clauses}, nil
}

func parseClauseList(list []interface{}) ([]Matcher, error) {
	children := make([]Matcher, 0, len(list))
	for _, item := range list {
		sub, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("filter: expected an object in clause list")
		}
		node, err := parseObject(sub)
		if err != nil {
			return nil, err
		}
		children = append(children, node)
	}
	return children, nil
}

var operatorNames = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true,
	"$in": true, "$nin": true, "$exists": true, "$regex": true, "$all": true,
	"$size": true, "$elemMatch": true, "$not": true,
}

func parseField(key string, val interface{}) (Matcher, error) {
	opsMap, isOpsMap := val.(map[string]interface{})
	if !isOpsMap || !looksLikeOperatorMap(opsMap) {
		// Implicit $eq: a bare value is shorthand for $eq.
		return fieldNode{path: key, ops: []fieldOp{{op: "$eq", arg: val}}}, nil
	}
	ops, err := parseFieldOps(opsMap)
	if err != nil {
		return nil, err
	}
	return fieldNode{path: key, ops: ops}, nil
}

// parseFieldOps compiles a "$op: value" map into a list of field ops,
// shared by a top-level field clause and a nested $not body. The list
// follows map iteration order; every op must hold for the clause to
// match, so the order does not change the result.
func parseFieldOps(opsMap map[string]interface{}) ([]fieldOp, error) {
	ops := make([]fieldOp, 0, len(opsMap))
	for op, arg := range opsMap {
		if op == "$not" {
			sub, ok := arg.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("filter: $not requires an object")
			}
			innerOps, err := parseFieldOps(sub)
			if err != nil {
				return nil, err
			}
			ops = append(ops, fieldOp{op: "$not", arg: innerOps})
			continue
		}
		if !operatorNames[op] {
			return nil, fmt.Errorf("filter: unknown operator %q", op)
		}
		if op == "$elemMatch" {
			sub, ok := arg.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("filter: $elemMatch requires an object")
			}
			compiled, err := Compile(sub)
			if err != nil {
				return nil, err
			}
			ops = append(ops, fieldOp{op: op, arg: compiled})
			continue
		}
		if op == "$regex" {
			pattern, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("filter: $regex requires a string pattern")
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, ironerr.Wrap(ironerr.CodeQueryError, err)
			}
			ops = append(ops, fieldOp{op: op, arg: arg, re: re})
			continue
		}
		ops = append(ops, fieldOp{op: op, arg: arg})
	}
	return ops, nil
}

func looksLikeOperatorMap(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}

func evalOp(o fieldOp, val interface{}, exists bool) bool {
	op, arg := o.op, o.arg
	switch op {
	case "$exists":
		want, _ := arg.(bool)
		return exists == want
	case "$eq":
		return exists && matchesEqual(val, arg)
	case "$ne":
		return !exists || !matchesEqual(val, arg)
	case "$gt":
		return existsComparable(val, exists) && compareAny(val, arg, true) > 0
	case "$gte":
		return existsComparable(val, exists) && compareAny(val, arg, true) >= 0
	case "$lt":
		return existsComparable(val, exists) && compareAny(val, arg, false) < 0
	case "$lte":
		return existsComparable(val, exists) && compareAny(val, arg, false) <= 0
	case "$in":
		list, _ := arg.([]interface{})
		return exists && matchesAny(val, list)
	case "$nin":
		list, _ := arg.([]interface{})
		return !exists || !matchesAny(val, list)
	case "$regex":
		return exists && matchesRegex(val, o.re)
	case "$all":
		list, _ := arg.([]interface{})
		return exists && matchesAll(val, list)
	case "$size":
		arr, ok := val.([]interface{})
		if !ok || !exists {
			return false
		}
		return index.CompareValues(arg, float64(len(arr))) == 0
	case "$elemMatch":
		sub := arg.(*Filter)
		arr, ok := val.([]interface{})
		if !ok || !exists {
			return false
		}
		for _, elem := range arr {
			if obj, ok := elem.(map[string]interface{}); ok && sub.Matches(obj) {
				return true
			}
		}
		return false
	case "$not":
		innerOps := arg.([]fieldOp)
		return !matchFieldOps(innerOps, val, exists)
	default:
		return false
	}
}

func existsComparable(val interface{}, exists bool) bool {
	return exists && val != nil
}

// matchesEqual compares scalars directly and treats an array field as
// matching if any element equals arg (Mongo's implicit element-match).
func matchesEqual(val, arg interface{}) bool {
	if arr, ok := val.([]interface{}); ok {
		for _, e := range arr {
			if index.CompareValues(e, arg) == 0 {
				return true
			}
		}
		// An array can also equal arg directly (array-to-array equality).
		if argArr, ok := arg.([]interface{}); ok {
			return index.CompareValues(toComparable(arr), toComparable(argArr)) == 0
		}
		return false
	}
	return index.CompareValues(val, arg) == 0
}

func toComparable(arr []interface{}) interface{} {
	return arr
}

// compareAny compares arg against val, or, if val is an array, against
// whichever element gives arg the best chance of satisfying the
// operator: the array's maximum element for $gt/$gte (wantMax), its
// minimum for $lt/$lte, matching Mongo's "any element may satisfy the
// range" semantics for each direction independently.
func compareAny(val, arg interface{}, wantMax bool) int {
	arr, ok := val.([]interface{})
	if !ok {
		return index.CompareValues(val, arg)
	}
	best := 0
	first := true
	for _, e := range arr {
		c := index.CompareValues(e, arg)
		if first || (wantMax && c > best) || (!wantMax && c < best) {
			best = c
			first = false
		}
	}
	return best
}

func matchesAny(val interface{}, list []interface{}) bool {
	for _, want := range list {
		if matchesEqual(val, want) {
			return true
		}
	}
	return false
}

func matchesAll(val interface{}, list []interface{}) bool {
	arr, ok := val.([]interface{})
	if !ok {
		return false
	}
	for _, want := range list {
		found := false
		for _, e := range arr {
			if index.CompareValues(e, want) == 0 {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchesRegex(val interface{}, re *regexp.Regexp) bool {
	s, ok := val.(string)
	if !ok || re == nil {
		return false
	}
	return re.MatchString(s)
}
