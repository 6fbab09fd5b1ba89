package graph

import (
	"sort"
)

// State is the dynamic, typed-at-the-boundary mapping that flows through a
// run. Every key is derived from config (node state_key / collect / output
// declarations, plus the fixed system fields below) rather than from a
// statically declared Go struct — see SPEC_FULL.md §1 item 2 and the teacher
// note in spec.md §9 ("Dynamic state types").
//
// State is treated as immutable by convention: nodes never mutate it in
// place, they return Updates which the engine merges via the reducer table
// to produce a new State per superstep.
type State map[string]any

// Clone returns a shallow copy of s. Nodes receive a Clone so they cannot
// observe or corrupt state belonging to concurrently running siblings.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Get performs a dotted-path lookup, descending through map[string]any and
// State values. It returns (nil, false) the moment any segment is missing,
// matching the "None for missing keys" invariant in spec.md §3.
func (s State) Get(path string) (any, bool) {
	segs := splitPath(path)
	var cur any = map[string]any(s)
	for _, seg := range segs {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case State:
		return map[string]any(t), true
	case map[string]any:
		return t, true
	default:
		return nil, false
	}
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

// Updates is what a node returns: a partial set of state-key -> value pairs,
// to be merged into accumulated State by the reducer assigned to each key.
type Updates map[string]any

// System field names with fixed reducers, per spec.md §3.
const (
	FieldErrors      = "errors"
	FieldCurrentStep = "current_step"
	FieldLoopCounts  = "_loop_counts"
	FieldTokenUsage  = "_token_usage"
	FieldInterrupt   = "__interrupt__"
	FieldRoute       = "_route"
	FieldMapIndex    = "_map_index"
	FieldSkipped     = "_skipped"
	// FieldResume carries the value supplied to Resume() for the superstep
	// that re-enters a suspended interrupt node; the engine clears it
	// before persisting the next checkpoint.
	FieldResume = "__resume__"
)

// ReducerKind names one of the small set of pure merge functions a state key
// can be assigned, per spec.md §9 ("Reducer composition on merge").
type ReducerKind string

const (
	ReducerLast         ReducerKind = "last"
	ReducerListAppend   ReducerKind = "list_append"
	ReducerSortedAppend ReducerKind = "sorted_append"
	ReducerNumericAdd   ReducerKind = "numeric_add"
	ReducerDictMerge    ReducerKind = "dict_merge"
	ReducerPassthrough  ReducerKind = "passthrough"
	ReducerCounterMap   ReducerKind = "counter_map" // per-key increment, used by _loop_counts
)

// FieldSchema describes one state key: its name and how updates to it are
// merged.
type FieldSchema struct {
	Key     string
	Reducer ReducerKind
}

// Schema is the derived, ordered set of field descriptors for a compiled
// graph. Ordering is deterministic (insertion order is preserved) so that
// schema export and iteration are reproducible across compiles.
type Schema struct {
	fields []FieldSchema
	byKey  map[string]ReducerKind
}

// NewSchema creates an empty Schema pre-populated with the fixed system
// fields every run carries.
func NewSchema() *Schema {
	s := &Schema{byKey: map[string]ReducerKind{}}
	s.Add(FieldErrors, ReducerListAppend)
	s.Add(FieldCurrentStep, ReducerLast)
	s.Add(FieldLoopCounts, ReducerCounterMap)
	s.Add(FieldTokenUsage, ReducerNumericAdd)
	s.Add(FieldInterrupt, ReducerPassthrough)
	return s
}

// Add registers a field with the given reducer. Re-adding an existing key
// with the same reducer is a no-op; re-adding with a conflicting reducer
// keeps the first registration, whichever reducer it has.
func (s *Schema) Add(key string, reducer ReducerKind) {
	if _, exists := s.byKey[key]; exists {
		return
	}
	s.byKey[key] = reducer
	s.fields = append(s.fields, FieldSchema{Key: key, Reducer: reducer})
}

// ReducerFor returns the reducer assigned to key, defaulting to
// ReducerLast for any key not explicitly declared (e.g. ad hoc keys a
// passthrough node invents at runtime).
func (s *Schema) ReducerFor(key string) ReducerKind {
	if r, ok := s.byKey[key]; ok {
		return r
	}
	return ReducerLast
}

// Fields returns the schema's fields in declaration order.
func (s *Schema) Fields() []FieldSchema {
	out := make([]FieldSchema, len(s.fields))
	copy(out, s.fields)
	return out
}

// Merge applies updates onto prev using the schema's reducer table,
// returning a new State. prev is never mutated.
func (s *Schema) Merge(prev State, updates Updates) State {
	if prev == nil {
		prev = State{}
	}
	next := prev.Clone()
	for k, v := range updates {
		next[k] = applyReducer(s.ReducerFor(k), next[k], v)
	}
	return next
}

// applyReducer implements the reducer table from spec.md §3/§9.
func applyReducer(kind ReducerKind, prev, delta any) any {
	switch kind {
	case ReducerListAppend:
		return appendList(prev, delta)
	case ReducerSortedAppend:
		merged := appendList(prev, delta)
		sortByMapIndex(merged)
		return merged
	case ReducerNumericAdd:
		return numericAdd(prev, delta)
	case ReducerDictMerge:
		return dictMerge(prev, delta)
	case ReducerCounterMap:
		return counterMapMerge(prev, delta)
	case ReducerPassthrough:
		return delta
	case ReducerLast:
		fallthrough
	default:
		return delta
	}
}

func appendList(prev, delta any) []any {
	out := toSlice(prev)
	switch d := delta.(type) {
	case nil:
		return out
	case []any:
		out = append(out, d...)
	default:
		out = append(out, d)
	}
	return out
}

func toSlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		cp := make([]any, len(t))
		copy(cp, t)
		return cp
	default:
		return []any{t}
	}
}

func sortByMapIndex(items []any) {
	sort.SliceStable(items, func(i, j int) bool {
		return mapIndexOf(items[i]) < mapIndexOf(items[j])
	})
}

func mapIndexOf(v any) int {
	m, ok := asMap(v)
	if !ok {
		return 0
	}
	idx, ok := m[FieldMapIndex]
	if !ok {
		return 0
	}
	switch n := idx.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func numericAdd(prev, delta any) any {
	pf, pIsFloat := toFloat(prev)
	df, dIsFloat := toFloat(delta)
	if !pIsFloat && !dIsFloat {
		return delta
	}
	return pf + df
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func dictMerge(prev, delta any) any {
	pm, pOK := asMap(prev)
	dm, dOK := asMap(delta)
	if !dOK {
		return delta
	}
	out := map[string]any{}
	if pOK {
		for k, v := range pm {
			out[k] = v
		}
	}
	for k, v := range dm {
		out[k] = v
	}
	return out
}

// counterMapMerge implements the _loop_counts reducer: delta is a single
// map with one or more {nodeName: increment} pairs, accumulated into prev's
// per-node counters.
func counterMapMerge(prev, delta any) any {
	out := map[string]int{}
	if pm, ok := prev.(map[string]int); ok {
		for k, v := range pm {
			out[k] = v
		}
	}
	dm, ok := asMap(delta)
	if !ok {
		return out
	}
	for k, v := range dm {
		inc := 1
		if iv, ok := toFloat(v); ok {
			inc = int(iv)
		}
		out[k] += inc
	}
	return out
}

// LoopCounts reads the _loop_counts field in its canonical map[string]int form.
func LoopCounts(s State) map[string]int {
	v, ok := s[FieldLoopCounts]
	if !ok {
		return map[string]int{}
	}
	if m, ok := v.(map[string]int); ok {
		return m
	}
	return map[string]int{}
}
