package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// CondOp is a condition operator.
type CondOp string

const (
	OpEq     CondOp = "eq"
	OpNe     CondOp = "ne"
	OpIn     CondOp = "in"
	OpLt     CondOp = "lt"
	OpAbsent CondOp = "absent"
)

// Cond is a predicate over one top-level document field.
type Cond struct {
	Field string
	Op    CondOp
	Value interface{}
}

// Eq matches when field equals v.
func Eq(field string, v interface{}) Cond { return Cond{Field: field, Op: OpEq, Value: v} }

// Ne matches when field differs from v (a missing field differs from any non-nil v).
func Ne(field string, v interface{}) Cond { return Cond{Field: field, Op: OpNe, Value: v} }

// In matches when field equals one of vs.
func In(field string, vs ...interface{}) Cond { return Cond{Field: field, Op: OpIn, Value: vs} }

// Lt matches when the numeric field is below v. A missing field counts as zero.
func Lt(field string, v interface{}) Cond { return Cond{Field: field, Op: OpLt, Value: v} }

// Absent matches when field is missing or null.
func Absent(field string) Cond { return Cond{Field: field, Op: OpAbsent} }

// Fields converts a document body into its generic field map.
func Fields(data interface{}) (map[string]interface{}, error) {
	var raw []byte
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case map[string]interface{}:
		raw0, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = raw0
	default:
		raw0, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal document: %w", err)
		}
		raw = raw0
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	return fields, nil
}

func normalize(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if t, ok := v.(time.Time); ok {
		v = t.UTC()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch n := normalize(v).(type) {
	case float64:
		return n, true
	case nil:
		return 0, true
	}
	return 0, false
}

// Match reports whether fields satisfy every condition.
func Match(fields map[string]interface{}, conds []Cond) (bool, error) {
	for _, c := range conds {
		got, present := fields[c.Field]
		switch c.Op {
		case OpEq:
			if !reflect.DeepEqual(got, normalize(c.Value)) {
				return false, nil
			}
		case OpNe:
			if reflect.DeepEqual(got, normalize(c.Value)) {
				return false, nil
			}
		case OpIn:
			vs, ok := c.Value.([]interface{})
			if !ok {
				return false, fmt.Errorf("cond %s: in expects a list", c.Field)
			}
			hit := false
			for _, v := range vs {
				if reflect.DeepEqual(got, normalize(v)) {
					hit = true
					break
				}
			}
			if !hit {
				return false, nil
			}
		case OpLt:
			a, ok := toFloat(got)
			b, okb := toFloat(c.Value)
			if !ok || !okb {
				return false, fmt.Errorf("cond %s: lt needs numbers", c.Field)
			}
			if !(a < b) {
				return false, nil
			}
		case OpAbsent:
			if present && got != nil {
				return false, nil
			}
		default:
			return false, fmt.Errorf("cond %s: unknown op %q", c.Field, c.Op)
		}
	}
	return true, nil
}

// Apply performs a mutation's Set, Inc and Unset on fields in place.
// Conditions are not evaluated here.
func Apply(fields map[string]interface{}, m Mutation) error {
	for k, v := range m.Set {
		fields[k] = normalize(v)
	}
	for k, delta := range m.Inc {
		cur, ok := toFloat(fields[k])
		if !ok {
			return fmt.Errorf("inc %s: field is not numeric", k)
		}
		fields[k] = cur + float64(delta)
	}
	for _, k := range m.Unset {
		delete(fields, k)
	}
	return nil
}

// Entry pairs a document with its decoded fields for in-process selection.
type Entry struct {
	Doc    Document
	Fields map[string]interface{}
}

// Select filters, orders and limits entries according to q.
func Select(entries []Entry, q Query) ([]Document, error) {
	var hits []Entry
	for _, e := range entries {
		ok, err := Match(e.Fields, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			hits = append(hits, e)
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(hits, func(i, j int) bool {
			c := compare(hits[i].Fields[q.OrderBy], hits[j].Fields[q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Doc.ID < hits[j].Doc.ID })
	}
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]Document, len(hits))
	for i, e := range hits {
		out[i] = e.Doc
	}
	return out, nil
}

func compare(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, oka := a.(string)
	sb, okb := b.(string)
	if oka && okb {
		ta, errA := time.Parse(time.RFC3339Nano, sa)
		tb, errB := time.Parse(time.RFC3339Nano, sb)
		if errA == nil && errB == nil {
			return ta.Compare(tb)
		}
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	}
	return 0
}
