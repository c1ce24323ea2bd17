// ABOUTME: JSON normalization and in-memory predicate evaluation
// ABOUTME: Shared by the document backend scan and the SQLite residual filter pass

package store

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// normalizeFields returns a JSON round-tripped copy of fields without the "id" key.
// Both backends store this form so reads compare equal regardless of backend.
func normalizeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	if len(fields) == 0 {
		return out, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding fields: %w", err)
	}
	delete(out, IDField)
	return out, nil
}

// normalizeValue round-trips a single value through JSON so Go ints and
// float64s compare equal to what the backends decode.
func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding filter value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding filter value: %w", err)
	}
	return out, nil
}

func normalizeFilter(filter map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(filter))
	for field, v := range filter {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("filter field %q: %w", field, err)
		}
		out[field] = nv
	}
	return out, nil
}

func normalizeQuery(query []InPredicate) ([]InPredicate, error) {
	out := make([]InPredicate, len(query))
	for i, p := range query {
		values := make([]any, len(p.Values))
		for j, v := range p.Values {
			nv, err := normalizeValue(v)
			if err != nil {
				return nil, fmt.Errorf("query field %q: %w", p.Field, err)
			}
			values[j] = nv
		}
		out[i] = InPredicate{Field: p.Field, Values: values}
	}
	return out, nil
}

// valueOf resolves a field on a record; missing fields read as JSON null.
func valueOf(r *Record, field string) any {
	v, _ := r.Get(field)
	return v
}

func jsonEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// matchEq reports whether r satisfies every equality predicate in filter.
// filter must already be normalized.
func matchEq(r *Record, filter map[string]any) bool {
	for field, want := range filter {
		if !jsonEqual(valueOf(r, field), want) {
			return false
		}
	}
	return true
}

// matchIn reports whether r satisfies every membership predicate in query.
// query must already be normalized.
func matchIn(r *Record, query []InPredicate) bool {
	for _, p := range query {
		got := valueOf(r, p.Field)
		found := false
		for _, v := range p.Values {
			if jsonEqual(got, v) {
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

// cloneRecord returns a deep copy so callers can't mutate stored state.
func cloneRecord(r *Record) *Record {
	return &Record{ID: r.ID, Fields: cloneValue(r.Fields).(map[string]any)}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
