// ABOUTME: Filter translation for the SQLite backend
// ABOUTME: Splits predicates into native WHERE clauses and residual in-memory checks

package store

import (
	"sort"
	"strings"
)

// maxBoundValues caps the parameters one statement binds. It stays under
// SQLite's historical SQLITE_MAX_VARIABLE_NUMBER of 999; predicates that
// would exceed it are evaluated in memory instead.
const maxBoundValues = 900

// queryPlan is the result of splitting a filter against a schema.
// Native predicates are pushed into SQL; residual ones run after blob decode.
type queryPlan struct {
	conditions []string
	args       []any
	residualEq map[string]any
	residualIn []InPredicate
	// empty is set when a predicate can never match, so no SQL needs to run
	empty bool
}

func (p queryPlan) where() string {
	if len(p.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(p.conditions, " AND ")
}

func (p queryPlan) hasResidual() bool {
	return len(p.residualEq) > 0 || len(p.residualIn) > 0
}

func (p queryPlan) matches(r *Record) bool {
	return matchEq(r, p.residualEq) && matchIn(r, p.residualIn)
}

// nativeColumn returns the column backing field, if any. Only string values
// are ever written to native columns, so callers must also check value types.
func nativeColumn(s Schema, field string) (string, bool) {
	if field == IDField || s.IsNative(field) {
		return field, true
	}
	return "", false
}

// planEqFilter translates an equality filter. filter must be normalized.
func planEqFilter(s Schema, filter map[string]any) queryPlan {
	plan := queryPlan{residualEq: make(map[string]any)}

	fields := make([]string, 0, len(filter))
	for f := range filter {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := filter[field]
		col, native := nativeColumn(s, field)
		str, isString := value.(string)
		if field == IDField && !isString {
			// ids are always strings; a non-string id never matches
			plan.empty = true
			continue
		}
		if native && isString && len(plan.args) < maxBoundValues {
			plan.conditions = append(plan.conditions, quoteIdent(col)+" = ?")
			plan.args = append(plan.args, str)
			continue
		}
		plan.residualEq[field] = value
	}
	return plan
}

// planInQuery translates a membership query. query must be normalized.
func planInQuery(s Schema, query []InPredicate) queryPlan {
	plan := queryPlan{residualEq: map[string]any{}}

	for _, p := range query {
		if len(p.Values) == 0 {
			plan.empty = true
			continue
		}
		col, native := nativeColumn(s, p.Field)
		strs, allStrings := stringValues(p.Values)
		if native && allStrings && len(plan.args)+len(strs) <= maxBoundValues {
			placeholders := make([]string, len(strs))
			for i, v := range strs {
				placeholders[i] = "?"
				plan.args = append(plan.args, v)
			}
			plan.conditions = append(plan.conditions,
				quoteIdent(col)+" IN ("+strings.Join(placeholders, ", ")+")")
			continue
		}
		plan.residualIn = append(plan.residualIn, p)
	}
	return plan
}

func stringValues(values []any) ([]string, bool) {
	out := make([]string, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}
