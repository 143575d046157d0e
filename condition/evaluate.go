package condition

import (
	"fmt"
	"strings"
)

// Well-known field roots. Leaf fields address the instance view as
// "score", "data.<key>", "stages.<stageID>", "approvals", or "documents".
const (
	FieldScore     = "score"
	FieldApprovals = "approvals"
	FieldDocuments = "documents"

	dataPrefix   = "data."
	stagesPrefix = "stages."
)

// View is the read-only projection of a workflow instance that predicates
// evaluate against.
type View struct {
	Score              int
	Data               map[string]any
	PriorStageStatuses map[string]string
	ApprovalsGranted   []string
	DocumentTypes      []string
}

// Evaluate walks the predicate tree against the given view. It returns
// whether the spec is satisfied and, if not, a description of every failing
// leaf predicate. A missing or mistyped field fails its predicate closed; it
// never errors.
func Evaluate(s *Spec, v *View) (bool, []string) {
	if s == nil {
		return true, nil
	}

	switch {
	case len(s.All) > 0:
		ok := true
		var failing []string
		for _, c := range s.All {
			cok, cf := Evaluate(c, v)
			if !cok {
				ok = false
				failing = append(failing, cf...)
			}
		}
		return ok, failing

	case len(s.Any) > 0:
		var failing []string
		for _, c := range s.Any {
			cok, cf := Evaluate(c, v)
			if cok {
				return true, nil
			}
			failing = append(failing, cf...)
		}
		return false, failing

	case s.Not != nil:
		ok, _ := Evaluate(s.Not, v)
		if ok {
			return false, []string{fmt.Sprintf("not(%s)", describe(s.Not))}
		}
		return true, nil
	}

	if ok := evaluateLeaf(s, v); ok {
		return true, nil
	}

	return false, []string{describe(s)}
}

func evaluateLeaf(s *Spec, v *View) bool {
	switch s.Operator {
	case OpGte, OpGt, OpLte, OpLt:
		fv, ok := resolveNumber(s.Field, v)
		if !ok {
			return false
		}
		want, _ := asNumber(s.Value)
		switch s.Operator {
		case OpGte:
			return fv >= want
		case OpGt:
			return fv > want
		case OpLte:
			return fv <= want
		default:
			return fv < want
		}

	case OpEq:
		fv, ok := resolveValue(s.Field, v)
		if !ok {
			return false
		}
		return looseEqual(fv, s.Value)

	case OpContainsAll:
		set, ok := resolveSet(s.Field, v)
		if !ok {
			return false
		}
		want, _ := asStringSet(s.Value)
		for _, w := range want {
			if !contains(set, w) {
				return false
			}
		}
		return true

	case OpContainsAny:
		set, ok := resolveSet(s.Field, v)
		if !ok {
			return false
		}
		want, _ := asStringSet(s.Value)
		for _, w := range want {
			if contains(set, w) {
				return true
			}
		}
		return false
	}

	return false
}

func resolveValue(field string, v *View) (any, bool) {
	switch {
	case field == FieldScore:
		return v.Score, true
	case strings.HasPrefix(field, dataPrefix):
		return lookupData(v.Data, strings.TrimPrefix(field, dataPrefix))
	case strings.HasPrefix(field, stagesPrefix):
		status, ok := v.PriorStageStatuses[strings.TrimPrefix(field, stagesPrefix)]
		return status, ok
	}
	return nil, false
}

func resolveNumber(field string, v *View) (float64, bool) {
	fv, ok := resolveValue(field, v)
	if !ok {
		return 0, false
	}
	return asNumber(fv)
}

func resolveSet(field string, v *View) ([]string, bool) {
	switch {
	case field == FieldApprovals:
		return v.ApprovalsGranted, true
	case field == FieldDocuments:
		return v.DocumentTypes, true
	case strings.HasPrefix(field, dataPrefix):
		fv, ok := lookupData(v.Data, strings.TrimPrefix(field, dataPrefix))
		if !ok {
			return nil, false
		}
		return asStringSet(fv)
	}
	return nil, false
}

// lookupData resolves a dotted path through nested maps in the instance data
// bag.
func lookupData(data map[string]any, path string) (any, bool) {
	cur := any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asStringSet(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func looseEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, bok := asNumber(b)
		return bok && an == bn
	}
	return a == b
}

func contains(set []string, s string) bool {
	for _, e := range set {
		if e == s {
			return true
		}
	}
	return false
}

func describe(s *Spec) string {
	switch {
	case len(s.All) > 0:
		return combine("and", s.All)
	case len(s.Any) > 0:
		return combine("or", s.Any)
	case s.Not != nil:
		return fmt.Sprintf("not(%s)", describe(s.Not))
	}
	return fmt.Sprintf("%s %s %v", s.Field, s.Operator, s.Value)
}

func combine(op string, specs []*Spec) string {
	parts := make([]string, len(specs))
	for i, c := range specs {
		parts[i] = describe(c)
	}
	return fmt.Sprintf("%s(%s)", op, strings.Join(parts, ", "))
}
