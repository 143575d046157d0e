package condition

import (
	"fmt"
)

// Operator is one of the closed set of predicate operators. Conditions are
// data, not code; anything outside this set fails validation at publish time.
type Operator string

const (
	OpGte Operator = "gte"
	OpGt  Operator = "gt"
	OpLte Operator = "lte"
	OpLt  Operator = "lt"

	// OpEq compares strings, booleans, and numbers.
	OpEq Operator = "eq"

	// OpContainsAll and OpContainsAny test set membership against a field
	// that resolves to a list, e.g. granted approvals or uploaded document
	// types.
	OpContainsAll Operator = "contains_all"
	OpContainsAny Operator = "contains_any"
)

// Spec is a predicate tree. Exactly one of All, Any, Not, or the leaf triple
// (Field, Operator, Value) must be set. A nil *Spec is always satisfied.
type Spec struct {
	All []*Spec `json:"all,omitempty"`
	Any []*Spec `json:"any,omitempty"`
	Not *Spec   `json:"not,omitempty"`

	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`
}

// Leaf returns a leaf predicate spec.
func Leaf(field string, op Operator, value any) *Spec {
	return &Spec{Field: field, Operator: op, Value: value}
}

// And combines the given specs so that all of them must hold.
func And(specs ...*Spec) *Spec {
	return &Spec{All: specs}
}

// Or combines the given specs so that at least one of them must hold.
func Or(specs ...*Spec) *Spec {
	return &Spec{Any: specs}
}

// Not negates the given spec.
func Not(spec *Spec) *Spec {
	return &Spec{Not: spec}
}

type ErrInvalidSpec struct {
	msg string
}

func (e *ErrInvalidSpec) Error() string {
	return e.msg
}

func invalidSpec(format string, args ...any) error {
	return &ErrInvalidSpec{msg: fmt.Sprintf(format, args...)}
}

// Validate checks that the spec is structurally sound. It is called when a
// template is published; a spec that passes validation cannot error during
// evaluation.
func (s *Spec) Validate() error {
	if s == nil {
		return nil
	}

	set := 0
	if len(s.All) > 0 {
		set++
	}
	if len(s.Any) > 0 {
		set++
	}
	if s.Not != nil {
		set++
	}
	leaf := s.Field != "" || s.Operator != "" || s.Value != nil
	if leaf {
		set++
	}

	switch {
	case set == 0:
		return invalidSpec("condition: empty spec")
	case set > 1:
		return invalidSpec("condition: spec must be exactly one of all/any/not or a predicate")
	}

	for _, c := range s.All {
		if c == nil {
			return invalidSpec("condition: nil spec in all")
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, c := range s.Any {
		if c == nil {
			return invalidSpec("condition: nil spec in any")
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if s.Not != nil {
		return s.Not.Validate()
	}

	if !leaf {
		return nil
	}

	return s.validateLeaf()
}

func (s *Spec) validateLeaf() error {
	if s.Field == "" {
		return invalidSpec("condition: predicate is missing a field")
	}

	switch s.Operator {
	case OpGte, OpGt, OpLte, OpLt:
		if _, ok := asNumber(s.Value); !ok {
			return invalidSpec("condition: operator %q on %q requires a numeric value, got %T", s.Operator, s.Field, s.Value)
		}
	case OpEq:
		switch s.Value.(type) {
		case string, bool, int, int32, int64, float32, float64:
		default:
			return invalidSpec("condition: operator eq on %q requires a string, boolean, or number, got %T", s.Field, s.Value)
		}
	case OpContainsAll, OpContainsAny:
		if _, ok := asStringSet(s.Value); !ok {
			return invalidSpec("condition: operator %q on %q requires a list of strings, got %T", s.Operator, s.Field, s.Value)
		}
	case "":
		return invalidSpec("condition: predicate on %q is missing an operator", s.Field)
	default:
		return invalidSpec("condition: unknown operator %q", s.Operator)
	}

	return nil
}
