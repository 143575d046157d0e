package condition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate_NilSpecAlwaysSatisfied(t *testing.T) {
	ok, failing := Evaluate(nil, &View{})
	require.True(t, ok)
	require.Empty(t, failing)
}

func TestEvaluate(t *testing.T) {
	view := &View{
		Score: 60,
		Data: map[string]any{
			"offer": map[string]any{
				"accepted": true,
				"salary":   float64(85000),
			},
			"source": "referral",
		},
		PriorStageStatuses: map[string]string{
			"screening": "completed",
		},
		ApprovalsGranted: []string{"hiring-manager", "hr"},
		DocumentTypes:    []string{"resume", "id"},
	}

	tests := []struct {
		name string
		spec *Spec
		want bool
	}{
		{
			name: "score threshold met",
			spec: Leaf(FieldScore, OpGte, 50),
			want: true,
		},
		{
			name: "score threshold not met",
			spec: Leaf(FieldScore, OpGt, 60),
			want: false,
		},
		{
			name: "nested data flag",
			spec: Leaf("data.offer.accepted", OpEq, true),
			want: true,
		},
		{
			name: "nested data number",
			spec: Leaf("data.offer.salary", OpGte, 80000),
			want: true,
		},
		{
			name: "string equality",
			spec: Leaf("data.source", OpEq, "referral"),
			want: true,
		},
		{
			name: "prior stage status",
			spec: Leaf("stages.screening", OpEq, "completed"),
			want: true,
		},
		{
			name: "all approvals granted",
			spec: Leaf(FieldApprovals, OpContainsAll, []string{"hiring-manager", "hr"}),
			want: true,
		},
		{
			name: "missing approval",
			spec: Leaf(FieldApprovals, OpContainsAll, []string{"hr", "cfo"}),
			want: false,
		},
		{
			name: "any document present",
			spec: Leaf(FieldDocuments, OpContainsAny, []string{"id", "passport"}),
			want: true,
		},
		{
			name: "and combinator",
			spec: And(Leaf(FieldScore, OpGte, 50), Leaf("data.source", OpEq, "referral")),
			want: true,
		},
		{
			name: "and combinator with one failing branch",
			spec: And(Leaf(FieldScore, OpGte, 50), Leaf("data.source", OpEq, "inbound")),
			want: false,
		},
		{
			name: "or combinator",
			spec: Or(Leaf(FieldScore, OpGte, 90), Leaf("data.source", OpEq, "referral")),
			want: true,
		},
		{
			name: "not combinator",
			spec: Not(Leaf(FieldScore, OpLt, 50)),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, failing := Evaluate(tt.spec, view)
			require.Equal(t, tt.want, ok)
			if tt.want {
				require.Empty(t, failing)
			} else {
				require.NotEmpty(t, failing)
			}
		})
	}
}

// Predicates over fields the instance does not have yet must fail closed,
// not error.
func TestEvaluate_MissingFieldFailsClosed(t *testing.T) {
	view := &View{Data: map[string]any{}}

	ok, failing := Evaluate(Leaf("data.offer.accepted", OpEq, true), view)
	require.False(t, ok)
	require.Equal(t, []string{"data.offer.accepted eq true"}, failing)

	ok, _ = Evaluate(Leaf("data.offer.salary", OpGte, 10), view)
	require.False(t, ok)

	ok, _ = Evaluate(Leaf("stages.unknown", OpEq, "completed"), view)
	require.False(t, ok)
}

func TestEvaluate_FailingPredicatesAreDescriptive(t *testing.T) {
	view := &View{Score: 10}

	ok, failing := Evaluate(And(
		Leaf(FieldScore, OpGte, 50),
		Leaf(FieldApprovals, OpContainsAll, []string{"hr"}),
	), view)

	require.False(t, ok)
	require.Equal(t, []string{
		"score gte 50",
		"approvals contains_all [hr]",
	}, failing)
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    *Spec
		wantErr string
	}{
		{
			name: "nil spec",
			spec: nil,
		},
		{
			name: "valid leaf",
			spec: Leaf(FieldScore, OpGte, 50),
		},
		{
			name: "valid tree",
			spec: And(Leaf(FieldScore, OpGte, 50), Or(Leaf("data.x", OpEq, "y"), Not(Leaf("data.z", OpEq, true)))),
		},
		{
			name:    "empty spec",
			spec:    &Spec{},
			wantErr: "empty spec",
		},
		{
			name:    "leaf and combinator mixed",
			spec:    &Spec{Field: FieldScore, Operator: OpGte, Value: 1, All: []*Spec{Leaf(FieldScore, OpGte, 1)}},
			wantErr: "exactly one",
		},
		{
			name:    "unknown operator",
			spec:    Leaf(FieldScore, "matches", "x"),
			wantErr: "unknown operator",
		},
		{
			name:    "missing operator",
			spec:    &Spec{Field: FieldScore, Value: 1},
			wantErr: "missing an operator",
		},
		{
			name:    "missing field",
			spec:    &Spec{Operator: OpGte, Value: 1},
			wantErr: "missing a field",
		},
		{
			name:    "numeric operator with string value",
			spec:    Leaf(FieldScore, OpGte, "50"),
			wantErr: "requires a numeric value",
		},
		{
			name:    "membership operator with scalar value",
			spec:    Leaf(FieldApprovals, OpContainsAll, "hr"),
			wantErr: "requires a list of strings",
		},
		{
			name:    "invalid nested spec",
			spec:    And(Leaf(FieldScore, OpGte, 1), &Spec{}),
			wantErr: "empty spec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
