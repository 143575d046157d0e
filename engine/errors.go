package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stageflow/stageflow/action"
	"github.com/stageflow/stageflow/core"
)

// ErrCannotSkip is returned when a skip is requested for a stage whose
// definition does not allow skipping.
var ErrCannotSkip = errors.New("stage cannot be skipped")

// TransitionError is returned when an operation is not legal for the
// instance's current status, e.g. advancing a paused instance or cancelling
// an already-terminal one. The instance is not mutated.
type TransitionError struct {
	InstanceID string
	Status     core.InstanceStatus
	Operation  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s instance %s in status %q", e.Operation, e.InstanceID, e.Status)
}

// TransitionSide distinguishes which side of a stage transition a condition
// failure occurred on.
type TransitionSide string

const (
	TransitionExit  TransitionSide = "exit"
	TransitionEntry TransitionSide = "entry"
)

// ConditionError is returned when a stage's entry or exit conditions are not
// satisfied. It carries every failing predicate so callers can present
// actionable detail. The advance is aborted as a whole; the instance stays in
// its current stage.
type ConditionError struct {
	InstanceID string
	StageID    string
	Side       TransitionSide

	FailingPredicates []string
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("%s conditions for stage %q not met: %s",
		e.Side, e.StageID, strings.Join(e.FailingPredicates, "; "))
}

// AsActionError unwraps err into an *action.Error if one or more action
// handlers failed during an otherwise committed transition.
func AsActionError(err error) (*action.Error, bool) {
	var ae *action.Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
