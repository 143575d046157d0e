// Package engine implements the workflow engine: it owns the instance
// lifecycle and drives condition evaluation, action dispatch, and the audit
// log. All mutations go through the backend with an optimistic version
// check, so concurrent operations on one instance are linearized.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stageflow/stageflow/action"
	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/backend/history"
	"github.com/stageflow/stageflow/backend/metrics"
	"github.com/stageflow/stageflow/condition"
	"github.com/stageflow/stageflow/core"
	"github.com/stageflow/stageflow/internal/log"
	"github.com/stageflow/stageflow/internal/metrickeys"
	"github.com/stageflow/stageflow/template"
)

// Directory resolves user ids against an external user store.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*User, error)
}

type User struct {
	ID    string
	Name  string
	Email string
}

type Engine struct {
	b          backend.Backend
	registry   *action.Registry
	dispatcher *action.Dispatcher
	directory  Directory

	clock  clock.Clock
	logger *slog.Logger
	mc     metrics.Client
	tracer trace.Tracer

	graphs *ttlcache.Cache[string, *template.StageGraph]

	onCompletion func(templateID string)
}

type EngineOption func(*Engine)

func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

func WithDirectory(d Directory) EngineOption {
	return func(e *Engine) {
		e.directory = d
	}
}

func WithDispatcher(d *action.Dispatcher) EngineOption {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithCompletionListener registers a callback invoked asynchronously after an
// instance completes, e.g. to poke the metrics aggregator.
func WithCompletionListener(fn func(templateID string)) EngineOption {
	return func(e *Engine) {
		e.onCompletion = fn
	}
}

func New(b backend.Backend, registry *action.Registry, opts ...EngineOption) *Engine {
	options := b.Options()

	e := &Engine{
		b:        b,
		registry: registry,
		clock:    clock.New(),
		logger:   options.Logger,
		mc:       options.Metrics,
		tracer:   b.Tracer(),
	}

	e.graphs = ttlcache.New(
		ttlcache.WithCapacity[string, *template.StageGraph](uint64(options.StageGraphCacheSize)),
		ttlcache.WithTTL[string, *template.StageGraph](options.StageGraphCacheTTL),
	)
	e.graphs.OnEviction(func(ctx context.Context, er ttlcache.EvictionReason, i *ttlcache.Item[string, *template.StageGraph]) {
		reason := "expired"
		if er == ttlcache.EvictionReasonCapacityReached {
			reason = "capacity"
		}
		e.mc.Counter(metrickeys.GraphCacheEviction, metrics.Tags{metrickeys.EvictionReason: reason}, 1)
	})

	for _, opt := range opts {
		opt(e)
	}

	if e.dispatcher == nil {
		e.dispatcher = action.NewDispatcher(registry, e.logger, e.mc, action.WithClock(e.clock))
	}

	return e
}

// PublishTemplate validates the template and persists it. A template that
// fails validation is never stored and can never produce instances.
func (e *Engine) PublishTemplate(ctx context.Context, t *core.WorkflowTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	graph, err := template.NewStageGraph(t, e.registry)
	if err != nil {
		return err
	}

	if err := e.b.CreateTemplate(ctx, t); err != nil {
		return fmt.Errorf("storing template: %w", err)
	}

	e.graphs.Set(t.ID, graph, ttlcache.DefaultTTL)

	e.logger.Debug("Published workflow template",
		log.TemplateIDKey, t.ID,
	)

	return nil
}

// DuplicateTemplate returns an unpublished copy of an existing template with
// a fresh id. The copy can be edited and then published; the source template
// and its running instances are untouched.
func (e *Engine) DuplicateTemplate(ctx context.Context, templateID, newName string) (*core.WorkflowTemplate, error) {
	t, err := e.b.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	return template.Duplicate(t, uuid.NewString(), newName), nil
}

// StartWorkflow creates a new instance of the given template for the given
// subject, enters the first stage, runs its entry actions, and logs. The
// instance is persisted before any entry action runs, so every action side
// effect has an instance and an audit trail behind it. If one or more entry
// actions failed the instance still exists and the returned error is an
// *action.Error.
func (e *Engine) StartWorkflow(ctx context.Context, templateID, subjectID string, initialData map[string]any) (string, error) {
	ctx, span := e.tracer.Start(ctx, "StartWorkflow", trace.WithAttributes(
		attribute.String(log.TemplateIDKey, templateID),
		attribute.String(log.SubjectIDKey, subjectID),
	))
	defer span.End()

	graph, err := e.loadGraph(ctx, templateID)
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	first := graph.First()

	instance := core.NewWorkflowInstance(uuid.NewString(), templateID, subjectID)
	instance.Status = core.InstanceStatusActive
	instance.CurrentStageID = first.ID
	instance.StartedAt = now
	instance.StageEnteredAt = &now
	instance.PriorStageStatuses = map[string]string{}
	instance.Data = map[string]any{}
	for k, v := range initialData {
		instance.Data[k] = v
	}

	if gt := graph.Template().Config.GlobalTimeout; gt > 0 {
		due := now.Add(gt)
		instance.DueAt = &due
	}

	started := history.NewEvent(now, instance.InstanceID, history.EventTypeWorkflowStarted)
	if err := e.b.CreateInstance(ctx, instance, []*history.Event{started}); err != nil {
		return "", fmt.Errorf("creating workflow instance: %w", err)
	}

	results, actionErr := e.dispatcher.Dispatch(ctx, first.EntryActions, e.invocation(instance, first.ID))
	mergeProduced(instance, results)

	expectedVersion := instance.Version
	entered := history.NewEvent(now, instance.InstanceID, history.EventTypeStageEntered,
		history.WithStageID(first.ID), history.WithActionResults(results))
	if err := e.b.UpdateInstance(ctx, instance, expectedVersion, []*history.Event{entered}); err != nil {
		return instance.InstanceID, fmt.Errorf("recording first stage entry: %w", err)
	}
	instance.Version = expectedVersion + 1

	e.logger.Debug("Started workflow instance",
		log.InstanceIDKey, instance.InstanceID,
		log.TemplateIDKey, templateID,
		log.SubjectIDKey, subjectID,
		log.StageIDKey, first.ID,
	)
	e.mc.Counter(metrickeys.InstanceCreated, metrics.Tags{metrickeys.Template: templateID}, 1)

	if actionErr != nil {
		return instance.InstanceID, actionErr
	}

	return instance.InstanceID, nil
}

// AdvanceResult describes where an advance left the instance.
type AdvanceResult struct {
	// Completed is true when the instance left its last stage.
	Completed bool

	// CurrentStageID is the stage entered by the advance; empty when the
	// instance completed.
	CurrentStageID string

	// SkippedStages lists optional stages that were skipped because their
	// entry conditions did not hold.
	SkippedStages []string

	// ActionResults are the outcomes of all exit and entry actions run by
	// the advance, in execution order.
	ActionResults []action.Result
}

type advanceOptions struct {
	skip          bool
	expectedStage string
}

type AdvanceOption func(*advanceOptions)

// WithSkip skips the current stage instead of requiring its exit conditions.
// Only permitted for stages whose definition sets CanSkip.
func WithSkip() AdvanceOption {
	return func(o *advanceOptions) {
		o.skip = true
	}
}

// WithExpectedStage pins the advance to the stage the caller observed. When
// the instance has already moved past that stage the call performs no
// transition and returns the instance's current position, so of two racing
// advances from the same stage exactly one transitions.
func WithExpectedStage(stageID string) AdvanceOption {
	return func(o *advanceOptions) {
		o.expectedStage = stageID
	}
}

// AdvanceWorkflow moves an active instance out of its current stage and into
// the next one, or completes it when no next stage exists. Exit and entry
// conditions are both checked before any action runs; if either side fails
// the instance is left exactly where it was. Action failures do not roll the
// transition back: the result and an *action.Error are both returned.
func (e *Engine) AdvanceWorkflow(ctx context.Context, instanceID, actorID, notes string, opts ...AdvanceOption) (*AdvanceResult, error) {
	options := advanceOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := e.tracer.Start(ctx, "AdvanceWorkflow", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
		attribute.String(log.ActorKey, actorID),
	))
	defer span.End()

	start := e.clock.Now()

	instance, err := e.b.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if options.expectedStage != "" && instance.CurrentStageID != options.expectedStage {
		// Another advance already moved the instance off the stage the caller
		// observed. Report where it is instead of transitioning a second time.
		e.mc.Counter(metrickeys.AdvanceConflict, metrics.Tags{metrickeys.Template: instance.TemplateID}, 1)
		return &AdvanceResult{
			Completed:      instance.Status == core.InstanceStatusCompleted,
			CurrentStageID: instance.CurrentStageID,
		}, nil
	}

	if instance.Status != core.InstanceStatusActive {
		return nil, &TransitionError{InstanceID: instanceID, Status: instance.Status, Operation: "advance"}
	}

	graph, err := e.loadGraph(ctx, instance.TemplateID)
	if err != nil {
		return nil, err
	}

	res, err := e.advance(ctx, graph, instance, actorID, notes, options.skip)

	e.mc.Timing(metrickeys.AdvanceDuration, metrics.Tags{metrickeys.Template: instance.TemplateID}, e.clock.Since(start))

	if err != nil {
		if _, ok := AsActionError(err); !ok {
			return res, err
		}
	}

	if graph.Template().Config.AutoAdvance {
		res, err = e.autoAdvance(ctx, graph, instance, actorID, res, err)
	}

	return res, err
}

// autoAdvance keeps advancing after a committed transition for as long as the
// next stage's exit conditions already hold. Unmet conditions end the run
// without turning the original success into an error.
func (e *Engine) autoAdvance(ctx context.Context, graph *template.StageGraph, instance *core.WorkflowInstance, actorID string, res *AdvanceResult, err error) (*AdvanceResult, error) {
	for i := 0; i < graph.Len() && err == nil && !res.Completed; i++ {
		stepRes, stepErr := e.advance(ctx, graph, instance, actorID, "", false)

		var condErr *ConditionError
		if errors.As(stepErr, &condErr) {
			break
		}

		if stepRes != nil {
			res.Completed = stepRes.Completed
			res.CurrentStageID = stepRes.CurrentStageID
			res.SkippedStages = append(res.SkippedStages, stepRes.SkippedStages...)
			res.ActionResults = append(res.ActionResults, stepRes.ActionResults...)
		}

		if stepErr != nil {
			return res, stepErr
		}
	}

	return res, err
}

// advance performs one stage transition. Condition checks for both sides
// come first; only then do actions run and the new state plus its audit
// events get committed in a single backend call keyed on the instance
// version.
func (e *Engine) advance(ctx context.Context, graph *template.StageGraph, instance *core.WorkflowInstance, actorID, notes string, skip bool) (*AdvanceResult, error) {
	current, ok := graph.Stage(instance.CurrentStageID)
	if !ok {
		return nil, fmt.Errorf("instance %s references stage %q not in template %s",
			instance.InstanceID, instance.CurrentStageID, instance.TemplateID)
	}

	if skip {
		if !current.CanSkip {
			return nil, fmt.Errorf("%w: %s", ErrCannotSkip, current.ID)
		}
	} else {
		if ok, failing := condition.Evaluate(current.ExitConditions, conditionView(instance)); !ok {
			return nil, &ConditionError{
				InstanceID:        instance.InstanceID,
				StageID:           current.ID,
				Side:              TransitionExit,
				FailingPredicates: failing,
			}
		}
	}

	// Entry conditions see the transition in flight: the stage being left
	// already reads as completed (or skipped), and optional stages passed
	// over read as skipped. The instance itself stays untouched until every
	// check has passed.
	statuses := make(map[string]string, len(instance.PriorStageStatuses)+1)
	for id, status := range instance.PriorStageStatuses {
		statuses[id] = status
	}
	if skip {
		statuses[current.ID] = "skipped"
	} else {
		statuses[current.ID] = "completed"
	}

	// Resolve the stage to enter. Optional stages whose entry conditions do
	// not hold are skipped; a required stage with unmet entry conditions
	// aborts the advance before any action has run.
	next, err := graph.Next(current.ID)
	if err != nil {
		return nil, err
	}

	var autoSkipped []*core.StageDefinition
	for next != nil {
		ok, failing := condition.Evaluate(next.EntryConditions, projectedView(instance, statuses))
		if ok {
			break
		}
		if next.IsOptional {
			autoSkipped = append(autoSkipped, next)
			statuses[next.ID] = "skipped"
			if next, err = graph.Next(next.ID); err != nil {
				return nil, err
			}
			continue
		}
		return nil, &ConditionError{
			InstanceID:        instance.InstanceID,
			StageID:           next.ID,
			Side:              TransitionEntry,
			FailingPredicates: failing,
		}
	}

	instance.PriorStageStatuses = statuses

	now := e.clock.Now()
	expectedVersion := instance.Version
	res := &AdvanceResult{}

	var events []*history.Event

	if skip {
		events = append(events, history.NewEvent(now, instance.InstanceID, history.EventTypeStageSkipped,
			history.WithStageID(current.ID), history.WithActor(actorID), history.WithNotes(notes)))
		e.mc.Counter(metrickeys.StageSkipped, metrics.Tags{metrickeys.Template: instance.TemplateID}, 1)
	} else {
		exitResults, _ := e.dispatcher.Dispatch(ctx, current.ExitActions, e.invocation(instance, current.ID))
		mergeProduced(instance, exitResults)
		res.ActionResults = append(res.ActionResults, exitResults...)

		events = append(events, history.NewEvent(now, instance.InstanceID, history.EventTypeStageExited,
			history.WithStageID(current.ID), history.WithActor(actorID), history.WithNotes(notes),
			history.WithActionResults(exitResults)))
		e.mc.Counter(metrickeys.StageExited, metrics.Tags{metrickeys.Template: instance.TemplateID}, 1)
	}

	for _, s := range autoSkipped {
		events = append(events, history.NewEvent(now, instance.InstanceID, history.EventTypeStageSkipped,
			history.WithStageID(s.ID), history.WithActor(actorID)))
		res.SkippedStages = append(res.SkippedStages, s.ID)
	}

	if next == nil {
		instance.Status = core.InstanceStatusCompleted
		instance.CurrentStageID = ""
		instance.StageEnteredAt = nil
		instance.CompletedAt = &now
		events = append(events, history.NewEvent(now, instance.InstanceID, history.EventTypeWorkflowCompleted,
			history.WithActor(actorID)))
		res.Completed = true
	} else {
		entryResults, _ := e.dispatcher.Dispatch(ctx, next.EntryActions, e.invocation(instance, next.ID))
		mergeProduced(instance, entryResults)
		res.ActionResults = append(res.ActionResults, entryResults...)

		instance.CurrentStageID = next.ID
		instance.StageEnteredAt = &now
		events = append(events, history.NewEvent(now, instance.InstanceID, history.EventTypeStageEntered,
			history.WithStageID(next.ID), history.WithActor(actorID), history.WithActionResults(entryResults)))
		res.CurrentStageID = next.ID
	}

	if err := e.b.UpdateInstance(ctx, instance, expectedVersion, events); err != nil {
		if errors.Is(err, backend.ErrConflict) {
			e.mc.Counter(metrickeys.AdvanceConflict, metrics.Tags{metrickeys.Template: instance.TemplateID}, 1)
		}
		return nil, err
	}
	instance.Version = expectedVersion + 1

	e.logger.Debug("Advanced workflow instance",
		log.InstanceIDKey, instance.InstanceID,
		log.StageIDKey, instance.CurrentStageID,
		log.StatusKey, string(instance.Status),
		log.ActorKey, actorID,
	)

	if res.Completed {
		e.mc.Counter(metrickeys.InstanceCompleted, metrics.Tags{metrickeys.Template: instance.TemplateID}, 1)
		e.notifyCompletion(instance.TemplateID)
	} else {
		e.mc.Counter(metrickeys.StageEntered, metrics.Tags{metrickeys.Template: instance.TemplateID}, 1)
	}

	for _, r := range res.ActionResults {
		if !r.Success {
			return res, &action.Error{Results: res.ActionResults}
		}
	}

	return res, nil
}

// PauseWorkflow pauses an active instance. No actions run; the transition is
// metadata only.
func (e *Engine) PauseWorkflow(ctx context.Context, instanceID, actorID string) error {
	return e.transition(ctx, instanceID, actorID, "pause",
		func(s core.InstanceStatus) bool { return s == core.InstanceStatusActive },
		core.InstanceStatusPaused, history.EventTypeWorkflowPaused, "", "")
}

// ResumeWorkflow resumes a paused instance.
func (e *Engine) ResumeWorkflow(ctx context.Context, instanceID, actorID string) error {
	return e.transition(ctx, instanceID, actorID, "resume",
		func(s core.InstanceStatus) bool { return s == core.InstanceStatusPaused },
		core.InstanceStatusActive, history.EventTypeWorkflowResumed, "", "")
}

// CancelWorkflow cancels a non-terminal instance with a reason. Cancelling an
// already-terminal instance returns a TransitionError and performs no
// mutation.
func (e *Engine) CancelWorkflow(ctx context.Context, instanceID, actorID, reason string) error {
	return e.transition(ctx, instanceID, actorID, "cancel",
		func(s core.InstanceStatus) bool { return !s.Terminal() },
		core.InstanceStatusCancelled, history.EventTypeWorkflowCancelled, reason, metrickeys.InstanceCancelled)
}

// FailWorkflow escalates a non-terminal instance to failed with a cause,
// e.g. an exceeded SLA. It is driven by the sweep, never inline by Advance.
func (e *Engine) FailWorkflow(ctx context.Context, instanceID, actorID, cause string) error {
	return e.transition(ctx, instanceID, actorID, "fail",
		func(s core.InstanceStatus) bool { return !s.Terminal() },
		core.InstanceStatusFailed, history.EventTypeWorkflowFailed, cause, metrickeys.InstanceFailed)
}

func (e *Engine) transition(ctx context.Context, instanceID, actorID, operation string, allowed func(core.InstanceStatus) bool, to core.InstanceStatus, eventType history.EventType, notes, counterKey string) error {
	ctx, span := e.tracer.Start(ctx, "TransitionWorkflow", trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
		attribute.String(log.StatusKey, string(to)),
	))
	defer span.End()

	instance, err := e.b.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	if !allowed(instance.Status) {
		return &TransitionError{InstanceID: instanceID, Status: instance.Status, Operation: operation}
	}

	expectedVersion := instance.Version
	instance.Status = to

	event := history.NewEvent(e.clock.Now(), instanceID, eventType,
		history.WithActor(actorID), history.WithNotes(notes))

	if err := e.b.UpdateInstance(ctx, instance, expectedVersion, []*history.Event{event}); err != nil {
		return err
	}

	e.logger.Debug("Transitioned workflow instance",
		log.InstanceIDKey, instanceID,
		log.StatusKey, string(to),
		log.ActorKey, actorID,
	)

	if counterKey != "" {
		e.mc.Counter(counterKey, metrics.Tags{metrickeys.Template: instance.TemplateID}, 1)
	}

	return nil
}

// SetScore sets the instance score. Score changes only happen through this
// operation and are logged.
func (e *Engine) SetScore(ctx context.Context, instanceID, actorID string, score int) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("score %d outside range [0, 100]", score)
	}

	instance, err := e.b.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status.Terminal() {
		return &TransitionError{InstanceID: instanceID, Status: instance.Status, Operation: "set score"}
	}

	expectedVersion := instance.Version
	notes := fmt.Sprintf("%d -> %d", instance.Score, score)
	instance.Score = score

	event := history.NewEvent(e.clock.Now(), instanceID, history.EventTypeScoreChanged,
		history.WithActor(actorID), history.WithNotes(notes))

	return e.b.UpdateInstance(ctx, instance, expectedVersion, []*history.Event{event})
}

// UpdateData merges the given keys into the instance data bag. Approvals and
// uploaded document types are recorded here under the well-known keys.
func (e *Engine) UpdateData(ctx context.Context, instanceID, actorID string, updates map[string]any) error {
	instance, err := e.b.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status.Terminal() {
		return &TransitionError{InstanceID: instanceID, Status: instance.Status, Operation: "update data"}
	}

	expectedVersion := instance.Version
	if instance.Data == nil {
		instance.Data = map[string]any{}
	}
	for k, v := range updates {
		instance.Data[k] = v
	}

	event := history.NewEvent(e.clock.Now(), instanceID, history.EventTypeDataUpdated,
		history.WithActor(actorID))

	return e.b.UpdateInstance(ctx, instance, expectedVersion, []*history.Event{event})
}

// Assign assigns the instance to a user, validated against the directory when
// one is configured.
func (e *Engine) Assign(ctx context.Context, instanceID, actorID, assignee string) error {
	if e.directory != nil {
		if _, err := e.directory.Lookup(ctx, assignee); err != nil {
			return fmt.Errorf("looking up assignee %q: %w", assignee, err)
		}
	}

	instance, err := e.b.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status.Terminal() {
		return &TransitionError{InstanceID: instanceID, Status: instance.Status, Operation: "assign"}
	}

	expectedVersion := instance.Version
	instance.AssignedTo = assignee

	event := history.NewEvent(e.clock.Now(), instanceID, history.EventTypeAssigned,
		history.WithActor(actorID), history.WithNotes(assignee))

	return e.b.UpdateInstance(ctx, instance, expectedVersion, []*history.Event{event})
}

// GetInstance returns the read-only projection of an instance.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*InstanceView, error) {
	instance, err := e.b.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	graph, err := e.loadGraph(ctx, instance.TemplateID)
	if err != nil {
		return nil, err
	}

	return newInstanceView(instance, graph, e.clock.Now()), nil
}

// GetHistory returns the instance's audit events in order.
func (e *Engine) GetHistory(ctx context.Context, instanceID string) ([]*history.Event, error) {
	if _, err := e.b.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	return e.b.GetHistory(ctx, instanceID)
}

// StartGraphEviction runs the stage graph cache's TTL eviction loop and
// blocks until the context is canceled. Without it only capacity evictions
// happen; expired graphs stay cached until the next capacity hit.
func (e *Engine) StartGraphEviction(ctx context.Context) {
	go e.graphs.Start()

	<-ctx.Done()

	e.graphs.Stop()
}

func (e *Engine) loadGraph(ctx context.Context, templateID string) (*template.StageGraph, error) {
	if item := e.graphs.Get(templateID); item != nil {
		return item.Value(), nil
	}

	t, err := e.b.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	graph, err := template.NewStageGraph(t, e.registry)
	if err != nil {
		return nil, err
	}

	e.graphs.Set(templateID, graph, ttlcache.DefaultTTL)
	e.mc.Gauge(metrickeys.GraphCacheSize, metrics.Tags{}, int64(e.graphs.Len()))

	return graph, nil
}

func (e *Engine) invocation(instance *core.WorkflowInstance, stageID string) *action.Invocation {
	return &action.Invocation{
		InstanceID: instance.InstanceID,
		TemplateID: instance.TemplateID,
		SubjectID:  instance.SubjectID,
		StageID:    stageID,
		Score:      instance.Score,
		Data:       instance.Data,
	}
}

func (e *Engine) notifyCompletion(templateID string) {
	if e.onCompletion != nil {
		go e.onCompletion(templateID)
	}
}

func mergeProduced(instance *core.WorkflowInstance, results []action.Result) {
	for _, r := range results {
		for k, v := range r.ProducedData {
			if instance.Data == nil {
				instance.Data = map[string]any{}
			}
			instance.Data[k] = v
		}
	}
}
