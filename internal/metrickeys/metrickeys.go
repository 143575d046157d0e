package metrickeys

const (
	prefix = "stageflow."

	InstanceCreated   = prefix + "instance.created"
	InstanceCompleted = prefix + "instance.completed"
	InstanceCancelled = prefix + "instance.cancelled"
	InstanceFailed    = prefix + "instance.failed"

	StageEntered = prefix + "stage.entered"
	StageExited  = prefix + "stage.exited"
	StageSkipped = prefix + "stage.skipped"

	AdvanceDuration = prefix + "advance.duration"
	AdvanceConflict = prefix + "advance.conflict"

	ActionExecution = prefix + "action.execution"
	ActionFailed    = prefix + "action.failed"

	GraphCacheSize     = prefix + "graph.cache.size"
	GraphCacheEviction = prefix + "graph.cache.eviction"

	SweepOverdue = prefix + "sweep.overdue"

	// Tag keys
	Template       = "template"
	ActionType     = "action_type"
	EvictionReason = "reason"
)
