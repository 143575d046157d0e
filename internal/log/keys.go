package log

const (
	NamespaceKey = "stageflow"

	InstanceIDKey = NamespaceKey + ".instance.id"
	TemplateIDKey = NamespaceKey + ".template.id"
	SubjectIDKey  = NamespaceKey + ".subject.id"

	StageIDKey    = NamespaceKey + ".stage.id"
	StageOrderKey = NamespaceKey + ".stage.order"

	StatusKey = NamespaceKey + ".instance.status"
	ActorKey  = NamespaceKey + ".actor"
	ScoreKey  = NamespaceKey + ".instance.score"

	ActionTypeKey = NamespaceKey + ".action.type"

	DurationKey = NamespaceKey + ".duration_ms"
	ErrorKey    = "error"
	StackKey    = "stack"
)
