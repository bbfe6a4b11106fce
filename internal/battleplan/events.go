package battleplan

import "github.com/squadcore/core/observability"

const (
	EventLoadFailed     observability.EventType = "battleplan.load_failed"
	EventExecutionStart observability.EventType = "battleplan.execution_started"
	EventPhaseCompleted observability.EventType = "battleplan.phase_completed"
	EventPhaseFailed    observability.EventType = "battleplan.phase_failed"
	EventExecutionDone  observability.EventType = "battleplan.execution_completed"
)
