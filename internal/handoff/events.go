package handoff

import "github.com/squadcore/core/observability"

const (
	EventInitiated observability.EventType = "handoff.initiated"
	EventAccepted  observability.EventType = "handoff.accepted"
	EventRejected  observability.EventType = "handoff.rejected"
	EventCompleted observability.EventType = "handoff.completed"
)
