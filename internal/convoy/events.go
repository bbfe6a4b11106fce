package convoy

import "github.com/squadcore/core/observability"

const (
	EventConvoyCreated     observability.EventType = "convoy.created"
	EventConvoyStart       observability.EventType = "convoy.started"
	EventMemberStart       observability.EventType = "convoy.member_started"
	EventMemberComplete    observability.EventType = "convoy.member_completed"
	EventMemberFailed      observability.EventType = "convoy.member_failed"
	EventConvoyComplete    observability.EventType = "convoy.completed"
	EventConvoyCancelled   observability.EventType = "convoy.cancelled"
)
