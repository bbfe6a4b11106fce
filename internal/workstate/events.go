package workstate

import "github.com/squadcore/core/observability"

const (
	EventItemCreated    observability.EventType = "workstate.item.created"
	EventItemUpdated    observability.EventType = "workstate.item.updated"
	EventItemDeleted    observability.EventType = "workstate.item.deleted"
	EventItemTransition observability.EventType = "workstate.item.transition"
	EventItemAssigned   observability.EventType = "workstate.item.assigned"
	EventItemUnblocked  observability.EventType = "workstate.item.unblocked"
	EventItemConflict   observability.EventType = "workstate.item.conflict"
)
