package router

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workspace"
	"github.com/squadcore/core/observability"
)

const (
	EventRouted observability.EventType = "router.routed"
)

// RoutingEvent is a structured record of one routing decision, persisted
// as newline-delimited JSON for the health view to replay.
type RoutingEvent struct {
	EventID       string         `json:"event_id"`
	Timestamp     string         `json:"timestamp"`
	Source        string         `json:"source"`
	Destination   string         `json:"destination"`
	Status        string         `json:"status"`
	ExecutionMode string         `json:"execution_mode"`
	MessageID     string         `json:"message_id,omitempty"`
	IssueNumber   *int           `json:"issue_number,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Metadata      map[string]any `json:"metadata"`
}

// RoutingEventParams are the caller-supplied fields of a RoutingEvent; the
// event id and timestamp are always generated fresh.
type RoutingEventParams struct {
	Source        string
	Destination   string
	Status        string
	ExecutionMode string
	MessageID     string
	IssueNumber   *int
	Reason        string
	Metadata      map[string]any
}

// NewRoutingEvent stamps a RoutingEvent with a fresh id and timestamp.
func NewRoutingEvent(p RoutingEventParams) RoutingEvent {
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return RoutingEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now().Format(time.RFC3339Nano),
		Source:        p.Source,
		Destination:   p.Destination,
		Status:        p.Status,
		ExecutionMode: p.ExecutionMode,
		MessageID:     p.MessageID,
		IssueNumber:   p.IssueNumber,
		Reason:        p.Reason,
		Metadata:      metadata,
	}
}

// EventEmitter appends structured events to the workspace event logs under
// .squad/events/.
type EventEmitter struct {
	paths workspace.Paths
}

// NewEventEmitter ensures the events directory exists and returns an
// EventEmitter rooted at workspaceRoot.
func NewEventEmitter(workspaceRoot string) (*EventEmitter, error) {
	paths := workspace.Resolve(workspaceRoot)
	if err := os.MkdirAll(paths.EventsDir(), 0o755); err != nil {
		return nil, squaderr.IOFailure("create events directory", err)
	}
	return &EventEmitter{paths: paths}, nil
}

// EmitRouting appends a routing event to events/routing.jsonl.
func (e *EventEmitter) EmitRouting(event RoutingEvent) error {
	return e.appendJSONL(e.paths.Routing(), event)
}

func (e *EventEmitter) appendJSONL(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return squaderr.IOFailure("create event log directory", err)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return squaderr.IOFailure("marshal event", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return squaderr.IOFailure("open event log", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return squaderr.IOFailure("append event log", err)
	}
	return nil
}
