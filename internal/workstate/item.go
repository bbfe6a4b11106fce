// Package workstate implements the persistent, versioned Work Item store:
// dependency tracking, optimistic locking, status transitions, and
// per-item hook directories. It is the workspace's source of truth for
// everything the routing, convoy, and captain layers act on.
package workstate

import "time"

// Status is the lifecycle state of a Work Item.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusHooked     Status = "hooked"
	StatusBlocked    Status = "blocked"
	StatusInReview   Status = "in_review"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the status represents a completed item that
// no longer blocks its dependents once reached.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// HistoryEntry records one transition for audit/replay, part of the
// A2A-compatible history field.
type HistoryEntry struct {
	At     time.Time `json:"at"`
	Field  string    `json:"field"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// Item is a unit of work that can be assigned to a worker role.
type Item struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         Status         `json:"status"`
	IssueNumber    *int           `json:"issue_number,omitempty"`
	AgentAssignee  string         `json:"agent_assignee,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	Blocks         []string       `json:"blocks,omitempty"`
	ConvoyID       string         `json:"convoy_id,omitempty"`
	Priority       int            `json:"priority"`
	Labels         []string       `json:"labels,omitempty"`
	Artifacts      []string       `json:"artifacts,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Version        int            `json:"version"`

	// Optional A2A-compatible fields.
	SessionID    string         `json:"session_id,omitempty"`
	ParentTaskID string         `json:"parent_task_id,omitempty"`
	History      []HistoryEntry `json:"history,omitempty"`
}

// IsComplete reports whether the item has reached a terminal status.
func (i *Item) IsComplete() bool {
	return i.Status.IsTerminal()
}

// clone returns a deep-enough copy of i so callers (and the store) never
// share mutable slices/maps between the persisted copy and a caller's
// reference.
func (i *Item) clone() *Item {
	cp := *i
	cp.DependsOn = append([]string(nil), i.DependsOn...)
	cp.Blocks = append([]string(nil), i.Blocks...)
	cp.Labels = append([]string(nil), i.Labels...)
	cp.Artifacts = append([]string(nil), i.Artifacts...)
	cp.History = append([]HistoryEntry(nil), i.History...)

	if i.Context != nil {
		cp.Context = make(map[string]any, len(i.Context))
		for k, v := range i.Context {
			cp.Context[k] = v
		}
	}
	if i.Metadata != nil {
		cp.Metadata = make(map[string]any, len(i.Metadata))
		for k, v := range i.Metadata {
			cp.Metadata[k] = v
		}
	}
	if i.IssueNumber != nil {
		n := *i.IssueNumber
		cp.IssueNumber = &n
	}

	return &cp
}

func (i *Item) recordHistory(field, from, to, reason string) {
	i.History = append(i.History, HistoryEntry{
		At: i.UpdatedAt, Field: field, From: from, To: to, Reason: reason,
	})
}
