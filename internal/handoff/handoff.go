// Package handoff implements the explicit work-transfer protocol between
// worker roles: a structured handoff record with context preservation and
// an audit trail, plus delegation links that track ownership and
// completion propagation back to the delegating role.
package handoff

import "time"

// Status is the lifecycle state of a Handoff.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Reason enumerates why a handoff was initiated. The zero value ("") is a
// valid freeform fallback per the design notes: enumerated reasons cover
// the common cases, an empty Reason with a populated Context.Notes covers
// the rest.
type Reason string

const (
	ReasonWorkflow       Reason = "workflow"
	ReasonEscalation     Reason = "escalation"
	ReasonSpecialization Reason = "specialization"
	ReasonLoadBalancing  Reason = "load_balancing"
	ReasonBlocker        Reason = "blocker"
	ReasonCompletion     Reason = "completion"
	ReasonError          Reason = "error"
)

// Priority mirrors signalbus.Priority without importing it, so handoff can
// be used independently of the signal bus.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Context is the information a handoff carries so the recipient does not
// need to reconstruct state from scratch.
type Context struct {
	Summary      string         `json:"summary"`
	CurrentState string         `json:"current_state"`
	NextSteps    []string       `json:"next_steps,omitempty"`
	Blockers     []string       `json:"blockers,omitempty"`
	Artifacts    []string       `json:"artifacts,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// AuditEntry records one state change in a Handoff's lifecycle.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
}

// Handoff is a tracked work transfer between two worker roles.
type Handoff struct {
	ID         string  `json:"id"`
	WorkItemID string  `json:"work_item_id"`
	FromAgent  string  `json:"from_agent"`
	ToAgent    string  `json:"to_agent"`
	Reason     Reason  `json:"reason,omitempty"`
	Status     Status  `json:"status"`
	Context    Context `json:"context"`

	Metadata    map[string]any `json:"metadata,omitempty"`
	Priority    Priority       `json:"priority,omitempty"`
	RequiresAck bool           `json:"requires_ack"`

	InitiatedAt time.Time  `json:"initiated_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	AcceptanceMessage string `json:"acceptance_message,omitempty"`
	RejectionReason   string `json:"rejection_reason,omitempty"`

	AuditLog []AuditEntry `json:"audit_log,omitempty"`
}

func (h *Handoff) addAudit(action, details string) {
	h.AuditLog = append(h.AuditLog, AuditEntry{Timestamp: time.Now(), Action: action, Details: details})
}
