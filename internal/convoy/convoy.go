// Package convoy implements parallel work-item batching: a convoy groups
// independent work items so multiple worker roles can execute them
// concurrently, with resource-adaptive throttling and a single timeout
// covering the whole convoy run.
package convoy

import "time"

// Status is the lifecycle state of a Convoy.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// MemberStatus is the execution state of a single convoy member.
type MemberStatus string

const (
	MemberPending   MemberStatus = "pending"
	MemberRunning   MemberStatus = "running"
	MemberCompleted MemberStatus = "completed"
	MemberFailed    MemberStatus = "failed"
	MemberSkipped   MemberStatus = "skipped"
)

// Member is a convoy participant: one worker role assigned to one work
// item.
type Member struct {
	AgentType   string       `json:"agent_type"`
	WorkItemID  string       `json:"work_item_id"`
	Status      MemberStatus `json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Progress summarizes member completion counts for a Convoy.
type Progress struct {
	Total           int `json:"total"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Running         int `json:"running"`
	Pending         int `json:"pending"`
	ProgressPercent int `json:"progress_percent"`
}

// Convoy groups multiple work items for parallel execution by different
// worker roles.
type Convoy struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status"`
	Members     []Member `json:"members"`

	MaxParallel        int  `json:"max_parallel"`
	TimeoutMinutes     int  `json:"timeout_minutes"`
	StopOnFirstFailure bool `json:"stop_on_first_failure"`

	EnableAutoTuning bool    `json:"enable_auto_tuning"`
	BaselineParallel int     `json:"baseline_parallel"`
	CPUThreshold     float64 `json:"cpu_threshold"`
	MemoryThreshold  float64 `json:"memory_threshold"`

	IssueNumber     *int   `json:"issue_number,omitempty"`
	PlanExecutionID string `json:"plan_execution_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Results map[string]string `json:"results,omitempty"`
	Errors  []string          `json:"errors,omitempty"`
}

// AddMember appends a new pending member to the convoy.
func (c *Convoy) AddMember(agentType, workItemID string) *Member {
	c.Members = append(c.Members, Member{AgentType: agentType, WorkItemID: workItemID, Status: MemberPending})
	return &c.Members[len(c.Members)-1]
}

// Member returns the member assigned to workItemID, or nil.
func (c *Convoy) Member(workItemID string) *Member {
	for i := range c.Members {
		if c.Members[i].WorkItemID == workItemID {
			return &c.Members[i]
		}
	}
	return nil
}

// IsComplete reports whether every member has reached a terminal state.
func (c *Convoy) IsComplete() bool {
	for _, m := range c.Members {
		if m.Status != MemberCompleted && m.Status != MemberFailed && m.Status != MemberSkipped {
			return false
		}
	}
	return true
}

// GetProgress tallies member status counts.
func (c *Convoy) GetProgress() Progress {
	p := Progress{Total: len(c.Members)}
	for _, m := range c.Members {
		switch m.Status {
		case MemberCompleted:
			p.Completed++
		case MemberFailed:
			p.Failed++
		case MemberRunning:
			p.Running++
		case MemberPending:
			p.Pending++
		}
	}
	if p.Total > 0 {
		p.ProgressPercent = (p.Completed + p.Failed) * 100 / p.Total
	}
	return p
}

// defaults returns a Convoy holding the zero-config defaults for a newly
// built convoy.
func defaults() Convoy {
	return Convoy{
		MaxParallel:      5,
		TimeoutMinutes:   60,
		EnableAutoTuning: true,
		BaselineParallel: 5,
		CPUThreshold:     80.0,
		MemoryThreshold:  85.0,
		Results:          map[string]string{},
	}
}
