package convoy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/squadcore/core/internal/workstate"
	"github.com/squadcore/core/observability"
)

// WorkItem describes one piece of work to assign a convoy member to, by
// agent type and the id of an existing work item.
type WorkItem struct {
	AgentType  string
	WorkItemID string
}

// CreateOptions configure a new convoy; zero-valued fields fall back to
// defaults().
type CreateOptions struct {
	Description        string
	MaxParallel        int
	TimeoutMinutes     int
	StopOnFirstFailure bool
	EnableAutoTuning   *bool
	BaselineParallel   int
	CPUThreshold       float64
	MemoryThreshold    float64
	IssueNumber        *int
	PlanExecutionID    string
}

// Manager creates and tracks convoys and drives their parallel execution.
type Manager struct {
	mu       sync.RWMutex
	store    workstate.Store
	observer observability.Observer
	convoys  map[string]*Convoy
}

// NewManager builds a Manager over a workstate.Store; observer may be nil.
func NewManager(store workstate.Store, observer observability.Observer) *Manager {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Manager{store: store, observer: observer, convoys: make(map[string]*Convoy)}
}

// CreateConvoy defines a new convoy over the given work items, associating
// each work item with the convoy in the work state store.
func (m *Manager) CreateConvoy(ctx context.Context, name string, items []WorkItem, opts CreateOptions) (*Convoy, error) {
	c := defaults()
	c.ID = "convoy-" + uuid.New().String()[:8]
	c.Name = name
	c.Description = opts.Description
	c.CreatedAt = time.Now()
	c.IssueNumber = opts.IssueNumber
	c.PlanExecutionID = opts.PlanExecutionID

	if opts.MaxParallel > 0 {
		c.MaxParallel = opts.MaxParallel
	}
	if opts.TimeoutMinutes > 0 {
		c.TimeoutMinutes = opts.TimeoutMinutes
	}
	c.StopOnFirstFailure = opts.StopOnFirstFailure
	if opts.EnableAutoTuning != nil {
		c.EnableAutoTuning = *opts.EnableAutoTuning
	}
	if opts.BaselineParallel > 0 {
		c.BaselineParallel = opts.BaselineParallel
	}
	if opts.CPUThreshold > 0 {
		c.CPUThreshold = opts.CPUThreshold
	}
	if opts.MemoryThreshold > 0 {
		c.MemoryThreshold = opts.MemoryThreshold
	}

	for _, item := range items {
		c.AddMember(item.AgentType, item.WorkItemID)
		if _, err := m.store.SetConvoy(ctx, item.WorkItemID, c.ID); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.convoys[c.ID] = &c
	m.mu.Unlock()

	convoysStarted.WithLabelValues(boolLabel(c.EnableAutoTuning)).Inc()

	m.observer.OnEvent(ctx, observability.Event{
		Type: EventConvoyCreated, Level: observability.LevelInfo, Timestamp: time.Now(), Source: "convoy",
		Data: map[string]any{"id": c.ID, "members": len(c.Members)},
	})

	return &c, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// GetConvoy returns a tracked convoy by id.
func (m *Manager) GetConvoy(id string) *Convoy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.convoys[id]
}

// ListConvoys returns every tracked convoy, optionally filtered by status
// and/or issue number, newest first.
func (m *Manager) ListConvoys(status Status, issueNumber *int) []*Convoy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Convoy
	for _, c := range m.convoys {
		if status != "" && c.Status != status {
			continue
		}
		if issueNumber != nil && (c.IssueNumber == nil || *c.IssueNumber != *issueNumber) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CancelConvoy cancels a pending or running convoy, returning its pending
// members to ready.
func (m *Manager) CancelConvoy(ctx context.Context, id string) bool {
	m.mu.Lock()
	c, ok := m.convoys[id]
	m.mu.Unlock()
	if !ok || (c.Status != StatusPending && c.Status != StatusRunning) {
		return false
	}

	now := time.Now()
	c.Status = StatusCancelled
	c.CompletedAt = &now

	for i := range c.Members {
		if c.Members[i].Status == MemberPending {
			c.Members[i].Status = MemberSkipped
			_, _ = m.store.TransitionStatus(ctx, c.Members[i].WorkItemID, workstate.StatusReady, nil)
		}
	}

	m.observer.OnEvent(ctx, observability.Event{
		Type: EventConvoyCancelled, Level: observability.LevelInfo, Timestamp: time.Now(), Source: "convoy",
		Data: map[string]any{"id": id},
	})
	return true
}
