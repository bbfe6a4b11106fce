package handoff

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/squadcore/core/internal/atomicfile"
	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workspace"
	"github.com/squadcore/core/observability"
)

// DelegationStatus is the lifecycle state of a DelegationLink.
type DelegationStatus string

const (
	DelegationInitiated  DelegationStatus = "initiated"
	DelegationInProgress DelegationStatus = "in_progress"
	DelegationCompleted  DelegationStatus = "completed"
	DelegationCancelled  DelegationStatus = "cancelled"
	DelegationFailed     DelegationStatus = "failed"
)

// DelegationLink represents a scoped delegation of ownership over a work
// item from one role to another, with an audit trail and completion
// propagation back to the delegating role.
type DelegationLink struct {
	ID         string           `json:"id"`
	FromAgent  string           `json:"from_agent"`
	ToAgent    string           `json:"to_agent"`
	WorkItemID string           `json:"work_item_id"`
	Scope      string           `json:"scope"`
	SLA        string           `json:"sla,omitempty"`
	Status     DelegationStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	AuditLog   []AuditEntry     `json:"audit_log,omitempty"`
}

func (d *DelegationLink) addAudit(action, details string) {
	d.AuditLog = append(d.AuditLog, AuditEntry{Timestamp: time.Now(), Action: action, Details: details})
}

// DelegationManager manages delegation links and propagates completion
// notices to the delegating role through the provided notifier, when one
// is set.
type DelegationManager struct {
	mu       sync.Mutex
	paths    workspace.Paths
	lock     *atomicfile.Lock
	observer observability.Observer
	notifier Notifier

	delegations map[string]*DelegationLink
}

// NewDelegationManager builds a DelegationManager persisting under
// workspaceRoot/.squad/delegations/. notifier may be nil.
func NewDelegationManager(workspaceRoot string, notifier Notifier, observer observability.Observer) (*DelegationManager, error) {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	paths := workspace.Resolve(workspaceRoot)
	d := &DelegationManager{
		paths:       paths,
		lock:        atomicfile.NewLock(paths.Delegations()),
		observer:    observer,
		notifier:    notifier,
		delegations: make(map[string]*DelegationLink),
	}

	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DelegationManager) load() error {
	data, err := os.ReadFile(d.paths.Delegations())
	if err != nil {
		if os.IsNotExist(err) {
			d.delegations = make(map[string]*DelegationLink)
			return nil
		}
		return squaderr.IOFailure("read delegations file", err)
	}

	out := make(map[string]*DelegationLink)
	if err := json.Unmarshal(data, &out); err != nil {
		return squaderr.IOFailure("parse delegations file", err)
	}
	d.delegations = out
	return nil
}

func (d *DelegationManager) saveLocked() error {
	data, err := json.MarshalIndent(d.delegations, "", "  ")
	if err != nil {
		return squaderr.IOFailure("marshal delegations", err)
	}
	return atomicfile.Write(d.paths.Delegations(), data, 0o644)
}

func (d *DelegationManager) withTxn(ctx context.Context, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lock.WithLock(ctx, func() error {
		if err := d.load(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		return d.saveLocked()
	})
}

// CreateDelegation starts a new delegation link.
func (d *DelegationManager) CreateDelegation(ctx context.Context, fromAgent, toAgent, workItemID, scope, sla string) (*DelegationLink, error) {
	link := &DelegationLink{
		ID:         "dl-" + uuid.New().String()[:12],
		FromAgent:  fromAgent,
		ToAgent:    toAgent,
		WorkItemID: workItemID,
		Scope:      scope,
		SLA:        sla,
		Status:     DelegationInitiated,
		CreatedAt:  time.Now(),
	}
	link.addAudit("created", scope)

	err := d.withTxn(ctx, func() error {
		d.delegations[link.ID] = link
		return nil
	})
	if err != nil {
		return nil, err
	}

	if d.notifier != nil {
		_ = d.notifier.Send(ctx, fromAgent, toAgent, "delegation: "+link.ID, scope, string(PriorityNormal))
	}

	return link, nil
}

// CompleteDelegation marks a delegation completed and, when a notifier is
// configured, notifies the originating agent of the completion.
func (d *DelegationManager) CompleteDelegation(ctx context.Context, id, details string) (*DelegationLink, error) {
	var link *DelegationLink
	err := d.withTxn(ctx, func() error {
		found, ok := d.delegations[id]
		if !ok {
			return squaderr.NotFound("delegation", id)
		}
		now := time.Now()
		found.Status = DelegationCompleted
		found.CompletedAt = &now
		found.addAudit("completed", details)
		link = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	if d.notifier != nil {
		_ = d.notifier.Send(ctx, link.ToAgent, link.FromAgent, "delegation complete: "+link.ID, details, string(PriorityNormal))
	}

	return link, nil
}

// Get returns a delegation link by id.
func (d *DelegationManager) Get(ctx context.Context, id string) (*DelegationLink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.load(); err != nil {
		return nil, err
	}
	link, ok := d.delegations[id]
	if !ok {
		return nil, squaderr.NotFound("delegation", id)
	}
	return link, nil
}

// List returns every delegation link for a work item.
func (d *DelegationManager) List(ctx context.Context, workItemID string) ([]*DelegationLink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.load(); err != nil {
		return nil, err
	}

	var out []*DelegationLink
	for _, link := range d.delegations {
		if workItemID == "" || link.WorkItemID == workItemID {
			out = append(out, link)
		}
	}
	return out, nil
}
