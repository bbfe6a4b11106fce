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

// Notifier delivers a notification when a handoff changes state; kept as a
// narrow interface so this package does not need to import signalbus
// directly. signalbus.Bus does not satisfy it as is (its Send takes
// SendOptions and returns the message), so a caller passes an adapter.
type Notifier interface {
	Send(ctx context.Context, sender, recipient, subject, body string, priority string) error
}

// Manager tracks the lifecycle of every Handoff in the workspace.
type Manager struct {
	mu       sync.Mutex
	paths    workspace.Paths
	lock     *atomicfile.Lock
	observer observability.Observer
	notifier Notifier

	handoffs map[string]*Handoff
}

// NewManager builds a Manager persisting under workspaceRoot/.squad/handoffs/.
// notifier may be nil to disable handoff notifications.
func NewManager(workspaceRoot string, notifier Notifier, observer observability.Observer) (*Manager, error) {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	paths := workspace.Resolve(workspaceRoot)
	m := &Manager{
		paths:    paths,
		lock:     atomicfile.NewLock(paths.Handoffs()),
		observer: observer,
		notifier: notifier,
		handoffs: make(map[string]*Handoff),
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.paths.Handoffs())
	if err != nil {
		if os.IsNotExist(err) {
			m.handoffs = make(map[string]*Handoff)
			return nil
		}
		return squaderr.IOFailure("read handoffs file", err)
	}

	out := make(map[string]*Handoff)
	if err := json.Unmarshal(data, &out); err != nil {
		return squaderr.IOFailure("parse handoffs file", err)
	}
	m.handoffs = out
	return nil
}

func (m *Manager) saveLocked() error {
	data, err := json.MarshalIndent(m.handoffs, "", "  ")
	if err != nil {
		return squaderr.IOFailure("marshal handoffs", err)
	}
	return atomicfile.Write(m.paths.Handoffs(), data, 0o644)
}

func (m *Manager) withTxn(ctx context.Context, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lock.WithLock(ctx, func() error {
		if err := m.load(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		return m.saveLocked()
	})
}

// Initiate starts a handoff from fromAgent to toAgent, creating it in
// StatusPending (or StatusInitiated if requiresAck is false, matching the
// original's distinction between a tracked ack-required handoff and a
// fire-and-forget transfer notice).
func (m *Manager) Initiate(ctx context.Context, workItemID, fromAgent, toAgent string, reason Reason, hctx Context, requiresAck bool) (*Handoff, error) {
	h := &Handoff{
		ID:          "ho-" + uuid.New().String()[:12],
		WorkItemID:  workItemID,
		FromAgent:   fromAgent,
		ToAgent:     toAgent,
		Reason:      reason,
		Status:      StatusInitiated,
		Context:     hctx,
		Priority:    PriorityNormal,
		RequiresAck: requiresAck,
		InitiatedAt: time.Now(),
	}
	if requiresAck {
		h.Status = StatusPending
	}
	h.addAudit("initiated", string(reason))

	err := m.withTxn(ctx, func() error {
		m.handoffs[h.ID] = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.notify(ctx, fromAgent, toAgent, "handoff: "+h.ID, hctx.Summary)
	m.emit(ctx, EventInitiated, map[string]any{"id": h.ID, "from": fromAgent, "to": toAgent})
	return h, nil
}

// Accept transitions a pending handoff to accepted.
func (m *Manager) Accept(ctx context.Context, id, message string) (*Handoff, error) {
	var h *Handoff
	err := m.withTxn(ctx, func() error {
		found, ok := m.handoffs[id]
		if !ok {
			return squaderr.NotFound("handoff", id)
		}
		now := time.Now()
		found.Status = StatusAccepted
		found.AcceptedAt = &now
		found.AcceptanceMessage = message
		found.addAudit("accepted", message)
		h = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.emit(ctx, EventAccepted, map[string]any{"id": id})
	return h, nil
}

// Reject transitions a pending handoff to rejected.
func (m *Manager) Reject(ctx context.Context, id, reason string) (*Handoff, error) {
	var h *Handoff
	err := m.withTxn(ctx, func() error {
		found, ok := m.handoffs[id]
		if !ok {
			return squaderr.NotFound("handoff", id)
		}
		found.Status = StatusRejected
		found.RejectionReason = reason
		found.addAudit("rejected", reason)
		h = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.emit(ctx, EventRejected, map[string]any{"id": id, "reason": reason})
	return h, nil
}

// Complete marks an accepted handoff as completed.
func (m *Manager) Complete(ctx context.Context, id string) (*Handoff, error) {
	var h *Handoff
	err := m.withTxn(ctx, func() error {
		found, ok := m.handoffs[id]
		if !ok {
			return squaderr.NotFound("handoff", id)
		}
		now := time.Now()
		found.Status = StatusCompleted
		found.CompletedAt = &now
		found.addAudit("completed", "")
		h = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.emit(ctx, EventCompleted, map[string]any{"id": id})
	return h, nil
}

// Cancel marks a handoff cancelled (used when superseded or abandoned).
func (m *Manager) Cancel(ctx context.Context, id, reason string) (*Handoff, error) {
	var h *Handoff
	err := m.withTxn(ctx, func() error {
		found, ok := m.handoffs[id]
		if !ok {
			return squaderr.NotFound("handoff", id)
		}
		found.Status = StatusCancelled
		found.addAudit("cancelled", reason)
		h = found
		return nil
	})
	return h, err
}

// Get returns a handoff by id.
func (m *Manager) Get(ctx context.Context, id string) (*Handoff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return nil, err
	}
	h, ok := m.handoffs[id]
	if !ok {
		return nil, squaderr.NotFound("handoff", id)
	}
	return h, nil
}

// ByWorkItem returns every handoff associated with a work item.
func (m *Manager) ByWorkItem(ctx context.Context, workItemID string) ([]*Handoff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return nil, err
	}

	var out []*Handoff
	for _, h := range m.handoffs {
		if h.WorkItemID == workItemID {
			out = append(out, h)
		}
	}
	return out, nil
}

// Pending returns every handoff awaiting acceptance by toAgent.
func (m *Manager) Pending(ctx context.Context, toAgent string) ([]*Handoff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return nil, err
	}

	var out []*Handoff
	for _, h := range m.handoffs {
		if h.ToAgent == toAgent && h.Status == StatusPending {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Manager) notify(ctx context.Context, from, to, subject, body string) {
	if m.notifier == nil {
		return
	}
	_ = m.notifier.Send(ctx, from, to, subject, body, string(PriorityNormal))
}

func (m *Manager) emit(ctx context.Context, typ observability.EventType, data map[string]any) {
	m.observer.OnEvent(ctx, observability.Event{
		Type: typ, Level: observability.LevelInfo, Timestamp: time.Now(), Source: "handoff", Data: data,
	})
}
