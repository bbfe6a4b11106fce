// Package patrol periodically sweeps the work state store for items
// stuck in a working status past a staleness threshold, logging an
// escalation event for each one to events/patrol.jsonl.
package patrol

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workspace"
	"github.com/squadcore/core/internal/workstate"
	"github.com/squadcore/core/observability"
)

// EventStale fires once per stale work item found in a sweep.
const EventStale observability.EventType = "patrol.stale"

// DefaultStaleMinutes is how long a work item may sit in a monitored
// status before a sweep flags it.
const DefaultStaleMinutes = 120

// DefaultStatuses are the statuses a sweep considers "in progress" and
// therefore eligible to go stale.
var DefaultStatuses = []workstate.Status{
	workstate.StatusInProgress,
	workstate.StatusHooked,
	workstate.StatusBlocked,
}

// Event records one stale work item discovered during a sweep.
type Event struct {
	EventID      string         `json:"event_id"`
	Timestamp    string         `json:"timestamp"`
	WorkItemID   string         `json:"work_item_id"`
	Status       string         `json:"status"`
	MinutesStale int            `json:"minutes_stale"`
	LastUpdated  string         `json:"last_updated"`
	Metadata     map[string]any `json:"metadata"`
}

// Manager detects stale work items and appends escalation events to the
// workspace's patrol log.
type Manager struct {
	paths        workspace.Paths
	store        workstate.Store
	staleAfter   time.Duration
	statuses     []workstate.Status
	observer     observability.Observer
}

// Option configures a Manager beyond its required store.
type Option func(*Manager)

// WithStaleAfter overrides DefaultStaleMinutes.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) { m.staleAfter = d }
}

// WithStatuses overrides DefaultStatuses.
func WithStatuses(statuses []workstate.Status) Option {
	return func(m *Manager) { m.statuses = statuses }
}

// WithObserver attaches an event observer; nil is replaced with a no-op.
func WithObserver(observer observability.Observer) Option {
	return func(m *Manager) { m.observer = observer }
}

// New builds a patrol Manager over workspaceRoot and store.
func New(workspaceRoot string, store workstate.Store, opts ...Option) *Manager {
	m := &Manager{
		paths:      workspace.Resolve(workspaceRoot),
		store:      store,
		staleAfter: DefaultStaleMinutes * time.Minute,
		statuses:   append([]workstate.Status(nil), DefaultStatuses...),
		observer:   observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.observer == nil {
		m.observer = observability.NoOpObserver{}
	}
	return m
}

func (m *Manager) monitored(status workstate.Status) bool {
	for _, s := range m.statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Run lists every work item in a monitored status, flags the ones whose
// UpdatedAt predates the staleness cutoff, appends one event per stale
// item to the patrol log, and returns the stale set.
func (m *Manager) Run(ctx context.Context) ([]Event, error) {
	now := time.Now()
	cutoff := now.Add(-m.staleAfter)

	items, err := m.store.List(ctx, workstate.Filter{})
	if err != nil {
		return nil, err
	}

	var stale []Event
	for _, item := range items {
		if !m.monitored(item.Status) {
			continue
		}
		if item.UpdatedAt.IsZero() || item.UpdatedAt.After(cutoff) {
			continue
		}

		event := Event{
			EventID:      uuid.New().String(),
			Timestamp:    now.Format(time.RFC3339Nano),
			WorkItemID:   item.ID,
			Status:       string(item.Status),
			MinutesStale: int(now.Sub(item.UpdatedAt).Minutes()),
			LastUpdated:  item.UpdatedAt.Format(time.RFC3339Nano),
			Metadata:     map[string]any{"agent": item.AgentAssignee, "priority": item.Priority},
		}
		if err := m.emit(event); err != nil {
			return nil, err
		}
		stale = append(stale, event)

		m.observer.OnEvent(ctx, observability.Event{
			Type: EventStale, Level: observability.LevelWarning, Timestamp: now, Source: "patrol",
			Data: map[string]any{"work_item_id": item.ID, "minutes_stale": event.MinutesStale},
		})
	}

	return stale, nil
}

func (m *Manager) emit(event Event) error {
	path := m.paths.Patrol()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return squaderr.IOFailure("create events directory", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return squaderr.IOFailure("marshal patrol event", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return squaderr.IOFailure("open patrol log", err)
	}
	defer f.Close()
	if _, err := f.Write(append(payload, '\n')); err != nil {
		return squaderr.IOFailure("append patrol log", err)
	}
	return nil
}
