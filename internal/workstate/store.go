package workstate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/squadcore/core/internal/atomicfile"
	"github.com/squadcore/core/internal/migrate"
	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workspace"
	"github.com/squadcore/core/observability"
)

// Store is the persistent, versioned Work Item store.
type Store interface {
	Create(ctx context.Context, item *Item) (*Item, error)
	Get(ctx context.Context, id string) (*Item, error)
	GetByIssue(ctx context.Context, issueNumber int) (*Item, error)
	// Update performs an optimistic-locking compare-and-swap: item.Version
	// must match the stored version, otherwise squaderr.ConflictError is
	// returned and the store is left unchanged.
	Update(ctx context.Context, item *Item) (*Item, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) ([]*Item, error)

	AssignToAgent(ctx context.Context, id, agent string) (*Item, error)
	UnassignFromAgent(ctx context.Context, id string) (*Item, error)

	AddDependency(ctx context.Context, id, dependsOnID string) (*Item, error)
	UpdateBlockedItems(ctx context.Context) ([]*Item, error)

	TransitionStatus(ctx context.Context, id string, status Status, context map[string]any) (*Item, error)
	CompleteWork(ctx context.Context, id string, artifacts []string) (*Item, error)

	AddArtifact(ctx context.Context, id, path string) (*Item, error)
	SetConvoy(ctx context.Context, id, convoyID string) (*Item, error)

	Stats(ctx context.Context) (Stats, error)
}

// Filter narrows List results.
type Filter struct {
	Status   Status
	Agent    string
	ConvoyID string
}

// Stats summarizes the work item population for dashboards/reports.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"by_status"`
	ByAgent    map[string]int `json:"by_agent"`
	Blocked    int            `json:"blocked"`
	InProgress int            `json:"in_progress"`
	Completed  int            `json:"completed"`
}

type jsonStore struct {
	mu       sync.Mutex
	paths    workspace.Paths
	lock     *atomicfile.Lock
	hooks    *hookManager
	observer observability.Observer
	cfg      Config

	items map[string]*Item
}

// NewJSONStore builds a Store backed by a lock-guarded JSON file under
// workspaceRoot/.squad/workstate.json, with atomic-rename persistence and
// optional per-item hook directories.
func NewJSONStore(workspaceRoot string, cfg Config, observer observability.Observer) (Store, error) {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	paths := workspace.Resolve(workspaceRoot)
	s := &jsonStore{
		paths:    paths,
		lock:     atomicfile.NewLock(paths.WorkStateJSON()),
		hooks:    newHookManager(paths, workspaceRoot, cfg.UseGitWorktree),
		observer: observer,
		cfg:      cfg,
		items:    make(map[string]*Item),
	}

	if needed, err := migrate.Needed(paths.WorkStateJSON()); err != nil {
		return nil, err
	} else if needed {
		if err := s.load(); err != nil {
			return nil, err
		}
		if err := migrate.Complete(paths.WorkStateJSON()); err != nil {
			return nil, err
		}
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

type snapshot struct {
	Version   string           `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	WorkItems map[string]*Item `json:"work_items"`
}

func (s *jsonStore) load() error {
	data, err := os.ReadFile(s.paths.WorkStateJSON())
	if err != nil {
		if os.IsNotExist(err) {
			s.items = make(map[string]*Item)
			return nil
		}
		return squaderr.IOFailure("read workstate file", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return squaderr.IOFailure("parse workstate file", err)
	}

	if snap.WorkItems == nil {
		snap.WorkItems = make(map[string]*Item)
	}
	s.items = snap.WorkItems
	return nil
}

func (s *jsonStore) saveLocked() error {
	snap := snapshot{
		Version:   "1.0",
		UpdatedAt: time.Now(),
		WorkItems: s.items,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return squaderr.IOFailure("marshal workstate snapshot", err)
	}

	return atomicfile.Write(s.paths.WorkStateJSON(), data, 0o644)
}

// withTxn reloads from disk, runs fn against the in-memory map under the
// cross-process file lock, and saves only if fn returns dirty=true.
func (s *jsonStore) withTxn(ctx context.Context, fn func() (dirty bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lock.WithLock(ctx, func() error {
		if err := s.load(); err != nil {
			return err
		}

		dirty, err := fn()
		if err != nil {
			return err
		}
		if dirty {
			return s.saveLocked()
		}
		return nil
	})
}

func (s *jsonStore) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	s.observer.OnEvent(ctx, observability.Event{
		Type: typ, Level: level, Timestamp: time.Now(), Source: "workstate", Data: data,
	})
}

func generateID(prefix string) string {
	const hexDigits = "0123456789abcdef"
	b := make([]byte, 5)
	for i := range b {
		b[i] = hexDigits[rand.Intn(len(hexDigits))]
	}
	if prefix == "" {
		prefix = "sq"
	}
	return fmt.Sprintf("%s-%s", prefix, string(b))
}

func (s *jsonStore) dependenciesSatisfied(item *Item) bool {
	return dependenciesSatisfied(s.items, item)
}

// dependenciesSatisfied reports whether every dependency of item is present
// in items and terminal. Shared between the JSON and bbolt backends.
func dependenciesSatisfied(items map[string]*Item, item *Item) bool {
	for _, depID := range item.DependsOn {
		dep, ok := items[depID]
		if !ok || !dep.IsComplete() {
			return false
		}
	}
	return true
}

func (s *jsonStore) Create(ctx context.Context, item *Item) (*Item, error) {
	now := time.Now()
	created := item.clone()
	created.ID = generateID(s.cfg.IDPrefix)
	created.CreatedAt = now
	created.UpdatedAt = now
	created.Version = 1
	if created.Context == nil {
		created.Context = map[string]any{}
	}
	if created.Metadata == nil {
		created.Metadata = map[string]any{}
	}

	err := s.withTxn(ctx, func() (bool, error) {
		if len(created.DependsOn) > 0 {
			if s.dependenciesSatisfied(created) {
				created.Status = StatusReady
			} else {
				created.Status = StatusBlocked
			}
		} else {
			created.Status = StatusReady
		}

		if created.AgentAssignee != "" {
			created.Status = StatusHooked
		}

		for _, depID := range created.DependsOn {
			if dep, ok := s.items[depID]; ok {
				dep.Blocks = appendUnique(dep.Blocks, created.ID)
			}
		}

		s.items[created.ID] = created
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.HooksEnabled() {
		if err := s.hooks.ensure(created); err != nil {
			return nil, err
		}
	}

	s.emit(ctx, EventItemCreated, observability.LevelInfo, map[string]any{"id": created.ID, "title": created.Title})
	return created.clone(), nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func (s *jsonStore) Get(ctx context.Context, id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}

	item, ok := s.items[id]
	if !ok {
		return nil, squaderr.NotFound("work item", id)
	}
	return item.clone(), nil
}

func (s *jsonStore) GetByIssue(ctx context.Context, issueNumber int) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}

	for _, item := range s.items {
		if item.IssueNumber != nil && *item.IssueNumber == issueNumber {
			return item.clone(), nil
		}
	}
	return nil, squaderr.NotFound("work item by issue", fmt.Sprint(issueNumber))
}

func (s *jsonStore) Update(ctx context.Context, item *Item) (*Item, error) {
	updated := item.clone()

	err := s.withTxn(ctx, func() (bool, error) {
		existing, ok := s.items[updated.ID]
		if !ok {
			return false, squaderr.NotFound("work item", updated.ID)
		}
		if existing.Version != updated.Version {
			s.emit(ctx, EventItemConflict, observability.LevelWarning, map[string]any{"id": updated.ID})
			return false, squaderr.NewConflict(updated.ID, updated.Version, existing.Version)
		}

		updated.Version = existing.Version + 1
		updated.UpdatedAt = time.Now()
		s.items[updated.ID] = updated
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.HooksEnabled() {
		if err := s.hooks.writeMetadata(updated); err != nil {
			return nil, err
		}
	}

	s.emit(ctx, EventItemUpdated, observability.LevelInfo, map[string]any{"id": updated.ID})
	return updated.clone(), nil
}

func (s *jsonStore) Delete(ctx context.Context, id string) error {
	var existed bool
	err := s.withTxn(ctx, func() (bool, error) {
		if _, ok := s.items[id]; !ok {
			return false, nil
		}
		delete(s.items, id)
		existed = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if !existed {
		return squaderr.NotFound("work item", id)
	}

	if s.cfg.HooksEnabled() {
		if err := s.hooks.remove(id); err != nil {
			return err
		}
	}

	s.emit(ctx, EventItemDeleted, observability.LevelInfo, map[string]any{"id": id})
	return nil
}

func (s *jsonStore) List(ctx context.Context, filter Filter) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}

	var out []*Item
	for _, item := range s.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Agent != "" && item.AgentAssignee != filter.Agent {
			continue
		}
		if filter.ConvoyID != "" && item.ConvoyID != filter.ConvoyID {
			continue
		}
		out = append(out, item.clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

func (s *jsonStore) AssignToAgent(ctx context.Context, id, agent string) (*Item, error) {
	var result *Item
	err := s.withTxn(ctx, func() (bool, error) {
		item, ok := s.items[id]
		if !ok {
			return false, squaderr.NotFound("work item", id)
		}

		from := string(item.Status)
		item.AgentAssignee = agent
		item.Status = StatusHooked
		item.Version++
		item.UpdatedAt = time.Now()
		item.recordHistory("status", from, string(item.Status), "assigned to "+agent)
		result = item
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.HooksEnabled() {
		if err := s.hooks.ensure(result); err != nil {
			return nil, err
		}
	}

	s.emit(ctx, EventItemAssigned, observability.LevelInfo, map[string]any{"id": id, "agent": agent})
	return result.clone(), nil
}

func (s *jsonStore) UnassignFromAgent(ctx context.Context, id string) (*Item, error) {
	var result *Item
	err := s.withTxn(ctx, func() (bool, error) {
		item, ok := s.items[id]
		if !ok {
			return false, squaderr.NotFound("work item", id)
		}

		from := string(item.Status)
		item.AgentAssignee = ""
		if item.Status == StatusHooked {
			item.Status = StatusReady
		}
		item.Version++
		item.UpdatedAt = time.Now()
		item.recordHistory("status", from, string(item.Status), "unassigned")
		result = item
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.HooksEnabled() {
		if err := s.hooks.writeMetadata(result); err != nil {
			return nil, err
		}
	}

	return result.clone(), nil
}

func (s *jsonStore) AddDependency(ctx context.Context, id, dependsOnID string) (*Item, error) {
	var result *Item
	err := s.withTxn(ctx, func() (bool, error) {
		item, ok := s.items[id]
		if !ok {
			return false, squaderr.NotFound("work item", id)
		}
		dep, ok := s.items[dependsOnID]
		if !ok {
			return false, squaderr.NotFound("work item", dependsOnID)
		}

		if containsStr(item.DependsOn, dependsOnID) {
			result = item
			return false, nil
		}

		item.DependsOn = append(item.DependsOn, dependsOnID)
		dep.Blocks = appendUnique(dep.Blocks, id)

		if !s.dependenciesSatisfied(item) {
			from := string(item.Status)
			item.Status = StatusBlocked
			item.recordHistory("status", from, string(item.Status), "dependency added")
		}

		item.Version++
		item.UpdatedAt = time.Now()
		result = item
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return result.clone(), nil
}

func containsStr(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (s *jsonStore) UpdateBlockedItems(ctx context.Context) ([]*Item, error) {
	var unblocked []*Item
	err := s.withTxn(ctx, func() (bool, error) {
		var changed bool
		for _, item := range s.items {
			if item.Status == StatusBlocked && s.dependenciesSatisfied(item) {
				from := string(item.Status)
				item.Status = StatusReady
				item.Version++
				item.UpdatedAt = time.Now()
				item.recordHistory("status", from, string(item.Status), "dependencies satisfied")
				unblocked = append(unblocked, item)
				changed = true
			}
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	if len(unblocked) > 0 {
		s.emit(ctx, EventItemUnblocked, observability.LevelInfo, map[string]any{"count": len(unblocked)})
	}

	out := make([]*Item, len(unblocked))
	for i, it := range unblocked {
		out[i] = it.clone()
	}
	return out, nil
}

func (s *jsonStore) TransitionStatus(ctx context.Context, id string, status Status, contextData map[string]any) (*Item, error) {
	var result *Item
	var oldStatus Status
	err := s.withTxn(ctx, func() (bool, error) {
		item, ok := s.items[id]
		if !ok {
			return false, squaderr.NotFound("work item", id)
		}

		oldStatus = item.Status
		item.Status = status
		item.Version++
		item.UpdatedAt = time.Now()
		item.recordHistory("status", string(oldStatus), string(status), "")

		if len(contextData) > 0 {
			if item.Context == nil {
				item.Context = map[string]any{}
			}
			for k, v := range contextData {
				item.Context[k] = v
			}
		}

		result = item
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.HooksEnabled() {
		if err := s.hooks.writeMetadata(result); err != nil {
			return nil, err
		}
	}

	s.emit(ctx, EventItemTransition, observability.LevelInfo, map[string]any{
		"id": id, "from": string(oldStatus), "to": string(status),
	})

	if status == StatusDone {
		if _, err := s.UpdateBlockedItems(ctx); err != nil {
			return nil, err
		}
	}

	return result.clone(), nil
}

func (s *jsonStore) CompleteWork(ctx context.Context, id string, artifacts []string) (*Item, error) {
	var result *Item
	err := s.withTxn(ctx, func() (bool, error) {
		item, ok := s.items[id]
		if !ok {
			return false, squaderr.NotFound("work item", id)
		}

		for _, a := range artifacts {
			item.Artifacts = appendUnique(item.Artifacts, a)
		}
		item.AgentAssignee = ""
		item.Status = StatusDone
		item.Version++
		item.UpdatedAt = time.Now()
		item.recordHistory("status", "", string(StatusDone), "completed")
		result = item
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.HooksEnabled() {
		if err := s.hooks.writeMetadata(result); err != nil {
			return nil, err
		}
	}

	if _, err := s.UpdateBlockedItems(ctx); err != nil {
		return nil, err
	}

	return result.clone(), nil
}

func (s *jsonStore) AddArtifact(ctx context.Context, id, path string) (*Item, error) {
	var result *Item
	err := s.withTxn(ctx, func() (bool, error) {
		item, ok := s.items[id]
		if !ok {
			return false, squaderr.NotFound("work item", id)
		}

		before := len(item.Artifacts)
		item.Artifacts = appendUnique(item.Artifacts, path)
		if len(item.Artifacts) == before {
			result = item
			return false, nil
		}

		item.UpdatedAt = time.Now()
		item.Version++
		result = item
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.HooksEnabled() {
		if err := s.hooks.writeMetadata(result); err != nil {
			return nil, err
		}
	}
	return result.clone(), nil
}

func (s *jsonStore) SetConvoy(ctx context.Context, id, convoyID string) (*Item, error) {
	var result *Item
	err := s.withTxn(ctx, func() (bool, error) {
		item, ok := s.items[id]
		if !ok {
			return false, squaderr.NotFound("work item", id)
		}
		item.ConvoyID = convoyID
		item.Version++
		item.UpdatedAt = time.Now()
		result = item
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return result.clone(), nil
}

func (s *jsonStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ByStatus: make(map[Status]int),
		ByAgent:  make(map[string]int),
	}

	for _, item := range s.items {
		stats.Total++
		stats.ByStatus[item.Status]++
		if item.AgentAssignee != "" {
			stats.ByAgent[item.AgentAssignee]++
		}
	}

	stats.Blocked = stats.ByStatus[StatusBlocked]
	stats.InProgress = stats.ByStatus[StatusInProgress] + stats.ByStatus[StatusHooked]
	stats.Completed = stats.ByStatus[StatusDone]

	return stats, nil
}
