package workstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workspace"
	"github.com/squadcore/core/observability"
	bolt "go.etcd.io/bbolt"
)

var itemsBucket = []byte("work_items")

// boltStore is the embedded-relational-store alternative to jsonStore,
// satisfying the same Store contract against history.db (one bucket,
// JSON-encoded values, bbolt's own file lock and write-ahead log providing
// the durability guarantee the JSON backend gets from flock+atomic rename).
type boltStore struct {
	db       *bolt.DB
	hooks    *hookManager
	observer observability.Observer
	cfg      Config
}

// NewBoltStore builds a Store backed by workspaceRoot/.squad/history.db.
func NewBoltStore(workspaceRoot string, cfg Config, observer observability.Observer) (Store, error) {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	paths := workspace.Resolve(workspaceRoot)
	db, err := bolt.Open(paths.HistoryDB(), 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, squaderr.IOFailure("open history.db", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(itemsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, squaderr.IOFailure("init history.db buckets", err)
	}

	return &boltStore{
		db:       db,
		hooks:    newHookManager(paths, workspaceRoot, cfg.UseGitWorktree),
		observer: observer,
		cfg:      cfg,
	}, nil
}

func (s *boltStore) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	s.observer.OnEvent(ctx, observability.Event{
		Type: typ, Level: level, Timestamp: time.Now(), Source: "workstate", Data: data,
	})
}

func (s *boltStore) getLocked(tx *bolt.Tx, id string) (*Item, bool) {
	raw := tx.Bucket(itemsBucket).Get([]byte(id))
	if raw == nil {
		return nil, false
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false
	}
	return &item, true
}

func (s *boltStore) putLocked(tx *bolt.Tx, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return squaderr.IOFailure("marshal work item", err)
	}
	return tx.Bucket(itemsBucket).Put([]byte(item.ID), data)
}

func (s *boltStore) allLocked(tx *bolt.Tx) map[string]*Item {
	items := make(map[string]*Item)
	_ = tx.Bucket(itemsBucket).ForEach(func(k, v []byte) error {
		var item Item
		if json.Unmarshal(v, &item) == nil {
			items[string(k)] = &item
		}
		return nil
	})
	return items
}

func (s *boltStore) Create(ctx context.Context, item *Item) (*Item, error) {
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

	err := s.db.Update(func(tx *bolt.Tx) error {
		all := s.allLocked(tx)

		if len(created.DependsOn) > 0 {
			if dependenciesSatisfied(all, created) {
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
			if dep, ok := all[depID]; ok {
				dep.Blocks = appendUnique(dep.Blocks, created.ID)
				if err := s.putLocked(tx, dep); err != nil {
					return err
				}
			}
		}

		return s.putLocked(tx, created)
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

func (s *boltStore) Get(ctx context.Context, id string) (*Item, error) {
	var item *Item
	err := s.db.View(func(tx *bolt.Tx) error {
		found, ok := s.getLocked(tx, id)
		if !ok {
			return squaderr.NotFound("work item", id)
		}
		item = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item.clone(), nil
}

func (s *boltStore) GetByIssue(ctx context.Context, issueNumber int) (*Item, error) {
	var item *Item
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, it := range s.allLocked(tx) {
			if it.IssueNumber != nil && *it.IssueNumber == issueNumber {
				item = it
				return nil
			}
		}
		return squaderr.NotFound("work item by issue", fmt.Sprint(issueNumber))
	})
	if err != nil {
		return nil, err
	}
	return item.clone(), nil
}

func (s *boltStore) Update(ctx context.Context, item *Item) (*Item, error) {
	updated := item.clone()
	err := s.db.Update(func(tx *bolt.Tx) error {
		existing, ok := s.getLocked(tx, updated.ID)
		if !ok {
			return squaderr.NotFound("work item", updated.ID)
		}
		if existing.Version != updated.Version {
			s.emit(ctx, EventItemConflict, observability.LevelWarning, map[string]any{"id": updated.ID})
			return squaderr.NewConflict(updated.ID, updated.Version, existing.Version)
		}
		updated.Version = existing.Version + 1
		updated.UpdatedAt = time.Now()
		return s.putLocked(tx, updated)
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

func (s *boltStore) Delete(ctx context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, ok := s.getLocked(tx, id); !ok {
			return squaderr.NotFound("work item", id)
		}
		return tx.Bucket(itemsBucket).Delete([]byte(id))
	})
	if err != nil {
		return err
	}

	if s.cfg.HooksEnabled() {
		if err := s.hooks.remove(id); err != nil {
			return err
		}
	}
	s.emit(ctx, EventItemDeleted, observability.LevelInfo, map[string]any{"id": id})
	return nil
}

func (s *boltStore) List(ctx context.Context, filter Filter) ([]*Item, error) {
	var out []*Item
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, item := range s.allLocked(tx) {
			if filter.Status != "" && item.Status != filter.Status {
				continue
			}
			if filter.Agent != "" && item.AgentAssignee != filter.Agent {
				continue
			}
			if filter.ConvoyID != "" && item.ConvoyID != filter.ConvoyID {
				continue
			}
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *boltStore) AssignToAgent(ctx context.Context, id, agent string) (*Item, error) {
	var result *Item
	err := s.db.Update(func(tx *bolt.Tx) error {
		item, ok := s.getLocked(tx, id)
		if !ok {
			return squaderr.NotFound("work item", id)
		}
		from := string(item.Status)
		item.AgentAssignee = agent
		item.Status = StatusHooked
		item.Version++
		item.UpdatedAt = time.Now()
		item.recordHistory("status", from, string(item.Status), "assigned to "+agent)
		result = item
		return s.putLocked(tx, item)
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

func (s *boltStore) UnassignFromAgent(ctx context.Context, id string) (*Item, error) {
	var result *Item
	err := s.db.Update(func(tx *bolt.Tx) error {
		item, ok := s.getLocked(tx, id)
		if !ok {
			return squaderr.NotFound("work item", id)
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
		return s.putLocked(tx, item)
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

func (s *boltStore) AddDependency(ctx context.Context, id, dependsOnID string) (*Item, error) {
	var result *Item
	err := s.db.Update(func(tx *bolt.Tx) error {
		item, ok := s.getLocked(tx, id)
		if !ok {
			return squaderr.NotFound("work item", id)
		}
		dep, ok := s.getLocked(tx, dependsOnID)
		if !ok {
			return squaderr.NotFound("work item", dependsOnID)
		}
		if containsStr(item.DependsOn, dependsOnID) {
			result = item
			return nil
		}

		item.DependsOn = append(item.DependsOn, dependsOnID)
		dep.Blocks = appendUnique(dep.Blocks, id)

		all := s.allLocked(tx)
		all[item.ID] = item
		if !dependenciesSatisfied(all, item) {
			from := string(item.Status)
			item.Status = StatusBlocked
			item.recordHistory("status", from, string(item.Status), "dependency added")
		}
		item.Version++
		item.UpdatedAt = time.Now()
		result = item

		if err := s.putLocked(tx, dep); err != nil {
			return err
		}
		return s.putLocked(tx, item)
	})
	if err != nil {
		return nil, err
	}
	return result.clone(), nil
}

func (s *boltStore) UpdateBlockedItems(ctx context.Context) ([]*Item, error) {
	var unblocked []*Item
	err := s.db.Update(func(tx *bolt.Tx) error {
		all := s.allLocked(tx)
		for _, item := range all {
			if item.Status == StatusBlocked && dependenciesSatisfied(all, item) {
				from := string(item.Status)
				item.Status = StatusReady
				item.Version++
				item.UpdatedAt = time.Now()
				item.recordHistory("status", from, string(item.Status), "dependencies satisfied")
				if err := s.putLocked(tx, item); err != nil {
					return err
				}
				unblocked = append(unblocked, item)
			}
		}
		return nil
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

func (s *boltStore) TransitionStatus(ctx context.Context, id string, status Status, contextData map[string]any) (*Item, error) {
	var result *Item
	var oldStatus Status
	err := s.db.Update(func(tx *bolt.Tx) error {
		item, ok := s.getLocked(tx, id)
		if !ok {
			return squaderr.NotFound("work item", id)
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
		return s.putLocked(tx, item)
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

func (s *boltStore) CompleteWork(ctx context.Context, id string, artifacts []string) (*Item, error) {
	var result *Item
	err := s.db.Update(func(tx *bolt.Tx) error {
		item, ok := s.getLocked(tx, id)
		if !ok {
			return squaderr.NotFound("work item", id)
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
		return s.putLocked(tx, item)
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

func (s *boltStore) AddArtifact(ctx context.Context, id, path string) (*Item, error) {
	var result *Item
	err := s.db.Update(func(tx *bolt.Tx) error {
		item, ok := s.getLocked(tx, id)
		if !ok {
			return squaderr.NotFound("work item", id)
		}
		before := len(item.Artifacts)
		item.Artifacts = appendUnique(item.Artifacts, path)
		if len(item.Artifacts) == before {
			result = item
			return nil
		}
		item.UpdatedAt = time.Now()
		item.Version++
		result = item
		return s.putLocked(tx, item)
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

func (s *boltStore) SetConvoy(ctx context.Context, id, convoyID string) (*Item, error) {
	var result *Item
	err := s.db.Update(func(tx *bolt.Tx) error {
		item, ok := s.getLocked(tx, id)
		if !ok {
			return squaderr.NotFound("work item", id)
		}
		item.ConvoyID = convoyID
		item.Version++
		item.UpdatedAt = time.Now()
		result = item
		return s.putLocked(tx, item)
	})
	if err != nil {
		return nil, err
	}
	return result.clone(), nil
}

func (s *boltStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[Status]int), ByAgent: make(map[string]int)}
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, item := range s.allLocked(tx) {
			stats.Total++
			stats.ByStatus[item.Status]++
			if item.AgentAssignee != "" {
				stats.ByAgent[item.AgentAssignee]++
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	stats.Blocked = stats.ByStatus[StatusBlocked]
	stats.InProgress = stats.ByStatus[StatusInProgress] + stats.ByStatus[StatusHooked]
	stats.Completed = stats.ByStatus[StatusDone]
	return stats, nil
}

// Close releases the underlying bbolt file handle.
func (s *boltStore) Close() error {
	return s.db.Close()
}
