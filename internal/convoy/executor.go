package convoy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workstate"
	"github.com/squadcore/core/observability"
)

// AgentExecutor runs one convoy member's work and returns a result summary.
type AgentExecutor func(ctx context.Context, agentType, workItemID string, taskContext map[string]any) (string, error)

// Executor drives convoys to completion, adapting concurrency to host
// resource pressure the way ProcessParallel adapts worker count to item
// count, generalized to a resource-aware throttle instead of a fixed
// CPU-core multiplier.
type Executor struct {
	manager  *Manager
	store    workstate.Store
	monitor  *ResourceMonitor
	agentFn  AgentExecutor
	observer observability.Observer
}

// NewExecutor builds an Executor. monitor may be nil to disable
// auto-tuning entirely (equivalent to every convoy's EnableAutoTuning
// being ignored).
func NewExecutor(manager *Manager, store workstate.Store, monitor *ResourceMonitor, agentFn AgentExecutor, observer observability.Observer) *Executor {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Executor{manager: manager, store: store, monitor: monitor, agentFn: agentFn, observer: observer}
}

// Execute runs every member of convoyID concurrently up to an
// auto-tuned or fixed parallelism cap, honoring the convoy's overall
// timeout and fail-fast setting, and returns the convoy in its final
// status.
func (e *Executor) Execute(ctx context.Context, convoyID string, taskContext map[string]any) (*Convoy, error) {
	c := e.manager.GetConvoy(convoyID)
	if c == nil {
		return nil, squaderr.NotFound("convoy", convoyID)
	}
	if e.agentFn == nil {
		return nil, squaderr.NewValidation("agent_executor", "convoy execution requires an agent executor")
	}

	now := time.Now()
	c.Status = StatusRunning
	c.StartedAt = &now

	parallel := c.MaxParallel
	if c.EnableAutoTuning && e.monitor != nil {
		parallel = e.monitor.CalculateOptimalParallelism(c.MaxParallel, c.BaselineParallel)
	}
	convoyParallelism.WithLabelValues(convoyID).Set(float64(parallel))

	e.observer.OnEvent(ctx, observability.Event{
		Type: EventConvoyStart, Level: observability.LevelInfo, Timestamp: time.Now(), Source: "convoy",
		Data: map[string]any{"id": convoyID, "parallel": parallel},
	})

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(c.TimeoutMinutes)*time.Minute)
	defer cancel()

	var failFastCtx context.Context
	var failFastCancel context.CancelFunc
	if c.StopOnFirstFailure {
		failFastCtx, failFastCancel = context.WithCancel(runCtx)
		defer failFastCancel()
	} else {
		failFastCtx = runCtx
		failFastCancel = func() {}
	}

	sem := make(chan struct{}, max(parallel, 1))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range c.Members {
		member := &c.Members[i]

		wg.Add(1)
		go func(member *Member) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-failFastCtx.Done():
				return
			}
			defer func() { <-sem }()

			if failFastCtx.Err() != nil {
				return
			}

			if c.EnableAutoTuning && e.monitor != nil && e.monitor.ShouldThrottle(c.CPUThreshold, c.MemoryThreshold) {
				factor := e.monitor.ThrottleFactor(c.CPUThreshold, c.MemoryThreshold)
				delay := time.Duration((1.0 - factor) * 5.0 * float64(time.Second))
				if delay > 100*time.Millisecond {
					select {
					case <-time.After(delay):
					case <-failFastCtx.Done():
						return
					}
				}
			}

			e.runMember(failFastCtx, member, taskContext, c, &mu, failFastCancel)
		}(member)
	}

	wg.Wait()

	completedAt := time.Now()
	c.CompletedAt = &completedAt

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		c.Errors = append(c.Errors, fmt.Sprintf("convoy timed out after %d minutes", c.TimeoutMinutes))
		c.Status = StatusFailed
	default:
		progress := c.GetProgress()
		switch {
		case progress.Failed == 0:
			c.Status = StatusCompleted
		case progress.Completed > 0:
			c.Status = StatusPartial
		default:
			c.Status = StatusFailed
		}
	}

	for _, m := range c.Members {
		if m.Result != "" {
			c.Results[m.WorkItemID] = m.Result
		}
	}

	convoysCompleted.WithLabelValues(string(c.Status)).Inc()
	convoyDuration.WithLabelValues(string(c.Status)).Observe(completedAt.Sub(*c.StartedAt).Seconds())

	e.observer.OnEvent(ctx, observability.Event{
		Type: EventConvoyComplete, Level: observability.LevelInfo, Timestamp: time.Now(), Source: "convoy",
		Data: map[string]any{"id": convoyID, "status": string(c.Status)},
	})

	return c, nil
}

func (e *Executor) runMember(ctx context.Context, member *Member, taskContext map[string]any, c *Convoy, mu *sync.Mutex, cancel context.CancelFunc) {
	started := time.Now()
	member.Status = MemberRunning
	member.StartedAt = &started

	_, _ = e.store.TransitionStatus(ctx, member.WorkItemID, workstate.StatusInProgress, nil)

	e.observer.OnEvent(ctx, observability.Event{
		Type: EventMemberStart, Level: observability.LevelVerbose, Timestamp: time.Now(), Source: "convoy",
		Data: map[string]any{"work_item_id": member.WorkItemID, "agent_type": member.AgentType},
	})

	result, err := e.agentFn(ctx, member.AgentType, member.WorkItemID, taskContext)

	completed := time.Now()
	member.CompletedAt = &completed

	if err != nil {
		member.Status = MemberFailed
		member.Error = err.Error()
		_, _ = e.store.TransitionStatus(ctx, member.WorkItemID, workstate.StatusFailed, map[string]any{"error": err.Error()})

		mu.Lock()
		c.Errors = append(c.Errors, fmt.Sprintf("%s/%s: %v", member.AgentType, member.WorkItemID, err))
		mu.Unlock()

		convoyMembersCompleted.WithLabelValues(member.AgentType, "failed").Inc()
		e.observer.OnEvent(ctx, observability.Event{
			Type: EventMemberFailed, Level: observability.LevelError, Timestamp: time.Now(), Source: "convoy",
			Data: map[string]any{"work_item_id": member.WorkItemID, "error": err.Error()},
		})

		if c.StopOnFirstFailure {
			cancel()
		}
		return
	}

	member.Status = MemberCompleted
	member.Result = result
	_, _ = e.store.TransitionStatus(ctx, member.WorkItemID, workstate.StatusDone, nil)

	convoyMembersCompleted.WithLabelValues(member.AgentType, "completed").Inc()
	e.observer.OnEvent(ctx, observability.Event{
		Type: EventMemberComplete, Level: observability.LevelInfo, Timestamp: time.Now(), Source: "convoy",
		Data: map[string]any{"work_item_id": member.WorkItemID},
	})
}
