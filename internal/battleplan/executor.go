package battleplan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workstate"
	"github.com/squadcore/core/observability"
)

// ExecutionStatus is the lifecycle state of a plan Execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution tracks one in-flight run of a Plan, one work item per phase.
type Execution struct {
	ID             string          `json:"id"`
	PlanName       string          `json:"plan_name"`
	IssueNumber    *int            `json:"issue_number,omitempty"`
	Status         ExecutionStatus `json:"status"`
	CompletedPhases []string       `json:"completed_phases,omitempty"`
	FailedPhases    []string       `json:"failed_phases,omitempty"`
	WorkItems       []string       `json:"work_items"`
	Variables       map[string]any `json:"variables,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func (e *Execution) hasCompleted(name string) bool {
	for _, n := range e.CompletedPhases {
		if n == name {
			return true
		}
	}
	return false
}

func (e *Execution) hasFailed(name string) bool {
	for _, n := range e.FailedPhases {
		if n == name {
			return true
		}
	}
	return false
}

// AgentExecutor runs a single phase against a worker role and returns any
// artifacts it produced. Supplied by the caller (captain/convoy layer).
type AgentExecutor func(ctx context.Context, phase Phase, issueNumber *int) ([]string, error)

// Executor drives Plan executions by materializing phases as work items in
// a workstate.Store and advancing them as dependencies clear.
type Executor struct {
	mu         sync.Mutex
	manager    *Manager
	store      workstate.Store
	agentExec  AgentExecutor
	observer   observability.Observer
	executions map[string]*Execution
}

// NewExecutor builds an Executor over manager's plans and store's work
// items. agentExec may be nil; ExecuteStrategy requires it.
func NewExecutor(manager *Manager, store workstate.Store, agentExec AgentExecutor, observer observability.Observer) *Executor {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Executor{
		manager:    manager,
		store:      store,
		agentExec:  agentExec,
		observer:   observer,
		executions: make(map[string]*Execution),
	}
}

// StartExecution materializes every phase of planName as a work item,
// wires phase DependsOn into work item dependencies, and returns the
// running Execution.
func (e *Executor) StartExecution(ctx context.Context, planName string, issueNumber *int, variables map[string]any) (*Execution, error) {
	plan := e.manager.Get(planName)
	if plan == nil {
		return nil, squaderr.NotFound("battle plan", planName)
	}

	merged := map[string]any{}
	for k, v := range plan.Variables {
		merged[k] = v
	}
	for k, v := range variables {
		merged[k] = v
	}

	execution := &Execution{
		ID:          "exec-" + uuid.New().String()[:8],
		PlanName:    planName,
		IssueNumber: issueNumber,
		Variables:   merged,
		StartedAt:   time.Now(),
	}

	itemsByPhase := make(map[string]*workstate.Item, len(plan.Phases))
	for _, phase := range plan.Phases {
		item, err := e.store.Create(ctx, &workstate.Item{
			Title:       "[" + planName + "] " + phase.Name,
			Description: phase.Description,
			IssueNumber: issueNumber,
			Labels:      []string{planName, phase.Agent, "strategy-step"},
		})
		if err != nil {
			return nil, err
		}
		itemsByPhase[phase.Name] = item
		execution.WorkItems = append(execution.WorkItems, item.ID)
	}

	for _, phase := range plan.Phases {
		for _, depName := range phase.DependsOn {
			depItem, ok := itemsByPhase[depName]
			if !ok {
				continue
			}
			if _, err := e.store.AddDependency(ctx, itemsByPhase[phase.Name].ID, depItem.ID); err != nil {
				return nil, err
			}
		}
	}

	execution.Status = ExecutionRunning

	e.mu.Lock()
	e.executions[execution.ID] = execution
	e.mu.Unlock()

	e.observer.OnEvent(ctx, observability.Event{
		Type: EventExecutionStart, Level: observability.LevelInfo, Timestamp: time.Now(), Source: "battleplan",
		Data: map[string]any{"execution_id": execution.ID, "plan": planName},
	})

	return execution, nil
}

// GetExecution returns a tracked execution by id.
func (e *Executor) GetExecution(id string) *Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executions[id]
}

// NextPhases returns every phase whose work item is ready to run: not yet
// completed or failed, and its backing work item has reached StatusReady.
func (e *Executor) NextPhases(ctx context.Context, executionID string) ([]Phase, error) {
	execution := e.GetExecution(executionID)
	if execution == nil {
		return nil, squaderr.NotFound("battle plan execution", executionID)
	}
	plan := e.manager.Get(execution.PlanName)
	if plan == nil {
		return nil, squaderr.NotFound("battle plan", execution.PlanName)
	}

	var ready []Phase
	for i, phase := range plan.Phases {
		if execution.hasCompleted(phase.Name) || execution.hasFailed(phase.Name) {
			continue
		}
		item, err := e.store.Get(ctx, execution.WorkItems[i])
		if err != nil {
			return nil, err
		}
		if item.Status == workstate.StatusReady {
			ready = append(ready, phase)
		}
	}
	return ready, nil
}

// CompletePhase marks a phase's work item done and records the artifacts
// it produced.
func (e *Executor) CompletePhase(ctx context.Context, executionID, phaseName string, artifacts []string) error {
	e.mu.Lock()
	execution, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return squaderr.NotFound("battle plan execution", executionID)
	}
	plan := e.manager.Get(execution.PlanName)
	if plan == nil {
		return squaderr.NotFound("battle plan", execution.PlanName)
	}

	idx := phaseIndex(plan, phaseName)
	if idx < 0 {
		return squaderr.NotFound("battle plan phase", phaseName)
	}

	if _, err := e.store.CompleteWork(ctx, execution.WorkItems[idx], artifacts); err != nil {
		return err
	}

	e.mu.Lock()
	execution.CompletedPhases = append(execution.CompletedPhases, phaseName)
	done := len(execution.CompletedPhases) == len(plan.Phases)
	if done {
		now := time.Now()
		execution.Status = ExecutionCompleted
		execution.CompletedAt = &now
	}
	e.mu.Unlock()

	e.observer.OnEvent(ctx, observability.Event{
		Type: EventPhaseCompleted, Level: observability.LevelInfo, Timestamp: time.Now(), Source: "battleplan",
		Data: map[string]any{"execution_id": executionID, "phase": phaseName},
	})
	if done {
		e.observer.OnEvent(ctx, observability.Event{
			Type: EventExecutionDone, Level: observability.LevelInfo, Timestamp: time.Now(), Source: "battleplan",
			Data: map[string]any{"execution_id": executionID},
		})
	}
	return nil
}

// FailPhase marks a phase's work item failed and records the execution
// error.
func (e *Executor) FailPhase(ctx context.Context, executionID, phaseName, reason string) error {
	e.mu.Lock()
	execution, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return squaderr.NotFound("battle plan execution", executionID)
	}
	plan := e.manager.Get(execution.PlanName)
	if plan == nil {
		return squaderr.NotFound("battle plan", execution.PlanName)
	}

	idx := phaseIndex(plan, phaseName)
	if idx < 0 {
		return squaderr.NotFound("battle plan phase", phaseName)
	}

	if _, err := e.store.TransitionStatus(ctx, execution.WorkItems[idx], workstate.StatusFailed, map[string]any{"error": reason}); err != nil {
		return err
	}

	e.mu.Lock()
	execution.FailedPhases = append(execution.FailedPhases, phaseName)
	execution.Error = reason
	execution.Status = ExecutionFailed
	e.mu.Unlock()

	e.observer.OnEvent(ctx, observability.Event{
		Type: EventPhaseFailed, Level: observability.LevelError, Timestamp: time.Now(), Source: "battleplan",
		Data: map[string]any{"execution_id": executionID, "phase": phaseName, "reason": reason},
	})
	return nil
}

func phaseIndex(plan *Plan, name string) int {
	for i, p := range plan.Phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// ExecuteStrategy drives a plan to completion, running each ready phase
// through agentExec and advancing until no phase remains runnable. A
// phase whose ContinueOnError is false aborts the whole execution on
// failure.
func (e *Executor) ExecuteStrategy(ctx context.Context, planName string, issueNumber *int, variables map[string]any) (string, error) {
	if e.agentExec == nil {
		return "", squaderr.NewValidation("agent_executor", "battle plan execution requires an agent executor")
	}

	execution, err := e.StartExecution(ctx, planName, issueNumber, variables)
	if err != nil {
		return "", err
	}

	for {
		ready, err := e.NextPhases(ctx, execution.ID)
		if err != nil {
			return "", err
		}
		if len(ready) == 0 {
			break
		}

		for _, phase := range ready {
			artifacts, err := e.agentExec(ctx, phase, issueNumber)
			if err != nil {
				if ferr := e.FailPhase(ctx, execution.ID, phase.Name, err.Error()); ferr != nil {
					return "", ferr
				}
				if !phase.ContinueOnError {
					return "", err
				}
				continue
			}
			if err := e.CompletePhase(ctx, execution.ID, phase.Name, artifacts); err != nil {
				return "", err
			}
		}
	}

	return execution.ID, nil
}
