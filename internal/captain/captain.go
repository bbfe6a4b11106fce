// Package captain implements the Captain coordinator: the meta-agent that
// breaks a task into work items, selects a battle plan, groups items into
// parallelizable batches, dispatches them to convoys or single agents, and
// answers status/blocker/recommendation queries over the work state store.
package captain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/squadcore/core/internal/battleplan"
	"github.com/squadcore/core/internal/convoy"
	"github.com/squadcore/core/internal/router"
	"github.com/squadcore/core/internal/workstate"
	"github.com/squadcore/core/observability"
)

// Roles is the fixed vocabulary of specialist agents the Captain routes
// work to.
var Roles = []string{"pm", "architect", "engineer", "ux", "reviewer"}

func isRole(s string) bool {
	for _, r := range Roles {
		if r == s {
			return true
		}
	}
	return false
}

// Complexity buckets a task's estimated effort.
type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityCritical Complexity = "critical"
)

var baseTimeMinutes = map[Complexity]int{
	ComplexityLow:      15,
	ComplexityMedium:   30,
	ComplexityHigh:     60,
	ComplexityCritical: 90,
}

// RoutingConfig carries the trust level and data sensitivity Captain
// presents to the org router when delegating work item routing, plus
// which roles are enabled for this workspace.
type RoutingConfig struct {
	TrustLevel      string
	DataSensitivity string
	EnabledAgents   map[string]bool
}

func (c RoutingConfig) trustLevel() string {
	if c.TrustLevel == "" {
		return "high"
	}
	return c.TrustLevel
}

func (c RoutingConfig) dataSensitivity() string {
	if c.DataSensitivity == "" {
		return "internal"
	}
	return c.DataSensitivity
}

func (c RoutingConfig) enabled(name string) bool {
	if c.EnabledAgents == nil {
		return true
	}
	enabled, ok := c.EnabledAgents[name]
	return !ok || enabled
}

// AgentExecutor runs a single agent against a work item, for the
// sequential fallback path in ExecutePlan.
type AgentExecutor func(ctx context.Context, agentType, workItemID string) (ok bool, errMsg string, err error)

// Captain coordinates task breakdown, convoy planning, dispatch, and
// status/blocker handling over a shared work state store.
type Captain struct {
	Store    workstate.Store
	Plans    *battleplan.Manager
	Convoys  *convoy.Manager
	Executor *convoy.Executor
	Router   *router.Router
	Routing  RoutingConfig
	Observer observability.Observer
}

// New builds a Captain. Plans, Convoys, Executor, and Router may be nil;
// a nil Router falls back to the detected agent with no policy check.
func New(store workstate.Store, plans *battleplan.Manager, convoys *convoy.Manager, executor *convoy.Executor, orgRouter *router.Router, routing RoutingConfig, observer observability.Observer) *Captain {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Captain{
		Store: store, Plans: plans, Convoys: convoys, Executor: executor,
		Router: orgRouter, Routing: routing, Observer: observer,
	}
}

// TaskBreakdown is the result of analyzing a task into work items.
type TaskBreakdown struct {
	OriginalTask          string
	IssueNumber           *int
	WorkItems             []*workstate.Item
	SuggestedStrategy     string
	ParallelGroups        [][]string
	EstimatedTimeMinutes  int
	Complexity            Complexity
}

// ConvoyPlan is a proposed parallel batch of work drawn from one
// dependency level of a task breakdown.
type ConvoyPlan struct {
	ID                   string
	WorkItems            []string
	Agents               []string
	Parallel             bool
	EstimatedTimeMinutes int
}

// AnalyzeTask assesses a task's complexity, selects a battle plan when one
// matches, and materializes work items either from the plan's phases or a
// generic requirements/implementation/review breakdown.
func (c *Captain) AnalyzeTask(ctx context.Context, taskDescription string, issueNumber *int, labels []string) (*TaskBreakdown, error) {
	complexity, strategyName := assessComplexity(taskDescription, labels)

	var items []*workstate.Item
	var err error

	if strategyName != "" && c.Plans != nil {
		if plan := c.Plans.Get(strategyName); plan != nil {
			items, err = c.materializeFromPlan(ctx, plan, issueNumber, strategyName)
			if err != nil {
				return nil, err
			}
		}
	}
	if items == nil {
		items, err = c.genericBreakdown(ctx, taskDescription, issueNumber)
		if err != nil {
			return nil, err
		}
	}

	groups := identifyParallelGroups(items)
	estimate := estimateTime(items, complexity)

	return &TaskBreakdown{
		OriginalTask:         taskDescription,
		IssueNumber:          issueNumber,
		WorkItems:            items,
		SuggestedStrategy:    strategyName,
		ParallelGroups:       groups,
		EstimatedTimeMinutes: estimate,
		Complexity:           complexity,
	}, nil
}

func (c *Captain) materializeFromPlan(ctx context.Context, plan *battleplan.Plan, issueNumber *int, strategyName string) ([]*workstate.Item, error) {
	items := make([]*workstate.Item, len(plan.Phases))
	for i, phase := range plan.Phases {
		item, err := c.Store.Create(ctx, &workstate.Item{
			Title:       fmt.Sprintf("[%s] %s", phase.Agent, phase.Name),
			Description: phase.Description,
			IssueNumber: issueNumber,
			Labels:      []string{strategyName, phase.Agent},
		})
		if err != nil {
			return nil, err
		}
		items[i] = item
	}

	for i, phase := range plan.Phases {
		for _, depName := range phase.DependsOn {
			depIdx := -1
			for j, p := range plan.Phases {
				if p.Name == depName {
					depIdx = j
					break
				}
			}
			if depIdx < 0 {
				continue
			}
			updated, err := c.Store.AddDependency(ctx, items[i].ID, items[depIdx].ID)
			if err != nil {
				return nil, err
			}
			items[i] = updated
		}
	}
	return items, nil
}

// assessComplexity applies the keyword-based triage heuristic: no live
// SDK assessment exists in this implementation, so this is always the
// path taken.
func assessComplexity(taskDescription string, labels []string) (Complexity, string) {
	lower := strings.ToLower(taskDescription)

	strategy := ""
	switch {
	case containsAny(lower, "feature", "implement", "create", "add"):
		strategy = "feature"
	case containsAny(lower, "bug", "fix", "error", "issue"):
		strategy = "bugfix"
	case containsAny(lower, "refactor", "debt", "cleanup", "improve"):
		strategy = "tech-debt"
	case containsLabel(labels, "enhancement"):
		strategy = "feature"
	case containsLabel(labels, "bug"):
		strategy = "bugfix"
	}

	complexity := ComplexityMedium
	switch {
	case containsAny(lower, "simple", "quick", "small", "minor"):
		complexity = ComplexityLow
	case containsAny(lower, "complex", "large", "major", "critical"):
		complexity = ComplexityHigh
	case containsAny(lower, "critical", "urgent", "security"):
		complexity = ComplexityCritical
	}

	return complexity, strategy
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func (c *Captain) genericBreakdown(ctx context.Context, taskDescription string, issueNumber *int) ([]*workstate.Item, error) {
	requirements, err := c.Store.Create(ctx, &workstate.Item{
		Title:       "[pm] Define requirements",
		Description: fmt.Sprintf("Analyze and define requirements for: %s", taskDescription),
		IssueNumber: issueNumber,
		Labels:      []string{"requirements"},
	})
	if err != nil {
		return nil, err
	}

	impl, err := c.Store.Create(ctx, &workstate.Item{
		Title:       "[engineer] Implement solution",
		Description: "Implement the solution based on requirements",
		IssueNumber: issueNumber,
		Labels:      []string{"implementation"},
	})
	if err != nil {
		return nil, err
	}

	review, err := c.Store.Create(ctx, &workstate.Item{
		Title:       "[reviewer] Review implementation",
		Description: "Review code quality, tests, and documentation",
		IssueNumber: issueNumber,
		Labels:      []string{"review"},
	})
	if err != nil {
		return nil, err
	}

	if impl, err = c.Store.AddDependency(ctx, impl.ID, requirements.ID); err != nil {
		return nil, err
	}
	if review, err = c.Store.AddDependency(ctx, review.ID, impl.ID); err != nil {
		return nil, err
	}

	return []*workstate.Item{requirements, impl, review}, nil
}

// identifyParallelGroups partitions work items into dependency levels:
// every item in a level has all its dependencies satisfied by earlier
// levels, so items within a level can run in parallel.
func identifyParallelGroups(items []*workstate.Item) [][]string {
	processed := map[string]bool{}
	var levels [][]string

	for len(processed) < len(items) {
		var level []string
		for _, item := range items {
			if processed[item.ID] {
				continue
			}
			ready := true
			for _, dep := range item.DependsOn {
				if !processed[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, item.ID)
			}
		}
		if len(level) == 0 {
			var remaining []string
			for _, item := range items {
				if !processed[item.ID] {
					remaining = append(remaining, item.ID)
				}
			}
			levels = append(levels, remaining)
			break
		}
		levels = append(levels, level)
		for _, id := range level {
			processed[id] = true
		}
	}
	return levels
}

func estimateTime(items []*workstate.Item, complexity Complexity) int {
	base, ok := baseTimeMinutes[complexity]
	if !ok {
		base = baseTimeMinutes[ComplexityMedium]
	}
	return base * len(identifyParallelGroups(items))
}

// CreateConvoyPlan turns each parallel group of a breakdown into a
// ConvoyPlan, inferring the agents involved from each item's labels.
func (c *Captain) CreateConvoyPlan(ctx context.Context, breakdown *TaskBreakdown) ([]ConvoyPlan, error) {
	byID := map[string]*workstate.Item{}
	for _, item := range breakdown.WorkItems {
		byID[item.ID] = item
	}

	plans := make([]ConvoyPlan, 0, len(breakdown.ParallelGroups))
	for i, group := range breakdown.ParallelGroups {
		agentSet := map[string]bool{}
		for _, id := range group {
			item := byID[id]
			if item == nil {
				continue
			}
			for _, label := range item.Labels {
				if isRole(label) {
					agentSet[label] = true
				}
			}
		}
		agents := make([]string, 0, len(agentSet))
		for a := range agentSet {
			agents = append(agents, a)
		}
		sort.Strings(agents)

		plans = append(plans, ConvoyPlan{
			ID:                   fmt.Sprintf("convoy-%d", i+1),
			WorkItems:            group,
			Agents:               agents,
			Parallel:             len(group) > 1,
			EstimatedTimeMinutes: 30,
		})
	}
	return plans, nil
}

// DispatchWork assigns a ready work item to an agent, returning false
// (with no error) if the item does not exist or is not ready.
func (c *Captain) DispatchWork(ctx context.Context, workItemID, agentType string) (bool, error) {
	item, err := c.Store.Get(ctx, workItemID)
	if err != nil {
		return false, nil
	}
	if item.Status != workstate.StatusReady {
		return false, nil
	}
	if _, err := c.Store.AssignToAgent(ctx, workItemID, agentType); err != nil {
		return false, err
	}
	return true, nil
}

// Status summarizes either one issue's work item or the whole workspace.
type Status struct {
	Issue       *int                `json:"issue,omitempty"`
	ItemStatus  string              `json:"status,omitempty"`
	Agent       string              `json:"agent,omitempty"`
	Artifacts   []string            `json:"artifacts,omitempty"`
	Context     map[string]any      `json:"context,omitempty"`
	Error       string              `json:"error,omitempty"`
	Overall     workstate.Stats     `json:"overall,omitempty"`
	ReadyWork   []*workstate.Item   `json:"ready_work,omitempty"`
	InProgress  []*workstate.Item   `json:"in_progress,omitempty"`
}

// GetStatus returns the status of one issue's work item, or an overall
// workspace summary when issueNumber is nil.
func (c *Captain) GetStatus(ctx context.Context, issueNumber *int) (*Status, error) {
	if issueNumber != nil {
		item, err := c.Store.GetByIssue(ctx, *issueNumber)
		if err != nil || item == nil {
			return &Status{Issue: issueNumber, Error: "Not found"}, nil
		}
		return &Status{
			Issue:      issueNumber,
			ItemStatus: string(item.Status),
			Agent:      item.AgentAssignee,
			Artifacts:  item.Artifacts,
			Context:    item.Context,
		}, nil
	}

	stats, err := c.Store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	ready, err := c.Store.List(ctx, workstate.Filter{Status: workstate.StatusReady})
	if err != nil {
		return nil, err
	}
	inProgress, err := c.Store.List(ctx, workstate.Filter{Status: workstate.StatusInProgress})
	if err != nil {
		return nil, err
	}
	hooked, err := c.Store.List(ctx, workstate.Filter{Status: workstate.StatusHooked})
	if err != nil {
		return nil, err
	}

	return &Status{
		Overall:    stats,
		ReadyWork:  ready,
		InProgress: append(inProgress, hooked...),
	}, nil
}

// Blocker is the outcome of handling a blocked work item.
type Blocker struct {
	Status      string   `json:"status"`
	Suggestions []string `json:"suggestions"`
	Escalate    bool     `json:"escalate"`
	Error       string   `json:"error,omitempty"`
}

// HandleBlocker marks a work item blocked and returns generic
// unblocking suggestions.
func (c *Captain) HandleBlocker(ctx context.Context, workItemID, blockerDescription string) (*Blocker, error) {
	item, err := c.Store.Get(ctx, workItemID)
	if err != nil || item == nil {
		return &Blocker{Error: "Work item not found"}, nil
	}

	if _, err := c.Store.TransitionStatus(ctx, workItemID, workstate.StatusBlocked, map[string]any{"blocker": blockerDescription}); err != nil {
		return nil, err
	}

	return &Blocker{
		Status: "blocked",
		Suggestions: []string{
			"Check if required dependencies are complete",
			"Review the work item context for missing information",
			"Consider reaching out to the assigned agent",
			"Break down the task further if too complex",
		},
		Escalate: true,
	}, nil
}

// Recommendation is one suggested next action over the current work state.
type Recommendation struct {
	Action        string `json:"action"`
	WorkItemID    string `json:"work_item_id"`
	WorkItemTitle string `json:"work_item_title,omitempty"`
	SuggestedAgent string `json:"suggested_agent,omitempty"`
	Priority      int    `json:"priority,omitempty"`
	Blocker       string `json:"blocker,omitempty"`
}

// RecommendNextActions suggests dispatching the top 5 ready items by
// priority and resolving up to 3 blocked items.
func (c *Captain) RecommendNextActions(ctx context.Context) ([]Recommendation, error) {
	var recs []Recommendation

	ready, err := c.Store.List(ctx, workstate.Filter{Status: workstate.StatusReady})
	if err != nil {
		return nil, err
	}
	for i, item := range ready {
		if i >= 5 {
			break
		}
		recs = append(recs, Recommendation{
			Action:         "dispatch",
			WorkItemID:     item.ID,
			WorkItemTitle:  item.Title,
			SuggestedAgent: detectAgent(item),
			Priority:       item.Priority,
		})
	}

	blocked, err := c.Store.List(ctx, workstate.Filter{Status: workstate.StatusBlocked})
	if err != nil {
		return nil, err
	}
	for i, item := range blocked {
		if i >= 3 {
			break
		}
		blocker := "Unknown"
		if b, ok := item.Context["blocker"].(string); ok {
			blocker = b
		}
		recs = append(recs, Recommendation{
			Action:        "resolve_blocker",
			WorkItemID:    item.ID,
			WorkItemTitle: item.Title,
			Blocker:       blocker,
		})
	}

	return recs, nil
}

// Run coordinates work on an issue end to end: if work already exists it
// reports current status, otherwise it analyzes, plans convoys, and
// returns a coordination report.
func (c *Captain) Run(ctx context.Context, issueNumber int) (string, error) {
	existing, err := c.Store.GetByIssue(ctx, issueNumber)
	if err == nil && existing != nil {
		status, err := c.GetStatus(ctx, &issueNumber)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Issue #%d already has work in progress:\n%+v", issueNumber, status), nil
	}

	breakdown, err := c.AnalyzeTask(ctx, fmt.Sprintf("Work on issue #%d", issueNumber), &issueNumber, nil)
	if err != nil {
		return "", err
	}

	convoys, err := c.CreateConvoyPlan(ctx, breakdown)
	if err != nil {
		return "", err
	}

	recommendations, err := c.RecommendNextActions(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n## Captain Coordination Report for Issue #%d\n\n", issueNumber)
	fmt.Fprintf(&b, "### Task Breakdown\n")
	fmt.Fprintf(&b, "- **Complexity**: %s\n", breakdown.Complexity)
	strategy := breakdown.SuggestedStrategy
	if strategy == "" {
		strategy = "Custom"
	}
	fmt.Fprintf(&b, "    - **Suggested Strategy**: %s\n", strategy)
	fmt.Fprintf(&b, "- **Work Items Created**: %d\n", len(breakdown.WorkItems))
	fmt.Fprintf(&b, "- **Estimated Time**: %d minutes\n\n", breakdown.EstimatedTimeMinutes)

	fmt.Fprintf(&b, "### Work Items\n")
	for _, item := range breakdown.WorkItems {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", item.Status, item.Title, item.ID)
	}

	fmt.Fprintf(&b, "\n### Convoy Plans\n")
	for _, plan := range convoys {
		fmt.Fprintf(&b, "- **%s**: %d items, agents: %s\n", plan.ID, len(plan.WorkItems), strings.Join(plan.Agents, ", "))
	}

	fmt.Fprintf(&b, "\n### Recommended Next Actions\n")
	for i, rec := range recommendations {
		if i >= 3 {
			break
		}
		title := rec.WorkItemTitle
		if title == "" {
			title = rec.WorkItemID
		}
		fmt.Fprintf(&b, "- %s: %s\n", rec.Action, title)
	}

	return b.String(), nil
}

// detectAgent infers the specialist role a work item belongs to from its
// labels, then its "[role] ..." title prefix, defaulting to engineer.
func detectAgent(item *workstate.Item) string {
	for _, label := range item.Labels {
		if isRole(label) {
			return label
		}
	}
	if role, ok := bracketPrefix(item.Title); ok && isRole(role) {
		return role
	}
	return "engineer"
}

func bracketPrefix(title string) (string, bool) {
	start := strings.Index(title, "[")
	if start < 0 {
		return "", false
	}
	end := strings.Index(title, "]")
	if end <= start {
		return "", false
	}
	return title[start+1 : end], true
}

// priorityLabel maps a work item's numeric priority onto the routing
// vocabulary used by the org router.
func priorityLabel(priority int) router.Priority {
	switch {
	case priority >= 8:
		return router.PriorityUrgent
	case priority >= 5:
		return router.PriorityHigh
	case priority <= 0:
		return router.PriorityLow
	default:
		return router.PriorityNormal
	}
}

// routeAgentForItem consults the org router (when configured) to pick a
// destination agent for a work item; with no router configured, it
// accepts the default agent unconditionally.
func (c *Captain) routeAgentForItem(ctx context.Context, item *workstate.Item, defaultAgent string) (string, bool) {
	if c.Router == nil {
		return defaultAgent, true
	}

	requestedTags := item.Labels
	if len(requestedTags) == 0 {
		requestedTags = []string{defaultAgent}
	}

	tagSet := map[string]bool{}
	for _, t := range requestedTags {
		tagSet[t] = true
	}

	var candidates []router.Candidate
	for _, name := range Roles {
		if !c.Routing.enabled(name) {
			continue
		}
		tags := map[string]bool{name: true}
		for t := range tagSet {
			tags[t] = true
		}
		tagList := make([]string, 0, len(tags))
		for t := range tags {
			tagList = append(tagList, t)
		}
		sort.Strings(tagList)
		candidates = append(candidates, router.Candidate{
			Name:            name,
			CapabilityTags:  tagList,
			TrustLevel:      c.Routing.trustLevel(),
			DataSensitivity: c.Routing.dataSensitivity(),
		})
	}

	chosen, err := c.Router.Route(ctx, router.Request{
		Candidates:              candidates,
		RequestedCapabilityTags: requestedTags,
		DataSensitivity:         c.Routing.dataSensitivity(),
		TrustLevel:              c.Routing.trustLevel(),
		Priority:                priorityLabel(item.Priority),
		Metadata:                map[string]any{"work_item_id": item.ID},
	})
	if err != nil || chosen == nil {
		return "", false
	}
	return chosen.Name, true
}

// CoordinationPlan groups a set of work items by destination agent,
// separating single items (sequential) from multi-item groups
// (parallelizable via convoy).
type CoordinationPlan struct {
	TotalItems      int
	AgentGroups     map[string][]string
	ParallelBatches []ParallelBatch
	SequentialSteps []SequentialStep
}

// ParallelBatch is a proposed convoy over several items for one agent.
type ParallelBatch struct {
	ConvoyID string
	Agent    string
	Items    []string
}

// SequentialStep is a single item to run immediately for one agent.
type SequentialStep struct {
	Agent string
	ItemID string
	Title string
}

// Coordinate groups work items by routed agent and splits them into
// parallel convoy batches (2+ items per agent) and sequential single
// steps.
func (c *Captain) Coordinate(ctx context.Context, workItemIDs []string) (*CoordinationPlan, error) {
	groups := map[string][]*workstate.Item{}
	var order []string

	for _, id := range workItemIDs {
		item, err := c.Store.Get(ctx, id)
		if err != nil || item == nil {
			continue
		}

		agent := detectAgent(item)
		routed, ok := c.routeAgentForItem(ctx, item, agent)
		if !ok {
			if item.Metadata == nil {
				item.Metadata = map[string]any{}
			}
			item.Metadata["routing_blocked"] = true
			_, _ = c.Store.Update(ctx, item)
			agent = "blocked"
		} else {
			if routed != agent {
				if item.Metadata == nil {
					item.Metadata = map[string]any{}
				}
				item.Metadata["routed_agent"] = routed
				_, _ = c.Store.Update(ctx, item)
			}
			agent = routed
		}

		if _, seen := groups[agent]; !seen {
			order = append(order, agent)
		}
		groups[agent] = append(groups[agent], item)
	}

	plan := &CoordinationPlan{
		TotalItems:  len(workItemIDs),
		AgentGroups: map[string][]string{},
	}
	for _, agent := range order {
		items := groups[agent]
		ids := make([]string, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}
		plan.AgentGroups[agent] = ids

		if len(items) > 1 {
			plan.ParallelBatches = append(plan.ParallelBatches, ParallelBatch{
				ConvoyID: fmt.Sprintf("convoy-%s-%s", agent, time.Now().Format("20060102150405")),
				Agent:    agent,
				Items:    ids,
			})
		} else {
			plan.SequentialSteps = append(plan.SequentialSteps, SequentialStep{
				Agent:  agent,
				ItemID: items[0].ID,
				Title:  items[0].Title,
			})
		}
	}

	return plan, nil
}

// ExecutionResult is the outcome of driving a CoordinationPlan to
// completion.
type ExecutionResult struct {
	Status            string
	ParallelResults   []BatchResult
	SequentialResults []StepResult
	Completed         int
	Failed            int
	Errors            []string
}

// BatchResult is the outcome of one convoy batch.
type BatchResult struct {
	ConvoyID  string
	Agent     string
	Status    string
	Completed int
	Failed    int
}

// StepResult is the outcome of one sequential agent invocation.
type StepResult struct {
	Agent  string
	ItemID string
	Status string
	Error  string
}

// ExecutePlan runs a CoordinationPlan's parallel batches through the
// convoy executor (when configured) and its sequential steps through
// agentFn, falling back to agentFn for parallel batches when no convoy
// manager/executor is wired.
func (c *Captain) ExecutePlan(ctx context.Context, plan *CoordinationPlan, agentFn AgentExecutor) (*ExecutionResult, error) {
	result := &ExecutionResult{Status: "in_progress"}

	for _, batch := range plan.ParallelBatches {
		if c.Convoys != nil && c.Executor != nil {
			items := make([]convoy.WorkItem, len(batch.Items))
			for i, id := range batch.Items {
				items[i] = convoy.WorkItem{AgentType: batch.Agent, WorkItemID: id}
			}
			cv, err := c.Convoys.CreateConvoy(ctx, batch.ConvoyID, items, convoy.CreateOptions{})
			if err != nil {
				result.Failed += len(batch.Items)
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", batch.ConvoyID, err))
				continue
			}
			driven, err := c.Executor.Execute(ctx, cv.ID, nil)
			if err != nil {
				result.Failed += len(batch.Items)
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", batch.ConvoyID, err))
				continue
			}
			progress := driven.GetProgress()
			result.ParallelResults = append(result.ParallelResults, BatchResult{
				ConvoyID: batch.ConvoyID, Agent: batch.Agent, Status: string(driven.Status),
				Completed: progress.Completed, Failed: progress.Failed,
			})
			result.Completed += progress.Completed
			result.Failed += progress.Failed
			continue
		}

		for _, id := range batch.Items {
			c.runSequential(ctx, batch.Agent, id, agentFn, result)
		}
	}

	for _, step := range plan.SequentialSteps {
		c.runSequential(ctx, step.Agent, step.ItemID, agentFn, result)
	}

	total := result.Completed + result.Failed
	switch {
	case result.Failed == 0:
		result.Status = "completed"
	case result.Completed == 0:
		result.Status = "failed"
	default:
		result.Status = "partial"
	}
	_ = total

	return result, nil
}

func (c *Captain) runSequential(ctx context.Context, agent, itemID string, agentFn AgentExecutor, result *ExecutionResult) {
	if agentFn == nil {
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: no agent executor configured", itemID))
		return
	}

	ok, errMsg, err := agentFn(ctx, agent, itemID)
	status := "success"
	if err != nil {
		status = "failed"
		if errMsg == "" {
			errMsg = err.Error()
		}
	} else if !ok {
		status = "failed"
	}

	result.SequentialResults = append(result.SequentialResults, StepResult{Agent: agent, ItemID: itemID, Status: status, Error: errMsg})

	if status == "success" {
		result.Completed++
		return
	}
	result.Failed++
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", itemID, errMsg))
}
