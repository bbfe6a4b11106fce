// Package planexec compiles a battle plan into a checkpointed state
// graph so its phases run through orchestrate/state's node/edge engine
// instead of only through convoy's flat parallel-group execution,
// giving linear battle plans resumable, observed execution.
//
// Phases are chained in declaration order: AddEdge/SetEntryPoint only
// model a single predecessor per node, so a phase's ParallelWith
// siblings and non-linear DependsOn graphs are not representable here.
// Plans with either are rejected rather than silently reordered; use
// convoy's parallel-group execution (via captain.CreateConvoyPlan) for
// those instead.
package planexec

import (
	"context"
	"fmt"

	"github.com/squadcore/core/internal/battleplan"
	orchconfig "github.com/squadcore/core/orchestrate/config"
	"github.com/squadcore/core/orchestrate/state"
)

// PhaseRunner executes one battle plan phase for a work item and
// returns the state updates that phase produced.
type PhaseRunner func(ctx context.Context, phase battleplan.Phase, in state.State) (map[string]any, error)

// Compile builds a checkpointed state graph from plan's phases, run in
// declaration order. checkpointEvery is the node-count checkpoint
// interval (0 disables checkpointing); store is used only when
// checkpointEvery > 0.
func Compile(plan *battleplan.Plan, run PhaseRunner, checkpointEvery int, store state.CheckpointStore) (state.StateGraph, error) {
	if len(plan.Phases) == 0 {
		return nil, fmt.Errorf("plan %q has no phases", plan.Name)
	}
	for i, phase := range plan.Phases {
		if len(phase.ParallelWith) > 0 {
			return nil, fmt.Errorf("phase %q declares parallel_with; planexec only compiles linear plans", phase.Name)
		}
		if len(phase.DependsOn) > 1 {
			return nil, fmt.Errorf("phase %q has multiple dependencies; planexec only compiles linear plans", phase.Name)
		}
		if len(phase.DependsOn) == 1 && (i == 0 || phase.DependsOn[0] != plan.Phases[i-1].Name) {
			return nil, fmt.Errorf("phase %q depends on %q, which is not the preceding phase; planexec only compiles linear plans", phase.Name, phase.DependsOn[0])
		}
	}

	cfg := orchconfig.DefaultGraphConfig("battleplan-" + plan.Name)
	cfg.Checkpoint.Interval = checkpointEvery
	cfg.Checkpoint.Preserve = checkpointEvery > 0

	if checkpointEvery > 0 && store == nil {
		store = state.NewMemoryCheckpointStore()
	}

	graph, err := state.NewGraphWithDeps(cfg, nil, store)
	if err != nil {
		return nil, fmt.Errorf("build state graph for plan %q: %w", plan.Name, err)
	}

	for i := range plan.Phases {
		phase := plan.Phases[i]
		node := state.NewFunctionNode(func(ctx context.Context, in state.State) (state.State, error) {
			updates, err := run(ctx, phase, in)
			if err != nil {
				return in, fmt.Errorf("phase %q: %w", phase.Name, err)
			}
			out := in
			for k, v := range updates {
				out = out.Set(k, v)
			}
			return out.SetCheckpointNode(phase.Name), nil
		})
		if err := graph.AddNode(phase.Name, node); err != nil {
			return nil, fmt.Errorf("register phase %q: %w", phase.Name, err)
		}
	}

	for i := 1; i < len(plan.Phases); i++ {
		from := plan.Phases[i-1].Name
		to := plan.Phases[i].Name
		if err := graph.AddEdge(from, to, state.AlwaysTransition()); err != nil {
			return nil, fmt.Errorf("link phase %q to %q: %w", from, to, err)
		}
	}

	if err := graph.SetEntryPoint(plan.Phases[0].Name); err != nil {
		return nil, err
	}
	if err := graph.SetExitPoint(plan.Phases[len(plan.Phases)-1].Name); err != nil {
		return nil, err
	}

	return graph, nil
}
