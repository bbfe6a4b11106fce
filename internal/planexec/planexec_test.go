package planexec_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/squadcore/core/internal/battleplan"
	"github.com/squadcore/core/internal/planexec"
	"github.com/squadcore/core/observability"
	"github.com/squadcore/core/orchestrate/state"
	"github.com/stretchr/testify/require"
)

func linearPlan() *battleplan.Plan {
	return &battleplan.Plan{
		Name: "feature-rollout",
		Phases: []battleplan.Phase{
			{Name: "requirements", Agent: "pm"},
			{Name: "implementation", Agent: "engineer", DependsOn: []string{"requirements"}},
			{Name: "review", Agent: "reviewer", DependsOn: []string{"implementation"}},
		},
	}
}

func TestCompile_RunsPhasesInOrder(t *testing.T) {
	var order []string
	run := func(ctx context.Context, phase battleplan.Phase, in state.State) (map[string]any, error) {
		order = append(order, phase.Name)
		return map[string]any{phase.Name + "_agent": phase.Agent}, nil
	}

	graph, err := planexec.Compile(linearPlan(), run, 0, nil)
	require.NoError(t, err)

	result, err := graph.Execute(context.Background(), state.New(observability.NoOpObserver{}))
	require.NoError(t, err)

	require.Equal(t, []string{"requirements", "implementation", "review"}, order)
	v, ok := result.Get("review_agent")
	require.True(t, ok)
	require.Equal(t, "reviewer", v)
}

func TestCompile_PropagatesPhaseError(t *testing.T) {
	boom := fmt.Errorf("boom")
	run := func(ctx context.Context, phase battleplan.Phase, in state.State) (map[string]any, error) {
		if phase.Name == "implementation" {
			return nil, boom
		}
		return nil, nil
	}

	graph, err := planexec.Compile(linearPlan(), run, 0, nil)
	require.NoError(t, err)

	_, err = graph.Execute(context.Background(), state.New(observability.NoOpObserver{}))
	require.Error(t, err)
}

func TestCompile_RejectsParallelPhases(t *testing.T) {
	plan := &battleplan.Plan{
		Name: "fan-out",
		Phases: []battleplan.Phase{
			{Name: "a", Agent: "engineer", ParallelWith: []string{"b"}},
			{Name: "b", Agent: "engineer", ParallelWith: []string{"a"}},
		},
	}

	_, err := planexec.Compile(plan, nil, 0, nil)
	require.Error(t, err)
}

func TestCompile_CheckpointsWithMemoryStoreWhenEnabled(t *testing.T) {
	run := func(ctx context.Context, phase battleplan.Phase, in state.State) (map[string]any, error) {
		return map[string]any{"last": phase.Name}, nil
	}

	graph, err := planexec.Compile(linearPlan(), run, 1, nil)
	require.NoError(t, err)

	result, err := graph.Execute(context.Background(), state.New(observability.NoOpObserver{}))
	require.NoError(t, err)
	v, ok := result.Get("last")
	require.True(t, ok)
	require.Equal(t, "review", v)
}
