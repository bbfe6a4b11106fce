package opgraph_test

import (
	"testing"

	"github.com/squadcore/core/internal/opgraph"
	"github.com/stretchr/testify/require"
)

func newGraph(t *testing.T) *opgraph.Graph {
	t.Helper()
	g, err := opgraph.New(t.TempDir())
	require.NoError(t, err)
	return g
}

func TestAddEdge_RejectsUnknownNode(t *testing.T) {
	g := newGraph(t)
	_, err := g.AddNode("wi-1", opgraph.NodeWorkItem, nil)
	require.NoError(t, err)

	_, err = g.AddEdge("wi-1", "wi-missing", opgraph.EdgeDependsOn, nil)
	require.Error(t, err)
}

func TestAddEdge_MergesMetadataOnCollision(t *testing.T) {
	g := newGraph(t)
	_, err := g.AddNode("wi-1", opgraph.NodeWorkItem, nil)
	require.NoError(t, err)
	_, err = g.AddNode("wi-2", opgraph.NodeWorkItem, nil)
	require.NoError(t, err)

	_, err = g.AddEdge("wi-1", "wi-2", opgraph.EdgeDependsOn, map[string]any{"a": 1})
	require.NoError(t, err)
	_, err = g.AddEdge("wi-1", "wi-2", opgraph.EdgeDependsOn, map[string]any{"b": 2})
	require.NoError(t, err)

	require.Len(t, g.Edges(), 1)
	edge := g.Edges()[0]
	require.Equal(t, 1, edge.Metadata["a"])
	require.Equal(t, 2, edge.Metadata["b"])
}

func TestDependenciesAndDependents(t *testing.T) {
	g := newGraph(t)
	_, _ = g.AddNode("wi-1", opgraph.NodeWorkItem, nil)
	_, _ = g.AddNode("wi-2", opgraph.NodeWorkItem, nil)
	_, err := g.AddEdge("wi-1", "wi-2", opgraph.EdgeDependsOn, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"wi-2"}, g.Dependencies("wi-1"))
	require.Equal(t, []string{"wi-1"}, g.Dependents("wi-2"))
}

func TestTraverse_FollowsEdgeTypeUpToMaxDepth(t *testing.T) {
	g := newGraph(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := g.AddNode(id, opgraph.NodeWorkItem, nil)
		require.NoError(t, err)
	}
	_, _ = g.AddEdge("a", "b", opgraph.EdgeDependsOn, nil)
	_, _ = g.AddEdge("b", "c", opgraph.EdgeDependsOn, nil)
	_, _ = g.AddEdge("c", "d", opgraph.EdgeDependsOn, nil)

	require.Equal(t, []string{"a", "b", "c"}, g.Traverse("a", opgraph.EdgeDependsOn, 2))
	require.Equal(t, []string{"a", "b", "c", "d"}, g.Traverse("a", opgraph.EdgeDependsOn, 10))
}

func TestFindPath_ReturnsShortestRoute(t *testing.T) {
	g := newGraph(t)
	for _, id := range []string{"a", "b", "c"} {
		_, _ = g.AddNode(id, opgraph.NodeWorkItem, nil)
	}
	_, _ = g.AddEdge("a", "b", opgraph.EdgeDependsOn, nil)
	_, _ = g.AddEdge("b", "c", opgraph.EdgeDependsOn, nil)

	require.Equal(t, []string{"a", "b", "c"}, g.FindPath("a", "c", opgraph.EdgeDependsOn))
	require.Nil(t, g.FindPath("c", "a", opgraph.EdgeDependsOn))
}

func TestImpactAnalysis_CollectsTransitiveDependentsOwnersConsumers(t *testing.T) {
	g := newGraph(t)
	for _, id := range []string{"lib", "svc", "app", "team", "consumer"} {
		_, _ = g.AddNode(id, opgraph.NodeWorkItem, nil)
	}
	_, _ = g.AddEdge("svc", "lib", opgraph.EdgeDependsOn, nil)
	_, _ = g.AddEdge("app", "svc", opgraph.EdgeDependsOn, nil)
	_, _ = g.AddEdge("team", "lib", opgraph.EdgeOwns, nil)
	_, _ = g.AddEdge("consumer", "lib", opgraph.EdgeConsumes, nil)

	impact, err := g.ImpactAnalysis("lib")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"svc"}, impact.DirectDependents)
	require.ElementsMatch(t, []string{"svc", "app"}, impact.AffectedNodes)
	require.Equal(t, 2, impact.TotalAffected)
	require.Equal(t, []string{"team"}, impact.Owners)
	require.Equal(t, []string{"consumer"}, impact.Consumers)
}

func TestImpactAnalysis_UnknownNodeErrors(t *testing.T) {
	g := newGraph(t)
	_, err := g.ImpactAnalysis("missing")
	require.Error(t, err)
}

func TestDetectCycles_FindsSimpleLoop(t *testing.T) {
	g := newGraph(t)
	for _, id := range []string{"a", "b", "c"} {
		_, _ = g.AddNode(id, opgraph.NodeWorkItem, nil)
	}
	_, _ = g.AddEdge("a", "b", opgraph.EdgeDependsOn, nil)
	_, _ = g.AddEdge("b", "c", opgraph.EdgeDependsOn, nil)
	_, _ = g.AddEdge("c", "a", opgraph.EdgeDependsOn, nil)

	cycles := g.DetectCycles(opgraph.EdgeDependsOn)
	require.NotEmpty(t, cycles)
}

func TestExportMermaid_RendersNodesAndEdges(t *testing.T) {
	g := newGraph(t)
	_, _ = g.AddNode("wi-1", opgraph.NodeWorkItem, nil)
	_, _ = g.AddNode("engineer", opgraph.NodeAgent, nil)
	_, _ = g.AddEdge("wi-1", "engineer", opgraph.EdgeDelegates, nil)

	mermaid := g.ExportMermaid()
	require.Contains(t, mermaid, "graph TD")
	require.Contains(t, mermaid, "work_item: wi-1")
	require.Contains(t, mermaid, "delegates_to")
}

func TestNew_ReloadsPersistedGraph(t *testing.T) {
	dir := t.TempDir()
	g, err := opgraph.New(dir)
	require.NoError(t, err)
	_, err = g.AddNode("wi-1", opgraph.NodeWorkItem, map[string]any{"title": "fix bug"})
	require.NoError(t, err)

	reloaded, err := opgraph.New(dir)
	require.NoError(t, err)
	node := reloaded.GetNode("wi-1")
	require.NotNil(t, node)
	require.Equal(t, "fix bug", node.Metadata["title"])
}
