// Package opgraph maintains the operational graph: work items, agents,
// skills, repos, environments, capabilities, and models as typed nodes
// connected by typed edges (depends_on, delegates_to, mirrors, owns,
// emits, consumes, requires, uses), persisted as JSON under
// .squad/graph/ for traversal, impact analysis, and diagramming.
package opgraph

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/squadcore/core/internal/atomicfile"
	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workspace"
)

// NodeType classifies a graph node.
type NodeType string

const (
	NodeWorkItem    NodeType = "work_item"
	NodeAgent       NodeType = "agent"
	NodeSkill       NodeType = "skill"
	NodeRepo        NodeType = "repo"
	NodeEnvironment NodeType = "environment"
	NodeCapability  NodeType = "capability"
	NodeModel       NodeType = "model"
)

// EdgeType classifies a directed relationship between two nodes.
type EdgeType string

const (
	EdgeDependsOn EdgeType = "depends_on"
	EdgeDelegates EdgeType = "delegates_to"
	EdgeMirrors   EdgeType = "mirrors"
	EdgeOwns      EdgeType = "owns"
	EdgeEmits     EdgeType = "emits"
	EdgeConsumes  EdgeType = "consumes"
	EdgeRequires  EdgeType = "requires"
	EdgeUses      EdgeType = "uses"
)

// Node is one entity in the operational graph.
type Node struct {
	ID        string         `json:"id"`
	Type      NodeType       `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Edge is a directed, typed relationship between two nodes.
type Edge struct {
	From      string         `json:"from_node"`
	To        string         `json:"to_node"`
	Type      EdgeType       `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Graph is a mutex-guarded, JSON-persisted node/edge store rooted at a
// workspace's .squad/graph directory.
type Graph struct {
	mu    sync.Mutex
	paths workspace.Paths
	nodes map[string]*Node
	edges []*Edge
}

// New loads (or initializes) the operational graph at workspaceRoot.
func New(workspaceRoot string) (*Graph, error) {
	g := &Graph{
		paths: workspace.Resolve(workspaceRoot),
		nodes: make(map[string]*Node),
	}
	if err := g.load(); err != nil {
		return nil, err
	}
	return g, nil
}

// AddNode inserts a new node or merges metadata into an existing one
// with the same id, and persists the graph.
func (g *Graph) AddNode(id string, nodeType NodeType, metadata map[string]any) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if existing, ok := g.nodes[id]; ok {
		for k, v := range metadata {
			existing.Metadata[k] = v
		}
		existing.UpdatedAt = now
		if err := g.saveLocked(); err != nil {
			return nil, err
		}
		return existing, nil
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	node := &Node{ID: id, Type: nodeType, Metadata: metadata, CreatedAt: now, UpdatedAt: now}
	g.nodes[id] = node
	if err := g.saveLocked(); err != nil {
		return nil, err
	}
	return node, nil
}

// AddEdge connects two existing nodes, merging metadata into a matching
// existing edge (same from/to/type) instead of duplicating it.
func (g *Graph) AddEdge(from, to string, edgeType EdgeType, metadata map[string]any) (*Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		return nil, squaderr.NotFound("graph node", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return nil, squaderr.NotFound("graph node", to)
	}

	for _, e := range g.edges {
		if e.From == from && e.To == to && e.Type == edgeType {
			for k, v := range metadata {
				e.Metadata[k] = v
			}
			if err := g.saveLocked(); err != nil {
				return nil, err
			}
			return e, nil
		}
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	edge := &Edge{From: from, To: to, Type: edgeType, Metadata: metadata, CreatedAt: time.Now()}
	g.edges = append(g.edges, edge)
	if err := g.saveLocked(); err != nil {
		return nil, err
	}
	return edge, nil
}

// GetNode returns a node by id, or nil if absent.
func (g *Graph) GetNode(id string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[id]
}

// Nodes returns every node, sorted by id for deterministic output.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns every edge.
func (g *Graph) Edges() []*Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Edge(nil), g.edges...)
}

// NodesByType returns every node of the given type, sorted by id.
func (g *Graph) NodesByType(nodeType NodeType) []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Node
	for _, n := range g.nodes {
		if n.Type == nodeType {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OutgoingEdges returns edges starting at id, optionally filtered by
// type (pass "" to match any type).
func (g *Graph) OutgoingEdges(id string, edgeType EdgeType) []*Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outgoingLocked(id, edgeType)
}

func (g *Graph) outgoingLocked(id string, edgeType EdgeType) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.From != id {
			continue
		}
		if edgeType != "" && e.Type != edgeType {
			continue
		}
		out = append(out, e)
	}
	return out
}

// IncomingEdges returns edges ending at id, optionally filtered by type.
func (g *Graph) IncomingEdges(id string, edgeType EdgeType) []*Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.incomingLocked(id, edgeType)
}

func (g *Graph) incomingLocked(id string, edgeType EdgeType) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.To != id {
			continue
		}
		if edgeType != "" && e.Type != edgeType {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Dependencies returns the ids this node depends on.
func (g *Graph) Dependencies(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, e := range g.outgoingLocked(id, EdgeDependsOn) {
		out = append(out, e.To)
	}
	return out
}

// Dependents returns the ids that depend on this node.
func (g *Graph) Dependents(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, e := range g.incomingLocked(id, EdgeDependsOn) {
		out = append(out, e.From)
	}
	return out
}

// Traverse performs a breadth-first walk from start following edges of
// the given type (or any type, if ""), visiting each node at most once,
// up to maxDepth hops.
func (g *Graph) Traverse(start string, edgeType EdgeType, maxDepth int) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	type queued struct {
		id    string
		depth int
	}

	visited := map[string]bool{}
	queue := []queued{{start, 0}}
	var result []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.id] || cur.depth > maxDepth {
			continue
		}
		visited[cur.id] = true
		result = append(result, cur.id)

		for _, e := range g.outgoingLocked(cur.id, edgeType) {
			if !visited[e.To] {
				queue = append(queue, queued{e.To, cur.depth + 1})
			}
		}
	}
	return result
}

// FindPath finds a shortest path from "from" to "to" via breadth-first
// search over edges of the given type (or any, if ""). Returns nil if
// either node is unknown or no path exists.
func (g *Graph) FindPath(from, to string, edgeType EdgeType) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		return nil
	}
	if _, ok := g.nodes[to]; !ok {
		return nil
	}

	type queued struct {
		id   string
		path []string
	}

	visited := map[string]bool{}
	queue := []queued{{from, []string{from}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.id == to {
			return cur.path
		}
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true

		for _, e := range g.outgoingLocked(cur.id, edgeType) {
			if !visited[e.To] {
				next := append(append([]string(nil), cur.path...), e.To)
				queue = append(queue, queued{e.To, next})
			}
		}
	}
	return nil
}

// Impact summarizes the blast radius of a change to one node.
type Impact struct {
	Node             string   `json:"node"`
	DirectDependents []string `json:"direct_dependents"`
	TotalAffected    int      `json:"total_affected"`
	Owners           []string `json:"owners"`
	Consumers        []string `json:"consumers"`
	AffectedNodes    []string `json:"affected_nodes"`
}

// ImpactAnalysis reports every node transitively depending on id, plus
// its direct owners and consumers.
func (g *Graph) ImpactAnalysis(id string) (*Impact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return nil, squaderr.NotFound("graph node", id)
	}

	var directDependents []string
	for _, e := range g.incomingLocked(id, EdgeDependsOn) {
		directDependents = append(directDependents, e.From)
	}

	allDependents := g.collectDependentsLocked(id)

	var owners []string
	for _, e := range g.incomingLocked(id, EdgeOwns) {
		owners = append(owners, e.From)
	}
	var consumers []string
	for _, e := range g.incomingLocked(id, EdgeConsumes) {
		consumers = append(consumers, e.From)
	}

	affected := dedupe(allDependents)
	sort.Strings(affected)

	return &Impact{
		Node:             id,
		DirectDependents: directDependents,
		TotalAffected:    len(affected),
		Owners:           owners,
		Consumers:        consumers,
		AffectedNodes:    affected,
	}, nil
}

func (g *Graph) collectDependentsLocked(id string) []string {
	seen := map[string]bool{}
	queue := []string{id}
	var out []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.incomingLocked(cur, EdgeDependsOn) {
			if !seen[e.From] {
				seen[e.From] = true
				out = append(out, e.From)
				queue = append(queue, e.From)
			}
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// DetectCycles returns every cycle reachable by a depth-first walk over
// edges of the given type (or any, if "").
func (g *Graph) DetectCycles(edgeType EdgeType) [][]string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var cycles [][]string
	visited := map[string]bool{}
	onStack := map[string]bool{}

	var visit func(id string, path []string)
	visit = func(id string, path []string) {
		if onStack[id] {
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), id)
			cycles = append(cycles, cycle)
			return
		}
		if visited[id] {
			return
		}
		visited[id] = true
		onStack[id] = true

		for _, e := range g.outgoingLocked(id, edgeType) {
			visit(e.To, append(append([]string(nil), path...), e.To))
		}
		onStack[id] = false
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		visit(id, []string{id})
	}

	return cycles
}

// ExportMermaid renders the graph as a Mermaid "graph TD" diagram.
func (g *Graph) ExportMermaid() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	b.WriteString("graph TD\n")

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := g.nodes[id]
		b.WriteString("  " + safeID(id) + "[" + string(n.Type) + ": " + id + "]\n")
	}
	for _, e := range g.edges {
		b.WriteString("  " + safeID(e.From) + " -->|" + string(e.Type) + "| " + safeID(e.To) + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func safeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	safe := b.String()
	if safe == "" {
		return "node"
	}
	if safe[0] >= '0' && safe[0] <= '9' {
		return "n_" + safe
	}
	return safe
}

func (g *Graph) saveLocked() error {
	nodesPayload, err := json.MarshalIndent(g.nodes, "", "  ")
	if err != nil {
		return squaderr.IOFailure("marshal graph nodes", err)
	}
	if err := atomicfile.Write(g.paths.Nodes(), nodesPayload, 0o644); err != nil {
		return err
	}

	edgesPayload, err := json.MarshalIndent(g.edges, "", "  ")
	if err != nil {
		return squaderr.IOFailure("marshal graph edges", err)
	}
	return atomicfile.Write(g.paths.Edges(), edgesPayload, 0o644)
}

func (g *Graph) load() error {
	if data, err := os.ReadFile(g.paths.Nodes()); err == nil {
		var nodes map[string]*Node
		if err := json.Unmarshal(data, &nodes); err != nil {
			return squaderr.IOFailure("parse graph nodes", err)
		}
		g.nodes = nodes
	} else if !os.IsNotExist(err) {
		return squaderr.IOFailure("read graph nodes", err)
	}

	if data, err := os.ReadFile(g.paths.Edges()); err == nil {
		var edges []*Edge
		if err := json.Unmarshal(data, &edges); err != nil {
			return squaderr.IOFailure("parse graph edges", err)
		}
		g.edges = edges
	} else if !os.IsNotExist(err) {
		return squaderr.IOFailure("read graph edges", err)
	}

	return nil
}
