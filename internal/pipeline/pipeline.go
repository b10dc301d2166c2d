// Package pipeline implements PipelineGraph (spec.md §4.12): a compiled
// DAG of Node plugins built from a domain.Workflow row, run once per bot
// per cycle. Grounded on the teacher's plugin-ish registration style (each
// job type self-registers a description in `internal/queue/types.go`'s
// lookup map) generalized into a name -> constructor registry, and on
// `internal/scheduler/base.JobBase`'s embed-for-default-behavior idiom,
// which Node implementations may lean on the same way.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/helion-systems/helion/internal/domain"
)

// Node is the contract every pipeline plugin implements: a single
// run(state) -> state step that may suspend at I/O.
type Node interface {
	Name() string
	Metadata() domain.PluginMetadata
	Run(ctx context.Context, state *domain.State) (*domain.State, error)
}

// Selector evaluates a conditional edge's route against the current
// State, returning the name of the next node to run.
type Selector func(state *domain.State) string

// Factory constructs a Node instance from its stored per-node config.
type Factory func(config map[string]interface{}) (Node, error)

// Registry maps a WorkflowNode's PluginName to the Factory that builds it.
type Registry struct {
	factories map[string]Factory
	selectors map[string]Selector
}

// NewRegistry builds an empty plugin Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		selectors: make(map[string]Selector),
	}
}

// Register associates a plugin name with the Factory that builds it.
func (r *Registry) Register(pluginName string, factory Factory) {
	r.factories[pluginName] = factory
}

// RegisterSelector associates a named conditional-route selector, invoked
// by name from a WorkflowEdge.Condition.
func (r *Registry) RegisterSelector(name string, sel Selector) {
	r.selectors[name] = sel
}

// Checkpointer persists State at each edge crossing so a process restart
// can resume mid-cycle (spec.md §4.12, §6).
type Checkpointer interface {
	Save(ctx context.Context, threadID string, state *domain.State) error
}

// compiledNode pairs a built Node instance with its outgoing edges.
type compiledNode struct {
	node  Node
	edges []domain.WorkflowEdge
}

// Graph is a compiled PipelineGraph, ready to Run repeatedly against
// fresh per-cycle State. Compiled once per bot per process lifetime (or
// re-compiled after an explicit config reload).
type Graph struct {
	nodes        map[string]compiledNode
	order        []string // execution_order, used when a node has no outgoing edges defined
	checkpointer Checkpointer
	registry     *Registry
}

// Compile builds a Graph from a Workflow definition. It instantiates every
// enabled node via the registry, verifies each node's declared `requires`
// metadata is satisfied by the workflow's other nodes' outputs, and
// defaults edges to execution_order when the workflow defines none.
func Compile(wf *domain.Workflow, reg *Registry, checkpointer Checkpointer) (*Graph, error) {
	enabled := make([]domain.WorkflowNode, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if n.Enabled {
			enabled = append(enabled, n)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].ExecutionOrder < enabled[j].ExecutionOrder })

	g := &Graph{
		nodes:    make(map[string]compiledNode, len(enabled)),
		registry: reg,
	}

	outputs := map[string]bool{}
	for _, n := range enabled {
		factory, ok := reg.factories[n.PluginName]
		if !ok {
			return nil, fmt.Errorf("pipeline: no registered plugin %q for node %q", n.PluginName, n.Name)
		}
		instance, err := factory(n.Config)
		if err != nil {
			return nil, fmt.Errorf("pipeline: failed to construct node %q: %w", n.Name, err)
		}
		g.nodes[n.Name] = compiledNode{node: instance}
		g.order = append(g.order, n.Name)
		for _, out := range instance.Metadata().Outputs {
			outputs[out] = true
		}
	}

	for _, n := range enabled {
		instance := g.nodes[n.Name].node
		for _, req := range instance.Metadata().Requires {
			if !outputs[req] {
				return nil, fmt.Errorf("pipeline: node %q requires %q, which no enabled node produces", n.Name, req)
			}
		}
	}

	if len(wf.Edges) > 0 {
		for _, e := range wf.Edges {
			if e.From == domain.NodeStart || e.From == domain.NodeEnd {
				continue
			}
			cn, ok := g.nodes[e.From]
			if !ok {
				return nil, fmt.Errorf("pipeline: edge references unknown node %q", e.From)
			}
			cn.edges = append(cn.edges, e)
			g.nodes[e.From] = cn
		}
	}

	g.checkpointer = checkpointer
	return g, nil
}

// Run executes the graph against state in order, starting from the first
// node in execution_order. After each node completes, the checkpointer (if
// set) persists the state under threadID, then the graph advances to the
// next node: if the current node declared edges, the first matching
// conditional edge (or unconditional edge) decides the next node; with no
// declared edges, the graph falls through to the next node in
// execution_order.
func (g *Graph) Run(ctx context.Context, threadID string, state *domain.State) (*domain.State, error) {
	if len(g.order) == 0 {
		return state, nil
	}

	current := g.order[0]
	for current != "" && current != domain.NodeEnd {
		cn, ok := g.nodes[current]
		if !ok {
			return state, fmt.Errorf("pipeline: node %q not found during run", current)
		}

		next, err := cn.node.Run(ctx, state)
		if err != nil {
			return state, fmt.Errorf("pipeline: node %q failed: %w", current, err)
		}
		state = next

		if g.checkpointer != nil {
			if err := g.checkpointer.Save(ctx, threadID, state); err != nil {
				return state, fmt.Errorf("pipeline: checkpoint save failed after node %q: %w", current, err)
			}
		}

		current = g.nextNode(current, cn, state)
	}

	return state, nil
}

func (g *Graph) nextNode(current string, cn compiledNode, state *domain.State) string {
	if len(cn.edges) > 0 {
		for _, e := range cn.edges {
			if e.Condition == "" {
				return e.To
			}
			if sel, ok := g.registry.selectors[e.Condition]; ok {
				if route := sel(state); route != "" {
					return route
				}
			}
		}
		return domain.NodeEnd
	}

	for i, name := range g.order {
		if name == current {
			if i+1 < len(g.order) {
				return g.order[i+1]
			}
			return domain.NodeEnd
		}
	}
	return domain.NodeEnd
}

// Cleanup releases any per-run resources a node may hold. Nodes that need
// teardown should implement an optional Closer; Cleanup is best-effort.
func (g *Graph) Cleanup(ctx context.Context) {
	for _, cn := range g.nodes {
		if closer, ok := cn.node.(interface{ Close(context.Context) error }); ok {
			_ = closer.Close(ctx)
		}
	}
}
