package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helion-systems/helion/internal/domain"
)

type stubNode struct {
	name     string
	outputs  []string
	requires []string
	run      func(ctx context.Context, state *domain.State) (*domain.State, error)
}

func (n *stubNode) Name() string { return n.name }

func (n *stubNode) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{Name: n.name, Outputs: n.outputs, Requires: n.requires}
}

func (n *stubNode) Run(ctx context.Context, state *domain.State) (*domain.State, error) {
	if n.run != nil {
		return n.run(ctx, state)
	}
	return state, nil
}

func appendFactory(name string, outputs, requires []string, mutate func(*domain.State)) Factory {
	return func(map[string]interface{}) (Node, error) {
		return &stubNode{
			name:     name,
			outputs:  outputs,
			requires: requires,
			run: func(_ context.Context, state *domain.State) (*domain.State, error) {
				if mutate != nil {
					mutate(state)
				}
				return state, nil
			},
		}, nil
	}
}

type fakeCheckpointer struct {
	saves []string
}

func (f *fakeCheckpointer) Save(_ context.Context, _ string, state *domain.State) error {
	f.saves = append(f.saves, state.CycleID)
	return nil
}

func simpleWorkflow() *domain.Workflow {
	return &domain.Workflow{
		Name: "test",
		Nodes: []domain.WorkflowNode{
			{Name: "first", PluginName: "first", ExecutionOrder: 1, Enabled: true},
			{Name: "second", PluginName: "second", ExecutionOrder: 2, Enabled: true},
		},
	}
}

func TestCompile_FallsThroughExecutionOrderWithNoEdges(t *testing.T) {
	reg := NewRegistry()
	var seen []string
	reg.Register("first", appendFactory("first", nil, nil, func(s *domain.State) { seen = append(seen, "first") }))
	reg.Register("second", appendFactory("second", nil, nil, func(s *domain.State) { seen = append(seen, "second") }))

	g, err := Compile(simpleWorkflow(), reg, nil)
	require.NoError(t, err)

	_, err = g.Run(context.Background(), "thread-1", &domain.State{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestCompile_DisabledNodeIsExcluded(t *testing.T) {
	reg := NewRegistry()
	reg.Register("first", appendFactory("first", nil, nil, nil))
	reg.Register("second", appendFactory("second", nil, nil, nil))

	wf := simpleWorkflow()
	wf.Nodes[1].Enabled = false

	g, err := Compile(wf, reg, nil)
	require.NoError(t, err)
	assert.Len(t, g.order, 1)
	assert.Equal(t, "first", g.order[0])
}

func TestCompile_MissingRequiresFails(t *testing.T) {
	reg := NewRegistry()
	reg.Register("first", appendFactory("first", []string{"market_data"}, nil, nil))
	reg.Register("second", appendFactory("second", nil, []string{"symbols"}, nil))

	_, err := Compile(simpleWorkflow(), reg, nil)
	assert.Error(t, err)
}

func TestCompile_UnregisteredPluginFails(t *testing.T) {
	reg := NewRegistry()
	_, err := Compile(simpleWorkflow(), reg, nil)
	assert.Error(t, err)
}

func TestCompile_UnknownEdgeTargetFails(t *testing.T) {
	reg := NewRegistry()
	reg.Register("first", appendFactory("first", nil, nil, nil))
	reg.Register("second", appendFactory("second", nil, nil, nil))

	wf := simpleWorkflow()
	wf.Edges = []domain.WorkflowEdge{{From: "missing", To: "second"}}

	_, err := Compile(wf, reg, nil)
	assert.Error(t, err)
}

func TestRun_SavesCheckpointAfterEachNode(t *testing.T) {
	reg := NewRegistry()
	reg.Register("first", appendFactory("first", nil, nil, nil))
	reg.Register("second", appendFactory("second", nil, nil, nil))

	ckpt := &fakeCheckpointer{}
	g, err := Compile(simpleWorkflow(), reg, ckpt)
	require.NoError(t, err)

	_, err = g.Run(context.Background(), "thread-1", &domain.State{CycleID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c1"}, ckpt.saves)
}

func TestRun_NodeErrorStopsTheGraph(t *testing.T) {
	reg := NewRegistry()
	reg.Register("first", func(map[string]interface{}) (Node, error) {
		return &stubNode{name: "first", run: func(_ context.Context, s *domain.State) (*domain.State, error) {
			return s, errors.New("boom")
		}}, nil
	})
	reg.Register("second", appendFactory("second", nil, nil, nil))

	g, err := Compile(simpleWorkflow(), reg, nil)
	require.NoError(t, err)

	_, err = g.Run(context.Background(), "thread-1", &domain.State{})
	assert.Error(t, err)
}

func TestRun_ConditionalEdgeRoutesViaSelector(t *testing.T) {
	var seen []string
	reg := NewRegistry()
	reg.Register("first", appendFactory("first", nil, nil, func(s *domain.State) { seen = append(seen, "first") }))
	reg.Register("second", appendFactory("second", nil, nil, func(s *domain.State) { seen = append(seen, "second") }))
	reg.RegisterSelector("always_second", func(state *domain.State) string { return "second" })

	wf := simpleWorkflow()
	wf.Edges = []domain.WorkflowEdge{{From: "first", To: "", Condition: "always_second"}}

	g, err := Compile(wf, reg, nil)
	require.NoError(t, err)

	_, err = g.Run(context.Background(), "thread-1", &domain.State{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestRun_EmptyGraphReturnsStateUnchanged(t *testing.T) {
	g, err := Compile(&domain.Workflow{}, NewRegistry(), nil)
	require.NoError(t, err)

	state := &domain.State{CycleID: "untouched"}
	out, err := g.Run(context.Background(), "thread-1", state)
	require.NoError(t, err)
	assert.Equal(t, "untouched", out.CycleID)
}

func TestCleanup_ClosesNodesImplementingCloser(t *testing.T) {
	reg := NewRegistry()
	closed := false
	reg.Register("first", func(map[string]interface{}) (Node, error) {
		return &closingNode{stubNode: stubNode{name: "first"}, onClose: func() { closed = true }}, nil
	})
	reg.Register("second", appendFactory("second", nil, nil, nil))

	g, err := Compile(simpleWorkflow(), reg, nil)
	require.NoError(t, err)

	g.Cleanup(context.Background())
	assert.True(t, closed)
}

type closingNode struct {
	stubNode
	onClose func()
}

func (n *closingNode) Close(context.Context) error {
	n.onClose()
	return nil
}
