package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/models"
)

func wfWith(nodes []models.Node, edges []models.Edge) models.Workflow {
	return models.Workflow{ID: "wf", Name: "wf", Nodes: nodes, Edges: edges}
}

func TestGraphAdjacency(t *testing.T) {
	wf := wfWith(
		[]models.Node{
			{ID: "a", Kind: models.NodePrint},
			{ID: "b", Kind: models.NodePrint},
			{ID: "c", Kind: models.NodePrint},
		},
		[]models.Edge{{From: "a", To: "b"}, {From: "a", To: "c"}},
	)
	g, err := NewGraph(&wf)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b", "c"}, g.Downstream("a"))
	assert.Equal(t, []string{"a"}, g.Dependencies("b"))
	assert.Empty(t, g.Dependencies("a"))
}

func TestGraphRejectsCycle(t *testing.T) {
	wf := wfWith(
		[]models.Node{
			{ID: "a", Kind: models.NodePrint},
			{ID: "b", Kind: models.NodePrint},
		},
		[]models.Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	)
	_, err := NewGraph(&wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestGraphRejectsDuplicateNodeIDs(t *testing.T) {
	wf := wfWith(
		[]models.Node{
			{ID: "a", Kind: models.NodePrint},
			{ID: "a", Kind: models.NodePrint},
		}, nil)
	_, err := NewGraph(&wf)
	assert.Error(t, err)
}

func TestGraphRejectsTriggerWithIncomingEdge(t *testing.T) {
	wf := wfWith(
		[]models.Node{
			{ID: "t", Kind: models.NodeManualTrigger},
			{ID: "a", Kind: models.NodePrint},
		},
		[]models.Edge{{From: "a", To: "t"}},
	)
	_, err := NewGraph(&wf)
	assert.Error(t, err)
}

func TestGraphDependenciesMet(t *testing.T) {
	wf := wfWith(
		[]models.Node{
			{ID: "a", Kind: models.NodePrint},
			{ID: "b", Kind: models.NodePrint},
		},
		[]models.Edge{{From: "a", To: "b"}},
	)
	g, err := NewGraph(&wf)
	require.NoError(t, err)

	snapshot := models.NewContextSnapshot("e")
	assert.False(t, g.DependenciesMet("b", snapshot))
	snapshot.NodeOutputs["a"] = []byte(`{}`)
	assert.True(t, g.DependenciesMet("b", snapshot))
}

func TestTopologicalOrderSkipsTriggers(t *testing.T) {
	wf := wfWith(
		[]models.Node{
			{ID: "t", Kind: models.NodeManualTrigger},
			{ID: "a", Kind: models.NodePrint},
			{ID: "b", Kind: models.NodePrint},
		},
		[]models.Edge{{From: "t", To: "a"}, {From: "a", To: "b"}},
	)
	g, err := NewGraph(&wf)
	require.NoError(t, err)

	order := g.TopologicalOrder()
	require.Len(t, order, 2)
	assert.Equal(t, "a", order[0].ID)
	assert.Equal(t, "b", order[1].ID)
}
