// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package studio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drafter/services/studio/datatypes"
)

func strptr(s string) *string { return &s }

func TestSetNodesReplacesTheSet(t *testing.T) {
	s := newTestStore(t)
	s.SetNodes([]datatypes.Node{
		{ID: "n1", Type: "svc"},
		{ID: "n2", Type: "db"},
	})
	s.SetNodes([]datatypes.Node{
		{ID: "n3", Type: "queue"},
	})

	nodes := s.GetNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "n3", nodes[0].ID)
}

func TestUpdateNodesAppliesUpdater(t *testing.T) {
	s := newTestStore(t)
	s.SetNodes([]datatypes.Node{{ID: "n1", Type: "svc"}})

	s.UpdateNodes(func(nodes []datatypes.Node) []datatypes.Node {
		return append(nodes, datatypes.Node{ID: "n2", Type: "db"})
	})
	assert.Len(t, s.GetNodes(), 2)
}

func TestAddNodeGeneratesMissingID(t *testing.T) {
	s := newTestStore(t)
	s.AddNode(datatypes.Node{Type: "svc"})

	nodes := s.GetNodes()
	require.Len(t, nodes, 1)
	assert.NotEmpty(t, nodes[0].ID)
}

func TestRemoveNodeUnknownIDReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	s.AddNode(datatypes.Node{ID: "n1", Type: "svc"})

	assert.True(t, s.RemoveNode("n1"))
	assert.False(t, s.RemoveNode("n1"))
	assert.Empty(t, s.GetNodes())
}

func TestUpdateNodePatchesFields(t *testing.T) {
	s := newTestStore(t)
	s.AddNode(datatypes.Node{
		ID:       "n1",
		Type:     "svc",
		Position: datatypes.Position{X: 1, Y: 2},
		Data:     datatypes.NodeData{SemanticID: "api", Attrs: map[string]any{"color": "red"}},
	})

	require.True(t, s.UpdateNode("n1", datatypes.NodePatch{
		ID:       "n1",
		Position: &datatypes.Position{X: 10, Y: 20},
		Attrs:    map[string]any{"size": "large"},
	}))

	n, ok := s.GetNode("n1")
	require.True(t, ok)
	assert.Equal(t, 10.0, n.Position.X)
	assert.Equal(t, "api", n.Data.SemanticID, "unpatched fields stay put")
	assert.Equal(t, "red", n.Data.Attrs["color"], "attrs merge rather than replace")
	assert.Equal(t, "large", n.Data.Attrs["size"])

	assert.False(t, s.UpdateNode("ghost", datatypes.NodePatch{ID: "ghost"}))
}

func TestSemanticIDRenameRewritesConnections(t *testing.T) {
	s := newTestStore(t)
	s.SetNodes([]datatypes.Node{
		{ID: "nodeA", Type: "svc", Data: datatypes.NodeData{SemanticID: "old"}},
		{ID: "nodeB", Type: "svc", Data: datatypes.NodeData{
			SemanticID: "b",
			Connections: []datatypes.Connection{
				{SourcePort: "out", TargetSemanticID: "old", TargetPort: "in"},
				{SourcePort: "out", TargetSemanticID: "other", TargetPort: "in"},
			},
		}},
	})

	// The rename and the connection repair land in one commit: node
	// listeners fire once and never observe a dangling reference.
	commits := 0
	s.SubscribeToNodes(func() {
		commits++
		b, _ := s.GetNode("nodeB")
		for _, c := range b.Data.Connections {
			assert.NotEqual(t, "old", c.TargetSemanticID)
		}
	})

	require.True(t, s.UpdateNode("nodeA", datatypes.NodePatch{
		ID:         "nodeA",
		SemanticID: strptr("new"),
	}))
	assert.Equal(t, 1, commits)

	b, _ := s.GetNode("nodeB")
	assert.Equal(t, "new", b.Data.Connections[0].TargetSemanticID)
	assert.Equal(t, "other", b.Data.Connections[1].TargetSemanticID, "unrelated references untouched")
	a, _ := s.GetNode("nodeA")
	assert.Equal(t, "new", a.Data.SemanticID)
}

func TestPatchNodesBatchesUnderOneOrigin(t *testing.T) {
	s := newTestStore(t)
	s.SetNodes([]datatypes.Node{
		{ID: "n1", Type: "svc"},
		{ID: "n2", Type: "svc"},
	})

	commits := 0
	s.SubscribeToNodes(func() { commits++ })

	s.PatchNodes([]datatypes.NodePatch{
		{ID: "n1", Position: &datatypes.Position{X: 5}},
		{ID: "n2", Position: &datatypes.Position{X: 6}},
		{ID: "ghost", Position: &datatypes.Position{X: 7}},
	}, OriginLayout)

	assert.Equal(t, 1, commits)
	n1, _ := s.GetNode("n1")
	n2, _ := s.GetNode("n2")
	assert.Equal(t, 5.0, n1.Position.X)
	assert.Equal(t, 6.0, n2.Position.X)
}

func TestEdgeLifecycle(t *testing.T) {
	s := newTestStore(t)
	s.SetNodes([]datatypes.Node{
		{ID: "n1", Type: "svc"},
		{ID: "n2", Type: "db"},
	})
	s.AddEdge(datatypes.Edge{ID: "e1", Source: "n1", Target: "n2"})

	edges := s.GetEdges()
	require.Len(t, edges, 1)

	s.PatchEdgeData([]datatypes.EdgeDataPatch{
		{ID: "e1", Data: map[string]any{"label": "reads"}},
		{ID: "ghost", Data: map[string]any{"label": "x"}},
	})
	e, ok := s.GetEdge("e1")
	require.True(t, ok)
	assert.Equal(t, "reads", e.Data["label"])

	assert.True(t, s.RemoveEdge("e1"))
	assert.False(t, s.RemoveEdge("e1"))
}

func TestSetEdgesReplacesTheSet(t *testing.T) {
	s := newTestStore(t)
	s.SetEdges([]datatypes.Edge{
		{ID: "e1", Source: "a", Target: "b"},
		{ID: "e2", Source: "b", Target: "c"},
	})
	s.SetEdges([]datatypes.Edge{{ID: "e3", Source: "c", Target: "d"}})

	edges := s.GetEdges()
	require.Len(t, edges, 1)
	assert.Equal(t, "e3", edges[0].ID)
}
