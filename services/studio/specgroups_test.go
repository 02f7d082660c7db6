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

func TestSpecGroupLifecycle(t *testing.T) {
	s := newTestStore(t)

	g1 := s.CreateSpecGroup("Requirements", "")
	g2 := s.CreateSpecGroup("Architecture", "notes")
	assert.NotEqual(t, g1.ID, g2.ID)
	assert.Equal(t, 0, g1.Order)
	assert.Equal(t, 1, g2.Order)

	groups := s.GetSpecGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, "Requirements", groups[0].Name)

	require.True(t, s.UpdateSpecGroup(g1.ID, map[string]any{"name": "Reqs"}))
	got, ok := s.GetSpecGroup(g1.ID)
	require.True(t, ok)
	assert.Equal(t, "Reqs", got.Name)

	assert.True(t, s.DeleteSpecGroup(g2.ID))
	assert.False(t, s.DeleteSpecGroup(g2.ID))
	assert.Len(t, s.GetSpecGroups(), 1)
}

func TestAssignToSpecGroupEnforcesSingleParent(t *testing.T) {
	s := newTestStore(t)
	g1 := s.CreateSpecGroup("First", "")
	g2 := s.CreateSpecGroup("Second", "")
	item := datatypes.SpecGroupItem{ItemType: "node", ItemID: "n1"}

	require.True(t, s.AssignToSpecGroup(g1.ID, item))
	require.True(t, s.AssignToSpecGroup(g2.ID, item))

	got1, _ := s.GetSpecGroup(g1.ID)
	got2, _ := s.GetSpecGroup(g2.ID)
	assert.Empty(t, got1.Items, "reassignment removes the item from its old group")
	require.Len(t, got2.Items, 1)
	assert.Equal(t, item, got2.Items[0])
}

func TestAssignToUnknownGroupFails(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.AssignToSpecGroup("ghost", datatypes.SpecGroupItem{ItemType: "node", ItemID: "n1"}))
}

func TestAssignPreservesItemOrder(t *testing.T) {
	s := newTestStore(t)
	g := s.CreateSpecGroup("Ordered", "")

	require.True(t, s.AssignToSpecGroup(g.ID, datatypes.SpecGroupItem{ItemType: "node", ItemID: "n1"}))
	require.True(t, s.AssignToSpecGroup(g.ID, datatypes.SpecGroupItem{ItemType: "edge", ItemID: "e1"}))
	require.True(t, s.AssignToSpecGroup(g.ID, datatypes.SpecGroupItem{ItemType: "node", ItemID: "n2"}))

	got, _ := s.GetSpecGroup(g.ID)
	require.Len(t, got.Items, 3)
	assert.Equal(t, "n1", got.Items[0].ItemID)
	assert.Equal(t, "e1", got.Items[1].ItemID)
	assert.Equal(t, "n2", got.Items[2].ItemID)
}

func TestReassignWithinSameGroupMovesToEnd(t *testing.T) {
	s := newTestStore(t)
	g := s.CreateSpecGroup("Group", "")
	s.AssignToSpecGroup(g.ID, datatypes.SpecGroupItem{ItemType: "node", ItemID: "n1"})
	s.AssignToSpecGroup(g.ID, datatypes.SpecGroupItem{ItemType: "node", ItemID: "n2"})

	require.True(t, s.AssignToSpecGroup(g.ID, datatypes.SpecGroupItem{ItemType: "node", ItemID: "n1"}))

	got, _ := s.GetSpecGroup(g.ID)
	require.Len(t, got.Items, 2, "no duplicate membership")
	assert.Equal(t, "n2", got.Items[0].ItemID)
	assert.Equal(t, "n1", got.Items[1].ItemID)
}

func TestRemoveFromSpecGroup(t *testing.T) {
	s := newTestStore(t)
	g := s.CreateSpecGroup("Group", "")
	item := datatypes.SpecGroupItem{ItemType: "node", ItemID: "n1"}
	require.True(t, s.AssignToSpecGroup(g.ID, item))

	assert.True(t, s.RemoveFromSpecGroup("node", "n1"))
	assert.False(t, s.RemoveFromSpecGroup("node", "n1"))

	got, _ := s.GetSpecGroup(g.ID)
	assert.Empty(t, got.Items)
}

func TestAssignmentIsOneCommit(t *testing.T) {
	s := newTestStore(t)
	g1 := s.CreateSpecGroup("First", "")
	g2 := s.CreateSpecGroup("Second", "")
	item := datatypes.SpecGroupItem{ItemType: "node", ItemID: "n1"}
	require.True(t, s.AssignToSpecGroup(g1.ID, item))

	commits := 0
	s.SubscribeToSpecGroups(func() {
		commits++
		// Never observable: the item in both groups, or in neither while
		// still assigned somewhere.
		got1, _ := s.GetSpecGroup(g1.ID)
		got2, _ := s.GetSpecGroup(g2.ID)
		assert.Equal(t, 1, len(got1.Items)+len(got2.Items))
	})

	require.True(t, s.AssignToSpecGroup(g2.ID, item))
	assert.Equal(t, 1, commits)
}
