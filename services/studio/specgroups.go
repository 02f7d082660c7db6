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
	"sort"

	"github.com/AleutianAI/drafter/services/studio/datatypes"
)

// Spec groups hold an ordered membership of document items. Membership is
// globally unique: assigning an item to a group removes it from whichever
// group held it before, in the same commit.

// GetSpecGroups returns all spec groups ordered by rank, ties broken by
// id.
func (s *Store) GetSpecGroups() []datatypes.SpecGroup {
	groups := familyAll[datatypes.SpecGroup](s, colSpecGroups)
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Order != groups[j].Order {
			return groups[i].Order < groups[j].Order
		}
		return groups[i].ID < groups[j].ID
	})
	return groups
}

// GetSpecGroup returns one spec group by id.
func (s *Store) GetSpecGroup(id string) (datatypes.SpecGroup, bool) {
	return familyOne[datatypes.SpecGroup](s, colSpecGroups, id)
}

// CreateSpecGroup creates a spec group ranked after every existing group.
func (s *Store) CreateSpecGroup(name, description string) datatypes.SpecGroup {
	var g datatypes.SpecGroup
	s.Transaction(OriginUser, func(tx *Txn) { g = tx.CreateSpecGroup(name, description) })
	return g
}

// UpdateSpecGroup merges partial field updates into one spec group.
func (s *Store) UpdateSpecGroup(id string, partial map[string]any) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.UpdateSpecGroup(id, partial) })
	return ok
}

// DeleteSpecGroup removes one spec group with its memberships.
func (s *Store) DeleteSpecGroup(id string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.DeleteSpecGroup(id) })
	return ok
}

// AssignToSpecGroup appends an item to a group, removing it from any group
// that held it before. Returns false on an unknown group id.
func (s *Store) AssignToSpecGroup(groupID string, item datatypes.SpecGroupItem) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.AssignToSpecGroup(groupID, item) })
	return ok
}

// RemoveFromSpecGroup removes an item from whichever group holds it.
// Returns false if no group does.
func (s *Store) RemoveFromSpecGroup(itemType, itemID string) bool {
	var ok bool
	s.Transaction(OriginUser, func(tx *Txn) { ok = tx.RemoveFromSpecGroup(itemType, itemID) })
	return ok
}

// CreateSpecGroup creates a spec group within the transaction.
func (tx *Txn) CreateSpecGroup(name, description string) datatypes.SpecGroup {
	s := tx.s
	order := 0
	for _, g := range getCollection[datatypes.SpecGroup](s, colSpecGroups) {
		if g.Order >= order {
			order = g.Order + 1
		}
	}
	g := datatypes.SpecGroup{
		ID:          s.idgen.NewID(),
		Name:        name,
		Description: description,
		Order:       order,
		Items:       []datatypes.SpecGroupItem{},
	}
	familyPut(tx, colSpecGroups, g.ID, g)
	return g
}

// UpdateSpecGroup merges partial updates within the transaction. The
// items list is owned by Assign/Remove and is ignored here.
func (tx *Txn) UpdateSpecGroup(id string, partial map[string]any) bool {
	s := tx.s
	if _, ok := s.doc.Get(colSpecGroups, id); !ok {
		return false
	}
	for k, v := range partial {
		if k == "id" || k == "items" {
			continue
		}
		s.doc.Set([]string{colSpecGroups, id, k}, encodeValue(v))
	}
	return true
}

// DeleteSpecGroup removes one spec group within the transaction.
func (tx *Txn) DeleteSpecGroup(id string) bool {
	return familyRemove(tx, colSpecGroups, id)
}

// AssignToSpecGroup moves an item into a group within the transaction.
func (tx *Txn) AssignToSpecGroup(groupID string, item datatypes.SpecGroupItem) bool {
	s := tx.s
	target, ok := familyOne[datatypes.SpecGroup](s, colSpecGroups, groupID)
	if !ok {
		return false
	}

	tx.RemoveFromSpecGroup(item.ItemType, item.ItemID)

	// Re-read: the removal above may have rewritten the target's items.
	target, _ = familyOne[datatypes.SpecGroup](s, colSpecGroups, groupID)
	items := append(target.Items, item)
	s.doc.Set([]string{colSpecGroups, groupID, "items"}, encodeValue(items))
	return true
}

// RemoveFromSpecGroup drops an item from its holding group within the
// transaction.
func (tx *Txn) RemoveFromSpecGroup(itemType, itemID string) bool {
	s := tx.s
	for id, g := range getCollection[datatypes.SpecGroup](s, colSpecGroups) {
		for i, it := range g.Items {
			if it.ItemType == itemType && it.ItemID == itemID {
				items := append(g.Items[:i:i], g.Items[i+1:]...)
				s.doc.Set([]string{colSpecGroups, id, "items"}, encodeValue(items))
				return true
			}
		}
	}
	return false
}
